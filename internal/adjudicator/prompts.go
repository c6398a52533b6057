package adjudicator

import (
	"encoding/json"
	"fmt"

	"github.com/gagan0116/mcp-customer-support/internal/gemini"
)

func (a *Adjudicator) decisionSystemPrompt() string {
	return fmt.Sprintf(`You are a return-policy decision engine for %s.

Decide the case using ONLY the policy profile and the policy source text
provided. Rules:
- APPROVED when the request falls within the applicable return window for
  the customer's membership tier and no blocking restriction applies.
- DENIED when the request is outside the window, or a final-sale or
  non-returnable restriction is triggered.
- MANUAL_REVIEW when the evidence is ambiguous, the item condition does not
  map onto the policy's conditions, or days_since_delivery is the 9999
  sentinel (delivery date unknown).
- List every fee the policy imposes, marking it waived where a waiver
  condition is met, with the reason.
- reasoning must cite the specific rules you relied on.
- policy_citations must contain only citation strings that appear in the
  provided source block.`, a.retailer)
}

var decisionSchema = &gemini.Schema{
	Type: "object",
	Properties: map[string]*gemini.Schema{
		"decision": {Type: "string", Enum: []string{"APPROVED", "DENIED", "MANUAL_REVIEW"}},
		"applicable_fees": {
			Type: "array",
			Items: &gemini.Schema{
				Type: "object",
				Properties: map[string]*gemini.Schema{
					"name":   {Type: "string"},
					"value":  {Type: "number"},
					"waived": {Type: "boolean"},
					"reason": {Type: "string"},
				},
				Required: []string{"name", "value", "waived", "reason"},
			},
		},
		"reasoning":        {Type: "string"},
		"policy_citations": {Type: "array", Items: &gemini.Schema{Type: "string"}},
	},
	Required: []string{"decision", "applicable_fees", "reasoning", "policy_citations"},
}

func decisionPrompt(cc CaseContext, profile *Profile, sources string) string {
	ctxJSON, _ := json.MarshalIndent(cc, "", "  ")
	return fmt.Sprintf(`CUSTOMER CONTEXT:
%s

POLICY PROFILE:
%s
POLICY SOURCE TEXT:
%s

Decide the case.`, ctxJSON, profile.Format(), sources)
}
