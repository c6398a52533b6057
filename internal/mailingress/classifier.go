// Package mailingress turns Gmail push notifications into durable case
// envelopes: expand the history delta, normalize each new message, triage
// it with the classifier, and hand actionable mail to the task queue.
package mailingress

import (
	"context"
	"time"

	"github.com/gagan0116/mcp-customer-support/internal/domain"
	"github.com/gagan0116/mcp-customer-support/internal/gemini"
)

// classifyBodyLimit caps how much of the body the classifier sees.
const classifyBodyLimit = 4000

// ReturnConfidenceThreshold is the policy knob for auto-accepting RETURN
// classifications downstream. It does not gate enqueueing.
const ReturnConfidenceThreshold = 0.75

// ClassifierLLM is the slice of the model client the classifier needs.
type ClassifierLLM interface {
	GenerateJSON(ctx context.Context, req gemini.Request, out interface{}) error
}

var classificationSchema = &gemini.Schema{
	Type: "object",
	Properties: map[string]*gemini.Schema{
		"category": {Type: "string", Enum: []string{
			domain.CategoryReturn, domain.CategoryReplacement, domain.CategoryRefund, domain.CategoryNone,
		}},
		"user_id":    {Type: "string", Nullable: true},
		"confidence": {Type: "number"},
	},
	Required: []string{"category", "confidence"},
}

const classifierSystemPrompt = `You triage inbound customer-support email for
an e-commerce returns department. Classify the message as RETURN,
REPLACEMENT, REFUND, or NONE. Use NONE for anything that is not a customer
asking about returning, replacing, or refunding a purchase: newsletters,
receipts, spam, supplier mail, shipping notifications. Never guess; when
unsure, answer NONE with low confidence. If the customer states an account
or user id, copy it into user_id, otherwise leave it null.`

// Classifier triages messages with a single schema-enforced model call.
type Classifier struct {
	llm   ClassifierLLM
	model string
}

// NewClassifier builds the triage step.
func NewClassifier(llm ClassifierLLM, model string) *Classifier {
	return &Classifier{llm: llm, model: model}
}

// Classify triages one message from its subject and body.
func (c *Classifier) Classify(ctx context.Context, subject, body string) (domain.Classification, error) {
	if len(body) > classifyBodyLimit {
		body = body[:classifyBodyLimit]
	}
	var out domain.Classification
	err := c.llm.GenerateJSON(ctx, gemini.Request{
		Model:       c.model,
		System:      classifierSystemPrompt,
		Prompt:      "Subject: " + subject + "\n\n" + body,
		Schema:      classificationSchema,
		Temperature: gemini.Float64(0),
		Timeout:     60 * time.Second,
	}, &out)
	if err != nil {
		return domain.Classification{}, err
	}
	return out, nil
}
