package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gagan0116/mcp-customer-support/internal/gemini"
)

// PropertyDef describes one property on a node type.
type PropertyDef struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// NodeType is one node label in the designed ontology.
type NodeType struct {
	Label       string        `json:"label"`
	Description string        `json:"description,omitempty"`
	Properties  []PropertyDef `json:"properties"`
	Constraints []string      `json:"constraints,omitempty"`
}

// RelationshipType is one relationship in the designed ontology.
type RelationshipType struct {
	Type        string `json:"type"`
	FromLabel   string `json:"from_label"`
	ToLabel     string `json:"to_label"`
	Description string `json:"description,omitempty"`
	Cardinality string `json:"cardinality,omitempty"`
}

// GraphSchema is the full ontology the designer produced.
type GraphSchema struct {
	Nodes           []NodeType         `json:"nodes"`
	Relationships   []RelationshipType `json:"relationships"`
	DesignRationale string             `json:"design_rationale,omitempty"`
}

// NodeByLabel finds a node type case-insensitively.
func (s *GraphSchema) NodeByLabel(label string) (*NodeType, bool) {
	for i := range s.Nodes {
		if strings.EqualFold(s.Nodes[i].Label, label) {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}

// PropertyType returns the declared type of a property on a label, or ""
// when undeclared.
func (s *GraphSchema) PropertyType(label, prop string) string {
	n, ok := s.NodeByLabel(label)
	if !ok {
		return ""
	}
	for _, p := range n.Properties {
		if strings.EqualFold(p.Name, prop) {
			return p.Type
		}
	}
	return ""
}

// LLM is the slice of the model client the compiler stages use.
type LLM interface {
	GenerateJSON(ctx context.Context, req gemini.Request, out interface{}) error
	GenerateText(ctx context.Context, req gemini.Request) (string, error)
}

var ontologySchema = &gemini.Schema{
	Type: "object",
	Properties: map[string]*gemini.Schema{
		"nodes": {
			Type: "array",
			Items: &gemini.Schema{
				Type: "object",
				Properties: map[string]*gemini.Schema{
					"label":       {Type: "string"},
					"description": {Type: "string"},
					"properties": {
						Type: "array",
						Items: &gemini.Schema{
							Type: "object",
							Properties: map[string]*gemini.Schema{
								"name":        {Type: "string"},
								"type":        {Type: "string", Enum: []string{"string", "int", "float", "bool", "date"}},
								"required":    {Type: "boolean"},
								"description": {Type: "string"},
							},
							Required: []string{"name", "type", "required"},
						},
					},
					"constraints": {Type: "array", Items: &gemini.Schema{Type: "string"}},
				},
				Required: []string{"label", "properties"},
			},
		},
		"relationships": {
			Type: "array",
			Items: &gemini.Schema{
				Type: "object",
				Properties: map[string]*gemini.Schema{
					"type":        {Type: "string"},
					"from_label":  {Type: "string"},
					"to_label":    {Type: "string"},
					"description": {Type: "string"},
					"cardinality": {Type: "string"},
				},
				Required: []string{"type", "from_label", "to_label"},
			},
		},
		"design_rationale": {Type: "string"},
	},
	Required: []string{"nodes", "relationships"},
}

const ontologySystemPrompt = `You design a property-graph ontology for retail
return policies. Node labels are CamelCase; relationship types are
UPPER_SNAKE_CASE. Every node type MUST declare a "name" property (string,
required, unique within the label, constraint "UNIQUE(name)") and a
"source_citation" property (string, required) pointing at the policy text
the node came from. Typical labels: ProductCategory, ReturnWindow, Fee,
Restriction, Condition, MembershipTier, ReturnMethod, Region. Typical
relationships: HAS_RETURN_WINDOW, SUBJECT_TO_FEE, WAIVED_IF,
APPLIES_TO_MEMBERSHIP, REQUIRES_CONDITION, EXCLUDES_METHOD,
EXEMPT_IN_REGION, TRIGGERED_BY_CONDITION, HAS_RESTRICTION. Design for the
document you are given, not for the typical list.`

// DesignOntology runs the single designer call and enforces the structural
// post-conditions.
func DesignOntology(ctx context.Context, llm LLM, model, markdown string) (*GraphSchema, error) {
	var schema GraphSchema
	err := llm.GenerateJSON(ctx, gemini.Request{
		Model:     model,
		System:    ontologySystemPrompt,
		Prompt:    "POLICY DOCUMENT:\n\n" + markdown + "\n\nDesign the ontology.",
		Schema:    ontologySchema,
		Reasoning: gemini.ReasoningHigh,
		Timeout:   5 * time.Minute,
	}, &schema)
	if err != nil {
		return nil, fmt.Errorf("design ontology: %w", err)
	}
	if err := validateOntology(&schema); err != nil {
		return nil, fmt.Errorf("ontology post-conditions: %w", err)
	}
	return &schema, nil
}

func validateOntology(s *GraphSchema) error {
	if len(s.Nodes) == 0 {
		return fmt.Errorf("no node types")
	}
	labels := map[string]bool{}
	for i := range s.Nodes {
		n := &s.Nodes[i]
		labels[strings.ToLower(n.Label)] = true
		ensureProperty(n, "name", "string")
		ensureProperty(n, "source_citation", "string")
		if !hasUniqueName(n) {
			n.Constraints = append(n.Constraints, "UNIQUE(name)")
		}
	}
	for _, r := range s.Relationships {
		if !labels[strings.ToLower(r.FromLabel)] {
			return fmt.Errorf("relationship %s references unknown from_label %q", r.Type, r.FromLabel)
		}
		if !labels[strings.ToLower(r.ToLabel)] {
			return fmt.Errorf("relationship %s references unknown to_label %q", r.Type, r.ToLabel)
		}
	}
	return nil
}

func ensureProperty(n *NodeType, name, typ string) {
	for _, p := range n.Properties {
		if strings.EqualFold(p.Name, name) {
			return
		}
	}
	n.Properties = append(n.Properties, PropertyDef{Name: name, Type: typ, Required: true})
}

func hasUniqueName(n *NodeType) bool {
	for _, c := range n.Constraints {
		if strings.EqualFold(strings.ReplaceAll(c, " ", ""), "UNIQUE(name)") {
			return true
		}
	}
	return false
}
