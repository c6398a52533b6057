package adjudicator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gagan0116/mcp-customer-support/internal/domain"
	"github.com/gagan0116/mcp-customer-support/internal/gemini"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
)

// LLM is the slice of the model client the adjudicator needs.
type LLM interface {
	GenerateJSON(ctx context.Context, req gemini.Request, out interface{}) error
	GenerateText(ctx context.Context, req gemini.Request) (string, error)
}

// SourceResolver turns graph citations back into policy text.
type SourceResolver interface {
	Resolve(citation string, contextLines, maxChars int) (string, bool)
}

// AppliedFee is one fee line in the decision.
type AppliedFee struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Waived bool    `json:"waived"`
	Reason string  `json:"reason"`
}

// Decision is the adjudicator's full output, persisted into
// refund_cases.metadata.
type Decision struct {
	Decision            string       `json:"decision"`
	ApplicableFees      []AppliedFee `json:"applicable_fees"`
	Reasoning           string       `json:"reasoning"`
	PolicyCitations     []string     `json:"policy_citations"`
	CustomerExplanation string       `json:"customer_explanation"`
	Category            string       `json:"category"`
	CategoryConfidence  float64      `json:"category_confidence"`
	Context             CaseContext  `json:"context"`
	Profile             *Profile     `json:"profile,omitempty"`
}

const (
	sourceContextLines = 5
	sourceMaxChars     = 500
	defaultCategory    = "Most products"
)

// Adjudicator drives the decision steps against the graph and the model.
type Adjudicator struct {
	llm      LLM
	graph    GraphReader
	sources  SourceResolver
	model    string
	retailer string

	catOnce    sync.Once
	catErr     error
	categories []string
}

// New creates an adjudicator. retailer names the business in the decision
// system prompt.
func New(llm LLM, graph GraphReader, sources SourceResolver, model, retailer string) *Adjudicator {
	return &Adjudicator{llm: llm, graph: graph, sources: sources, model: model, retailer: retailer}
}

// Categories returns the ProductCategory names, fetched once and cached
// for the life of the instance.
func (a *Adjudicator) Categories(ctx context.Context) ([]string, error) {
	a.catOnce.Do(func() {
		rows, err := a.graph.ExecuteRead(ctx, categoriesCypher, nil)
		if err != nil {
			a.catErr = fmt.Errorf("list product categories: %w", err)
			return
		}
		for _, row := range rows {
			if name := str(row["name"]); name != "" {
				a.categories = append(a.categories, name)
			}
		}
	})
	return a.categories, a.catErr
}

type categoryPick struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// ClassifyCategory picks the single best ProductCategory for the case.
// Out-of-set answers fall back to the catch-all category.
func (a *Adjudicator) ClassifyCategory(ctx context.Context, cc CaseContext) (string, float64, error) {
	cats, err := a.Categories(ctx)
	if err != nil {
		return "", 0, err
	}
	if len(cats) == 0 {
		return defaultCategory, 0, nil
	}

	var pick categoryPick
	err = a.llm.GenerateJSON(ctx, gemini.Request{
		Model:  a.model,
		System: "You map a return request onto exactly one product category from a fixed list. Answer with the category string verbatim.",
		Prompt: fmt.Sprintf("Categories:\n%s\n\nItems being returned: %s\nItem categories on the order: %s\nReturn reason: %s",
			strings.Join(cats, "\n"),
			strings.Join(cc.ItemNames, "; "),
			strings.Join(cc.ItemCategories, "; "),
			cc.ReturnReason),
		Schema: &gemini.Schema{
			Type: "object",
			Properties: map[string]*gemini.Schema{
				"category":   {Type: "string"},
				"confidence": {Type: "number"},
				"reason":     {Type: "string"},
			},
			Required: []string{"category", "confidence"},
		},
		Temperature: gemini.Float64(0),
		Timeout:     60 * time.Second,
	}, &pick)
	if err != nil {
		return "", 0, fmt.Errorf("classify product category: %w", err)
	}

	for _, c := range cats {
		if strings.EqualFold(c, pick.Category) {
			return c, pick.Confidence, nil
		}
	}
	logger.Warn("category pick outside known set, using default",
		"picked", pick.Category, "default", defaultCategory)
	return defaultCategory, pick.Confidence, nil
}

// SourceBlock resolves the profile's citations into a prompt-ready block of
// policy text. Unresolvable citations are skipped.
func (a *Adjudicator) SourceBlock(citations []string) string {
	var blocks []string
	for _, cit := range citations {
		text, ok := a.sources.Resolve(cit, sourceContextLines, sourceMaxChars)
		if !ok {
			logger.Warn("citation did not resolve to policy text", "citation", cit)
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[%s]\n%s", cit, text))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

// Adjudicate runs the full decision sequence for a verified case. emit may
// be nil.
func (a *Adjudicator) Adjudicate(ctx context.Context, v *domain.VerifiedOrder, emit func(name, status, log string)) (*Decision, error) {
	if emit == nil {
		emit = func(string, string, string) {}
	}

	cc := BuildContext(v, time.Now().UTC())

	emit("category", "active", "Classifying the product category")
	category, confidence, err := a.ClassifyCategory(ctx, cc)
	if err != nil {
		emit("category", "error", "Category classification failed")
		return nil, err
	}
	emit("category", "complete", fmt.Sprintf("Category: %s", category))

	emit("policy_lookup", "active", "Fetching the return policy for the category")
	profile, err := LoadProfile(ctx, a.graph, category)
	if err != nil {
		emit("policy_lookup", "error", "Policy graph traversal failed")
		return nil, err
	}
	sources := a.SourceBlock(profile.Citations)
	emit("policy_lookup", "complete", fmt.Sprintf("Found %d windows, %d fees, %d restrictions",
		len(profile.Windows), len(profile.Fees), len(profile.Restrictions)))

	emit("decision", "active", "Evaluating the case against policy")
	var d Decision
	err = a.llm.GenerateJSON(ctx, gemini.Request{
		Model:       a.model,
		System:      a.decisionSystemPrompt(),
		Prompt:      decisionPrompt(cc, profile, sources),
		Schema:      decisionSchema,
		Reasoning:   gemini.ReasoningHigh,
		Temperature: gemini.Float64(0),
		Timeout:     120 * time.Second,
	}, &d)
	if err != nil {
		emit("decision", "error", "Policy evaluation failed")
		return nil, fmt.Errorf("adjudicate case: %w", err)
	}
	d.Category = category
	d.CategoryConfidence = confidence
	d.Context = cc
	d.Profile = profile
	emit("decision", "complete", fmt.Sprintf("Decision: %s", d.Decision))

	emit("explanation", "active", "Writing the customer explanation")
	d.CustomerExplanation = a.customerExplanation(ctx, &d)
	emit("explanation", "complete", "Explanation ready")

	return &d, nil
}

// customerExplanation writes the short outward-facing summary. Failures
// fall back to the internal reasoning; the case must not fail here.
func (a *Adjudicator) customerExplanation(ctx context.Context, d *Decision) string {
	feeJSON, _ := json.Marshal(d.ApplicableFees)
	text, err := a.llm.GenerateText(ctx, gemini.Request{
		Model: a.model,
		System: "You write short, empathetic customer-service messages. " +
			"2-3 sentences, plain language, no internal jargon, no citations.",
		Prompt: fmt.Sprintf("Decision: %s\nFees: %s\nInternal reasoning: %s\n\nWrite the message to the customer.",
			d.Decision, feeJSON, d.Reasoning),
		Timeout: 60 * time.Second,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		logger.Warn("customer explanation generation failed, using reasoning", "error", fmt.Sprint(err))
		return d.Reasoning
	}
	return strings.TrimSpace(text)
}
