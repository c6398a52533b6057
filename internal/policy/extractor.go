package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gagan0116/mcp-customer-support/internal/gemini"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
)

// Entity is one extracted node candidate.
type Entity struct {
	Label       string                 `json:"label"`
	Properties  map[string]interface{} `json:"properties"`
	TextExcerpt string                 `json:"text_excerpt"`

	// Citation is filled by the linker, not the model.
	Citation string `json:"source_citation,omitempty"`
}

// Name returns the entity's name property.
func (e Entity) Name() string {
	s, _ := e.Properties["name"].(string)
	return s
}

// Relationship is one extracted edge candidate.
type Relationship struct {
	FromLabel string `json:"from_label"`
	FromName  string `json:"from_name"`
	Type      string `json:"type"`
	ToLabel   string `json:"to_label"`
	ToName    string `json:"to_name"`
}

// Extraction is the raw output of the triplet extractor across all pages.
type Extraction struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

var extractionSchema = &gemini.Schema{
	Type: "object",
	Properties: map[string]*gemini.Schema{
		"entities": {
			Type: "array",
			Items: &gemini.Schema{
				Type: "object",
				Properties: map[string]*gemini.Schema{
					"label":        {Type: "string"},
					"properties":   {Type: "object", Properties: map[string]*gemini.Schema{"name": {Type: "string"}}},
					"text_excerpt": {Type: "string"},
				},
				Required: []string{"label", "properties", "text_excerpt"},
			},
		},
		"relationships": {
			Type: "array",
			Items: &gemini.Schema{
				Type: "object",
				Properties: map[string]*gemini.Schema{
					"from_label": {Type: "string"},
					"from_name":  {Type: "string"},
					"type":       {Type: "string"},
					"to_label":   {Type: "string"},
					"to_name":    {Type: "string"},
				},
				Required: []string{"from_label", "from_name", "type", "to_label", "to_name"},
			},
		},
	},
	Required: []string{"entities", "relationships"},
}

const extractorSystemPrompt = `You extract graph triplets from return-policy
text, following the ontology schema provided. Only emit entities whose label
exists in the schema and relationships whose type connects the declared
labels. Every entity needs a concise unique "name" and a "text_excerpt"
copied VERBATIM from the page so the statement can be traced back to its
source. Do not invent facts that are not on the page.`

const (
	extractRetries   = 3
	extractRetryWait = 1 * time.Second
	extractTimeout   = 120 * time.Second

	// interPageDelay paces page calls to stay inside provider RPM limits.
	interPageDelay = 1 * time.Second
)

// Extractor runs the per-page triplet extraction.
type Extractor struct {
	llm   LLM
	model string
}

// NewExtractor builds the stage.
func NewExtractor(llm LLM, model string) *Extractor {
	return &Extractor{llm: llm, model: model}
}

// page is one marker-delimited chunk of the combined markdown.
type page struct {
	span PageSpan
	text string
}

func splitPages(markdown string, spans []PageSpan) []page {
	lines := strings.Split(markdown, "\n")
	var pages []page
	for _, s := range spans {
		if s.StartLine < 1 || s.EndLine > len(lines) || s.StartLine > s.EndLine {
			continue
		}
		pages = append(pages, page{span: s, text: strings.Join(lines[s.StartLine-1:s.EndLine], "\n")})
	}
	return pages
}

// Extract runs the model over every page and concatenates the raw results.
// A page that still fails after retries aborts the run; a partial graph is
// worse than no graph.
func (e *Extractor) Extract(ctx context.Context, schema *GraphSchema, markdown string, spans []PageSpan) (*Extraction, error) {
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, err
	}

	out := &Extraction{}
	pages := splitPages(markdown, spans)
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to extract")
	}

	for i, pg := range pages {
		if i > 0 {
			select {
			case <-time.After(interPageDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		var res Extraction
		err := e.extractPage(ctx, string(schemaJSON), pg, &res)
		if err != nil {
			return nil, fmt.Errorf("extract %s page %d: %w", pg.span.Filename, pg.span.Page, err)
		}
		logger.Info("extracted page",
			"file", pg.span.Filename, "page", pg.span.Page,
			"entities", len(res.Entities), "relationships", len(res.Relationships))
		out.Entities = append(out.Entities, res.Entities...)
		out.Relationships = append(out.Relationships, res.Relationships...)
	}
	return out, nil
}

func (e *Extractor) extractPage(ctx context.Context, schemaJSON string, pg page, out *Extraction) error {
	var lastErr error
	for attempt := 0; attempt < extractRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(extractRetryWait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = e.llm.GenerateJSON(ctx, gemini.Request{
			Model:  e.model,
			System: extractorSystemPrompt,
			Prompt: fmt.Sprintf("ONTOLOGY SCHEMA:\n%s\n\nPAGE (%s page %d):\n%s\n\nExtract the triplets.",
				schemaJSON, pg.span.Filename, pg.span.Page, pg.text),
			Schema:      extractionSchema,
			Reasoning:   gemini.ReasoningHigh,
			Temperature: gemini.Float64(0),
			Timeout:     extractTimeout,
		}, out)
		if lastErr == nil {
			return nil
		}
		logger.Warn("page extraction attempt failed",
			"file", pg.span.Filename, "page", pg.span.Page,
			"attempt", attempt+1, "error", lastErr.Error())
	}
	return lastErr
}
