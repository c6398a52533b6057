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

// CriticReport is the combined local + model review of an extraction.
type CriticReport struct {
	ValidationStatus string   `json:"validation_status"`
	SchemaIssues     []string `json:"schema_issues"`
	CypherIssues     []string `json:"cypher_issues"`
	CoverageIssues   []string `json:"coverage_issues"`
	Summary          string   `json:"summary"`
	ConfidenceScore  float64  `json:"confidence_score"`
	LocalIssues      []string `json:"local_issues,omitempty"`
}

// Approved reports whether the build may proceed.
func (r *CriticReport) Approved() bool { return r.ValidationStatus == "approved" }

var criticSchema = &gemini.Schema{
	Type: "object",
	Properties: map[string]*gemini.Schema{
		"validation_status": {Type: "string", Enum: []string{"approved", "needs_revision"}},
		"schema_issues":     {Type: "array", Items: &gemini.Schema{Type: "string"}},
		"cypher_issues":     {Type: "array", Items: &gemini.Schema{Type: "string"}},
		"coverage_issues":   {Type: "array", Items: &gemini.Schema{Type: "string"}},
		"summary":           {Type: "string"},
		"confidence_score":  {Type: "number"},
	},
	Required: []string{"validation_status", "summary", "confidence_score"},
}

const criticSystemPrompt = `You review a knowledge-graph extraction from a
return-policy document before it is loaded into the graph store. Check that
the Cypher matches the schema, that node names are consistent between MERGE
and MATCH statements, and that the extraction plausibly covers the document
summarized by the counters. approved means safe to build; needs_revision
means the extraction should be redone.`

const (
	criticMaxStatements = 50
	criticRetryBase     = 5 * time.Second
	criticRetries       = 3
)

// Critic validates a link result before the graph build.
type Critic struct {
	llm   LLM
	model string
}

// NewCritic builds the stage.
func NewCritic(llm LLM, model string) *Critic {
	return &Critic{llm: llm, model: model}
}

// localChecks runs the deterministic validations. criticalCount counts the
// findings severe enough to short-circuit the model review.
func localChecks(link *LinkResult) (issues []string, criticalCount int) {
	for _, ent := range link.Entities {
		if ent.Citation == "" {
			issues = append(issues, fmt.Sprintf("node %s:%s has no source_citation", ent.Label, ent.Name()))
			criticalCount++
		}
	}
	for _, stmt := range link.Cypher {
		if strings.Contains(stmt, "==") {
			issues = append(issues, "Cypher uses == instead of =: "+truncate(stmt, 120))
			criticalCount++
		}
		if strings.HasPrefix(stmt, "MERGE (n:") && !strings.Contains(stmt, "source_citation") {
			issues = append(issues, "MERGE creates a node without source_citation: "+truncate(stmt, 120))
			criticalCount++
		}
	}

	orphans := 0
	for _, w := range link.Warnings {
		if strings.Contains(w, "orphaned relationship") {
			orphans++
		}
	}
	if orphans > 10 {
		issues = append(issues, fmt.Sprintf("%d orphaned relationships dropped", orphans))
		criticalCount++
	} else if orphans > 0 {
		issues = append(issues, fmt.Sprintf("%d orphaned relationships dropped (warning)", orphans))
	}
	return issues, criticalCount
}

// Review runs local checks, then one model call. More than three critical
// local findings skips the model and fails outright.
func (c *Critic) Review(ctx context.Context, schema *GraphSchema, link *LinkResult) (*CriticReport, error) {
	issues, critical := localChecks(link)
	if critical > 3 {
		return &CriticReport{
			ValidationStatus: "needs_revision",
			Summary:          fmt.Sprintf("%d critical local validation failures", critical),
			ConfidenceScore:  0.3,
			LocalIssues:      issues,
		}, nil
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	stmts := link.Cypher
	if len(stmts) > criticMaxStatements {
		stmts = stmts[:criticMaxStatements]
	}

	prompt := fmt.Sprintf(`SCHEMA:
%s

CYPHER (first %d of %d statements):
%s

COUNTERS: %d entities, %d relationships, %d warnings.
LOCAL FINDINGS:
%s

Review the extraction.`,
		schemaJSON, len(stmts), len(link.Cypher), strings.Join(stmts, "\n"),
		len(link.Entities), len(link.Relationships), len(link.Warnings),
		strings.Join(issues, "\n"))

	var report CriticReport
	err = c.callWithBackoff(ctx, func() error {
		return c.llm.GenerateJSON(ctx, gemini.Request{
			Model:     c.model,
			System:    criticSystemPrompt,
			Prompt:    prompt,
			Schema:    criticSchema,
			Reasoning: gemini.ReasoningHigh,
			Timeout:   2 * time.Minute,
		}, &report)
	})
	if err != nil {
		return nil, fmt.Errorf("critic review: %w", err)
	}
	report.LocalIssues = issues
	return &report, nil
}

// callWithBackoff retries overload responses with exponential backoff.
func (c *Critic) callWithBackoff(ctx context.Context, fn func() error) error {
	delay := criticRetryBase
	var lastErr error
	for attempt := 0; attempt < criticRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isOverloaded(lastErr) {
			return lastErr
		}
		logger.Warn("critic call overloaded, backing off", "attempt", attempt+1, "delay", delay.String())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return lastErr
}

func isOverloaded(err error) bool {
	s := err.Error()
	return strings.Contains(s, "503") || strings.Contains(s, "429") ||
		strings.Contains(s, "RESOURCE_EXHAUSTED") || strings.Contains(s, "UNAVAILABLE")
}
