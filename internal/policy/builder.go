package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gagan0116/mcp-customer-support/internal/graph"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
)

// GraphWriter is the slice of the graph store the builder uses.
type GraphWriter interface {
	VerifyConnectivity(ctx context.Context) error
	ExecuteRead(ctx context.Context, cypher string, params map[string]interface{}) ([]map[string]interface{}, error)
	ExecuteWrite(ctx context.Context, cypher string, params map[string]interface{}) (graph.Counters, error)
}

// BuildReport is the builder's artifact.
type BuildReport struct {
	Status               string         `json:"status"`
	NodesCreated         int            `json:"nodes_created"`
	RelationshipsCreated int            `json:"relationships_created"`
	StatementsExecuted   int            `json:"statements_executed"`
	StatementsFailed     int            `json:"statements_failed"`
	Errors               []string       `json:"errors,omitempty"`
	TotalNodes           int64          `json:"total_nodes"`
	NodesByLabel         map[string]int64 `json:"nodes_by_label,omitempty"`
	RelsByType           map[string]int64 `json:"relationships_by_type,omitempty"`
	NodesWithCitation    int64          `json:"nodes_with_citation"`
	DurationSeconds      float64        `json:"duration_seconds"`
}

const (
	clearBatchSize  = 10000
	connectRetries  = 3
	connectMaxDelay = 10 * time.Second
	maxErrorSamples = 10
)

// Builder loads compiled Cypher into the graph store.
type Builder struct {
	store GraphWriter
	// ClearFirst wipes the existing graph before loading.
	ClearFirst bool
}

// NewBuilder wraps a graph store.
func NewBuilder(store GraphWriter) *Builder {
	return &Builder{store: store, ClearFirst: true}
}

// connect pings the store, retrying with backoff; managed instances can
// take tens of seconds to wake from a pause.
func (b *Builder) connect(ctx context.Context) error {
	delay := 2 * time.Second
	var lastErr error
	for attempt := 0; attempt < connectRetries; attempt++ {
		lastErr = b.store.VerifyConnectivity(ctx)
		if lastErr == nil {
			return nil
		}
		logger.Warn("graph store not reachable yet", "attempt", attempt+1, "error", lastErr.Error())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > connectMaxDelay {
			delay = connectMaxDelay
		}
	}
	return fmt.Errorf("graph store unreachable: %w", lastErr)
}

func (b *Builder) clear(ctx context.Context) error {
	for {
		c, err := b.store.ExecuteWrite(ctx,
			fmt.Sprintf("MATCH ()-[r]->() WITH r LIMIT %d DELETE r", clearBatchSize), nil)
		if err != nil {
			return fmt.Errorf("clear relationships: %w", err)
		}
		if c.RelationshipsDeleted == 0 {
			break
		}
	}
	for {
		c, err := b.store.ExecuteWrite(ctx,
			fmt.Sprintf("MATCH (n) WITH n LIMIT %d DELETE n", clearBatchSize), nil)
		if err != nil {
			return fmt.Errorf("clear nodes: %w", err)
		}
		if c.NodesDeleted == 0 {
			break
		}
	}
	logger.Info("cleared existing graph")
	return nil
}

var uniqueConstraintRe = regexp.MustCompile(`(?i)^\s*UNIQUE\s*\(\s*(\w+)\s*\)\s*$`)

// applyConstraints creates uniqueness constraints declared by the schema
// plus a citation index per label.
func (b *Builder) applyConstraints(ctx context.Context, schema *GraphSchema) error {
	for _, n := range schema.Nodes {
		for _, c := range n.Constraints {
			m := uniqueConstraintRe.FindStringSubmatch(c)
			if m == nil {
				logger.Warn("unrecognized constraint skipped", "label", n.Label, "constraint", c)
				continue
			}
			stmt := fmt.Sprintf(
				"CREATE CONSTRAINT %s_%s_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
				strings.ToLower(n.Label), strings.ToLower(m[1]), n.Label, m[1])
			if _, err := b.store.ExecuteWrite(ctx, stmt, nil); err != nil {
				return fmt.Errorf("create constraint on %s.%s: %w", n.Label, m[1], err)
			}
		}
		stmt := fmt.Sprintf(
			"CREATE INDEX %s_citation IF NOT EXISTS FOR (n:%s) ON (n.source_citation)",
			strings.ToLower(n.Label), n.Label)
		if _, err := b.store.ExecuteWrite(ctx, stmt, nil); err != nil {
			return fmt.Errorf("create citation index on %s: %w", n.Label, err)
		}
	}
	return nil
}

// Build runs the full load: connect, optional clear, constraints, one
// statement at a time, then the verification summaries.
func (b *Builder) Build(ctx context.Context, schema *GraphSchema, statements []string) (*BuildReport, error) {
	start := time.Now()
	report := &BuildReport{}

	if err := b.connect(ctx); err != nil {
		return nil, err
	}
	if b.ClearFirst {
		if err := b.clear(ctx); err != nil {
			return nil, err
		}
	}
	if err := b.applyConstraints(ctx, schema); err != nil {
		return nil, err
	}

	for i, stmt := range statements {
		c, err := b.store.ExecuteWrite(ctx, stmt, nil)
		if err != nil {
			report.StatementsFailed++
			if len(report.Errors) < maxErrorSamples {
				report.Errors = append(report.Errors, fmt.Sprintf("statement %d: %v", i+1, err))
			}
			continue
		}
		report.StatementsExecuted++
		report.NodesCreated += c.NodesCreated
		report.RelationshipsCreated += c.RelationshipsCreated
	}

	b.verify(ctx, report)
	report.DurationSeconds = time.Since(start).Seconds()

	switch {
	case report.StatementsFailed == 0 && report.TotalNodes > 0:
		report.Status = "success"
	case report.StatementsExecuted > 0 && report.TotalNodes > 0:
		report.Status = "partial_success"
	default:
		report.Status = "failed"
	}
	logger.Info("graph build finished",
		"status", report.Status,
		"nodes_created", report.NodesCreated,
		"relationships_created", report.RelationshipsCreated,
		"failed", report.StatementsFailed)
	return report, nil
}

// verify fills the summary counters; failures here degrade the report, not
// the build.
func (b *Builder) verify(ctx context.Context, report *BuildReport) {
	if rows, err := b.store.ExecuteRead(ctx, "MATCH (n) RETURN count(n) AS c", map[string]interface{}{}); err == nil && len(rows) > 0 {
		report.TotalNodes = asInt64(rows[0]["c"])
	}
	if rows, err := b.store.ExecuteRead(ctx,
		"MATCH (n) UNWIND labels(n) AS l RETURN l, count(*) AS c", map[string]interface{}{}); err == nil {
		report.NodesByLabel = map[string]int64{}
		for _, r := range rows {
			if l, ok := r["l"].(string); ok {
				report.NodesByLabel[l] = asInt64(r["c"])
			}
		}
	}
	if rows, err := b.store.ExecuteRead(ctx,
		"MATCH ()-[r]->() RETURN type(r) AS t, count(*) AS c", map[string]interface{}{}); err == nil {
		report.RelsByType = map[string]int64{}
		for _, r := range rows {
			if t, ok := r["t"].(string); ok {
				report.RelsByType[t] = asInt64(r["c"])
			}
		}
	}
	if rows, err := b.store.ExecuteRead(ctx,
		"MATCH (n) WHERE n.source_citation IS NOT NULL RETURN count(n) AS c", map[string]interface{}{}); err == nil && len(rows) > 0 {
		report.NodesWithCitation = asInt64(rows[0]["c"])
	}
}

func asInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	}
	return 0
}
