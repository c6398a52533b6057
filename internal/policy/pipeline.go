package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
)

// Artifact file names written under the artifacts directory.
const (
	OntologyArtifact   = "ontology_schema.json"
	ExtractionArtifact = "extraction_result.json"
	CriticArtifact     = "critic_report.json"
	BuildArtifact      = "build_report.json"
	PipelineArtifact   = "pipeline_result.json"
)

const maxRevisions = 2

// PipelineResult summarizes a full compiler run.
type PipelineResult struct {
	Status        string        `json:"status"`
	Files         []string      `json:"files"`
	Revisions     int           `json:"revisions"`
	Entities      int           `json:"entities"`
	Relationships int           `json:"relationships"`
	BuildStatus   string        `json:"build_status,omitempty"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// Pipeline is the offline policy compiler: ingest → design → extract →
// review → build.
type Pipeline struct {
	ingestor     *Ingestor
	llm          LLM
	builder      *Builder
	artifactsDir string

	ontologyModel string
	extractModel  string
	criticModel   string
}

// NewPipeline assembles the compiler.
func NewPipeline(ingestor *Ingestor, llm LLM, builder *Builder, artifactsDir, ontologyModel, extractModel, criticModel string) *Pipeline {
	return &Pipeline{
		ingestor:      ingestor,
		llm:           llm,
		builder:       builder,
		artifactsDir:  artifactsDir,
		ontologyModel: ontologyModel,
		extractModel:  extractModel,
		criticModel:   criticModel,
	}
}

// Run compiles the policy PDFs in policyDir into the graph store. Each
// stage's output is written as an artifact so failed runs can be inspected.
func (p *Pipeline) Run(ctx context.Context, policyDir string) (*PipelineResult, error) {
	res := &PipelineResult{StartedAt: time.Now().UTC(), Status: "failed"}
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		p.writeArtifact(PipelineArtifact, res)
	}()

	ingest, err := p.ingestor.IngestDir(ctx, policyDir)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.Files = ingest.Files
	if err := ingest.WriteArtifacts(p.artifactsDir); err != nil {
		res.Error = err.Error()
		return res, err
	}
	sources := NewSourceIndex(ingest.Markdown, ingest.Spans)

	schema, err := DesignOntology(ctx, p.llm, p.ontologyModel, ingest.Markdown)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	p.writeArtifact(OntologyArtifact, schema)
	logger.Info("ontology designed", "node_types", len(schema.Nodes), "relationship_types", len(schema.Relationships))

	extractor := NewExtractor(p.llm, p.extractModel)
	critic := NewCritic(p.llm, p.criticModel)

	var link *LinkResult
	var report *CriticReport
	for attempt := 0; ; attempt++ {
		ex, err := extractor.Extract(ctx, schema, ingest.Markdown, ingest.Spans)
		if err != nil {
			res.Error = err.Error()
			return res, err
		}
		link = Link(ex, schema, sources)
		p.writeArtifact(ExtractionArtifact, link)

		report, err = critic.Review(ctx, schema, link)
		if err != nil {
			res.Error = err.Error()
			return res, err
		}
		p.writeArtifact(CriticArtifact, report)

		if report.Approved() {
			break
		}
		if attempt >= maxRevisions {
			err := fmt.Errorf("extraction still needs revision after %d retries: %s", maxRevisions, report.Summary)
			res.Error = err.Error()
			res.Revisions = attempt
			return res, err
		}
		res.Revisions = attempt + 1
		logger.Warn("critic requested revision, re-extracting",
			"attempt", attempt+1, "summary", report.Summary)
	}
	res.Entities = len(link.Entities)
	res.Relationships = len(link.Relationships)

	build, err := p.builder.Build(ctx, schema, link.Cypher)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	p.writeArtifact(BuildArtifact, build)
	res.BuildStatus = build.Status

	if build.Status == "failed" {
		err := fmt.Errorf("graph build failed: %d statements failed", build.StatementsFailed)
		res.Error = err.Error()
		return res, err
	}
	res.Status = "success"
	return res, nil
}

func (p *Pipeline) writeArtifact(name string, v interface{}) {
	if err := os.MkdirAll(p.artifactsDir, 0o755); err != nil {
		logger.Error("create artifacts dir", "error", err.Error())
		return
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Error("marshal artifact", "artifact", name, "error", err.Error())
		return
	}
	if err := os.WriteFile(filepath.Join(p.artifactsDir, name), b, 0o644); err != nil {
		logger.Error("write artifact", "artifact", name, "error", err.Error())
	}
}
