package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
)

// Parser is the slice of the parse client the ingestor needs.
type Parser interface {
	ParseFile(ctx context.Context, path string) ([]ParsedPage, error)
}

// Ingestor turns a directory of policy PDFs into the combined markdown and
// its page index.
type Ingestor struct {
	parser Parser
}

// NewIngestor wraps a parser.
func NewIngestor(parser Parser) *Ingestor {
	return &Ingestor{parser: parser}
}

// IngestResult is what an ingestion run produced.
type IngestResult struct {
	Markdown string
	Spans    []PageSpan
	Files    []string
}

// IngestDir parses every PDF in dir (sorted by name) and concatenates the
// pages, each prefixed with its marker line.
func (in *Ingestor) IngestDir(ctx context.Context, dir string) (*IngestResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read policy dir: %w", err)
	}
	var pdfs []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			pdfs = append(pdfs, e.Name())
		}
	}
	if len(pdfs) == 0 {
		return nil, fmt.Errorf("no policy PDFs in %s", dir)
	}
	sort.Strings(pdfs)

	res := &IngestResult{Files: pdfs}
	var sb strings.Builder
	line := 1

	for _, name := range pdfs {
		pages, err := in.parser.ParseFile(ctx, filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		logger.Info("parsed policy file", "file", name, "pages", len(pages))

		for _, pg := range pages {
			body := strings.TrimRight(pg.Markdown, "\n")
			bodyLines := strings.Count(body, "\n") + 1

			// The marker line itself is part of the span so citations on
			// page line 1 resolve just below it.
			start := line
			end := start + bodyLines
			sb.WriteString(PageMarker(name, pg.Page, start, end))
			sb.WriteString("\n")
			sb.WriteString(body)
			sb.WriteString("\n")
			res.Spans = append(res.Spans, PageSpan{Filename: name, Page: pg.Page, StartLine: start, EndLine: end})
			line = end + 1
		}
	}

	res.Markdown = sb.String()
	return res, nil
}

// WriteArtifacts persists the combined markdown and index into dir.
func (r *IngestResult) WriteArtifacts(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifacts dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, CombinedMarkdownFile), []byte(r.Markdown), 0o644); err != nil {
		return fmt.Errorf("write combined policy: %w", err)
	}
	idx, err := json.MarshalIndent(r.Spans, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, CombinedIndexFile), idx, 0o644); err != nil {
		return fmt.Errorf("write policy index: %w", err)
	}
	return nil
}
