// Package policy holds the offline policy compiler: PDF ingestion, ontology
// design, triplet extraction, validation, and graph building. The source
// index in this file is shared with the online adjudicator, which resolves
// graph citations back to the parsed policy text.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	CombinedMarkdownFile = "combined_policy.md"
	CombinedIndexFile    = "combined_policy_index.json"
)

// PageSpan locates one PDF page inside the combined markdown. Start and end
// are 1-based line numbers in the combined file, inclusive.
type PageSpan struct {
	Filename  string `json:"filename"`
	Page      int    `json:"page"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

var (
	pageMarkerRe = regexp.MustCompile(`<!-- PAGE:([^:]+):(\d+):(\d+):(\d+) -->`)
	citationRe   = regexp.MustCompile(`^(.+):page(\d+):line(\d+)$`)
)

// PageMarker renders the marker line written above each page.
func PageMarker(filename string, page, startLine, endLine int) string {
	return fmt.Sprintf("<!-- PAGE:%s:%d:%d:%d -->", filename, page, startLine, endLine)
}

// Citation renders the canonical citation string stored on graph nodes.
func Citation(filename string, page, line int) string {
	return fmt.Sprintf("%s:page%d:line%d", filename, page, line)
}

// ParseCitation splits a citation string into its parts.
func ParseCitation(s string) (filename string, page, line int, err error) {
	m := citationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", 0, 0, fmt.Errorf("malformed citation %q", s)
	}
	page, _ = strconv.Atoi(m[2])
	line, _ = strconv.Atoi(m[3])
	return m[1], page, line, nil
}

// SourceIndex is the combined policy markdown plus its page index. It
// answers "what does the policy actually say" for a given citation.
type SourceIndex struct {
	Spans []PageSpan
	doc   string
	lines []string
}

// NewSourceIndex builds an index from in-memory markdown and spans. When
// spans is nil the page markers embedded in the markdown are used.
func NewSourceIndex(markdown string, spans []PageSpan) *SourceIndex {
	if spans == nil {
		spans = ParseSpans(markdown)
	}
	return &SourceIndex{Spans: spans, doc: markdown, lines: strings.Split(markdown, "\n")}
}

// LoadSourceIndex reads combined_policy.md and its index from dir.
func LoadSourceIndex(dir string) (*SourceIndex, error) {
	md, err := os.ReadFile(filepath.Join(dir, CombinedMarkdownFile))
	if err != nil {
		return nil, fmt.Errorf("read combined policy: %w", err)
	}
	var spans []PageSpan
	idx, err := os.ReadFile(filepath.Join(dir, CombinedIndexFile))
	if err == nil {
		if err := json.Unmarshal(idx, &spans); err != nil {
			return nil, fmt.Errorf("parse policy index: %w", err)
		}
	}
	return NewSourceIndex(string(md), spans), nil
}

// ParseSpans recovers page spans from the markers inside the markdown.
func ParseSpans(markdown string) []PageSpan {
	var spans []PageSpan
	for _, line := range strings.Split(markdown, "\n") {
		m := pageMarkerRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		page, _ := strconv.Atoi(m[2])
		start, _ := strconv.Atoi(m[3])
		end, _ := strconv.Atoi(m[4])
		spans = append(spans, PageSpan{Filename: m[1], Page: page, StartLine: start, EndLine: end})
	}
	return spans
}

// FirstPageCitation is the fallback citation when an excerpt cannot be
// located: the first page of the first file.
func (ix *SourceIndex) FirstPageCitation() string {
	if len(ix.Spans) == 0 {
		return ""
	}
	return Citation(ix.Spans[0].Filename, ix.Spans[0].Page, 1)
}

// SpanFor returns the page span for a filename/page pair.
func (ix *SourceIndex) SpanFor(filename string, page int) (PageSpan, bool) {
	for _, s := range ix.Spans {
		if s.Filename == filename && s.Page == page {
			return s, true
		}
	}
	return PageSpan{}, false
}

// Resolve turns a citation into the surrounding policy text: contextLines
// lines either side of the cited line, truncated to maxChars. The cited
// line number is relative to its page.
func (ix *SourceIndex) Resolve(citation string, contextLines, maxChars int) (string, bool) {
	filename, page, line, err := ParseCitation(citation)
	if err != nil {
		return "", false
	}
	span, ok := ix.SpanFor(filename, page)
	if !ok {
		return "", false
	}

	target := span.StartLine + line - 1
	if target < span.StartLine {
		target = span.StartLine
	}
	if target > span.EndLine {
		target = span.EndLine
	}

	lo := target - contextLines
	if lo < 1 {
		lo = 1
	}
	hi := target + contextLines
	if hi > len(ix.lines) {
		hi = len(ix.lines)
	}
	if lo > hi {
		return "", false
	}

	text := strings.TrimSpace(strings.Join(ix.lines[lo-1:hi], "\n"))
	if text == "" {
		return "", false
	}
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}
	return text, true
}

// LocateExcerpt finds an extracted excerpt in the combined markdown and
// returns its citation. Matching degrades from the full excerpt to its
// first 50 characters to its first five words; an unlocatable excerpt
// falls back to the first page of the first file.
func (ix *SourceIndex) LocateExcerpt(excerpt string) string {
	excerpt = strings.TrimSpace(excerpt)
	if excerpt != "" {
		for _, needle := range excerptNeedles(excerpt) {
			if cit, ok := ix.citationAt(needle); ok {
				return cit
			}
		}
	}
	return ix.FirstPageCitation()
}

func excerptNeedles(excerpt string) []string {
	needles := []string{excerpt}
	if len(excerpt) > 50 {
		needles = append(needles, excerpt[:50])
	}
	words := strings.Fields(excerpt)
	if len(words) > 5 {
		needles = append(needles, strings.Join(words[:5], " "))
	}
	return needles
}

func (ix *SourceIndex) citationAt(needle string) (string, bool) {
	off := strings.Index(ix.doc, needle)
	if off < 0 {
		return "", false
	}
	global := strings.Count(ix.doc[:off], "\n") + 1
	for _, s := range ix.Spans {
		if global >= s.StartLine && global <= s.EndLine {
			return Citation(s.Filename, s.Page, global-s.StartLine+1), true
		}
	}
	return "", false
}
