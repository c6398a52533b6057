package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMarkdown() string {
	return strings.Join([]string{
		"<!-- PAGE:return_policy.pdf:1:1:5 -->",
		"# Returns at a glance",
		"Most products may be returned within 15 days.",
		"Plus members get 30 days.",
		"Opened software is final sale.",
		"<!-- PAGE:return_policy.pdf:2:6:9 -->",
		"# Fees",
		"Restocking fee of 15% applies to drones.",
		"The fee is waived for damaged items.",
		"<!-- PAGE:holiday_policy.pdf:1:10:12 -->",
		"# Holiday returns",
		"Purchases in November are returnable through January.",
	}, "\n")
}

func TestParseSpansFromMarkers(t *testing.T) {
	spans := ParseSpans(sampleMarkdown())
	require.Len(t, spans, 3)
	assert.Equal(t, PageSpan{Filename: "return_policy.pdf", Page: 1, StartLine: 1, EndLine: 5}, spans[0])
	assert.Equal(t, PageSpan{Filename: "holiday_policy.pdf", Page: 1, StartLine: 10, EndLine: 12}, spans[2])
}

func TestParseCitation(t *testing.T) {
	f, p, l, err := ParseCitation("return_policy.pdf:page2:line3")
	require.NoError(t, err)
	assert.Equal(t, "return_policy.pdf", f)
	assert.Equal(t, 2, p)
	assert.Equal(t, 3, l)

	_, _, _, err = ParseCitation("garbage")
	assert.Error(t, err)
}

func TestResolveSlicesContextAroundLine(t *testing.T) {
	ix := NewSourceIndex(sampleMarkdown(), nil)

	text, ok := ix.Resolve("return_policy.pdf:page2:line3", 1, 500)
	require.True(t, ok)
	assert.Contains(t, text, "Restocking fee of 15%")
	assert.Contains(t, text, "waived for damaged")

	_, ok = ix.Resolve("missing.pdf:page1:line1", 5, 500)
	assert.False(t, ok)
}

func TestResolveTruncates(t *testing.T) {
	ix := NewSourceIndex(sampleMarkdown(), nil)
	text, ok := ix.Resolve("return_policy.pdf:page1:line2", 5, 20)
	require.True(t, ok)
	assert.LessOrEqual(t, len(text), 20)
}

func TestLocateExcerptLadder(t *testing.T) {
	ix := NewSourceIndex(sampleMarkdown(), nil)

	// Exact substring.
	assert.Equal(t, "return_policy.pdf:page1:line3",
		ix.LocateExcerpt("Most products may be returned within 15 days."))

	// First-five-words fallback.
	assert.Equal(t, "return_policy.pdf:page2:line3",
		ix.LocateExcerpt("Restocking fee of 15% applies here with an extra trailing clause"))

	// Unlocatable text falls back to the first page of the first file.
	assert.Equal(t, "return_policy.pdf:page1:line1", ix.LocateExcerpt("no such sentence anywhere"))
}
