package policy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gagan0116/mcp-customer-support/internal/gemini"
)

type recordingLLM struct {
	calls []time.Time
	fill  func(call int, out interface{})
	err   func(call int) error
}

func (r *recordingLLM) GenerateJSON(ctx context.Context, req gemini.Request, out interface{}) error {
	call := len(r.calls)
	r.calls = append(r.calls, time.Now())
	if r.err != nil {
		if err := r.err(call); err != nil {
			return err
		}
	}
	if r.fill != nil {
		r.fill(call, out)
	}
	return nil
}

func (r *recordingLLM) GenerateText(ctx context.Context, req gemini.Request) (string, error) {
	return "", nil
}

func twoPageSource() (string, []PageSpan) {
	md := PageMarker("return_policy.pdf", 1, 1, 3) + "\n" +
		"Returns accepted within 15 days.\n" +
		"Restocking fee of 15% applies.\n" +
		PageMarker("return_policy.pdf", 2, 4, 5) + "\n" +
		"Holiday purchases get extended windows.\n"
	return md, []PageSpan{
		{Filename: "return_policy.pdf", Page: 1, StartLine: 1, EndLine: 3},
		{Filename: "return_policy.pdf", Page: 2, StartLine: 4, EndLine: 5},
	}
}

func TestExtractPacesPageCalls(t *testing.T) {
	llm := &recordingLLM{
		fill: func(call int, out interface{}) {
			*(out.(*Extraction)) = Extraction{Entities: []Entity{{
				Label:       "ReturnWindow",
				Properties:  map[string]interface{}{"name": fmt.Sprintf("window-%d", call)},
				TextExcerpt: "Returns accepted within 15 days.",
			}}}
		},
	}

	md, spans := twoPageSource()
	out, err := NewExtractor(llm, "m").Extract(context.Background(), &GraphSchema{}, md, spans)
	require.NoError(t, err)
	assert.Len(t, out.Entities, 2)

	require.Len(t, llm.calls, 2)
	gap := llm.calls[1].Sub(llm.calls[0])
	assert.GreaterOrEqual(t, gap, interPageDelay, "page calls must be paced apart")
}

func TestExtractAbortsWhenPageExhaustsRetries(t *testing.T) {
	llm := &recordingLLM{
		err: func(call int) error { return fmt.Errorf("model overloaded") },
	}

	md, spans := twoPageSource()
	_, err := NewExtractor(llm, "m").Extract(context.Background(), &GraphSchema{}, md, spans)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 1")
	assert.Len(t, llm.calls, extractRetries, "second page must not run after the first fails")
}
