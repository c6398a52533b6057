// Package gemini is the LLM adapter for the pipeline. Every structured
// step (classification, extraction, verification, adjudication, policy
// compilation) goes through GenerateJSON with a response schema; free
// text (customer explanations) goes through GenerateText.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gagan0116/mcp-customer-support/internal/pkg/httpretry"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Reasoning selects how much internal deliberation the model spends.
type Reasoning int

const (
	// ReasoningDefault leaves the provider's thinking budget untouched.
	ReasoningDefault Reasoning = iota
	// ReasoningHigh requests a deep thinking budget; used by ontology
	// design, extraction, the critic, and the adjudicator.
	ReasoningHigh
)

// ErrSchemaViolation reports that the model never produced parseable JSON
// within the repair budget. Callers treat the step's output as empty.
var ErrSchemaViolation = errors.New("gemini: response did not match schema after retries")

// Request describes one generation call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Parts       []Part // extra parts (inline images) appended after Prompt
	Schema      *Schema
	Temperature *float64
	Reasoning   Reasoning
	Timeout     time.Duration
}

// Client is the process-wide Gemini client. All calls across all in-flight
// cases share one concurrency semaphore so parallel workers cannot stampede
// the provider into 429s.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient httpretry.HTTPDoer
	sem        *semaphore.Weighted
}

// NewClient creates the Gemini client with the global concurrency cap.
// maxConcurrent ≤ 0 falls back to 5.
func NewClient(apiKey string, maxConcurrent int64) *Client {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: httpretry.NewRetryClientWithBackoff(
			&http.Client{Timeout: 120 * time.Second},
			10,            // provider 429s ride out long bursts
			2*time.Second, // base
			60*time.Second,
		),
		sem: semaphore.NewWeighted(maxConcurrent),
	}
}

// SetBaseURL overrides the API endpoint. Tests point this at a local server.
func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

// GenerateText runs one call and returns the concatenated text parts.
func (c *Client) GenerateText(ctx context.Context, req Request) (string, error) {
	return c.generate(ctx, req)
}

// GenerateJSON runs one schema-enforced call and unmarshals the result into
// out. The schema is the contract; parse failure triggers up to three repair
// attempts with an inline correction prompt before ErrSchemaViolation.
func (c *Client) GenerateJSON(ctx context.Context, req Request, out interface{}) error {
	if req.Schema == nil {
		return fmt.Errorf("gemini: GenerateJSON requires a schema")
	}

	prompt := req.Prompt
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		repairReq := req
		repairReq.Prompt = prompt
		text, err := c.generate(ctx, repairReq)
		if err != nil {
			return err
		}
		cleaned := stripCodeFence(text)
		if err := json.Unmarshal([]byte(cleaned), out); err == nil {
			return nil
		} else {
			lastErr = err
			logger.Warn("gemini response failed schema parse, repairing",
				"attempt", attempt+1, "error", err.Error())
			prompt = req.Prompt + "\n\nYour previous response was not valid JSON (" +
				err.Error() + "). Respond again with only a JSON object matching the schema."
		}
	}
	return fmt.Errorf("%w: %v", ErrSchemaViolation, lastErr)
}

func (c *Client) generate(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("gemini: API key not configured")
	}
	if req.Timeout <= 0 {
		req.Timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire llm slot: %w", err)
	}
	defer c.sem.Release(1)

	parts := []Part{{Text: req.Prompt}}
	parts = append(parts, req.Parts...)

	body := generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	}
	if req.System != "" {
		body.SystemInstruction = &content{Parts: []Part{{Text: req.System}}}
	}
	gc := &generationConfig{Temperature: req.Temperature}
	if req.Schema != nil {
		gc.ResponseMIMEType = "application/json"
		gc.ResponseSchema = req.Schema
	}
	if req.Reasoning == ReasoningHigh {
		gc.ThinkingConfig = &thinkingConfig{ThinkingBudget: 8192}
	}
	body.GenerationConfig = gc

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, req.Model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call gemini: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", fmt.Errorf("decode gemini response (status %d): %w", resp.StatusCode, err)
	}
	if gr.Error != nil {
		return "", fmt.Errorf("gemini error %d (%s): %s", gr.Error.Code, gr.Error.Status, gr.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini returned status %d", resp.StatusCode)
	}
	if len(gr.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("gemini returned empty text (finish reason %s)", gr.Candidates[0].FinishReason)
	}
	return text, nil
}

// stripCodeFence removes a ```json ... ``` wrapper the model sometimes adds
// despite the response MIME type.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Float64 returns a pointer for inline temperature literals.
func Float64(v float64) *float64 { return &v }
