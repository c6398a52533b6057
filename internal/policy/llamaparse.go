package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gagan0116/mcp-customer-support/internal/pkg/httpretry"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
)

const (
	llamaBaseURL = "https://api.cloud.llamaindex.ai/api/v1/parsing"

	// Policy PDFs carry page footers and promotional blocks that would
	// pollute the graph; the parser is told to drop them.
	parsingInstruction = "Extract the policy text as hierarchical markdown. " +
		"Preserve headings, lists, and tables. Skip page footers, page numbers, " +
		"legal boilerplate repeated on every page, and advertisements."

	jobPollInterval = 3 * time.Second
	jobPollTimeout  = 10 * time.Minute
)

// ParsedPage is one page of parser output.
type ParsedPage struct {
	Page     int    `json:"page"`
	Markdown string `json:"md"`
}

// ParseClient calls the hosted PDF-layout parser.
type ParseClient struct {
	apiKey  string
	baseURL string
	http    httpretry.HTTPDoer
}

// NewParseClient builds the client with the standard retry policy.
func NewParseClient(apiKey string) *ParseClient {
	return &ParseClient{
		apiKey:  apiKey,
		baseURL: llamaBaseURL,
		http:    httpretry.NewRetryClient(&http.Client{Timeout: 2 * time.Minute}, 3),
	}
}

// SetBaseURL points the client at a test server.
func (c *ParseClient) SetBaseURL(u string) { c.baseURL = u }

type uploadResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type jobStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type jobResult struct {
	Pages []ParsedPage `json:"pages"`
}

// ParseFile uploads one PDF, waits for the job, and returns its pages.
func (c *ParseClient) ParseFile(ctx context.Context, path string) ([]ParsedPage, error) {
	id, err := c.upload(ctx, path)
	if err != nil {
		return nil, err
	}
	logger.Info("parse job submitted", "file", filepath.Base(path), "job_id", id)

	if err := c.waitForJob(ctx, id); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return c.fetchResult(ctx, id)
}

func (c *ParseClient) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open policy pdf: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read policy pdf: %w", err)
	}
	if err := mw.WriteField("parsing_instruction", parsingInstruction); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var up uploadResponse
	if err := c.doJSON(req, &up); err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	if up.ID == "" {
		return "", fmt.Errorf("upload %s: empty job id", filepath.Base(path))
	}
	return up.ID, nil
}

func (c *ParseClient) waitForJob(ctx context.Context, id string) error {
	deadline := time.Now().Add(jobPollTimeout)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/job/"+id, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		var st jobStatus
		if err := c.doJSON(req, &st); err != nil {
			return err
		}
		switch st.Status {
		case "SUCCESS":
			return nil
		case "ERROR":
			return fmt.Errorf("parse job failed: %s", st.Error)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("parse job %s still %s after %s", id, st.Status, jobPollTimeout)
		}
		select {
		case <-time.After(jobPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *ParseClient) fetchResult(ctx context.Context, id string) ([]ParsedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/job/"+id+"/result/json", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var res jobResult
	if err := c.doJSON(req, &res); err != nil {
		return nil, fmt.Errorf("fetch parse result: %w", err)
	}
	if len(res.Pages) == 0 {
		return nil, fmt.Errorf("parse job %s returned no pages", id)
	}
	return res.Pages, nil
}

func (c *ParseClient) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("parser API %d: %s", resp.StatusCode, truncate(string(b), 200))
	}
	return json.Unmarshal(b, out)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
