package doctools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gagan0116/mcp-customer-support/internal/gemini"
)

func visionServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{"parts": []map[string]string{{"text": reply}}}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestAnalyzeSuccess(t *testing.T) {
	srv := visionServer(t, "The laptop screen has a large crack across the lower left corner.")
	defer srv.Close()

	llm := gemini.NewClient("key", 1)
	llm.SetBaseURL(srv.URL)
	a := NewDefectAnalyzer(llm, "gemini-2.5-flash")

	res := a.Analyze(context.Background(), DefectRequest{
		ImageBase64: base64.StdEncoding.EncodeToString([]byte("fake-jpeg")),
		MIMEType:    "image/jpeg",
	})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Contains(t, res.Description, "crack")
}

func TestAnalyzeHumanReviewSignal(t *testing.T) {
	srv := visionServer(t, "HUMAN_REVIEW_REQUIRED")
	defer srv.Close()

	llm := gemini.NewClient("key", 1)
	llm.SetBaseURL(srv.URL)
	a := NewDefectAnalyzer(llm, "gemini-2.5-flash")

	res := a.Analyze(context.Background(), DefectRequest{
		ImageBase64: base64.StdEncoding.EncodeToString([]byte("blurry")),
	})
	assert.Equal(t, StatusHumanReview, res.Status)
}

func TestAnalyzeBadInput(t *testing.T) {
	a := NewDefectAnalyzer(gemini.NewClient("key", 1), "gemini-2.5-flash")

	res := a.Analyze(context.Background(), DefectRequest{ImageBase64: "not-base64!!"})
	assert.Equal(t, StatusError, res.Status)

	res = a.Analyze(context.Background(), DefectRequest{})
	assert.Equal(t, StatusError, res.Status)
}

func TestExtractPDFTextRejectsGarbage(t *testing.T) {
	_, err := ExtractPDFText([]byte("this is not a pdf"))
	require.Error(t, err)
}
