package api

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gagan0116/mcp-customer-support/internal/caseworker"
	"github.com/gagan0116/mcp-customer-support/internal/domain"
)

type fakeIngress struct {
	err   error
	calls int
}

func (f *fakeIngress) HandleNotification(ctx context.Context) error {
	f.calls++
	return f.err
}

type fakeWorker struct {
	err       error
	processed []string
}

func (f *fakeWorker) Process(ctx context.Context, bucket, blobPath string, sink caseworker.Sink) error {
	f.processed = append(f.processed, blobPath)
	return f.err
}

func (f *fakeWorker) ProcessEnvelope(ctx context.Context, env domain.CaseEnvelope, blobPath string, sink caseworker.Sink) error {
	sink(caseworker.Event{Step: caseworker.StepTriage, Status: caseworker.StatusActive, Log: "Checking the classification"})
	sink(caseworker.Event{Step: caseworker.StepPersist, Status: caseworker.StatusComplete, Log: "Case saved"})
	return f.err
}

func newTestServer(ing *fakeIngress, wk *fakeWorker) *Server {
	return NewServer(NewHandlers(ing, wk, map[string]Readiness{
		"orders_db": func(ctx context.Context) error { return nil },
	}))
}

func pushBody(historyID uint64) string {
	data := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf(`{"historyId":%d}`, historyID)))
	return fmt.Sprintf(`{"message":{"data":"%s","messageId":"pm-1"}}`, data)
}

func TestPubSubGmailStatuses(t *testing.T) {
	ing := &fakeIngress{}
	srv := newTestServer(ing, &fakeWorker{})

	// No message → 204, nothing processed.
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pubsub/gmail", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, ing.calls)

	// Valid push → 200.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pubsub/gmail", strings.NewReader(pushBody(6100))))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ing.calls)

	// Handler failure → 500 so Pub/Sub redelivers.
	ing.err = fmt.Errorf("cursor store down")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pubsub/gmail", strings.NewReader(pushBody(6200))))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestProcessRequiresBlobPath(t *testing.T) {
	wk := &fakeWorker{}
	srv := newTestServer(&fakeIngress{}, wk)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(`{"bucket":"b"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, wk.processed)
}

func TestProcessSuccessAndRetry(t *testing.T) {
	wk := &fakeWorker{}
	srv := newTestServer(&fakeIngress{}, wk)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process",
		strings.NewReader(`{"bucket":"b","blob_path":"a/a_20260820T100000Z.json"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a/a_20260820T100000Z.json"}, wk.processed)

	wk.err = fmt.Errorf("graph unavailable")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process",
		strings.NewReader(`{"bucket":"b","blob_path":"x.json"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code, "failures must trigger queue retry")
}

func TestProcessDemoStreamsSSE(t *testing.T) {
	srv := newTestServer(&fakeIngress{}, &fakeWorker{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process-demo",
		strings.NewReader(`{"case_id":"c-1","from_email":"alice@x.com","classification":{"category":"RETURN","confidence":0.9}}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, `"step":"triage"`)
	assert.Contains(t, body, "event: complete")
}

func TestProcessDemoErrorEvent(t *testing.T) {
	srv := newTestServer(&fakeIngress{}, &fakeWorker{err: fmt.Errorf("adjudicator down")})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process-demo",
		strings.NewReader(`{"case_id":"c-1"}`)))

	assert.Contains(t, rec.Body.String(), "event: error")
	assert.Contains(t, rec.Body.String(), "adjudicator down")
}

func TestHealthReportsComponents(t *testing.T) {
	h := NewHandlers(&fakeIngress{}, &fakeWorker{}, map[string]Readiness{
		"orders_db": func(ctx context.Context) error { return nil },
		"graph":     func(ctx context.Context) error { return fmt.Errorf("unreachable") },
	})
	srv := NewServer(h)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), "unreachable")
}
