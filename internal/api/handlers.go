package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gagan0116/mcp-customer-support/internal/caseworker"
	"github.com/gagan0116/mcp-customer-support/internal/domain"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/httputil"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
)

// Ingress handles one expanded push notification.
type Ingress interface {
	HandleNotification(ctx context.Context) error
}

// CaseProcessor runs the per-case pipeline.
type CaseProcessor interface {
	Process(ctx context.Context, bucket, blobPath string, sink caseworker.Sink) error
	ProcessEnvelope(ctx context.Context, env domain.CaseEnvelope, blobPath string, sink caseworker.Sink) error
}

// Readiness reports whether a backing store answers.
type Readiness func(ctx context.Context) error

// Handlers carries the pipeline dependencies for the HTTP surface.
type Handlers struct {
	ingress Ingress
	worker  CaseProcessor

	// readiness checks by component name, reported on the health endpoint.
	readiness map[string]Readiness
}

// NewHandlers builds the handler set. readiness may be nil.
func NewHandlers(ingress Ingress, worker CaseProcessor, readiness map[string]Readiness) *Handlers {
	return &Handlers{ingress: ingress, worker: worker, readiness: readiness}
}

// pubsubPush is the Pub/Sub push envelope; the inner data is base64 JSON
// carrying the Gmail history id.
type pubsubPush struct {
	Message *struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
}

// PubSubGmail accepts a Gmail push notification. 204 when the push carries
// no message, 200 on success, 500 to force Pub/Sub redelivery.
func (h *Handlers) PubSubGmail(w http.ResponseWriter, r *http.Request) {
	var push pubsubPush
	if err := json.NewDecoder(r.Body).Decode(&push); err != nil || push.Message == nil {
		httputil.NoContent(w)
		return
	}

	// The push's historyId only says "something changed"; the delta is
	// expanded from the persisted cursor, so the payload content beyond
	// presence is informational.
	if raw, err := base64.StdEncoding.DecodeString(push.Message.Data); err == nil {
		var note struct {
			HistoryID uint64 `json:"historyId"`
		}
		if json.Unmarshal(raw, &note) == nil && note.HistoryID > 0 {
			logger.Debug("gmail push received", "history_id", note.HistoryID, "pubsub_id", push.Message.MessageID)
		}
	}

	if err := h.ingress.HandleNotification(r.Context()); err != nil {
		logger.Error("notification handling failed", "error", err.Error())
		httputil.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.OK(w, map[string]string{"status": "ok"})
}

// processRequest is the task-queue payload.
type processRequest struct {
	Bucket   string `json:"bucket"`
	BlobPath string `json:"blob_path"`
}

// Process consumes one task. 200 only when the case reached a terminal
// state; 500 makes the queue redeliver.
func (h *Handlers) Process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BlobPath == "" {
		httputil.BadRequest(w, "bucket and blob_path required")
		return
	}

	if err := h.worker.Process(r.Context(), req.Bucket, req.BlobPath, nil); err != nil {
		logger.Error("case processing failed", "blob_path", req.BlobPath, "error", err.Error())
		httputil.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.OK(w, map[string]string{"status": "processed"})
}

// Health reports liveness plus per-component readiness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{"status": "ok"}
	components := map[string]string{}
	healthy := true
	for name, check := range h.readiness {
		if err := check(r.Context()); err != nil {
			components[name] = err.Error()
			healthy = false
			continue
		}
		components[name] = "ok"
	}
	if len(components) > 0 {
		out["components"] = components
	}
	if !healthy {
		out["status"] = "degraded"
	}
	httputil.OK(w, out)
}
