package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gagan0116/mcp-customer-support/internal/caseworker"
	"github.com/gagan0116/mcp-customer-support/internal/domain"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/httputil"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
)

const ssePingInterval = 15 * time.Second

// ProcessDemo runs a full case from an inline envelope, streaming progress
// as server-sent events. The stream always terminates with a "complete" or
// "error" event.
func (h *Handlers) ProcessDemo(w http.ResponseWriter, r *http.Request) {
	var env domain.CaseEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		httputil.BadRequest(w, "invalid case envelope")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := make(chan caseworker.Event, 64)
	done := make(chan error, 1)
	go func() {
		defer close(events)
		done <- h.worker.ProcessEnvelope(r.Context(), env, "", func(e caseworker.Event) {
			select {
			case events <- e:
			case <-r.Context().Done():
			}
		})
	}()

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()

	for {
		select {
		case e, open := <-events:
			if !open {
				// Producer finished; drain the outcome.
				if err := <-done; err != nil {
					logger.Error("demo case failed", "error", err.Error())
					writeSSE(w, "error", map[string]string{"error": err.Error()})
				} else {
					writeSSE(w, "complete", map[string]string{"status": "complete"})
				}
				flusher.Flush()
				return
			}
			writeSSE(w, "progress", e)
			flusher.Flush()
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
}
