// Package api exposes the refund pipeline over HTTP: the Gmail push
// endpoint, the task-queue processor endpoint, the SSE demo endpoint, and
// health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server is the HTTP front of the pipeline.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer wires the handlers into the router.
func NewServer(h *Handlers) *Server {
	return &Server{handler: setupRoutes(h)}
}

func setupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", h.Health)
	r.Post("/pubsub/gmail", h.PubSubGmail)
	r.Post("/process", h.Process)
	r.Post("/process-demo", h.ProcessDemo)

	return r
}

// ListenAndServe starts the server. Write timeout stays unset so SSE
// streams are not cut off mid-case.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       1 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
