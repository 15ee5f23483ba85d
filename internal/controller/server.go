// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"gridplane/internal/controller/handlers"
	"gridplane/internal/controller/middleware"
	"gridplane/internal/observability"
)

// Options configures the controller server.
type Options struct {
	Addr         string
	SystemSecret string
	Logger       *slog.Logger
	Meters       *observability.Meters

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler

	// Handlers carries the handler tunables (heartbeat visibility
	// extension, default project rate limits).
	Handlers handlers.Config
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(store handlers.StoreFactory, opts Options) *Server {
	h := handlers.New(store, opts.Logger, opts.Meters, opts.Handlers)
	authMW := middleware.AuthMiddleware(store)
	rateMW := middleware.RateLimitMiddleware()
	internalMW := middleware.RequireInternalAuth(opts.SystemSecret)

	public := func(handler http.HandlerFunc) http.Handler {
		return authMW(rateMW(handler))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /projects", h.CreateProject)

	// Public authenticated apis
	mux.Handle("POST /events", public(h.HandleEvent))
	mux.Handle("GET /runs/{id}", public(h.GetRun))
	mux.Handle("GET /cells/{id}", public(h.GetCell))
	mux.Handle("GET /cells/{id}/logs", public(h.GetCellLogs))

	// Internal endpoints, called by the worker agent.
	// These should run on a separate port or strict network rules.
	mux.Handle("PUT /internal/cells/{id}/heartbeat", internalMW(http.HandlerFunc(h.InternalHeartbeat)))
	mux.Handle("PUT /internal/cells/{id}/steps", internalMW(http.HandlerFunc(h.InternalUpdateSteps)))
	mux.Handle("PUT /internal/cells/{id}/result", internalMW(http.HandlerFunc(h.InternalUpdateResult)))
	mux.Handle("POST /internal/cells/{id}/logs", internalMW(http.HandlerFunc(h.InternalAddLogs)))

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
