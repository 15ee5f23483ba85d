// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gridplane/internal/observability"
	"gridplane/internal/store"
	"gridplane/pkg/api"
)

// StoreFactory combines the interfaces needed for the controller to function.
type StoreFactory interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	Ping(ctx context.Context) error
	store.ProjectStore
	store.RunStore
	store.LogStore
	store.Queue
}

const (
	defaultHeartbeatExtension = 5 * time.Minute

	// New projects start with a sane request budget; 0 would mean unlimited.
	defaultRateLimit      = 10
	defaultRateLimitBurst = 20
)

// Config carries the handler tunables. Zero values fall back to defaults.
type Config struct {
	// HeartbeatVisibilityExtension is how far a worker heartbeat pushes a
	// claimed cell's queue visibility into the future.
	HeartbeatVisibilityExtension time.Duration

	// DefaultRateLimit and DefaultRateLimitBurst seed the request budget of
	// newly created projects.
	DefaultRateLimit      int
	DefaultRateLimitBurst int
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store  StoreFactory
	logger *slog.Logger
	meters *observability.Meters
	config Config
}

// New creates a new Handlers instance. meters may be nil, e.g. in tests.
func New(s StoreFactory, logger *slog.Logger, meters *observability.Meters, cfg Config) *Handlers {
	if cfg.HeartbeatVisibilityExtension <= 0 {
		cfg.HeartbeatVisibilityExtension = defaultHeartbeatExtension
	}
	if cfg.DefaultRateLimit <= 0 {
		cfg.DefaultRateLimit = defaultRateLimit
	}
	if cfg.DefaultRateLimitBurst <= 0 {
		cfg.DefaultRateLimitBurst = defaultRateLimitBurst
	}
	return &Handlers{store: s, logger: logger, meters: meters, config: cfg}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
