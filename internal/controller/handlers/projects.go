package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"gridplane/internal/auth"
	"gridplane/internal/store"
	"gridplane/pkg/api"

	"github.com/google/uuid"
)

// CreateProject handles POST /projects (Admin Only).
// It generates a new API key, hashes it for storage, and returns the raw key ONCE.
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		h.httpError(w, "Name is required", http.StatusBadRequest)
		return
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		h.httpError(w, "Entropy failure", http.StatusInternalServerError)
		return
	}

	project := &store.Project{
		ID:             uuid.New(),
		Name:           req.Name,
		RateLimit:      h.config.DefaultRateLimit,
		RateLimitBurst: h.config.DefaultRateLimitBurst,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.store.CreateProject(ctx, project, auth.HashKey(apiKey)); err != nil {
		h.httpError(w, "Failed to create project", http.StatusInternalServerError)
		return
	}

	// Return the raw key; this is the only time the caller sees it.
	resp := api.CreateProjectResponse{
		ID:     project.ID.String(),
		Name:   project.Name,
		APIKey: apiKey,
	}
	h.respondJson(w, http.StatusCreated, resp)
}
