package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"gridplane/internal/controller/middleware"
	"gridplane/pkg/api"

	"github.com/google/uuid"
)

// InternalAddLogs handles POST /internal/cells/{id}/logs
// Called by the worker to append a log chunk.
func (h *Handlers) InternalAddLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cellID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid cell id", http.StatusBadRequest)
		return
	}

	var req api.AddLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.AppendLog(ctx, cellID, req.Content); err != nil {
		h.httpError(w, "Failed to persist log", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// GetCellLogs handles GET /cells/{id}/logs
// Called by the user (CLI/UI) to view logs.
func (h *Handlers) GetCellLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cellID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid cell id", http.StatusBadRequest)
		return
	}

	project, ok := middleware.ProjectFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	query := r.URL.Query()
	limit := 1000 // default limit
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 10000 {
			limit = parsed
		}
	}

	var afterID int64 = 0
	if after := query.Get("after_id"); after != "" {
		if parsed, err := strconv.ParseInt(after, 10, 64); err == nil {
			afterID = parsed
		}
	}

	// Verify ownership
	cell, err := h.store.GetCellByID(ctx, cellID)
	if err != nil || cell.ProjectID != project.ID {
		h.httpError(w, "Cell not found", http.StatusNotFound)
		return
	}

	logs, err := h.store.GetLogs(ctx, cellID, afterID, limit)
	if err != nil {
		h.httpError(w, "Failed to fetch logs", http.StatusInternalServerError)
		return
	}

	apiLogs := make([]api.LogEntry, len(logs))
	for i, log := range logs {
		apiLogs[i] = api.LogEntry{
			ID:        log.ID,
			Content:   log.Content,
			CreatedAt: log.CreatedAt,
		}
	}

	h.respondJson(w, http.StatusOK, api.GetLogsResponse{Logs: apiLogs})
}
