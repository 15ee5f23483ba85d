package handlers

import (
	"net/http"

	"gridplane/internal/controller/middleware"
	"gridplane/internal/store"
	"gridplane/pkg/api"

	"github.com/google/uuid"
)

// GetRun handles GET /runs/{id}.
// Returns the run status together with all of its cells.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid run id", http.StatusBadRequest)
		return
	}

	project, ok := middleware.ProjectFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	run, err := h.store.GetRunByID(ctx, runID)
	if err != nil || run.ProjectID != project.ID {
		h.httpError(w, "Run not found", http.StatusNotFound)
		return
	}

	cells, err := h.store.ListCellsByRun(ctx, runID)
	if err != nil {
		h.httpError(w, "Failed to fetch cells", http.StatusInternalServerError)
		return
	}

	resp := api.RunResponse{
		ID:         run.ID.String(),
		Workflow:   run.WorkflowName,
		Event:      run.Event,
		Branch:     run.Branch,
		CommitSHA:  run.CommitSHA,
		Status:     string(run.Status),
		CreatedAt:  run.CreatedAt,
		FinishedAt: run.FinishedAt,
		Cells:      make([]api.CellResponse, len(cells)),
	}
	for i, cell := range cells {
		resp.Cells[i] = cellResponse(cell, nil)
	}

	h.respondJson(w, http.StatusOK, resp)
}

// GetCell handles GET /cells/{id}.
// Returns one cell with its per-step outcomes.
func (h *Handlers) GetCell(w http.ResponseWriter, r *http.Request) {
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

	cell, err := h.store.GetCellByID(ctx, cellID)
	if err != nil || cell.ProjectID != project.ID {
		h.httpError(w, "Cell not found", http.StatusNotFound)
		return
	}

	steps, err := h.store.ListStepRecords(ctx, cellID)
	if err != nil {
		h.httpError(w, "Failed to fetch steps", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, cellResponse(cell, steps))
}

func cellResponse(cell *store.Cell, steps []*store.StepRecord) api.CellResponse {
	resp := api.CellResponse{
		ID:         cell.ID.String(),
		Job:        cell.JobName,
		Label:      cell.Label,
		Values:     cell.Values,
		Status:     string(cell.Status),
		Attempt:    cell.Attempt,
		FailedStep: cell.FailedStep,
		ExitCode:   cell.ExitCode,
		Error:      cell.ErrorMessage,
		StartedAt:  cell.StartedAt,
		FinishedAt: cell.FinishedAt,
	}
	for _, s := range steps {
		resp.Steps = append(resp.Steps, api.StepResponse{
			Index:      s.Index,
			Name:       s.Name,
			Status:     string(s.Status),
			ExitCode:   s.ExitCode,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
		})
	}
	return resp
}
