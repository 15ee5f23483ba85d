package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"gridplane/internal/controller/middleware"
	"gridplane/internal/runner"
	"gridplane/internal/store"
	"gridplane/pkg/api"
	"gridplane/pkg/workflow"

	"github.com/google/uuid"
)

// HandleEvent handles POST /events.
// It evaluates the delivered repository event against the workflow triggers
// and, on a match, materializes one run with every matrix cell of every job.
// Cells of jobs without needs are enqueued immediately; dependent jobs wait
// until their needs succeed.
func (h *Handlers) HandleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	project, ok := middleware.ProjectFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	wf, err := workflow.Parse([]byte(req.Workflow))
	if err != nil {
		h.httpError(w, "Invalid workflow: "+err.Error(), http.StatusBadRequest)
		return
	}

	if !wf.On.Matches(req.Event) {
		h.respondJson(w, http.StatusOK, api.TriggerResponse{
			Triggered: false,
			Reason:    "event does not match workflow triggers",
		})
		return
	}

	order, err := wf.JobOrder()
	if err != nil {
		h.httpError(w, "Invalid workflow: "+err.Error(), http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	run := &store.Run{
		ID:           uuid.New(),
		ProjectID:    project.ID,
		WorkflowName: wf.Name,
		Event:        req.Event.Name,
		Branch:       req.Event.Branch(),
		CommitSHA:    req.Event.CommitSHA,
		Definition:   []byte(req.Workflow),
		Status:       store.RunStatusRunning,
		CreatedAt:    now,
	}

	var cells []*store.Cell
	var ready []*store.Cell
	for _, name := range order {
		job := wf.Jobs.Get(name)
		for _, mc := range job.Strategy.Matrix.Cells(name) {
			cell := &store.Cell{
				ID:        uuid.New(),
				RunID:     run.ID,
				ProjectID: project.ID,
				JobName:   name,
				Label:     mc.Label,
				Values:    mc.Values,
				OSLabel:   mc.OS(),
				Status:    store.CellStatusPending,
				CreatedAt: now,
			}
			cells = append(cells, cell)
			if len(job.Needs) == 0 {
				ready = append(ready, cell)
			}
		}
	}

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	if err := h.store.CreateRun(ctx, tx, run); err != nil {
		h.httpError(w, "Failed to create run", http.StatusInternalServerError)
		return
	}
	if err := h.store.CreateCells(ctx, tx, cells); err != nil {
		h.httpError(w, "Failed to create cells", http.StatusInternalServerError)
		return
	}

	for _, cell := range ready {
		payload, err := cellPayload(wf, cell)
		if err != nil {
			h.httpError(w, "Failed to build cell payload", http.StatusInternalServerError)
			return
		}
		if _, err := h.store.Enqueue(ctx, tx, cell.ID, cell.OSLabel, payload, time.Time{}); err != nil {
			h.httpError(w, "Failed to enqueue", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		h.httpError(w, "Failed to commit transaction", http.StatusInternalServerError)
		return
	}

	h.logger.Info("run started",
		"run_id", run.ID,
		"project", project.Name,
		"workflow", wf.Name,
		"event", req.Event.Name,
		"branch", run.Branch,
		"cells", len(cells))

	if h.meters != nil {
		h.meters.RunsStarted.Add(ctx, 1)
		h.meters.CellsEnqueued.Add(ctx, int64(len(ready)))
	}

	h.respondJson(w, http.StatusOK, api.TriggerResponse{
		Triggered: true,
		RunID:     run.ID.String(),
		CellCount: len(cells),
	})
}

// cellPayload serializes everything the worker needs to execute the cell,
// so dequeueing never requires reading the workflow again.
func cellPayload(wf *workflow.Workflow, cell *store.Cell) (json.RawMessage, error) {
	job := wf.Jobs.Get(cell.JobName)
	spec := runner.CellSpec{
		Job:    cell.JobName,
		Label:  cell.Label,
		Values: cell.Values,
		Env:    job.Env,
		Steps:  job.Steps,
	}
	return json.Marshal(spec)
}
