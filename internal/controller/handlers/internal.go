package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"gridplane/internal/store"
	"gridplane/pkg/api"
	"gridplane/pkg/workflow"

	"github.com/google/uuid"
)

// ---------------------------------------------------------
// Internal Worker Endpoints
// These are authenticated with the system secret, not a project key.
// ---------------------------------------------------------

// InternalHeartbeat handles PUT /internal/cells/{id}/heartbeat.
// The worker calls this to say "I'm still working on it, don't give it to anyone else."
func (h *Handlers) InternalHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cellID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid cell id", http.StatusBadRequest)
		return
	}

	newVisibility := time.Now().Add(h.config.HeartbeatVisibilityExtension)

	if err := h.store.SetVisibleAfter(ctx, nil, cellID, newVisibility); err != nil {
		h.httpError(w, "Failed to update heartbeat", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// InternalUpdateSteps handles PUT /internal/cells/{id}/steps.
// The worker reports per-step transitions so status queries can show which
// step a cell is on.
func (h *Handlers) InternalUpdateSteps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cellID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid cell id", http.StatusBadRequest)
		return
	}

	var req api.UpdateStepsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	records := make([]*store.StepRecord, len(req.Steps))
	for i, s := range req.Steps {
		records[i] = &store.StepRecord{
			CellID:     cellID,
			Index:      s.Index,
			Name:       s.Name,
			Status:     store.StepStatus(s.Status),
			ExitCode:   s.ExitCode,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
		}
	}

	if err := h.store.UpsertStepRecords(ctx, nil, cellID, records); err != nil {
		h.httpError(w, "Failed to persist steps", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// InternalUpdateResult handles PUT /internal/cells/{id}/result.
// The worker calls this when a cell finishes. The failure of one cell is
// final for that cell only; sibling cells keep running. Afterwards the run
// is reconciled: dependent jobs whose needs all succeeded get enqueued,
// jobs with a failed need get skipped, and a fully-terminal run is closed.
func (h *Handlers) InternalUpdateResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cellID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid cell id", http.StatusBadRequest)
		return
	}

	var req api.CellResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid body", http.StatusBadRequest)
		return
	}

	cell, err := h.store.GetCellByID(ctx, cellID)
	if err != nil {
		h.httpError(w, "Cell not found", http.StatusNotFound)
		return
	}

	if req.Status == string(store.CellStatusSucceeded) {
		exitCode := 0
		if req.ExitCode != nil {
			exitCode = *req.ExitCode
		}
		if err := h.store.Complete(ctx, nil, cellID, exitCode); err != nil {
			h.httpError(w, "Failed to mark complete", http.StatusInternalServerError)
			return
		}
	} else {
		errMsg := ""
		if req.Error != nil {
			errMsg = *req.Error
		}
		if err := h.store.Fail(ctx, nil, cellID, req.ExitCode, req.FailedStep, errMsg); err != nil {
			h.httpError(w, "Failed to mark failed", http.StatusInternalServerError)
			return
		}
	}

	if h.meters != nil {
		h.meters.RecordCellCompleted(ctx, req.Status)
	}

	if err := h.reconcileRun(ctx, cell.RunID); err != nil {
		h.logger.Error("run reconciliation failed", "run_id", cell.RunID, "error", err)
	}

	w.WriteHeader(http.StatusOK)
}

// reconcileRun advances the needs graph of a run after a cell reached a
// terminal state.
func (h *Handlers) reconcileRun(ctx context.Context, runID uuid.UUID) error {
	run, err := h.store.GetRunByID(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != store.RunStatusRunning {
		return nil
	}

	cells, err := h.store.ListCellsByRun(ctx, runID)
	if err != nil {
		return err
	}

	wf, err := workflow.Parse(run.Definition)
	if err != nil {
		return err
	}
	order, err := wf.JobOrder()
	if err != nil {
		return err
	}

	byJob := make(map[string][]*store.Cell)
	for _, c := range cells {
		byJob[c.JobName] = append(byJob[c.JobName], c)
	}

	// outcome per job: pending, running, succeeded, failed or skipped
	outcome := make(map[string]string, len(order))
	for _, name := range order {
		job := wf.Jobs.Get(name)
		jcells := byJob[name]

		allPending, allTerminal, anyBad := true, true, false
		for _, c := range jcells {
			if c.Status != store.CellStatusPending {
				allPending = false
			}
			if !c.Status.Terminal() {
				allTerminal = false
			}
			if c.Status == store.CellStatusFailed || c.Status == store.CellStatusSkipped {
				anyBad = true
			}
		}

		// A not-yet-started dependent job either becomes schedulable,
		// gets skipped, or keeps waiting.
		if len(job.Needs) > 0 && allPending {
			needsOK, needsBad := true, false
			for _, need := range job.Needs {
				switch outcome[need] {
				case "succeeded":
				case "failed", "skipped":
					needsBad = true
					needsOK = false
				default:
					needsOK = false
				}
			}

			if needsBad {
				if err := h.store.SkipCells(ctx, nil, runID, []string{name}); err != nil {
					return err
				}
				for _, c := range jcells {
					c.Status = store.CellStatusSkipped
				}
				outcome[name] = "skipped"
				h.logger.Info("job skipped, needed job did not succeed", "run_id", runID, "job", name)
				continue
			}

			if needsOK {
				for _, c := range jcells {
					payload, err := cellPayload(wf, c)
					if err != nil {
						return err
					}
					if _, err := h.store.Enqueue(ctx, nil, c.ID, c.OSLabel, payload, time.Time{}); err != nil {
						// The queue's cell_id uniqueness makes double
						// scheduling from concurrent results harmless.
						h.logger.Debug("cell enqueue skipped", "cell_id", c.ID, "error", err)
						continue
					}
					if h.meters != nil {
						h.meters.CellsEnqueued.Add(ctx, 1)
					}
				}
				outcome[name] = "running"
				continue
			}

			outcome[name] = "pending"
			continue
		}

		switch {
		case allTerminal && anyBad:
			outcome[name] = "failed"
		case allTerminal:
			outcome[name] = "succeeded"
		default:
			outcome[name] = "running"
		}
	}

	// Close the run once every cell is terminal.
	allTerminal, anyBad := true, false
	for _, c := range cells {
		if !c.Status.Terminal() {
			allTerminal = false
		}
		if c.Status == store.CellStatusFailed || c.Status == store.CellStatusSkipped {
			anyBad = true
		}
	}
	if !allTerminal {
		return nil
	}

	status := store.RunStatusSucceeded
	if anyBad {
		status = store.RunStatusFailed
	}
	if err := h.store.FinishRun(ctx, nil, runID, status); err != nil {
		return err
	}
	h.logger.Info("run finished", "run_id", runID, "status", status)
	return nil
}
