package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"gridplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreateRun inserts a new run row. The workflow definition travels with the
// run so dependent jobs can be scheduled without re-delivering the document.
func (s *Store) CreateRun(ctx context.Context, tx store.DBTransaction, run *store.Run) error {
	query := `
		INSERT INTO runs (id, project_id, workflow_name, event, branch, commit_sha, definition, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, query,
		run.ID,
		run.ProjectID,
		run.WorkflowName,
		run.Event,
		run.Branch,
		run.CommitSHA,
		run.Definition,
		run.Status,
		run.CreatedAt,
	)
	return err
}

func (s *Store) GetRunByID(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	query := `
		SELECT id, project_id, workflow_name, event, branch, commit_sha, definition, status, created_at, finished_at
		FROM runs WHERE id = $1
	`

	var run store.Run
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.ProjectID, &run.WorkflowName,
		&run.Event, &run.Branch, &run.CommitSHA,
		&run.Definition, &run.Status, &run.CreatedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	return &run, nil
}

// FinishRun sets the run's terminal status.
func (s *Store) FinishRun(ctx context.Context, tx store.DBTransaction, runID uuid.UUID, status store.RunStatus) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		UPDATE runs SET status = $1, finished_at = NOW() WHERE id = $2
	`, status, runID)
	return err
}

// CreateCells bulk-inserts the pending cells of a run.
func (s *Store) CreateCells(ctx context.Context, tx store.DBTransaction, cells []*store.Cell) error {
	executor := s.getExecutor(tx)

	query := `
		INSERT INTO cells (id, run_id, project_id, job_name, label, axis_values, os_label, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	for _, cell := range cells {
		values, err := json.Marshal(cell.Values)
		if err != nil {
			return fmt.Errorf("failed to marshal cell values: %w", err)
		}

		_, err = executor.ExecContext(ctx, query,
			cell.ID,
			cell.RunID,
			cell.ProjectID,
			cell.JobName,
			cell.Label,
			values,
			cell.OSLabel,
			cell.Status,
			cell.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert cell %s: %w", cell.ID, err)
		}
	}

	return nil
}

const cellColumns = `
	id, run_id, project_id, job_name, label, axis_values, os_label, status,
	attempt, failed_step, exit_code, error_message, started_at, finished_at, created_at
`

func scanCell(scanner interface{ Scan(...interface{}) error }) (*store.Cell, error) {
	var cell store.Cell
	var values []byte

	err := scanner.Scan(
		&cell.ID, &cell.RunID, &cell.ProjectID,
		&cell.JobName, &cell.Label, &values, &cell.OSLabel, &cell.Status,
		&cell.Attempt, &cell.FailedStep, &cell.ExitCode, &cell.ErrorMessage,
		&cell.StartedAt, &cell.FinishedAt, &cell.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(values) > 0 {
		if err := json.Unmarshal(values, &cell.Values); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cell values: %w", err)
		}
	}

	return &cell, nil
}

func (s *Store) GetCellByID(ctx context.Context, id uuid.UUID) (*store.Cell, error) {
	query := fmt.Sprintf("SELECT %s FROM cells WHERE id = $1", cellColumns)
	return scanCell(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) ListCellsByRun(ctx context.Context, runID uuid.UUID) ([]*store.Cell, error) {
	query := fmt.Sprintf("SELECT %s FROM cells WHERE run_id = $1 ORDER BY created_at ASC, label ASC", cellColumns)

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cells []*store.Cell
	for rows.Next() {
		cell, err := scanCell(rows)
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}

	return cells, rows.Err()
}

// SkipCells marks the pending cells of the given jobs as skipped. Used when
// a job's needs failed and its cells will never be enqueued.
func (s *Store) SkipCells(ctx context.Context, tx store.DBTransaction, runID uuid.UUID, jobNames []string) error {
	if len(jobNames) == 0 {
		return nil
	}

	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		UPDATE cells SET status = $1, finished_at = NOW()
		WHERE run_id = $2 AND job_name = ANY($3) AND status = $4
	`, store.CellStatusSkipped, runID, pq.Array(jobNames), store.CellStatusPending)
	return err
}

// UpsertStepRecords replaces a cell's reported step outcomes. The worker
// reports the full ordered list on every transition, so replace is simpler
// and safer than merging.
func (s *Store) UpsertStepRecords(ctx context.Context, tx store.DBTransaction, cellID uuid.UUID, steps []*store.StepRecord) error {
	executor := s.getExecutor(tx)

	if _, err := executor.ExecContext(ctx, "DELETE FROM cell_steps WHERE cell_id = $1", cellID); err != nil {
		return fmt.Errorf("failed to clear step records: %w", err)
	}

	query := `
		INSERT INTO cell_steps (cell_id, idx, name, status, exit_code, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, step := range steps {
		_, err := executor.ExecContext(ctx, query,
			cellID, step.Index, step.Name, step.Status,
			step.ExitCode, step.StartedAt, step.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step record %d: %w", step.Index, err)
		}
	}

	return nil
}

func (s *Store) ListStepRecords(ctx context.Context, cellID uuid.UUID) ([]*store.StepRecord, error) {
	query := `
		SELECT id, cell_id, idx, name, status, exit_code, started_at, finished_at
		FROM cell_steps
		WHERE cell_id = $1
		ORDER BY idx ASC
	`

	rows, err := s.db.QueryContext(ctx, query, cellID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*store.StepRecord
	for rows.Next() {
		var step store.StepRecord
		if err := rows.Scan(
			&step.ID, &step.CellID, &step.Index, &step.Name,
			&step.Status, &step.ExitCode, &step.StartedAt, &step.FinishedAt,
		); err != nil {
			return nil, err
		}
		steps = append(steps, &step)
	}

	return steps, rows.Err()
}
