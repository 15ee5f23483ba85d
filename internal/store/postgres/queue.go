package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gridplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	// MaxDeliveries caps queue redeliveries. Step failures never retry; a
	// redelivery only happens when a worker dies mid-cell and the
	// visibility timeout lapses.
	MaxDeliveries = 3

	VisibilityTimeout = 5 * time.Minute
)

// Enqueue adds a cell to the cell_queue.
func (s *Store) Enqueue(ctx context.Context, tx store.DBTransaction, cellID uuid.UUID, osLabel string, payload json.RawMessage, visibleAfter time.Time) (int64, error) {
	if visibleAfter.IsZero() {
		visibleAfter = time.Now()
	}

	query := `
		INSERT INTO cell_queue (cell_id, project_id, os_label, payload, visible_after)
		SELECT $1, project_id, $2, $3, $4
		FROM cells
		WHERE id = $1
		RETURNING id
	`

	executor := s.getExecutor(tx)

	var id int64
	err := executor.QueryRowContext(ctx, query, cellID, osLabel, payload, visibleAfter).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue cell %s: %w", cellID, err)
	}

	return id, nil
}

// DequeueBatch claims up to 'limit' available cells atomically using
// SELECT ... FOR UPDATE SKIP LOCKED. Cells whose delivery count exceeds
// MaxDeliveries are dropped from the queue and returned flagged Expired;
// the worker reports those through the controller's result endpoint so the
// run is reconciled like any other terminal cell.
func (s *Store) DequeueBatch(ctx context.Context, osLabels []string, limit int) ([]store.QueueItem, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	args := []interface{}{limit}
	whereClause := "WHERE visible_after <= NOW()"

	if len(osLabels) > 0 {
		whereClause += " AND (os_label = '' OR os_label = ANY($2))"
		args = append(args, pq.Array(osLabels))
	}

	selectQuery := fmt.Sprintf(`
		SELECT id, cell_id, attempt, payload
		FROM cell_queue
		%s
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, whereClause)

	rows, err := tx.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("batch dequeue query failed: %w", err)
	}
	defer rows.Close()

	var items []store.QueueItem
	var queueIDs []int64
	var cellIDs []uuid.UUID
	var expired []uuid.UUID

	for rows.Next() {
		var queueID int64
		var item store.QueueItem
		if err := rows.Scan(&queueID, &item.CellID, &item.Attempt, &item.Payload); err != nil {
			return nil, fmt.Errorf("batch dequeue scan failed: %w", err)
		}

		if item.Attempt >= MaxDeliveries {
			item.Expired = true
			items = append(items, item)
			expired = append(expired, item.CellID)
			continue
		}

		items = append(items, item)
		queueIDs = append(queueIDs, queueID)
		cellIDs = append(cellIDs, item.CellID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch dequeue rows error: %w", err)
	}

	// Cells redelivered too often: the worker keeps crashing on them. Only
	// the queue entry goes away here; the cell itself is failed through the
	// internal result endpoint so the run gets reconciled.
	if len(expired) > 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM cell_queue WHERE cell_id = ANY($1)", pq.Array(expired)); err != nil {
			return nil, fmt.Errorf("failed to drop expired cells: %w", err)
		}
	}

	if len(queueIDs) > 0 {
		// Bulk update visibility timeout and delivery count for claimed cells.
		_, err = tx.ExecContext(ctx, `
			UPDATE cell_queue
			SET visible_after = NOW() + ($1 * INTERVAL '1 second'), attempt = attempt + 1
			WHERE id = ANY($2)
		`, VisibilityTimeout.Seconds(), pq.Array(queueIDs))
		if err != nil {
			return nil, fmt.Errorf("batch visibility update failed: %w", err)
		}

		// Bulk update cell status to running.
		_, err = tx.ExecContext(ctx, `
			UPDATE cells
			SET status = $1, started_at = COALESCE(started_at, NOW()), attempt = attempt + 1
			WHERE id = ANY($2)
		`, store.CellStatusRunning, pq.Array(cellIDs))
		if err != nil {
			return nil, fmt.Errorf("batch status update failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return nil, nil
	}

	return items, nil
}

// Complete handles a successful cell execution.
func (s *Store) Complete(ctx context.Context, tx store.DBTransaction, cellID uuid.UUID, exitCode int) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, "DELETE FROM cell_queue WHERE cell_id = $1", cellID)
	if err != nil {
		return err
	}

	_, err = executor.ExecContext(ctx, `
		UPDATE cells
		SET status = $1, exit_code = $2, finished_at = NOW()
		WHERE id = $3
	`, store.CellStatusSucceeded, exitCode, cellID)

	return err
}

// Fail handles a failed cell execution. There is no retry path: a step
// failure is final for its cell and never affects sibling cells.
func (s *Store) Fail(ctx context.Context, tx store.DBTransaction, cellID uuid.UUID, exitCode *int, failedStep *string, errMsg string) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, "DELETE FROM cell_queue WHERE cell_id = $1", cellID)
	if err != nil {
		return fmt.Errorf("failed to delete failed cell from queue: %w", err)
	}

	_, err = executor.ExecContext(ctx, `
		UPDATE cells
		SET status = $1, exit_code = $2, failed_step = $3, error_message = $4, finished_at = NOW()
		WHERE id = $5
	`, store.CellStatusFailed, exitCode, failedStep, errMsg, cellID)
	return err
}

// SetVisibleAfter extends the heartbeat.
func (s *Store) SetVisibleAfter(ctx context.Context, tx store.DBTransaction, cellID uuid.UUID, visibleAfter time.Time) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		UPDATE cell_queue
		SET visible_after = $1
		WHERE cell_id = $2
	`, visibleAfter, cellID)
	return err
}

// Count returns the number of cells waiting in the queue.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cell_queue").Scan(&count)
	return count, err
}
