// Package store contains the database layer for gridplane.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Queue defines the interface for cell queue operations.
// Implementations must use SELECT ... FOR UPDATE SKIP LOCKED semantics so
// multiple workers can claim cells concurrently.
type Queue interface {
	// Enqueue adds a cell to the queue. The payload carries everything the
	// worker needs to execute the cell without reading the runs table.
	Enqueue(ctx context.Context, tx DBTransaction, cellID uuid.UUID, osLabel string, payload json.RawMessage, visibleAfter time.Time) (int64, error)

	// DequeueBatch claims up to 'limit' available cells atomically.
	// When osLabels is non-empty only cells targeting those labels are
	// claimed. Entries past the delivery limit are dropped from the queue
	// and returned with Expired set so the caller can report the failure.
	// Returns a nil slice if the queue is empty.
	DequeueBatch(ctx context.Context, osLabels []string, limit int) ([]QueueItem, error)

	// Complete marks the cell SUCCEEDED and removes it from the queue.
	Complete(ctx context.Context, tx DBTransaction, cellID uuid.UUID, exitCode int) error

	// Fail marks the cell FAILED, records the failing step, and removes it
	// from the queue. Step failures are never retried: the cell is final.
	Fail(ctx context.Context, tx DBTransaction, cellID uuid.UUID, exitCode *int, failedStep *string, errMsg string) error

	// SetVisibleAfter extends the visibility timeout (heartbeat).
	SetVisibleAfter(ctx context.Context, tx DBTransaction, cellID uuid.UUID, visibleAfter time.Time) error

	// Count tracks the number of cells waiting in the queue.
	Count(ctx context.Context) (int64, error)
}

// QueueItem represents a dequeued cell from the queue. Expired marks an
// entry that exceeded the delivery limit: it is already gone from the queue
// and must be reported as failed instead of executed.
type QueueItem struct {
	CellID  uuid.UUID
	Attempt int
	Payload json.RawMessage
	Expired bool
}
