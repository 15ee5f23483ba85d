package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows us to pass either a connection pool or an active transaction
// to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// ProjectStore handles project registration and API-key authentication.
type ProjectStore interface {
	// CreateProject inserts a new project with its API key hash.
	CreateProject(ctx context.Context, project *Project, hashedKey string) error

	// GetProjectByID returns a project by its ID.
	GetProjectByID(ctx context.Context, id uuid.UUID) (*Project, error)

	// GetProjectByAPIKeyHash returns a project by its API key hash.
	GetProjectByAPIKeyHash(ctx context.Context, hash string) (*Project, error)
}

// RunStore handles the persistence of runs and their cells.
type RunStore interface {
	// CreateRun inserts a new run.
	CreateRun(ctx context.Context, tx DBTransaction, run *Run) error

	// GetRunByID returns a run by its ID.
	GetRunByID(ctx context.Context, id uuid.UUID) (*Run, error)

	// FinishRun sets the run's terminal status and finish time.
	FinishRun(ctx context.Context, tx DBTransaction, runID uuid.UUID, status RunStatus) error

	// CreateCells inserts the initial pending cells of a run.
	CreateCells(ctx context.Context, tx DBTransaction, cells []*Cell) error

	// GetCellByID returns a cell by its ID.
	GetCellByID(ctx context.Context, id uuid.UUID) (*Cell, error)

	// ListCellsByRun returns all cells of a run in creation order.
	ListCellsByRun(ctx context.Context, runID uuid.UUID) ([]*Cell, error)

	// SkipCells marks all pending cells of the given jobs as skipped.
	SkipCells(ctx context.Context, tx DBTransaction, runID uuid.UUID, jobNames []string) error

	// UpsertStepRecords replaces the reported step outcomes of a cell.
	UpsertStepRecords(ctx context.Context, tx DBTransaction, cellID uuid.UUID, steps []*StepRecord) error

	// ListStepRecords returns a cell's step outcomes ordered by index.
	ListStepRecords(ctx context.Context, cellID uuid.UUID) ([]*StepRecord, error)
}

// LogStore handles append-only cell logs.
type LogStore interface {
	// AppendLog stores one batch of log lines for a cell.
	AppendLog(ctx context.Context, cellID uuid.UUID, content string) error

	// GetLogs returns log entries with ID greater than afterID.
	GetLogs(ctx context.Context, cellID uuid.UUID, afterID int64, limit int) ([]*CellLog, error)
}

// CellLog is a stored batch of log lines.
type CellLog struct {
	ID        int64
	CellID    uuid.UUID
	Content   string
	CreatedAt time.Time
}
