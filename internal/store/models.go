// Package store contains the database layer for gridplane.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Project represents a tenant of the platform. All runs, cells and logs are
// scoped by ProjectID.
type Project struct {
	ID             uuid.UUID
	Name           string
	RateLimit      int // requests per second, 0 = unlimited
	RateLimitBurst int
	CreatedAt      time.Time
}

// Run represents one triggered execution of a workflow.
type Run struct {
	ID           uuid.UUID
	ProjectID    uuid.UUID
	WorkflowName string
	Event        string // "push" or "pull_request"
	Branch       string
	CommitSHA    string
	Definition   []byte // raw workflow YAML, needed to schedule dependent jobs
	Status       RunStatus
	CreatedAt    time.Time
	FinishedAt   *time.Time
}

// Cell represents one environment cell of a run: a single (job, matrix
// values) combination and its execution outcome.
type Cell struct {
	ID           uuid.UUID
	RunID        uuid.UUID
	ProjectID    uuid.UUID
	JobName      string
	Label        string
	Values       map[string]string
	OSLabel      string // denormalized "os" axis value for worker targeting
	Status       CellStatus
	Attempt      int
	FailedStep   *string
	ExitCode     *int
	ErrorMessage *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time
}

// StepRecord represents the outcome of one step within a cell.
type StepRecord struct {
	ID         int64
	CellID     uuid.UUID
	Index      int
	Name       string
	Status     StepStatus
	ExitCode   *int
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// RunStatus represents the state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// CellStatus represents the state of a cell.
type CellStatus string

const (
	CellStatusPending   CellStatus = "pending"
	CellStatusRunning   CellStatus = "running"
	CellStatusSucceeded CellStatus = "succeeded"
	CellStatusFailed    CellStatus = "failed"
	// CellStatusSkipped marks cells of a job whose needs failed.
	CellStatusSkipped CellStatus = "skipped"
)

// StepStatus represents the state of a step within a cell.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Terminal reports whether the cell will not change state again.
func (s CellStatus) Terminal() bool {
	return s == CellStatusSucceeded || s == CellStatusFailed || s == CellStatusSkipped
}
