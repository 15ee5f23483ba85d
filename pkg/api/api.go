// Package api contains shared JSON request/response structs.
// This package is shared between the CLI, the controller and the worker.
package api

import (
	"time"

	"gridplane/pkg/workflow"
)

// CreateProjectRequest is the request body for registering a new project.
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// CreateProjectResponse is the response body after creating a project.
// The API key is returned exactly once; only its hash is stored.
type CreateProjectResponse struct {
	ID     string `json:"project_id"`
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

// TriggerRequest delivers a repository event together with the workflow
// document that should be evaluated against it.
type TriggerRequest struct {
	Event    workflow.Event `json:"event"`
	Workflow string         `json:"workflow"` // raw YAML document
}

// TriggerResponse reports whether the event started a run.
type TriggerResponse struct {
	Triggered bool   `json:"triggered"`
	Reason    string `json:"reason,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	CellCount int    `json:"cell_count,omitempty"`
}

// RunResponse is the response body for run status queries.
type RunResponse struct {
	ID         string         `json:"id"`
	Workflow   string         `json:"workflow"`
	Event      string         `json:"event"`
	Branch     string         `json:"branch"`
	CommitSHA  string         `json:"commit_sha,omitempty"`
	Status     string         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Cells      []CellResponse `json:"cells"`
}

// CellResponse represents one environment cell in API responses.
type CellResponse struct {
	ID         string            `json:"id"`
	Job        string            `json:"job"`
	Label      string            `json:"label"`
	Values     map[string]string `json:"values,omitempty"`
	Status     string            `json:"status"`
	Attempt    int               `json:"attempt"`
	FailedStep *string           `json:"failed_step,omitempty"`
	ExitCode   *int              `json:"exit_code,omitempty"`
	Error      *string           `json:"error,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Steps      []StepResponse    `json:"steps,omitempty"`
}

// StepResponse represents one step outcome within a cell.
type StepResponse struct {
	Index      int        `json:"index"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AddLogRequest is the log batch payload shipped by the worker.
type AddLogRequest struct {
	Content string `json:"content"`
}

// LogEntry represents a single log line in the response.
type LogEntry struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// GetLogsResponse is the response body for fetching cell logs.
type GetLogsResponse struct {
	Logs []LogEntry `json:"logs"`
}

// UpdateStepsRequest is the worker payload reporting step transitions.
type UpdateStepsRequest struct {
	Steps []StepResponse `json:"steps"`
}

// CellResultRequest is the worker payload finalizing a cell.
type CellResultRequest struct {
	Status     string  `json:"status"`
	ExitCode   *int    `json:"exit_code,omitempty"`
	FailedStep *string `json:"failed_step,omitempty"`
	Error      *string `json:"error,omitempty"`
}
