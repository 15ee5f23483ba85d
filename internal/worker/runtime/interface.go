// Package runtime provides the Runtime interface for step execution backends.
package runtime

import (
	"context"
	"io"
)

// Runtime defines the interface for executing workflow steps.
// Implementations include raw process execution, Docker and Kubernetes.
type Runtime interface {
	// Start begins execution of a step command and returns a handle.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting a step.
type StartOptions struct {
	// Image is the container image for containerized runtimes.
	// The exec runtime ignores it.
	Image string

	// Command is the shell command line to run.
	Command string

	// WorkingDir is the directory the command runs in, relative to the
	// cell workspace when not absolute.
	WorkingDir string

	Env map[string]string
}

// ExitResult describes how a step finished.
type ExitResult struct {
	ExitCode int
	Error    error
}

// Handle represents a running step execution.
type Handle interface {
	// Wait blocks until the step completes and returns the result.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop forcefully terminates the step.
	Stop(ctx context.Context) error

	// StreamLogs returns a reader over the combined stdout/stderr.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)
}
