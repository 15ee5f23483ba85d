package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
)

// ExecRuntime runs step commands as raw OS processes through the platform
// shell. It is the default runtime for workers and for local runs.
type ExecRuntime struct {
	// BaseDir is the cell workspace. Relative step working directories
	// resolve against it.
	BaseDir string
}

// NewExecRuntime creates a process-based runtime rooted at baseDir.
func NewExecRuntime(baseDir string) *ExecRuntime {
	return &ExecRuntime{BaseDir: baseDir}
}

// Start implements Runtime.Start using os/exec.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("empty command")
	}

	var cmd *exec.Cmd
	if goruntime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", opts.Command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", opts.Command)
	}

	dir := e.BaseDir
	if opts.WorkingDir != "" {
		if filepath.IsAbs(opts.WorkingDir) {
			dir = opts.WorkingDir
		} else {
			dir = filepath.Join(e.BaseDir, opts.WorkingDir)
		}
	}
	cmd.Dir = dir

	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// Combined stdout/stderr goes through a pipe so StreamLogs sees EOF
	// when the process exits.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create log pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	// The child holds its own copy of the write end.
	w.Close()

	return &ExecHandle{cmd: cmd, logs: r}, nil
}

// ExecHandle represents a running OS process.
type ExecHandle struct {
	cmd  *exec.Cmd
	logs *os.File
}

func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	done := make(chan error, 1)
	go func() {
		done <- h.cmd.Wait()
	}()

	select {
	case err := <-done:
		if err == nil {
			return ExitResult{ExitCode: 0}, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return ExitResult{ExitCode: exitErr.ExitCode()}, nil
		}
		return ExitResult{ExitCode: -1, Error: err}, err
	case <-ctx.Done():
		h.cmd.Process.Kill()
		<-done
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

func (h *ExecHandle) Stop(ctx context.Context) error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *ExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.logs, nil
}
