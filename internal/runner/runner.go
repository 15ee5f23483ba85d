// Package runner executes matrix cells: the ordered, guarded step sequence
// of one job against one environment combination.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gridplane/internal/worker/runtime"
	"gridplane/pkg/workflow"

	"github.com/pkg/errors"
)

// Step and cell statuses as they appear in the store and on the wire.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// CellSpec is the executable description of a single cell. The controller
// serializes it into the queue payload; workers and local runs feed it to
// RunCell.
type CellSpec struct {
	Job    string            `json:"job"`
	Label  string            `json:"label"`
	Values map[string]string `json:"values,omitempty"`
	Image  string            `json:"image,omitempty"`
	Env    map[string]string `json:"env,omitempty"`
	Steps  []workflow.Step   `json:"steps"`
}

// StepResult records the outcome of one step within a cell.
type StepResult struct {
	Index      int
	Name       string
	Status     string
	ExitCode   *int
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// CellResult is the terminal outcome of a cell execution.
type CellResult struct {
	Status     string
	ExitCode   int
	FailedStep string
	Error      string
	Steps      []StepResult
}

// Hooks receive progress while a cell runs. Nil fields are skipped.
type Hooks struct {
	// StepUpdate fires when a step starts and again when it reaches a
	// terminal status.
	StepUpdate func(StepResult)

	// LogLine fires once per line of combined step output.
	LogLine func(line string)
}

// Runner executes cells against a runtime backend.
type Runner struct {
	runtime runtime.Runtime
	logger  *slog.Logger
	hooks   Hooks
}

// New creates a Runner. logger must not be nil.
func New(rt runtime.Runtime, logger *slog.Logger, hooks Hooks) *Runner {
	return &Runner{runtime: rt, logger: logger, hooks: hooks}
}

// RunCell executes the cell's steps in order. A guard that evaluates false
// skips its step; a non-zero exit halts the cell and fails it. Sibling
// cells are unaffected either way. The returned error reports execution
// machinery problems, not plain step failures.
func (r *Runner) RunCell(ctx context.Context, spec CellSpec) (CellResult, error) {
	result := CellResult{
		Steps: make([]StepResult, 0, len(spec.Steps)),
	}

	halted := false
	for i, step := range spec.Steps {
		sr := StepResult{Index: i, Name: step.Name}

		if halted {
			sr.Status = StatusSkipped
			result.Steps = append(result.Steps, sr)
			r.notifyStep(sr)
			continue
		}

		if step.If != "" {
			ok, err := workflow.EvalGuard(step.If, spec.Values)
			if err != nil {
				return r.failCell(result, sr, errors.Wrapf(err, "step %q guard", step.Name))
			}
			if !ok {
				r.logger.Debug("step skipped by guard", "cell", spec.Label, "step", step.Name)
				sr.Status = StatusSkipped
				result.Steps = append(result.Steps, sr)
				r.notifyStep(sr)
				continue
			}
		}

		command, err := workflow.Expand(step.Run, spec.Values)
		if err != nil {
			return r.failCell(result, sr, errors.Wrapf(err, "step %q command", step.Name))
		}

		env, err := r.stepEnv(spec, step)
		if err != nil {
			return r.failCell(result, sr, errors.Wrapf(err, "step %q env", step.Name))
		}

		started := time.Now()
		sr.Status = StatusRunning
		sr.StartedAt = &started
		r.notifyStep(sr)

		r.logger.Info("step started", "cell", spec.Label, "step", step.Name)

		exitCode, err := r.runStep(ctx, spec, command, step.WorkingDir, env)
		finished := time.Now()
		sr.FinishedAt = &finished
		sr.ExitCode = &exitCode

		if err != nil {
			sr.Status = StatusFailed
			return r.failCell(result, sr, errors.Wrapf(err, "step %q", step.Name))
		}

		if exitCode != 0 {
			r.logger.Warn("step failed", "cell", spec.Label, "step", step.Name, "exit_code", exitCode)
			sr.Status = StatusFailed
			result.Steps = append(result.Steps, sr)
			r.notifyStep(sr)

			result.Status = StatusFailed
			result.ExitCode = exitCode
			result.FailedStep = step.Name
			result.Error = fmt.Sprintf("step %q exited with code %d", step.Name, exitCode)
			halted = true
			continue
		}

		sr.Status = StatusSucceeded
		result.Steps = append(result.Steps, sr)
		r.notifyStep(sr)
	}

	if !halted {
		result.Status = StatusSucceeded
		result.ExitCode = 0
	}

	return result, nil
}

// runStep starts one command and pumps its output until it exits.
func (r *Runner) runStep(ctx context.Context, spec CellSpec, command, workingDir string, env map[string]string) (int, error) {
	handle, err := r.runtime.Start(ctx, runtime.StartOptions{
		Image:      spec.Image,
		Command:    command,
		WorkingDir: workingDir,
		Env:        env,
	})
	if err != nil {
		return -1, err
	}

	drained := make(chan struct{})
	logs, err := handle.StreamLogs(ctx)
	if err != nil {
		close(drained)
	} else {
		go func() {
			defer close(drained)
			r.pumpLogs(logs)
		}()
	}

	res, err := handle.Wait(ctx)
	<-drained
	if err != nil {
		handle.Stop(context.WithoutCancel(ctx))
		return -1, err
	}
	if res.Error != nil {
		return res.ExitCode, res.Error
	}

	return res.ExitCode, nil
}

func (r *Runner) pumpLogs(rc io.ReadCloser) {
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if r.hooks.LogLine != nil {
			r.hooks.LogLine(sc.Text())
		}
	}
}

// stepEnv merges job-level and step-level environment, step values winning,
// with matrix expansion applied to step values.
func (r *Runner) stepEnv(spec CellSpec, step workflow.Step) (map[string]string, error) {
	env := make(map[string]string, len(spec.Env)+len(step.Env))
	for k, v := range spec.Env {
		env[k] = v
	}
	for k, v := range step.Env {
		expanded, err := workflow.Expand(v, spec.Values)
		if err != nil {
			return nil, err
		}
		env[k] = expanded
	}
	return env, nil
}

func (r *Runner) failCell(result CellResult, sr StepResult, err error) (CellResult, error) {
	if sr.Status == "" {
		sr.Status = StatusFailed
	}
	result.Steps = append(result.Steps, sr)
	r.notifyStep(sr)

	result.Status = StatusFailed
	result.ExitCode = -1
	result.FailedStep = sr.Name
	result.Error = err.Error()
	return result, err
}

func (r *Runner) notifyStep(sr StepResult) {
	if r.hooks.StepUpdate != nil {
		r.hooks.StepUpdate(sr)
	}
}
