package runner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gridplane/internal/worker/runtime"
	"gridplane/pkg/workflow"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// LocalOptions configures a local workflow run.
type LocalOptions struct {
	Event   workflow.Event
	WorkDir string
	Logger  *slog.Logger

	// Runtime overrides the default per-cell exec runtime. Mainly for tests.
	Runtime runtime.Runtime

	// Hooks are shared by all cells of the run.
	Hooks Hooks
}

// LocalCellResult pairs a cell with its execution outcome.
type LocalCellResult struct {
	Cell   workflow.Cell
	Result CellResult
}

// LocalJobResult is the outcome of one job across all of its cells.
type LocalJobResult struct {
	Job string

	// Skipped is set when a needed job did not succeed.
	Skipped bool

	Cells []LocalCellResult
}

// Failed reports whether any cell of the job failed.
func (jr LocalJobResult) Failed() bool {
	for _, c := range jr.Cells {
		if c.Result.Status == StatusFailed {
			return true
		}
	}
	return false
}

// LocalResult is the outcome of a local workflow run.
type LocalResult struct {
	// Triggered is false when the event did not match the workflow
	// triggers; nothing ran in that case.
	Triggered bool
	Reason    string

	Jobs []LocalJobResult
}

// Failed reports whether any job failed or was skipped.
func (lr LocalResult) Failed() bool {
	for _, j := range lr.Jobs {
		if j.Skipped || j.Failed() {
			return true
		}
	}
	return false
}

// RunLocal evaluates the event against the workflow triggers and, when they
// match, executes every job in needs order with all matrix cells of a job
// running concurrently. With fail-fast off (the default) a failing cell
// leaves its siblings running to completion.
func RunLocal(ctx context.Context, wf *workflow.Workflow, opts LocalOptions) (LocalResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if !wf.On.Matches(opts.Event) {
		logger.Info("event did not trigger workflow", "event", opts.Event.Name, "branch", opts.Event.Branch())
		return LocalResult{Triggered: false, Reason: "event does not match workflow triggers"}, nil
	}

	order, err := wf.JobOrder()
	if err != nil {
		return LocalResult{}, err
	}

	result := LocalResult{Triggered: true}
	succeeded := make(map[string]bool, len(order))

	for _, name := range order {
		job := wf.Jobs.Get(name)

		blocked := false
		for _, need := range job.Needs {
			if !succeeded[need] {
				blocked = true
				break
			}
		}
		if blocked {
			logger.Info("job skipped, needed job did not succeed", "job", name)
			result.Jobs = append(result.Jobs, LocalJobResult{Job: name, Skipped: true})
			continue
		}

		jr, err := runLocalJob(ctx, name, job, opts, logger)
		if err != nil {
			return result, err
		}
		result.Jobs = append(result.Jobs, jr)
		succeeded[name] = !jr.Failed()
	}

	return result, nil
}

func runLocalJob(ctx context.Context, name string, job *workflow.Job, opts LocalOptions, logger *slog.Logger) (LocalJobResult, error) {
	cells := job.Strategy.Matrix.Cells(name)
	results := make([]LocalCellResult, len(cells))

	g, gctx := errgroup.WithContext(ctx)
	for i, cell := range cells {
		i, cell := i, cell

		rt := opts.Runtime
		if rt == nil {
			dir := filepath.Join(opts.WorkDir, cellDirName(cell.Label))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return LocalJobResult{}, errors.Wrapf(err, "unable to create workspace for %q", cell.Label)
			}
			rt = runtime.NewExecRuntime(dir)
		}

		g.Go(func() error {
			r := New(rt, logger.With("cell", cell.Label), opts.Hooks)
			res, err := r.RunCell(gctx, CellSpec{
				Job:    cell.Job,
				Label:  cell.Label,
				Values: cell.Values,
				Env:    job.Env,
				Steps:  job.Steps,
			})
			results[i] = LocalCellResult{Cell: cell, Result: res}
			if err != nil {
				logger.Error("cell execution error", "cell", cell.Label, "error", err)
			}

			// Only fail-fast propagates an error: it cancels sibling
			// cells through the group context.
			if job.Strategy.FailFast && res.Status == StatusFailed {
				return errors.Errorf("cell %q failed", cell.Label)
			}
			return nil
		})
	}

	// The group error is the fail-fast cancellation signal; the per-cell
	// outcomes already carry the failures.
	_ = g.Wait()

	return LocalJobResult{Job: name, Cells: results}, nil
}

func cellDirName(label string) string {
	r := strings.NewReplacer(" ", "-", "(", "", ")", "", ",", "", "/", "-")
	return r.Replace(label)
}
