// Package worker contains the worker-specific logic for cell execution.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"gridplane/internal/runner"
	"gridplane/internal/store"
	"gridplane/internal/worker/runtime"
	"gridplane/pkg/api"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                string
	Concurrency       int
	PollInterval      time.Duration
	MaxBackoff        time.Duration // Maximum backoff when queue is empty (default: 30s)
	HeartbeatInterval time.Duration // Interval between heartbeat calls (default: 2m)
	CellTimeout       time.Duration // Wall-clock budget per cell (default: 30m)

	ControllerURL string
	SystemSecret  string

	// OSLabels restricts which queue entries this worker claims. A Linux
	// worker fleet claims ubuntu-latest cells and leaves windows-latest
	// entries for workers that can run them.
	OSLabels []string

	// Images maps an os label to the container image used for its cells.
	// Only consulted when the queued payload does not pin an image.
	Images map[string]string
}

// Agent is the main worker process. It runs the pull-loop that claims
// queued cells and executes them against the configured runtime.
type Agent struct {
	queue      store.Queue
	runtime    runtime.Runtime
	config     AgentConfig
	logger     *slog.Logger
	httpClient *http.Client
	done       chan struct{}
}

// New creates a new worker agent.
func New(q store.Queue, rt runtime.Runtime, logger *slog.Logger, config AgentConfig) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Minute
	}

	if config.CellTimeout <= 0 {
		config.CellTimeout = 30 * time.Minute
	}

	config.ControllerURL = strings.TrimSuffix(config.ControllerURL, "/")

	return &Agent{
		queue:   q,
		runtime: rt,
		config:  config,
		logger:  logger,
		done:    make(chan struct{}),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On SIGTERM, it stops claiming new cells and lets in-flight cells finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting", "id", a.config.ID, "concurrency", a.config.Concurrency, "os_labels", a.config.OSLabels)

	// Semaphore to limit concurrency
	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Channel to signal when a slot becomes available (adaptive polling)
	pollNow := make(chan struct{}, 1)

	// Current backoff duration (increases on empty queue, resets on work found)
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
			// Already a poll pending
		}
	}

	// Initial poll
	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("context cancelled, draining in-flight cells")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			items, err := a.queue.DequeueBatch(ctx, a.config.OSLabels, availableSlots)
			if err != nil {
				a.logger.Error("dequeue failed", "error", err)
				continue
			}

			if len(items) == 0 {
				// Empty queue - increase backoff (exponential, capped at MaxBackoff)
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			// Found work - reset backoff to minimum
			currentBackoff = a.config.PollInterval

			a.logger.Info("claimed cells", "count", len(items))

			for _, item := range items {
				sem <- struct{}{}

				wg.Add(1)
				go func(item store.QueueItem) {
					defer wg.Done()
					defer func() {
						<-sem
						// Slot freed - poll again right away
						triggerPoll()
					}()
					a.processItem(ctx, item)
				}(item)
			}

			// Still slots left after a full batch? Poll again immediately.
			if len(items) == availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// processItem executes a single cell that has already been claimed.
func (a *Agent) processItem(ctx context.Context, item store.QueueItem) {
	cellID := item.CellID

	// The queue dropped this cell after too many redeliveries. Nothing runs;
	// the failure goes through the controller like any other terminal result
	// so the run is reconciled and can close.
	if item.Expired {
		a.logger.Error("cell exceeded delivery limit", "cell_id", cellID, "attempt", item.Attempt)
		msg := "delivery limit exceeded"
		a.reportResult(context.Background(), cellID, api.CellResultRequest{
			Status: runner.StatusFailed,
			Error:  &msg,
		})
		return
	}

	var spec runner.CellSpec
	if err := json.Unmarshal(item.Payload, &spec); err != nil {
		a.logger.Error("invalid cell payload", "cell_id", cellID, "error", err)
		msg := fmt.Sprintf("invalid payload: %v", err)
		a.reportResult(context.Background(), cellID, api.CellResultRequest{
			Status: runner.StatusFailed,
			Error:  &msg,
		})
		return
	}

	if spec.Image == "" {
		spec.Image = a.config.Images[spec.Values["os"]]
	}

	tracer := otel.Tracer("worker-agent")
	spanCtx, span := tracer.Start(ctx, "run_cell",
		trace.WithAttributes(
			attribute.String("cell.id", cellID.String()),
			attribute.String("cell.label", spec.Label),
			attribute.String("cell.job", spec.Job),
			attribute.String("cell.image", spec.Image),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	a.logger.Info("cell started", "cell_id", cellID, "label", spec.Label)

	// The cell gets its own deadline, detached from the poll context so a
	// SIGTERM drains in-flight cells instead of killing them.
	cellCtx, cancel := context.WithTimeout(spanCtx, a.config.CellTimeout)
	defer cancel()

	// Heartbeat keeps the queue entry invisible to other workers.
	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	defer cancelHeartbeat()
	go a.runHeartbeat(heartbeatCtx, cellID)

	ship := newLogShipper(func(content string) {
		if err := a.sendLogs(context.Background(), cellID, content); err != nil {
			a.logger.Warn("failed to ship logs", "cell_id", cellID, "error", err)
		}
	})

	steps := newStepReporter(func(snapshot []runner.StepResult) {
		if err := a.reportSteps(context.Background(), cellID, snapshot); err != nil {
			a.logger.Warn("failed to report steps", "cell_id", cellID, "error", err)
		}
	})

	r := runner.New(a.runtime, a.logger.With("cell", spec.Label), runner.Hooks{
		StepUpdate: steps.Update,
		LogLine:    ship.Line,
	})

	result, err := r.RunCell(cellCtx, spec)

	ship.Close()

	req := api.CellResultRequest{Status: result.Status}
	switch {
	case err != nil:
		span.RecordError(err)
		req.Status = runner.StatusFailed
		msg := err.Error()
		if cellCtx.Err() == context.DeadlineExceeded {
			msg = fmt.Sprintf("cell timed out after %v", a.config.CellTimeout)
		}
		req.Error = &msg
		a.logger.Error("cell execution error", "cell_id", cellID, "error", msg)

	default:
		span.SetAttributes(attribute.Int("exit_code", result.ExitCode))
		if result.Status == runner.StatusFailed {
			exitCode := result.ExitCode
			req.ExitCode = &exitCode
			if result.FailedStep != "" {
				failedStep := result.FailedStep
				req.FailedStep = &failedStep
			}
			if result.Error != "" {
				errMsg := result.Error
				req.Error = &errMsg
			}
			a.logger.Info("cell failed", "cell_id", cellID, "failed_step", result.FailedStep, "exit_code", result.ExitCode)
		} else {
			exitCode := 0
			req.ExitCode = &exitCode
			a.logger.Info("cell succeeded", "cell_id", cellID)
		}
	}

	a.reportResult(context.Background(), cellID, req)
}

// runHeartbeat extends the queue visibility periodically while a cell runs.
func (a *Agent) runHeartbeat(ctx context.Context, cellID uuid.UUID) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			url := fmt.Sprintf("%s/internal/cells/%s/heartbeat", a.config.ControllerURL, cellID)
			if err := a.callInternal(context.Background(), http.MethodPut, url, nil, http.StatusOK); err != nil {
				a.logger.Warn("heartbeat failed", "cell_id", cellID, "error", err)
			}
		}
	}
}

func (a *Agent) reportSteps(ctx context.Context, cellID uuid.UUID, snapshot []runner.StepResult) error {
	req := api.UpdateStepsRequest{Steps: make([]api.StepResponse, len(snapshot))}
	for i, s := range snapshot {
		req.Steps[i] = api.StepResponse{
			Index:      s.Index,
			Name:       s.Name,
			Status:     s.Status,
			ExitCode:   s.ExitCode,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
		}
	}

	url := fmt.Sprintf("%s/internal/cells/%s/steps", a.config.ControllerURL, cellID)
	return a.callInternal(ctx, http.MethodPut, url, req, http.StatusOK)
}

func (a *Agent) reportResult(ctx context.Context, cellID uuid.UUID, req api.CellResultRequest) {
	url := fmt.Sprintf("%s/internal/cells/%s/result", a.config.ControllerURL, cellID)
	if err := a.callInternal(ctx, http.MethodPut, url, req, http.StatusOK); err != nil {
		// The queue entry stays claimed until its visibility expires, then
		// another worker re-runs the cell.
		a.logger.Error("failed to report result", "cell_id", cellID, "error", err)
	}
}

func (a *Agent) sendLogs(ctx context.Context, cellID uuid.UUID, content string) error {
	url := fmt.Sprintf("%s/internal/cells/%s/logs", a.config.ControllerURL, cellID)
	return a.callInternal(ctx, http.MethodPost, url, api.AddLogRequest{Content: content}, http.StatusAccepted)
}

func (a *Agent) callInternal(ctx context.Context, method, url string, body interface{}, wantStatus int) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.config.SystemSecret)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("api returned status %d", resp.StatusCode)
	}

	return nil
}

// stepReporter keeps the latest state of every step and ships a full
// snapshot on each transition, so the controller always sees a consistent
// picture even if an update is lost.
type stepReporter struct {
	mu    sync.Mutex
	steps map[int]runner.StepResult
	send  func([]runner.StepResult)
}

func newStepReporter(send func([]runner.StepResult)) *stepReporter {
	return &stepReporter{
		steps: make(map[int]runner.StepResult),
		send:  send,
	}
}

func (s *stepReporter) Update(step runner.StepResult) {
	s.mu.Lock()
	s.steps[step.Index] = step
	snapshot := make([]runner.StepResult, 0, len(s.steps))
	for _, v := range s.steps {
		snapshot = append(snapshot, v)
	}
	s.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Index < snapshot[j].Index })
	s.send(snapshot)
}

// logShipper batches log lines and flushes them to the controller at most
// once per second, or every 100 lines, whichever comes first.
type logShipper struct {
	lines chan string
	done  chan struct{}
}

func newLogShipper(send func(content string)) *logShipper {
	const (
		batchSize     = 100
		flushInterval = time.Second
	)

	s := &logShipper{
		lines: make(chan string, 100),
		done:  make(chan struct{}),
	}

	go func() {
		defer close(s.done)

		var batch []string
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

		flush := func() {
			if len(batch) == 0 {
				return
			}
			send(strings.Join(batch, "\n"))
			batch = batch[:0]
		}

		for {
			select {
			case line, ok := <-s.lines:
				if !ok {
					flush()
					return
				}
				// Sanitize null bytes (Postgres rejects \x00)
				if strings.Contains(line, "\x00") {
					line = strings.ReplaceAll(line, "\x00", "")
				}
				batch = append(batch, line)
				if len(batch) >= batchSize {
					flush()
				}
			case <-ticker.C:
				flush()
			}
		}
	}()

	return s
}

// Line queues one line for shipping. Safe to call from the runner's log
// pump goroutine.
func (s *logShipper) Line(line string) {
	s.lines <- line
}

// Close flushes the remaining batch and waits for the shipper to stop.
func (s *logShipper) Close() {
	close(s.lines)
	<-s.done
}
