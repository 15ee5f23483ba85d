package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Meters bundles the domain instruments shared by the controller and the
// worker. All are registered on the global meter provider, so InitMetrics
// must run first for them to be exported.
type Meters struct {
	RunsStarted    metric.Int64Counter
	CellsEnqueued  metric.Int64Counter
	CellsCompleted metric.Int64Counter
	StepDuration   metric.Float64Histogram
}

// NewMeters creates the domain instruments.
func NewMeters() (*Meters, error) {
	meter := otel.Meter("gridplane")

	runsStarted, err := meter.Int64Counter("gridplane_runs_started_total",
		metric.WithDescription("Workflow runs started by trigger events"))
	if err != nil {
		return nil, err
	}

	cellsEnqueued, err := meter.Int64Counter("gridplane_cells_enqueued_total",
		metric.WithDescription("Matrix cells placed on the queue"))
	if err != nil {
		return nil, err
	}

	cellsCompleted, err := meter.Int64Counter("gridplane_cells_completed_total",
		metric.WithDescription("Matrix cells reaching a terminal status"))
	if err != nil {
		return nil, err
	}

	stepDuration, err := meter.Float64Histogram("gridplane_step_duration_seconds",
		metric.WithDescription("Wall-clock duration of executed steps"))
	if err != nil {
		return nil, err
	}

	return &Meters{
		RunsStarted:    runsStarted,
		CellsEnqueued:  cellsEnqueued,
		CellsCompleted: cellsCompleted,
		StepDuration:   stepDuration,
	}, nil
}

// RecordCellCompleted counts a terminal cell, labeled by status.
func (m *Meters) RecordCellCompleted(ctx context.Context, status string) {
	m.CellsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RegisterQueueDepth exports the queue depth as an observable gauge backed
// by the given count function.
func RegisterQueueDepth(count func(context.Context) (int64, error)) error {
	meter := otel.Meter("gridplane")

	_, err := meter.Int64ObservableGauge("gridplane_queue_depth",
		metric.WithDescription("Cells currently waiting on the queue"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := count(ctx)
			if err != nil {
				return err
			}
			o.Observe(n)
			return nil
		}))
	return err
}
