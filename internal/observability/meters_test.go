package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewMeters_RecordsAndExports(t *testing.T) {
	ctx := context.Background()

	handler, shutdown, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	meters, err := NewMeters()
	if err != nil {
		t.Fatalf("NewMeters failed: %v", err)
	}

	meters.RunsStarted.Add(ctx, 1)
	meters.CellsEnqueued.Add(ctx, 4)
	meters.RecordCellCompleted(ctx, "succeeded")
	meters.RecordCellCompleted(ctx, "failed")
	meters.StepDuration.Record(ctx, 1.5)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	for _, want := range []string{
		"gridplane_runs_started_total",
		"gridplane_cells_enqueued_total",
		"gridplane_cells_completed_total",
		"gridplane_step_duration_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metric %q in scrape output", want)
		}
	}

	if !strings.Contains(body, `status="succeeded"`) || !strings.Contains(body, `status="failed"`) {
		t.Error("expected per-status labels on cell completion counter")
	}
}

func TestRegisterQueueDepth(t *testing.T) {
	handler, shutdown, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	err = RegisterQueueDepth(func(ctx context.Context) (int64, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("RegisterQueueDepth failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	body := rr.Body.String()
	if !strings.Contains(body, "gridplane_queue_depth") {
		t.Errorf("expected gridplane_queue_depth in scrape output, got:\n%s", body)
	}
}
