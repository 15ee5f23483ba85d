package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"gridplane/internal/controller/middleware"
	"gridplane/internal/store"

	"github.com/google/uuid"
)

// Mock transaction
type mockTx struct{}

func (m *mockTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (m *mockTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (m *mockTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (m *mockTx) Commit() error { return nil }

func (m *mockTx) Rollback() error { return nil }

// Mock Store
type mockStore struct {
	beginTxErr error
	pingErr    error

	// Project hooks
	createProjectErr  error
	createdProject    *store.Project
	capturedHashedKey string
	getProjectResp    *store.Project
	getProjectErr     error

	// Run hooks
	createRunErr    error
	createdRun      *store.Run
	createCellsErr  error
	createdCells    []*store.Cell
	getRunResp      *store.Run
	getRunErr       error
	finishRunCalled bool
	finishedStatus  store.RunStatus
	listCellsResp   []*store.Cell
	listCellsErr    error
	getCellResp     *store.Cell
	getCellErr      error
	skippedJobs     []string
	upsertedSteps   []*store.StepRecord
	listStepsResp   []*store.StepRecord

	// Log hooks
	appendedLogs []string
	appendLogErr error
	getLogsResp  []*store.CellLog
	getLogsErr   error

	// Queue hooks (spies record what handlers scheduled)
	enqueuedCells        []uuid.UUID
	enqueuedOSLabels     []string
	enqueuedPayloads     []json.RawMessage
	enqueueErr           error
	completedCells       []uuid.UUID
	capturedExitCode     int
	failedCells          []uuid.UUID
	capturedFailedStep   *string
	capturedErrMsg       string
	capturedVisibleAfter time.Time
	setVisibleErr        error
	countResp            int64
}

func (m *mockStore) BeginTx(ctx context.Context) (store.Tx, error) {
	if m.beginTxErr != nil {
		return nil, m.beginTxErr
	}
	return &mockTx{}, nil
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockStore) CreateProject(ctx context.Context, project *store.Project, hashedKey string) error {
	m.createdProject = project
	m.capturedHashedKey = hashedKey
	return m.createProjectErr
}

func (m *mockStore) GetProjectByID(ctx context.Context, id uuid.UUID) (*store.Project, error) {
	return m.getProjectResp, m.getProjectErr
}

func (m *mockStore) GetProjectByAPIKeyHash(ctx context.Context, hash string) (*store.Project, error) {
	return m.getProjectResp, m.getProjectErr
}

func (m *mockStore) CreateRun(ctx context.Context, tx store.DBTransaction, run *store.Run) error {
	m.createdRun = run
	return m.createRunErr
}

func (m *mockStore) GetRunByID(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	return m.getRunResp, m.getRunErr
}

func (m *mockStore) FinishRun(ctx context.Context, tx store.DBTransaction, runID uuid.UUID, status store.RunStatus) error {
	m.finishRunCalled = true
	m.finishedStatus = status
	return nil
}

func (m *mockStore) CreateCells(ctx context.Context, tx store.DBTransaction, cells []*store.Cell) error {
	m.createdCells = cells
	return m.createCellsErr
}

func (m *mockStore) GetCellByID(ctx context.Context, id uuid.UUID) (*store.Cell, error) {
	return m.getCellResp, m.getCellErr
}

func (m *mockStore) ListCellsByRun(ctx context.Context, runID uuid.UUID) ([]*store.Cell, error) {
	return m.listCellsResp, m.listCellsErr
}

func (m *mockStore) SkipCells(ctx context.Context, tx store.DBTransaction, runID uuid.UUID, jobNames []string) error {
	m.skippedJobs = append(m.skippedJobs, jobNames...)
	return nil
}

func (m *mockStore) UpsertStepRecords(ctx context.Context, tx store.DBTransaction, cellID uuid.UUID, steps []*store.StepRecord) error {
	m.upsertedSteps = steps
	return nil
}

func (m *mockStore) ListStepRecords(ctx context.Context, cellID uuid.UUID) ([]*store.StepRecord, error) {
	return m.listStepsResp, nil
}

func (m *mockStore) AppendLog(ctx context.Context, cellID uuid.UUID, content string) error {
	m.appendedLogs = append(m.appendedLogs, content)
	return m.appendLogErr
}

func (m *mockStore) GetLogs(ctx context.Context, cellID uuid.UUID, afterID int64, limit int) ([]*store.CellLog, error) {
	return m.getLogsResp, m.getLogsErr
}

func (m *mockStore) Enqueue(ctx context.Context, tx store.DBTransaction, cellID uuid.UUID, osLabel string, payload json.RawMessage, visibleAfter time.Time) (int64, error) {
	if m.enqueueErr != nil {
		return 0, m.enqueueErr
	}
	m.enqueuedCells = append(m.enqueuedCells, cellID)
	m.enqueuedOSLabels = append(m.enqueuedOSLabels, osLabel)
	m.enqueuedPayloads = append(m.enqueuedPayloads, payload)
	return int64(len(m.enqueuedCells)), nil
}

func (m *mockStore) DequeueBatch(ctx context.Context, osLabels []string, limit int) ([]store.QueueItem, error) {
	return nil, nil
}

func (m *mockStore) Complete(ctx context.Context, tx store.DBTransaction, cellID uuid.UUID, exitCode int) error {
	m.completedCells = append(m.completedCells, cellID)
	m.capturedExitCode = exitCode
	return nil
}

func (m *mockStore) Fail(ctx context.Context, tx store.DBTransaction, cellID uuid.UUID, exitCode *int, failedStep *string, errMsg string) error {
	m.failedCells = append(m.failedCells, cellID)
	m.capturedFailedStep = failedStep
	m.capturedErrMsg = errMsg
	return nil
}

func (m *mockStore) SetVisibleAfter(ctx context.Context, tx store.DBTransaction, cellID uuid.UUID, visibleAfter time.Time) error {
	m.capturedVisibleAfter = visibleAfter
	return m.setVisibleErr
}

func (m *mockStore) Count(ctx context.Context) (int64, error) {
	return m.countResp, nil
}

func newTestHandlers(m *mockStore) *Handlers {
	return newTestHandlersWithConfig(m, Config{})
}

func newTestHandlersWithConfig(m *mockStore, cfg Config) *Handlers {
	return New(m, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, cfg)
}

// requestWithProject attaches an authenticated project the way the auth
// middleware would.
func requestWithProject(r *http.Request, project *store.Project) *http.Request {
	return r.WithContext(middleware.WithProject(r.Context(), project))
}

func testProject() *store.Project {
	return &store.Project{
		ID:        uuid.New(),
		Name:      "simulator",
		CreatedAt: time.Now().UTC(),
	}
}

func decodeBody[T any](t interface{ Fatalf(string, ...interface{}) }, rr *httptest.ResponseRecorder) T {
	var out T
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return out
}
