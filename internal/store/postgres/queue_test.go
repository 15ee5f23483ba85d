package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"gridplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &Store{db: db}, mock
}

func TestEnqueue_Success(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	ctx := context.Background()
	cellID := uuid.New()
	payload := json.RawMessage(`{"cell": {"job": "test"}}`)
	expectedQueueID := int64(42)
	visibleAfter := time.Now()

	mock.ExpectQuery(`INSERT INTO cell_queue`).
		WithArgs(cellID, "ubuntu-latest", payload, visibleAfter).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(expectedQueueID))

	id, err := store.Enqueue(ctx, nil, cellID, "ubuntu-latest", payload, visibleAfter)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id != expectedQueueID {
		t.Errorf("got id %d, want %d", id, expectedQueueID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEnqueue_CellNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	ctx := context.Background()
	cellID := uuid.New()
	payload := json.RawMessage(`{}`)

	mock.ExpectQuery(`INSERT INTO cell_queue`).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Enqueue(ctx, nil, cellID, "", payload, time.Now())
	if err == nil {
		t.Error("expected error, got nil")
	}
}

func TestDequeueBatch_Success(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	ctx := context.Background()
	cell1 := uuid.New()
	cell2 := uuid.New()
	payload1 := json.RawMessage(`{"cell": {"label": "test (ubuntu-latest, 3.8)"}}`)
	payload2 := json.RawMessage(`{"cell": {"label": "test (ubuntu-latest, 3.9)"}}`)

	mock.ExpectBegin()

	mock.ExpectQuery(`SELECT id, cell_id, attempt, payload FROM cell_queue`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cell_id", "attempt", "payload"}).
			AddRow(int64(1), cell1, 0, payload1).
			AddRow(int64(2), cell2, 0, payload2))

	// Bulk visibility + attempt update
	mock.ExpectExec(`UPDATE cell_queue`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	// Bulk cell status update
	mock.ExpectExec(`UPDATE cells`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	mock.ExpectCommit()

	items, err := store.DequeueBatch(ctx, nil, 3)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].CellID != cell1 {
		t.Errorf("got cellID %v, want %v", items[0].CellID, cell1)
	}
	if items[1].CellID != cell2 {
		t.Errorf("got cellID %v, want %v", items[1].CellID, cell2)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDequeueBatch_Empty(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, cell_id, attempt, payload FROM cell_queue`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cell_id", "attempt", "payload"}))
	mock.ExpectCommit()

	items, err := store.DequeueBatch(context.Background(), nil, 5)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if items != nil {
		t.Errorf("expected nil items, got %v", items)
	}
}

func TestDequeueBatch_OSLabelFilterQueryStructure(t *testing.T) {
	// We use sqlmock NOT to test the filtering itself, but to verify that the
	// generated SQL carries the os_label predicate when labels are passed.
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`os_label = ANY`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cell_id", "attempt", "payload"}))
	mock.ExpectCommit()

	_, err := store.DequeueBatch(context.Background(), []string{"ubuntu-latest"}, 1)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDequeueBatch_DeliveryLimitExceeded(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	expiredCell := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, cell_id, attempt, payload FROM cell_queue`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cell_id", "attempt", "payload"}).
			AddRow(int64(7), expiredCell, MaxDeliveries, json.RawMessage(`{}`)))

	// Only the queue entry is removed. The cells table is untouched here:
	// the item comes back flagged Expired and the worker reports the
	// failure through the controller so the run gets reconciled.
	mock.ExpectExec(`DELETE FROM cell_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	items, err := s.DequeueBatch(context.Background(), nil, 1)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected the expired item handed back, got %d items", len(items))
	}
	if items[0].CellID != expiredCell {
		t.Errorf("got cellID %v, want %v", items[0].CellID, expiredCell)
	}
	if !items[0].Expired {
		t.Error("expected item flagged Expired")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDequeueBatch_ExpiredAlongsideClaimable(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	expiredCell := uuid.New()
	freshCell := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, cell_id, attempt, payload FROM cell_queue`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cell_id", "attempt", "payload"}).
			AddRow(int64(7), expiredCell, MaxDeliveries, json.RawMessage(`{}`)).
			AddRow(int64(8), freshCell, 0, json.RawMessage(`{}`)))

	mock.ExpectExec(`DELETE FROM cell_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Visibility and status updates cover only the claimed cell.
	mock.ExpectExec(`UPDATE cell_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE cells`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	items, err := s.DequeueBatch(context.Background(), nil, 2)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if !items[0].Expired || items[0].CellID != expiredCell {
		t.Errorf("expected first item expired for %v, got %+v", expiredCell, items[0])
	}
	if items[1].Expired || items[1].CellID != freshCell {
		t.Errorf("expected second item claimable for %v, got %+v", freshCell, items[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestComplete(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	cellID := uuid.New()

	mock.ExpectExec(`DELETE FROM cell_queue`).
		WithArgs(cellID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE cells`).
		WithArgs(store.CellStatusSucceeded, 0, cellID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Complete(context.Background(), nil, cellID, 0); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestFail_IsFinal(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	cellID := uuid.New()
	exitCode := 1
	failedStep := "Run unit tests"

	// A failed cell leaves the queue immediately: no retry of step failures.
	mock.ExpectExec(`DELETE FROM cell_queue`).
		WithArgs(cellID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE cells`).
		WithArgs(store.CellStatusFailed, &exitCode, &failedStep, "exit code 1", cellID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Fail(context.Background(), nil, cellID, &exitCode, &failedStep, "exit code 1"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSetVisibleAfter(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	cellID := uuid.New()
	visibleAfter := time.Now().Add(5 * time.Minute)

	mock.ExpectExec(`UPDATE cell_queue`).
		WithArgs(visibleAfter, cellID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SetVisibleAfter(context.Background(), nil, cellID, visibleAfter); err != nil {
		t.Fatalf("SetVisibleAfter failed: %v", err)
	}
}

func TestCount(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM cell_queue`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	count, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 4 {
		t.Errorf("got count %d, want 4", count)
	}
}
