package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"
)

func newTestDatabaseWrapper(t *testing.T, cfg Config) (*DatabaseWrapper, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "sqlmock")
	return NewDatabaseWrapper(db, cfg, zaptest.NewLogger(t)), mock
}

func TestDatabaseWrapperExec(t *testing.T) {
	wrapper, mock := newTestDatabaseWrapper(t, Config{})
	mock.ExpectExec("INSERT INTO research_sessions").
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := wrapper.ExecContext(context.Background(), "INSERT INTO research_sessions (id) VALUES ($1)", "sess-1")
	if err != nil {
		t.Fatalf("ExecContext failed: %v", err)
	}
	if n, _ := result.RowsAffected(); n != 1 {
		t.Errorf("Expected 1 row affected, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestDatabaseWrapperGetNoRowsIsNotAFailure(t *testing.T) {
	wrapper, mock := newTestDatabaseWrapper(t, Config{FailureThreshold: 2})

	for i := 0; i < 5; i++ {
		mock.ExpectQuery("SELECT id FROM research_sessions").
			WillReturnError(sql.ErrNoRows)
	}

	var id string
	for i := 0; i < 5; i++ {
		err := wrapper.GetContext(context.Background(), &id, "SELECT id FROM research_sessions WHERE id = $1", "missing")
		if !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("Expected sql.ErrNoRows, got %v", err)
		}
	}

	if wrapper.IsCircuitBreakerOpen() {
		t.Error("Circuit breaker must stay closed on empty lookups")
	}
}

func TestDatabaseWrapperTripsOnRepeatedFailures(t *testing.T) {
	wrapper, mock := newTestDatabaseWrapper(t, Config{FailureThreshold: 2})

	backendDown := errors.New("connection refused")
	mock.ExpectExec("INSERT").WillReturnError(backendDown)
	mock.ExpectExec("INSERT").WillReturnError(backendDown)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := wrapper.ExecContext(ctx, "INSERT INTO t (id) VALUES (1)"); err == nil {
			t.Error("Expected exec to fail")
		}
	}

	if !wrapper.IsCircuitBreakerOpen() {
		t.Fatal("Expected circuit breaker to be open after repeated failures")
	}

	// Open breaker rejects without touching the pool, so no further
	// expectations are needed.
	if _, err := wrapper.ExecContext(ctx, "INSERT INTO t (id) VALUES (2)"); err != ErrCircuitBreakerOpen {
		t.Errorf("Expected circuit breaker open error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
