package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper fronts the archive's postgres pool. Only the statement
// shapes the archive uses are wrapped. An sql.ErrNoRows result is an empty
// lookup, never a failure.
type DatabaseWrapper struct {
	db *sqlx.DB
	cb *CircuitBreaker
}

// NewDatabaseWrapper wraps db with a breaker named "postgres".
func NewDatabaseWrapper(db *sqlx.DB, cfg Config, logger *zap.Logger) *DatabaseWrapper {
	return &DatabaseWrapper{
		db: db,
		cb: NewCircuitBreaker("postgres", cfg, logger),
	}
}

// PingContext wraps connection health probing.
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.cb.Execute(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
}

// ExecContext wraps positional-argument statements.
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := dw.cb.Execute(ctx, func() error {
		var opErr error
		result, opErr = dw.db.ExecContext(ctx, query, args...)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// NamedExecContext wraps named-argument statements.
func (dw *DatabaseWrapper) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	var result sql.Result
	err := dw.cb.Execute(ctx, func() error {
		var opErr error
		result, opErr = dw.db.NamedExecContext(ctx, query, arg)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetContext wraps single-row scans. ErrNoRows passes through to the caller
// without counting against the breaker.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	var opErr error
	cbErr := dw.cb.Execute(ctx, func() error {
		opErr = dw.db.GetContext(ctx, dest, query, args...)
		if errors.Is(opErr, sql.ErrNoRows) {
			return nil
		}
		return opErr
	})
	if cbErr != nil {
		return cbErr
	}
	return opErr
}

// SelectContext wraps multi-row scans.
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.cb.Execute(ctx, func() error {
		return dw.db.SelectContext(ctx, dest, query, args...)
	})
}

// Stats returns the pool statistics.
func (dw *DatabaseWrapper) Stats() sql.DBStats {
	return dw.db.Stats()
}

// Close closes the pool.
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// DB returns the raw pool for operations the wrapper does not cover.
func (dw *DatabaseWrapper) DB() *sqlx.DB {
	return dw.db
}

// IsCircuitBreakerOpen reports whether calls would currently fail fast.
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
