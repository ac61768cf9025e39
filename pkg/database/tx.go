package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/college-events-api/pkg/config"
)

// Postgres SQLSTATE codes that are safe to retry as a whole transaction.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// TxFunc is the body of a unit of work. Every statement must go through exec.
type TxFunc func(exec sqlx.ExtContext) error

type beginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// TransactorOption customises a Transactor.
type TransactorOption func(*Transactor)

// WithRetryHook registers a callback invoked before each retry attempt.
func WithRetryHook(hook func(attempt int, err error)) TransactorOption {
	return func(t *Transactor) { t.onRetry = hook }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) TransactorOption {
	return func(t *Transactor) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Transactor runs closures inside a single database transaction and retries
// the whole closure on serialization failures and deadlocks.
type Transactor struct {
	db         beginner
	isolation  sql.IsolationLevel
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
	onRetry    func(attempt int, err error)
}

// NewTransactor constructs a Transactor from the database configuration.
func NewTransactor(db beginner, cfg config.DatabaseConfig, opts ...TransactorOption) *Transactor {
	t := &Transactor{
		db:         db,
		isolation:  cfg.TxIsolation,
		maxRetries: cfg.TxMaxRetries,
		retryDelay: cfg.TxRetryDelay,
		logger:     zap.NewNop(),
	}
	if t.maxRetries < 0 {
		t.maxRetries = 0
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run executes fn in a transaction. Any error returned by fn rolls back
// everything fn wrote and is returned unchanged.
func (t *Transactor) Run(ctx context.Context, fn TxFunc) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = t.runOnce(ctx, fn)
		if err == nil || !IsRetryable(err) || attempt >= t.maxRetries {
			return err
		}
		if t.onRetry != nil {
			t.onRetry(attempt+1, err)
		}
		t.logger.Debug("retrying transaction", zap.Int("attempt", attempt+1), zap.Error(err))

		if t.retryDelay > 0 {
			timer := time.NewTimer(t.retryDelay * time.Duration(attempt+1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

func (t *Transactor) runOnce(ctx context.Context, fn TxFunc) (err error) {
	tx, err := t.db.BeginTxx(ctx, &sql.TxOptions{Isolation: t.isolation})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				t.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is a serialization failure or deadlock.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation
}
