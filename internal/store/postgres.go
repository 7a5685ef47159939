package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cart-service/internal/apperr"
	"cart-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// Options tunes the connection pool and lock waits
type Options struct {
	MaxOpenConns int
	LockTimeout  time.Duration
}

// NewPostgresStore creates a new database store
func NewPostgresStore(databaseURL string, opts Options) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 25
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db, lockTimeout: opts.LockTimeout}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetDB returns the underlying database connection
func (s *PostgresStore) GetDB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside a transaction with a bounded lock wait. Lock
// timeouts, deadlocks and serialization failures surface as apperr.ErrBusy.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return classify(err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return classify(err)
	}

	return classify(tx.Commit())
}

// readTx runs fn in a read-only repeatable-read transaction so multi-statement
// reads see one snapshot
func (s *PostgresStore) readTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

// GetSKU retrieves a SKU by ID
func (s *PostgresStore) GetSKU(ctx context.Context, skuID int64) (*models.SKU, error) {
	var sku models.SKU
	err := s.db.GetContext(ctx, &sku, "SELECT "+skuColumns+" FROM skus WHERE id = $1", skuID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("sku %d", skuID)
	}
	if err != nil {
		return nil, classify(err)
	}
	return &sku, nil
}

// Postgres error codes mapped to apperr.ErrBusy
var busyCodes = map[pq.ErrorCode]bool{
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement timeout)
	"40P01": true, // deadlock_detected
	"40001": true, // serialization_failure
}

const uniqueViolation pq.ErrorCode = "23505"

// classify maps driver errors onto the apperr taxonomy. Errors already in
// the taxonomy and unknown errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.Busy(err)
		}
		return err
	}

	if busyCodes[pqErr.Code] {
		return apperr.Busy(err)
	}
	if pqErr.Code == uniqueViolation {
		return apperr.Conflict("%s", pqErr.Constraint)
	}
	return err
}
