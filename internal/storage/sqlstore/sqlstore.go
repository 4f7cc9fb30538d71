// Package sqlstore implements the storage interface on database/sql.
//
// Queries use portable `?` placeholders and run unchanged on SQLite and on
// Dolt (MySQL protocol). Dialects differ only in DDL and in how a write
// transaction is started.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/workboard/workboard/internal/storage"
)

// Verify interfaces at compile time
var (
	_ storage.Store       = (*Store)(nil)
	_ storage.Transaction = (*txStore)(nil)
)

// querier is satisfied by *sql.DB and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type dialect struct {
	name   string
	schema []string
	// begin starts a write transaction on a dedicated connection.
	begin func(ctx context.Context, conn *sql.Conn) error
	// isUnique reports a unique-key violation.
	isUnique func(err error) bool
}

// Store is a SQL-backed storage.Store.
type Store struct {
	queries
	db      *sql.DB
	dialect dialect
	// onClose releases backend resources beyond the pool (embedded engines).
	onClose func() error
	closed  atomic.Bool
}

type txStore struct {
	queries
	store *Store
}

func newStore(ctx context.Context, db *sql.DB, d dialect) (*Store, error) {
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize %s schema: %w", d.name, err)
		}
	}
	return &Store{queries: queries{q: db, dialect: d}, db: db, dialect: d}, nil
}

// Dialect returns the backend name.
func (s *Store) Dialect() string {
	return s.dialect.name
}

// DB exposes the pool for diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the pool. Safe to call more than once.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.db.Close()
	if s.onClose != nil {
		err = errors.Join(err, s.onClose())
	}
	return err
}

// RunInTransaction executes fn within a database transaction.
//
// Transaction lifecycle:
//  1. Acquire dedicated connection from pool
//  2. Begin the dialect's write transaction
//  3. Execute fn with a Transaction bound to that connection
//  4. On success: COMMIT
//  5. On error or panic: ROLLBACK
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	if s.closed.Load() {
		return fmt.Errorf("store is closed")
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for transaction: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := s.dialect.begin(ctx, conn); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Use background context to ensure rollback completes even if ctx is cancelled
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	tx := &txStore{queries: queries{q: conn, dialect: s.dialect}, store: s}
	if err := fn(tx); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// beginWithRetry retries stmt while the database reports lock contention.
func beginWithRetry(ctx context.Context, conn *sql.Conn, stmt string, maxElapsed time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = maxElapsed
	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, stmt)
		if err != nil && isBusyError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

func isBusyError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "lock wait timeout") ||
		strings.Contains(msg, "deadlock found")
}

// wrapDBError wraps a database error with operation context.
// It converts sql.ErrNoRows to storage.ErrNotFound.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
