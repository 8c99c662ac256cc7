/*
Package sqlite provides an embedded SQLite implementation of the ledger,
task and user stores.

It is the store used by tests and by single-node deployments
(DATABASE_URL=sqlite://path). The schema is applied with goose on New.

CONCURRENCY:

	SQLite has a single writer. The pool is capped at one connection and
	every unit starts with BEGIN IMMEDIATE, so units are fully serialized
	and LockWallet needs no row lock. Code running inside InTx must only
	use the StoreTx it was handed; touching the pool would wait for the
	connection the unit already holds.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/migrations"
)

// Store implements ledger.Store, tasks.Store and auth.UserStore.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// New opens the database at path and applies migrations.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	dsn := path + "?_foreign_keys=on&_txlock=immediate"
	if path != ":memory:" {
		dsn += "&_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrations.Up(context.Background(), db, migrations.SQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn inside one immediate transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.StoreTx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// classify maps driver errors onto ledger sentinels. A busy database or a
// unique violation on the idempotency index is contention the caller may
// retry.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %s: %v", ledger.ErrConcurrentModification, op, se)
		case se.ExtendedCode == sqlite3.ErrConstraintUnique, se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %s: %v", ledger.ErrConcurrentModification, op, se)
		}
	}
	return ledger.Persistence(op, err)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
