// Package store is the single relational persistence layer (§3, §6's
// "SQLite-compatible, foreign keys ON, synchronous writes"). It wraps
// *sql.DB opened against modernc.org/sqlite, the pure-Go cgo-free
// driver present in the teacher's dependency tree.
package store

import (
	"context"
	"database/sql"
	"sync"

	_ "modernc.org/sqlite"

	"go.bencher.dev/core/bencher/ambient/skerr"
	"go.bencher.dev/core/bencher/store/migrations"
)

// Store holds the process's single database handle plus the exclusive
// writer lock described in §5. The pool holds a single connection, so
// database/sql serializes every statement; WithTx additionally holds
// WriteLock for the whole transaction and releases it before any
// CPU-heavy post-processing.
type Store struct {
	DB        *sql.DB
	WriteLock sync.Mutex
}

// Open opens dsn (e.g. "file:bencher.db?_pragma=foreign_keys(1)"),
// enables foreign keys and synchronous writes, and applies every
// pending migration.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, skerr.Wrapf(err, "opening database %s", dsn)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid SQLITE_BUSY churn.

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = FULL",
		"PRAGMA journal_mode = WAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return nil, skerr.Wrapf(err, "applying %s", p)
		}
	}
	if err := migrations.Up(ctx, db); err != nil {
		return nil, skerr.Wrap(err)
	}
	return &Store{DB: db}, nil
}

// WithTx runs fn inside a transaction acquired under WriteLock,
// committing on success and rolling back on any error or panic. This is
// how C7's "all or none" report write and C8/C9's TOCTOU-guarded status
// transitions are implemented.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.WriteLock.Lock()
	defer s.WriteLock.Unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return skerr.Wrap(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return skerr.Wrap(err)
	}
	committed = true
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}
