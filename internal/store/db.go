// Package store is the local persistent replica: seven entity tables with
// secondary indexes and a per-row _synced flag, plus the repositories that
// enforce soft-delete and dirty-tracking semantics on top of them.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const dbFile = ".cardsync/local.db"

// ErrDuplicateID is returned by Create when the given id already exists.
var ErrDuplicateID = errors.New("DUPLICATE_ID")

// Store wraps the local SQLite connection.
type Store struct {
	conn    *sql.DB
	baseDir string
}

// openConn opens a SQLite connection tuned for single-writer, multi-reader
// local access: one physical connection, WAL journaling, a bounded busy
// timeout.
func openConn(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one writer; pinning to a single connection
	// prevents the pool from opening extras that could corrupt the
	// WAL/SHM files under concurrent access from this process.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")
	conn.Exec("PRAGMA foreign_keys=OFF") // FK integrity is enforced at the application layer

	return conn, nil
}

// Open opens (creating if necessary) the local store rooted at baseDir and
// ensures its schema exists.
func Open(baseDir string) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{conn: conn, baseDir: baseDir}, nil
}

// Close flushes the WAL back into the main file and closes the connection.
func (s *Store) Close() error {
	s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.conn.Close()
}

// Conn exposes the underlying *sql.DB for callers (sync queue, migration)
// that need to run their own multi-table transactions against the store.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// BaseDir returns the directory the store is rooted at.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// withWriteLock executes fn while holding the exclusive cross-process write
// lock. Every multi-table write that must be atomic (markSynced,
// applyPulledChanges, Note delete cascade, migration batches) goes through
// this, so that two processes sharing one store directory never interleave
// writes.
func (s *Store) withWriteLock(fn func() error) error {
	locker := newWriteLocker(s.baseDir)
	if err := locker.acquire(defaultLockTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

// withTx runs fn inside a SQL transaction, under the write lock, so a
// multi-statement write either fully applies or fully rolls back.
func (s *Store) withTx(fn func(*sql.Tx) error) error {
	return s.withWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Atomic runs fn inside a SQL transaction under the store's cross-process
// write lock. Callers outside this package (the sync queue applying a
// pulled batch across all seven tables, the migration seeder writing a
// batch of CRDT documents) use this to get the same all-or-nothing
// guarantee the repositories use internally.
func (s *Store) Atomic(fn func(*sql.Tx) error) error {
	return s.withTx(fn)
}
