// Package store is the device-local durable store: synced entities plus the
// queue of pending operations, backed by SQLite. It is the single point of
// truth for "what still needs syncing": the tracker enqueues, the sync
// manager drains, and both go through the same write lock.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	storeDir = ".fieldsync"
	dbFile   = ".fieldsync/fieldsync.db"
)

// ErrNotFound is returned when an entity or operation does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the local database connection
type Store struct {
	conn    *sql.DB
	baseDir string
}

// Open opens an existing store and recovers any operation left mid-flight
// by a crash (status syncing reverts to pending).
func Open(baseDir string) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("store not found: run 'fieldsync init' first")
	}

	return open(baseDir, dbPath)
}

// Initialize creates the store database, its schema, and the base directory.
func Initialize(baseDir string) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	return open(baseDir, dbPath)
}

func open(baseDir, dbPath string) (*Store, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout as fallback protection (500ms, matches lock timeout)
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Slightly faster writes, still safe with WAL
	conn.Exec("PRAGMA synchronous=NORMAL")

	s := &Store{conn: conn, baseDir: baseDir}

	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	// A crash mid-send leaves at most the in-flight operations dangling;
	// revert them so the next cycle retries.
	if n, err := s.RecoverInFlight(); err != nil {
		slog.Warn("recover in-flight operations", "err", err)
	} else if n > 0 {
		slog.Info("recovered in-flight operations", "count", n)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS entities (
			kind       TEXT NOT NULL,
			id         TEXT NOT NULL,
			data       JSON NOT NULL,
			version    INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (kind, id)
		);
		CREATE TABLE IF NOT EXISTS operations (
			id             TEXT PRIMARY KEY,
			entity_kind    TEXT NOT NULL,
			entity_id      TEXT NOT NULL,
			op_kind        TEXT NOT NULL,
			data           JSON,
			server_data    JSON,
			server_version INTEGER NOT NULL DEFAULT 0,
			base_version   INTEGER NOT NULL DEFAULT 0,
			timestamp      TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'pending',
			retry_count    INTEGER NOT NULL DEFAULT 0,
			max_retries    INTEGER NOT NULL DEFAULT 3,
			last_error     TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);
		CREATE INDEX IF NOT EXISTS idx_operations_entity ON operations(entity_kind, entity_id);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying *sql.DB connection for use in transactions.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// BaseDir returns the directory the store was opened against.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// withWriteLock executes fn while holding an exclusive write lock.
// This prevents concurrent writes from multiple processes.
func (s *Store) withWriteLock(fn func() error) error {
	locker := newWriteLocker(s.baseDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

// parseTimestamp tries common SQLite timestamp formats.
func parseTimestamp(v string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", v)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
