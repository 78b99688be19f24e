// Package store persists the proxy's durable state in a single SQLite file:
// the upstream key pool, the append-only request audit trail, and the
// singleton application settings row. All access goes through database/sql
// over the pure-Go modernc.org/sqlite driver so the binary stays cgo-free.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// timeLayout serializes timestamps as RFC-3339 with millisecond precision and
// a literal Z suffix so downstream JavaScript clients parse them identically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// busyTimeout is how long a statement waits on a locked database before
// failing. WAL mode keeps readers off the writer's lock; this covers
// writer-on-writer contention.
const busyTimeout = 5 * time.Second

// Store wraps the shared SQLite connection pool. It is safe for concurrent
// use; writes serialize through SQLite's single-writer discipline.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the pragmas the proxy depends on: WAL for concurrent readers alongside the
// writer, a busy timeout, and enforced foreign keys. The pragmas ride the DSN
// so every pooled connection gets them, not just the first.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	log.Infof("sqlite store opened at %s", path)
	return &Store{db: db, path: path}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// nullableTime converts an optional column value into *time.Time.
func nullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullableString converts an optional column value into *string.
func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	value := v.String
	return &value
}
