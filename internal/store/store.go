// Package store persists users, subscriptions, filings and delivered
// notifications in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	telegram_id   INTEGER PRIMARY KEY,
	username      TEXT NOT NULL DEFAULT '',
	first_name    TEXT NOT NULL DEFAULT '',
	last_name     TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL DEFAULT 'analyst',
	peer_token    TEXT NOT NULL DEFAULT '',
	registered_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id       INTEGER NOT NULL REFERENCES users(telegram_id) ON DELETE CASCADE,
	topic         TEXT NOT NULL,
	subscribed_at DATETIME NOT NULL,
	UNIQUE(user_id, topic)
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_topic ON subscriptions(topic);

CREATE TABLE IF NOT EXISTS filings (
	external_id      TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	department       TEXT NOT NULL,
	publication_date DATETIME,
	topics           TEXT NOT NULL DEFAULT '',
	saved_at         DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_filings_publication ON filings(publication_date DESC);

CREATE TABLE IF NOT EXISTS notifications_log (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id   INTEGER NOT NULL,
	filing_id TEXT NOT NULL,
	sent_at   DATETIME NOT NULL,
	UNIQUE(user_id, filing_id)
);
`

// Option mutates store configuration.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(store *Store) {
		if logger != nil {
			store.logger = logger
		}
	}
}

func withClock(clock func() time.Time) Option {
	return func(store *Store) {
		if clock != nil {
			store.clock = clock
		}
	}
}

// Store is the SQLite-backed subscription store and notification log.
//
// Writes go through a single connection; reads use a separate read-only pool.
type Store struct {
	readDB  *sql.DB
	writeDB *sql.DB
	logger  *slog.Logger
	clock   func() time.Time
}

// Open creates the database file and schema when missing.
func Open(ctx context.Context, path string, options ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open store: create dir: %w", err)
	}

	store := &Store{
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, option := range options {
		option(store)
	}

	writeDB, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open store: write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	store.writeDB = writeDB

	if _, err := writeDB.ExecContext(ctx, schema); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open store: init schema: %w", err)
	}

	readDB, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open store: read db: %w", err)
	}
	store.readDB = readDB

	store.logger.Info("store opened", "path", path)

	return store, nil
}

// Close releases both connection pools.
func (s *Store) Close() error {
	var errs []error
	if s.readDB != nil {
		errs = append(errs, s.readDB.Close())
	}
	if s.writeDB != nil {
		errs = append(errs, s.writeDB.Close())
	}

	return errors.Join(errs...)
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}
