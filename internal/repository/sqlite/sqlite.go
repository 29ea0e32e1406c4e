// Package sqlite implements the repository interfaces on an embedded SQLite database.
// It backs local development, the ticketctl tool and the service tests; production
// deployments use the postgres package.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/helpdeskhq/ticket-triage/internal/repository"
)

// DB wraps a sql.DB handle. SQLite has a single writer, so the pool holds one connection;
// this also keeps ":memory:" databases shared across calls.
type DB struct {
	conn *sql.DB
}

// New opens the database at path (":memory:" for an ephemeral one) and applies the schema.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return db, nil
}

// Close closes the underlying handle.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Store exposes the repositories backed by this database.
func (db *DB) Store() repository.Store {
	return repository.Store{
		Tickets: &ticketRepository{conn: db.conn},
		Users:   &userRepository{conn: db.conn},
		Outbox:  &outboxRepository{conn: db.conn},
	}
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			google_id     TEXT UNIQUE,
			full_name     TEXT NOT NULL DEFAULT '',
			profile_pic   TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			role          TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user','moderator','admin')),
			skills        TEXT NOT NULL DEFAULT '[]',
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_users_role_created ON users(role, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			id             TEXT PRIMARY KEY,
			title          TEXT NOT NULL CHECK (length(trim(title)) > 0),
			description    TEXT NOT NULL CHECK (length(trim(description)) > 0),
			status         TEXT NOT NULL DEFAULT 'created'
			               CHECK (status IN ('created','triaging','assigned','resolved','closed')),
			priority       TEXT NOT NULL DEFAULT 'medium' CHECK (priority IN ('low','medium','high')),
			assignee_id    TEXT REFERENCES users(id),
			helpful_notes  TEXT NOT NULL DEFAULT '',
			related_skills TEXT NOT NULL DEFAULT '[]',
			creator_id     TEXT NOT NULL REFERENCES users(id),
			created_at     DATETIME NOT NULL,
			updated_at     DATETIME NOT NULL,
			CHECK ((assignee_id IS NOT NULL) = (status IN ('assigned','resolved','closed')))
		);
		CREATE INDEX IF NOT EXISTS idx_tickets_creator_created ON tickets(creator_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_tickets_assignee ON tickets(assignee_id);
	`)
	if err != nil {
		return fmt.Errorf("creating tickets table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS event_outbox (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT NOT NULL UNIQUE,
			event_type   TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			payload      BLOB NOT NULL,
			created_at   DATETIME NOT NULL,
			published_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_outbox_pending ON event_outbox(published_at, seq);
	`)
	if err != nil {
		return fmt.Errorf("creating event_outbox table: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return repository.ErrConflict
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return repository.ErrNotFound
	}
	return err
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeTags(raw string) ([]string, error) {
	tags := []string{}
	if raw == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	return tags, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Ping verifies the handle is usable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
