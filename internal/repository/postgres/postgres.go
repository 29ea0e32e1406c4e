// Package postgres implements the repository interfaces on a pgx connection pool.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helpdeskhq/ticket-triage/internal/repository"
)

const (
	pgUniqueViolation     = "23505"
	pgInvalidTextRepr     = "22P02"
	pgForeignKeyViolation = "23503"
)

// DB is the part of *pgxpool.Pool the repositories use.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewStore wires all repositories onto one pool.
func NewStore(db DB) repository.Store {
	return repository.Store{
		Tickets: NewTicketRepository(db),
		Users:   NewUserRepository(db),
		Outbox:  NewOutboxRepository(db),
	}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// translate maps driver errors onto repository sentinels. A malformed UUID can never
// match a row, so it reads as not found rather than a server error.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return repository.ErrConflict
		case pgInvalidTextRepr:
			return repository.ErrNotFound
		case pgForeignKeyViolation:
			return repository.ErrNotFound
		}
	}
	return err
}
