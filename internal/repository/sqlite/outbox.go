package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/helpdeskhq/ticket-triage/internal/repository"
)

var _ repository.OutboxRepository = (*outboxRepository)(nil)

type outboxRepository struct {
	conn *sql.DB
}

func (r *outboxRepository) ListUnpublished(ctx context.Context, limit int) ([]repository.OutboxRecord, error) {
	return scanOutbox(r.conn.QueryContext(ctx,
		`SELECT id, event_type, aggregate_id, payload, created_at
		 FROM event_outbox WHERE published_at IS NULL ORDER BY seq LIMIT ?`, limit))
}

func (r *outboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	res, err := r.conn.ExecContext(ctx,
		`UPDATE event_outbox SET published_at = ? WHERE id = ? AND published_at IS NULL`, at.UTC(), id)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// PublishPending runs in one transaction. SQLite has a single writer, which is the claim.
func (r *outboxRepository) PublishPending(ctx context.Context, limit int, publish func(repository.OutboxRecord) error) (int, error) {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin outbox claim: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	records, err := scanOutbox(tx.QueryContext(ctx,
		`SELECT id, event_type, aggregate_id, payload, created_at
		 FROM event_outbox WHERE published_at IS NULL ORDER BY seq LIMIT ?`, limit))
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	marked := 0
	var publishErr error
	for _, rec := range records {
		if publishErr = publish(rec); publishErr != nil {
			break
		}
		if _, err := tx.ExecContext(ctx, `UPDATE event_outbox SET published_at = ? WHERE id = ?`, now, rec.ID); err != nil {
			return 0, translate(err)
		}
		marked++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit outbox claim: %w", err)
	}
	return marked, publishErr
}

func scanOutbox(rows *sql.Rows, err error) ([]repository.OutboxRecord, error) {
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing outbox: %w", err)
	}
	defer rows.Close()

	var records []repository.OutboxRecord
	for rows.Next() {
		var rec repository.OutboxRecord
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.AggregateID, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
