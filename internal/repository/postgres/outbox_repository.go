package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helpdeskhq/ticket-triage/internal/repository"
)

type outboxRepository struct {
	db DB
}

// NewOutboxRepository returns the relay view of event_outbox.
func NewOutboxRepository(db DB) repository.OutboxRepository {
	return &outboxRepository{db: db}
}

const pendingOutbox = `
        SELECT id, event_type, aggregate_id, payload, created_at
        FROM event_outbox
        WHERE published_at IS NULL
        ORDER BY seq
        LIMIT $1`

func (r *outboxRepository) ListUnpublished(ctx context.Context, limit int) ([]repository.OutboxRecord, error) {
	return scanOutbox(r.db.Query(ctx, pendingOutbox, limit))
}

// PublishPending locks its batch with FOR UPDATE SKIP LOCKED, so relays on other replicas
// pick different rows. The lock lasts until commit, after publish has returned.
func (r *outboxRepository) PublishPending(ctx context.Context, limit int, publish func(repository.OutboxRecord) error) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	records, err := scanOutbox(tx.Query(ctx, pendingOutbox+` FOR UPDATE SKIP LOCKED`, limit))
	if err != nil {
		return 0, err
	}

	accepted := make([]string, 0, len(records))
	var publishErr error
	for _, rec := range records {
		if publishErr = publish(rec); publishErr != nil {
			break
		}
		accepted = append(accepted, rec.ID)
	}
	if len(accepted) > 0 {
		if _, err := tx.Exec(ctx, `UPDATE event_outbox SET published_at=NOW() WHERE id = ANY($1::uuid[])`, accepted); err != nil {
			return 0, translate(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(accepted), publishErr
}

func scanOutbox(rows pgx.Rows, err error) ([]repository.OutboxRecord, error) {
	if err != nil {
		return nil, translate(err)
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

func (r *outboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE event_outbox SET published_at=$2 WHERE id=$1 AND published_at IS NULL`, id, at)
	if err != nil {
		return translate(err)
	}
	if cmd.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
