package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/repository"
)

const ticketColumns = `id, title, description, status, priority, assignee_id, helpful_notes,
               related_skills, creator_id, created_at, updated_at`

type ticketRepository struct {
	db DB
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DB) repository.TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) CreateWithOutbox(ctx context.Context, ticket *domain.Ticket, build repository.OutboxBuilder) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if ticket.RelatedSkills == nil {
		ticket.RelatedSkills = []string{}
	}
	const insertTicket = `
        INSERT INTO tickets (title, description, status, priority, helpful_notes, related_skills, creator_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	if err := tx.QueryRow(ctx, insertTicket,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.HelpfulNotes,
		ticket.RelatedSkills,
		ticket.CreatorID,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		return translate(err)
	}

	record, err := build(ticket)
	if err != nil {
		return fmt.Errorf("build outbox record: %w", err)
	}
	const insertOutbox = `
        INSERT INTO event_outbox (id, event_type, aggregate_id, payload)
        VALUES ($1,$2,$3,$4)`
	if _, err := tx.Exec(ctx, insertOutbox, record.ID, record.EventType, record.AggregateID, record.Payload); err != nil {
		return translate(err)
	}

	return tx.Commit(ctx)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	return ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatorID != nil {
		args = append(args, *filter.CreatorID)
		clauses = append(clauses, fmt.Sprintf("creator_id=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assignee_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, enumStrings(filter.Statuses))
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(filter.Priorities) > 0 {
		args = append(args, enumStrings(filter.Priorities))
		clauses = append(clauses, fmt.Sprintf("priority = ANY($%d)", len(args)))
	}

	limit, offset := filter.Page()
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, translate(err)
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) ApplyAssignment(ctx context.Context, id string, assignment domain.TicketAssignment) (*domain.Ticket, error) {
	if err := assignment.Validate(); err != nil {
		return nil, err
	}
	skills := assignment.RelatedSkills
	if skills == nil {
		skills = []string{}
	}

	query := `
        UPDATE tickets
        SET priority=$2, helpful_notes=$3, related_skills=$4, status=$5, assignee_id=$6, updated_at=NOW()
        WHERE id=$1 AND status = ANY($7)
        RETURNING ` + ticketColumns
	ticket, err := scanTicket(r.db.QueryRow(ctx, query,
		id,
		assignment.Priority,
		assignment.HelpfulNotes,
		skills,
		domain.TicketStatusAssigned,
		assignment.AssigneeID,
		enumStrings(domain.AssignableStatuses),
	))
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, translate(err)
	}

	var status string
	if err := r.db.QueryRow(ctx, `SELECT status FROM tickets WHERE id=$1`, id).Scan(&status); err != nil {
		return nil, translate(err)
	}
	return nil, repository.ErrStaleState
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.AssigneeID,
		&ticket.HelpfulNotes,
		&ticket.RelatedSkills,
		&ticket.CreatorID,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func enumStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
