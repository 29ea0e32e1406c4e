package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/repository"
)

var _ repository.TicketRepository = (*ticketRepository)(nil)

const ticketColumns = `id, title, description, status, priority, assignee_id, helpful_notes,
		related_skills, creator_id, created_at, updated_at`

type ticketRepository struct {
	conn *sql.DB
}

func (r *ticketRepository) CreateWithOutbox(ctx context.Context, ticket *domain.Ticket, build repository.OutboxBuilder) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	ticket.ID = xid.New().String()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	if ticket.Status == "" {
		ticket.Status = domain.TicketStatusCreated
	}
	if ticket.Priority == "" {
		ticket.Priority = domain.TicketPriorityMedium
	}
	if ticket.RelatedSkills == nil {
		ticket.RelatedSkills = []string{}
	}
	skills, err := encodeTags(ticket.RelatedSkills)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tickets (id, title, description, status, priority, assignee_id, helpful_notes,
			related_skills, creator_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ticket.ID,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.AssigneeID,
		ticket.HelpfulNotes,
		skills,
		ticket.CreatorID,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	)
	if err != nil {
		return translate(err)
	}

	record, err := build(ticket)
	if err != nil {
		return fmt.Errorf("build outbox record: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO event_outbox (id, event_type, aggregate_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		record.ID, record.EventType, record.AggregateID, record.Payload, now,
	)
	if err != nil {
		return translate(err)
	}
	return tx.Commit()
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := scanTicket(r.conn.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if err != nil {
		return nil, translate(err)
	}
	return ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatorID != nil {
		clauses = append(clauses, "creator_id = ?")
		args = append(args, *filter.CreatorID)
	}
	if filter.AssigneeID != nil {
		clauses = append(clauses, "assignee_id = ?")
		args = append(args, *filter.AssigneeID)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, s := range filter.Statuses {
			args = append(args, string(s))
		}
	}
	if len(filter.Priorities) > 0 {
		clauses = append(clauses, "priority IN ("+placeholders(len(filter.Priorities))+")")
		for _, p := range filter.Priorities {
			args = append(args, string(p))
		}
	}

	limit, offset := filter.Page()
	args = append(args, limit, offset)
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing tickets: %w", err)
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *ticket)
	}
	return tickets, rows.Err()
}

func (r *ticketRepository) ApplyAssignment(ctx context.Context, id string, assignment domain.TicketAssignment) (*domain.Ticket, error) {
	if err := assignment.Validate(); err != nil {
		return nil, err
	}
	skills, err := encodeTags(assignment.RelatedSkills)
	if err != nil {
		return nil, err
	}

	args := []any{
		assignment.Priority,
		assignment.HelpfulNotes,
		skills,
		domain.TicketStatusAssigned,
		assignment.AssigneeID,
		time.Now().UTC(),
		id,
	}
	for _, s := range domain.AssignableStatuses {
		args = append(args, string(s))
	}
	query := `UPDATE tickets
		SET priority = ?, helpful_notes = ?, related_skills = ?, status = ?, assignee_id = ?, updated_at = ?
		WHERE id = ? AND status IN (` + placeholders(len(domain.AssignableStatuses)) + `)
		RETURNING ` + ticketColumns

	ticket, err := scanTicket(r.conn.QueryRowContext(ctx, query, args...))
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, translate(err)
	}

	var status string
	if err := r.conn.QueryRowContext(ctx, `SELECT status FROM tickets WHERE id = ?`, id).Scan(&status); err != nil {
		return nil, translate(err)
	}
	return nil, repository.ErrStaleState
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var (
		ticket   domain.Ticket
		assignee sql.NullString
		skills   string
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&assignee,
		&ticket.HelpfulNotes,
		&skills,
		&ticket.CreatorID,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if assignee.Valid {
		ticket.AssigneeID = &assignee.String
	}
	tags, err := decodeTags(skills)
	if err != nil {
		return nil, err
	}
	ticket.RelatedSkills = tags
	return &ticket, nil
}
