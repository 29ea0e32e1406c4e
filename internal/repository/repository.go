package repository

import (
	"context"
	"errors"
	"time"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup or keyed update matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned on unique-key violations.
	ErrConflict = errors.New("record conflict")
	// ErrStaleState is returned when a conditional update finds the row in a state it may not overwrite.
	ErrStaleState = errors.New("record not in expected state")
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	CreatorID  *string
	AssigneeID *string
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	Limit      int
	Offset     int
}

// Page normalizes limit/offset.
func (f TicketFilter) Page() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset = f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// OutboxRecord is a pending event written in the same transaction as its aggregate.
type OutboxRecord struct {
	ID          string
	EventType   string
	AggregateID string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// OutboxBuilder derives the outbox record from the freshly inserted ticket.
type OutboxBuilder func(ticket *domain.Ticket) (OutboxRecord, error)

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	// CreateWithOutbox inserts the ticket and its outbox record atomically.
	CreateWithOutbox(ctx context.Context, ticket *domain.Ticket, build OutboxBuilder) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// ApplyAssignment is a single conditional update keyed by id. It returns ErrNotFound when
	// the ticket does not exist and ErrStaleState when it has moved past domain.AssignableStatuses.
	ApplyAssignment(ctx context.Context, id string, assignment domain.TicketAssignment) (*domain.Ticket, error)
}

// UserRepository defines persistence access for users.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// FirstByRole returns the earliest created user holding role.
	FirstByRole(ctx context.Context, role domain.Role) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Update(ctx context.Context, id string, update domain.UserUpdate) (*domain.User, error)
	// UpsertLocal creates or updates a password account keyed by email.
	UpsertLocal(ctx context.Context, user *domain.User) error
}

// OutboxRepository exposes the relay side of the outbox.
type OutboxRepository interface {
	ListUnpublished(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	// PublishPending claims up to limit unpublished rows in insertion order, hands each to
	// publish and marks the accepted ones published in the same transaction. Rows claimed by
	// a concurrent caller are skipped. It stops at the first publish error and returns it
	// together with the number of rows marked.
	PublishPending(ctx context.Context, limit int, publish func(OutboxRecord) error) (int, error)
}

// Store bundles the repositories of one backend.
type Store struct {
	Tickets TicketRepository
	Users   UserRepository
	Outbox  OutboxRepository
}
