package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/events"
	"github.com/helpdeskhq/ticket-triage/internal/repository"
	apperrors "github.com/helpdeskhq/ticket-triage/pkg/util/errorutil"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 10000
)

// OutboxWaker nudges the outbox relay after a write.
type OutboxWaker interface {
	Wake()
}

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets repository.TicketRepository
	users   repository.UserRepository
	relay   OutboxWaker
	logger  *zap.Logger
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	UserRepo   repository.UserRepository
	Relay      OutboxWaker
	Logger     *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
}

// TicketListInput describes listing filters.
type TicketListInput struct {
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	Limit      int
	Offset     int
}

// TicketView is a ticket as shown to a particular viewer. Staff views carry the assignee.
type TicketView struct {
	Ticket    domain.Ticket
	Assignee  *domain.User
	StaffView bool
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets: deps.TicketRepo,
		users:   deps.UserRepo,
		relay:   deps.Relay,
		logger:  logger,
	}
}

// CreateTicket stores a ticket in status created with priority medium and no assignee, and
// records its ticket/created event in the same transaction. It returns without waiting for triage.
func (s *TicketService) CreateTicket(ctx context.Context, creatorID string, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, apperrors.NewValidationError("title and description are required", nil)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, apperrors.NewValidationError("title is too long", map[string]any{"max": maxTitleLength})
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return nil, apperrors.NewValidationError("description is too long", map[string]any{"max": maxDescriptionLength})
	}

	ticket := &domain.Ticket{
		Title:         title,
		Description:   description,
		Status:        domain.TicketStatusCreated,
		Priority:      domain.TicketPriorityMedium,
		RelatedSkills: []string{},
		CreatorID:     creatorID,
	}
	err := s.tickets.CreateWithOutbox(ctx, ticket, func(created *domain.Ticket) (repository.OutboxRecord, error) {
		event, err := events.NewEvent(events.EventTicketCreated, events.Actor{UserID: creatorID}, events.TicketCreatedPayload{
			TicketID:    created.ID,
			Title:       created.Title,
			Description: created.Description,
			CreatedBy:   created.CreatorID,
		})
		if err != nil {
			return repository.OutboxRecord{}, err
		}
		return repository.OutboxRecord{
			ID:          event.ID,
			EventType:   string(event.Type),
			AggregateID: created.ID,
			Payload:     event.Payload,
			CreatedAt:   event.Timestamp,
		}, nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewUnauthorized("account no longer exists")
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	if s.relay != nil {
		s.relay.Wake()
	}
	s.logger.Info("ticket created", zap.String("ticket_id", ticket.ID), zap.String("creator_id", creatorID))
	return ticket, nil
}

// GetTicket returns a ticket if viewerID may see it. Users only see their own tickets; any
// other id reads as not found. Staff see every ticket together with its assignee.
func (s *TicketService) GetTicket(ctx context.Context, viewerID, ticketID string) (*TicketView, error) {
	viewer, err := s.viewer(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	if !viewer.Role.Staff() {
		if ticket.CreatorID != viewer.ID {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return &TicketView{Ticket: *ticket}, nil
	}

	view := &TicketView{Ticket: *ticket, StaffView: true}
	if ticket.AssigneeID != nil {
		assignee, err := s.users.GetByID(ctx, *ticket.AssigneeID)
		switch {
		case err == nil:
			view.Assignee = assignee
		case !errors.Is(err, repository.ErrNotFound):
			return nil, apperrors.MapError(err)
		}
	}
	return view, nil
}

// ListTickets returns tickets newest first: the viewer's own for users, all of them for staff.
func (s *TicketService) ListTickets(ctx context.Context, viewerID string, input TicketListInput) ([]TicketView, error) {
	viewer, err := s.viewer(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	for _, status := range input.Statuses {
		if !status.Valid() {
			return nil, apperrors.NewValidationError("invalid status filter", map[string]any{"status": status})
		}
	}
	for _, priority := range input.Priorities {
		if !priority.Valid() {
			return nil, apperrors.NewValidationError("invalid priority filter", map[string]any{"priority": priority})
		}
	}

	filter := repository.TicketFilter{
		Statuses:   input.Statuses,
		Priorities: input.Priorities,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}
	staff := viewer.Role.Staff()
	if !staff {
		filter.CreatorID = &viewer.ID
	}
	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	views := make([]TicketView, 0, len(tickets))
	assignees := map[string]*domain.User{}
	for _, ticket := range tickets {
		view := TicketView{Ticket: ticket, StaffView: staff}
		if staff && ticket.AssigneeID != nil {
			id := *ticket.AssigneeID
			assignee, cached := assignees[id]
			if !cached {
				assignee, err = s.users.GetByID(ctx, id)
				if err != nil && !errors.Is(err, repository.ErrNotFound) {
					return nil, apperrors.MapError(err)
				}
				assignees[id] = assignee
			}
			view.Assignee = assignee
		}
		views = append(views, view)
	}
	return views, nil
}

// viewer resolves the persisted account so visibility follows the current role, not the one
// captured in the session token.
func (s *TicketService) viewer(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewUnauthorized("account no longer exists")
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return user, nil
}
