// Package pipeline turns a ticket/created event into a triaged, assigned ticket.
//
// A run executes fetch-ticket, triage, select-moderator and update-ticket in order;
// the run succeeds once update-ticket has been applied. notify runs after that boundary
// and its failures are logged, never returned. Triage never fails a run: any analyzer
// error degrades to triage.Fallback.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/events"
	"github.com/helpdeskhq/ticket-triage/internal/observability"
	"github.com/helpdeskhq/ticket-triage/internal/repository"
	"github.com/helpdeskhq/ticket-triage/internal/triage"
)

// TicketStore is the slice of the ticket repository the pipeline writes through.
type TicketStore interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ApplyAssignment(ctx context.Context, id string, assignment domain.TicketAssignment) (*domain.Ticket, error)
}

// AssigneeSelector picks the user a ticket goes to. It returns domain.ErrNoAssignee
// when nobody is eligible.
type AssigneeSelector interface {
	SelectAssignee(ctx context.Context) (*domain.User, error)
}

// Notifier tells an assignee about a ticket.
type Notifier interface {
	NotifyTicketAssigned(ctx context.Context, ticket *domain.Ticket, assignee *domain.User) error
}

// Config bounds the external calls.
type Config struct {
	AITimeout   time.Duration
	MailTimeout time.Duration
}

// Dependencies bundles collaborators.
type Dependencies struct {
	Tickets  TicketStore
	Analyzer triage.Analyzer
	Selector AssigneeSelector
	Notifier Notifier
	Memo     Memo
	Config   Config
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// Pipeline processes ticket/created events.
type Pipeline struct {
	tickets  TicketStore
	analyzer triage.Analyzer
	selector AssigneeSelector
	notifier Notifier
	memo     Memo
	cfg      Config
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// Result summarizes a run.
type Result struct {
	TicketID       string
	AssigneeID     string
	AssigneeEmail  string
	Priority       domain.TicketPriority
	TriageFallback bool
	Notified       bool
}

type triageOutcome struct {
	Suggestion triage.Suggestion `json:"suggestion"`
	Fallback   bool              `json:"fallback"`
}

// New creates a pipeline.
func New(deps Dependencies) *Pipeline {
	memo := deps.Memo
	if memo == nil {
		memo = NoMemo()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		tickets:  deps.Tickets,
		analyzer: deps.Analyzer,
		selector: deps.Selector,
		notifier: deps.Notifier,
		memo:     memo,
		cfg:      deps.Config,
		logger:   logger,
		metrics:  deps.Metrics,
	}
}

// Register subscribes the pipeline to ticket/created.
func (p *Pipeline) Register(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventTicketCreated, p.Handle)
}

// Handle adapts Run to an events.EventHandler.
func (p *Pipeline) Handle(ctx context.Context, event events.Event) error {
	_, err := p.Run(ctx, event)
	return err
}

// Run processes one delivery of event. The event id keys step memoization, so every
// delivery of the same event shares memoized results.
func (p *Pipeline) Run(ctx context.Context, event events.Event) (*Result, error) {
	logger := p.logger.With(zap.String("event_id", event.ID))
	runKey := event.ID
	result := &Result{}

	ticket, err := runStep(ctx, p, logger, runKey, StepFetchTicket, func(ctx context.Context) (*domain.Ticket, error) {
		return p.fetchTicket(ctx, event)
	})
	if err != nil {
		return result, p.fail(logger, err)
	}
	result.TicketID = ticket.ID
	logger = logger.With(zap.String("ticket_id", ticket.ID))

	outcome, err := runStep(ctx, p, logger, runKey, StepTriage, func(ctx context.Context) (triageOutcome, error) {
		return p.triage(ctx, logger, ticket), nil
	})
	if err != nil {
		return result, p.fail(logger, err)
	}
	result.TriageFallback = outcome.Fallback

	assignee, err := runStep(ctx, p, logger, runKey, StepSelectModerator, p.selectModerator)
	if err != nil {
		return result, p.fail(logger, err)
	}
	result.AssigneeID = assignee.ID
	result.AssigneeEmail = assignee.Email

	updated, err := runStep(ctx, p, logger, runKey, StepUpdateTicket, func(ctx context.Context) (*domain.Ticket, error) {
		return p.updateTicket(ctx, ticket.ID, outcome.Suggestion, assignee.ID)
	})
	if err != nil {
		return result, p.fail(logger, err)
	}
	result.Priority = updated.Priority

	result.Notified = p.notify(ctx, logger, runKey, updated, assignee)

	logger.Info("ticket triaged and assigned",
		zap.String("assignee_id", assignee.ID),
		zap.String("priority", string(updated.Priority)),
		zap.Bool("triage_fallback", outcome.Fallback),
		zap.Bool("notified", result.Notified))
	return result, nil
}

func (p *Pipeline) fetchTicket(ctx context.Context, event events.Event) (*domain.Ticket, error) {
	var payload events.TicketCreatedPayload
	if err := event.Decode(&payload); err != nil {
		return nil, fatal(StepFetchTicket, "unreadable event payload", err)
	}
	ticketID := strings.TrimSpace(payload.TicketID)
	if ticketID == "" {
		ticketID = strings.TrimSpace(event.TicketID)
	}
	if ticketID == "" {
		return nil, fatal(StepFetchTicket, "event carries no ticket id", nil)
	}

	ticket, err := p.tickets.GetByID(ctx, ticketID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fatal(StepFetchTicket, "ticket not found", err)
	}
	if err != nil {
		return nil, retriable(StepFetchTicket, "ticket store unavailable", err)
	}
	return ticket, nil
}

func (p *Pipeline) triage(ctx context.Context, logger *zap.Logger, ticket *domain.Ticket) triageOutcome {
	if p.analyzer == nil {
		return triageOutcome{Suggestion: triage.Fallback(), Fallback: true}
	}
	if p.cfg.AITimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AITimeout)
		defer cancel()
	}

	suggestion, err := p.analyzer.Analyze(ctx, ticket.Title, ticket.Description)
	if err != nil || suggestion == nil {
		logger.Warn("triage unavailable; using fallback", zap.Error(err))
		p.metrics.RecordStep(StepTriage, "fallback")
		return triageOutcome{Suggestion: triage.Fallback(), Fallback: true}
	}

	normalized := *suggestion
	normalized.Priority = domain.ParsePriority(string(suggestion.Priority))
	normalized.RelatedSkills = domain.CleanTags(suggestion.RelatedSkills)
	return triageOutcome{Suggestion: normalized}
}

func (p *Pipeline) selectModerator(ctx context.Context) (*domain.User, error) {
	user, err := p.selector.SelectAssignee(ctx)
	if errors.Is(err, domain.ErrNoAssignee) {
		return nil, fatal(StepSelectModerator, "no moderator, admin or fallback account", err)
	}
	if err != nil {
		return nil, retriable(StepSelectModerator, "user store unavailable", err)
	}
	return user, nil
}

func (p *Pipeline) updateTicket(ctx context.Context, ticketID string, s triage.Suggestion, assigneeID string) (*domain.Ticket, error) {
	assignment := domain.TicketAssignment{
		Priority:      domain.ParsePriority(string(s.Priority)),
		HelpfulNotes:  s.HelpfulNotes,
		RelatedSkills: domain.CleanTags(s.RelatedSkills),
		AssigneeID:    assigneeID,
	}

	updated, err := p.tickets.ApplyAssignment(ctx, ticketID, assignment)
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, fatal(StepUpdateTicket, "ticket vanished before update", err)
	case errors.Is(err, repository.ErrStaleState):
		return nil, fatal(StepUpdateTicket, "ticket already moved past assignment", err)
	case errors.Is(err, domain.ErrInvalidPriority), errors.Is(err, domain.ErrMissingAssignee):
		return nil, fatal(StepUpdateTicket, "assignment rejected by validation", err)
	default:
		return nil, retriable(StepUpdateTicket, "ticket store unavailable", err)
	}
}

// notify reports whether this run or an earlier delivery took the assignment email.
// The memo entry is claimed before sending, so concurrent or redelivered runs send at
// most once; a send that fails after the claim is not retried.
func (p *Pipeline) notify(ctx context.Context, logger *zap.Logger, runKey string, ticket *domain.Ticket, assignee *domain.User) bool {
	if p.notifier == nil {
		return false
	}
	claimed, err := p.memo.Store(ctx, runKey, StepNotify, true)
	if err != nil {
		logger.Warn("notify claim failed; sending anyway", zap.Error(err))
	} else if !claimed {
		p.metrics.RecordStep(StepNotify, "memo")
		return true
	}

	mailCtx := ctx
	if p.cfg.MailTimeout > 0 {
		var cancel context.CancelFunc
		mailCtx, cancel = context.WithTimeout(ctx, p.cfg.MailTimeout)
		defer cancel()
	}
	if err := p.notifier.NotifyTicketAssigned(mailCtx, ticket, assignee); err != nil {
		logger.Warn("assignment email failed", zap.String("to", assignee.Email), zap.Error(err))
		p.metrics.RecordStep(StepNotify, "swallowed")
		return false
	}
	p.metrics.RecordStep(StepNotify, "ok")
	return true
}

func (p *Pipeline) fail(logger *zap.Logger, err error) error {
	se := asStepError("", err)
	logger.Error("pipeline step failed",
		zap.String("step", se.Step),
		zap.String("kind", se.Kind.String()),
		zap.String("reason", se.Reason),
		zap.Error(se.Err))
	return se
}

func runStep[T any](ctx context.Context, p *Pipeline, logger *zap.Logger, runKey, step string, body func(context.Context) (T, error)) (T, error) {
	var memoized T
	ok, err := p.memo.Load(ctx, runKey, step, &memoized)
	switch {
	case err != nil:
		logger.Warn("memo load failed; running step", zap.String("step", step), zap.Error(err))
	case ok:
		p.metrics.RecordStep(step, "memo")
		return memoized, nil
	}

	out, err := body(ctx)
	if err != nil {
		se := asStepError(step, err)
		p.metrics.RecordStep(step, se.Kind.String())
		var zero T
		return zero, se
	}
	won, err := p.memo.Store(ctx, runKey, step, out)
	switch {
	case err != nil:
		logger.Warn("memo store failed", zap.String("step", step), zap.Error(err))
	case !won:
		// A concurrent delivery memoized this step first; adopt its output.
		var winner T
		if ok, err := p.memo.Load(ctx, runKey, step, &winner); err == nil && ok {
			p.metrics.RecordStep(step, "memo")
			return winner, nil
		}
		logger.Warn("memo lost race but winner unreadable; keeping own output", zap.String("step", step))
	}
	p.metrics.RecordStep(step, "ok")
	return out, nil
}
