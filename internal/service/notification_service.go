package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/helpdeskhq/ticket-triage/internal/config"
	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/events"
	"github.com/helpdeskhq/ticket-triage/internal/mail"
)

// NotificationService renders and sends transactional email.
type NotificationService struct {
	gateway    mail.Gateway
	dispatcher events.Dispatcher
	cfg        config.MailConfig
	logger     *zap.Logger
}

// NotificationDependencies bundles collaborators.
type NotificationDependencies struct {
	Gateway    mail.Gateway
	Dispatcher events.Dispatcher
	Config     config.MailConfig
	Logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		gateway:    deps.Gateway,
		dispatcher: deps.Dispatcher,
		cfg:        deps.Config,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventUserRegistered, n.handleUserRegistered)
}

// NotifyTicketAssigned emails the assignee. The caller decides what a failure means.
func (n *NotificationService) NotifyTicketAssigned(ctx context.Context, ticket *domain.Ticket, assignee *domain.User) error {
	name := assignee.FullName
	if name == "" {
		name = assignee.Email
	}
	msg, err := mail.TicketAssigned(assignee.Email, mail.TicketAssignedData{
		AssigneeName:   name,
		TicketTitle:    ticket.Title,
		Priority:       string(ticket.Priority),
		HelpfulNotes:   ticket.HelpfulNotes,
		RelatedSkills:  ticket.RelatedSkills,
		DashboardURL:   n.cfg.DashboardURL,
		SupportAddress: n.cfg.SupportAddress,
	})
	if err != nil {
		return err
	}
	receipt, err := n.gateway.Send(ctx, msg)
	if err != nil {
		return err
	}
	n.logger.Info("assignment email sent",
		zap.String("ticket_id", ticket.ID),
		zap.String("to", assignee.Email),
		zap.String("message_id", receipt.MessageID))
	return nil
}

// handleUserRegistered sends the welcome email. Failures are logged and never redelivered.
func (n *NotificationService) handleUserRegistered(ctx context.Context, event events.Event) error {
	var payload events.UserRegisteredPayload
	if err := event.Decode(&payload); err != nil {
		n.logger.Warn("skipping user/registered", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}
	name := payload.FullName
	if name == "" {
		name = payload.Email
	}
	msg, err := mail.Welcome(payload.Email, mail.WelcomeData{
		Name:           name,
		DashboardURL:   n.cfg.DashboardURL,
		SupportAddress: n.cfg.SupportAddress,
	})
	var receipt mail.Receipt
	if err == nil {
		receipt, err = n.gateway.Send(ctx, msg)
	}
	if err != nil {
		n.logger.Warn("welcome email failed", zap.String("user_id", payload.UserID), zap.Error(err))
		return nil
	}
	n.logger.Info("welcome email sent", zap.String("user_id", payload.UserID), zap.String("message_id", receipt.MessageID))
	return nil
}
