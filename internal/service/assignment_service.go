package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/repository"
)

// AssignmentService decides who owns a freshly triaged ticket.
type AssignmentService struct {
	users         repository.UserRepository
	fallbackEmail string
	logger        *zap.Logger
}

// AssignmentDependencies bundles repositories and policy settings.
type AssignmentDependencies struct {
	UserRepo repository.UserRepository
	// FallbackEmail names the account used when no moderator or admin exists. Empty disables it.
	FallbackEmail string
	Logger        *zap.Logger
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		users:         deps.UserRepo,
		fallbackEmail: strings.TrimSpace(deps.FallbackEmail),
		logger:        logger,
	}
}

// SelectAssignee applies strict precedence: the oldest moderator, else the oldest admin, else
// the fallback account. It returns domain.ErrNoAssignee when every level is empty; any other
// error comes from the store.
func (s *AssignmentService) SelectAssignee(ctx context.Context) (*domain.User, error) {
	for _, role := range []domain.Role{domain.RoleModerator, domain.RoleAdmin} {
		user, err := s.users.FirstByRole(ctx, role)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	if s.fallbackEmail == "" {
		return nil, domain.ErrNoAssignee
	}
	user, err := s.users.GetByEmail(ctx, s.fallbackEmail)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("fallback assignee not found", zap.String("email", s.fallbackEmail))
		return nil, domain.ErrNoAssignee
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
