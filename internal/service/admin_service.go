package service

import (
	"context"
	"errors"
	"strings"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/repository"
	apperrors "github.com/helpdeskhq/ticket-triage/pkg/util/errorutil"
)

// AdminService manages user roles and skills. Callers are gated by auth.RequireAdmin.
type AdminService struct {
	users repository.UserRepository
}

// AdminDependencies encapsulates repositories required for user management.
type AdminDependencies struct {
	UserRepo repository.UserRepository
}

// UpdateUserInput is a partial update addressed by email.
type UpdateUserInput struct {
	Email  string
	Role   *string
	Skills []string
}

// NewAdminService constructs the service.
func NewAdminService(deps AdminDependencies) *AdminService {
	return &AdminService{users: deps.UserRepo}
}

// UpdateUser changes the role and/or skills of the account with the given email. An empty
// skills list leaves the stored skills untouched.
func (s *AdminService) UpdateUser(ctx context.Context, input UpdateUserInput) (*domain.User, error) {
	email := domain.NormalizeEmail(input.Email)
	if email == "" {
		return nil, apperrors.NewValidationError("email is required", nil)
	}

	var update domain.UserUpdate
	if input.Role != nil && strings.TrimSpace(*input.Role) != "" {
		role, ok := domain.ParseRole(*input.Role)
		if !ok {
			return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": *input.Role})
		}
		update.Role = &role
	}
	if skills := domain.CleanTags(input.Skills); len(skills) > 0 {
		update.Skills = skills
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("user", map[string]any{"email": email})
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if update.Role == nil && update.Skills == nil {
		return user, nil
	}

	updated, err := s.users.Update(ctx, user.ID, update)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("user", map[string]any{"email": email})
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return updated, nil
}

// ListUsers returns every account, oldest first.
func (s *AdminService) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return users, nil
}
