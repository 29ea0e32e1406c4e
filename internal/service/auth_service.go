package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/helpdeskhq/ticket-triage/internal/auth"
	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/events"
	"github.com/helpdeskhq/ticket-triage/internal/repository"
	apperrors "github.com/helpdeskhq/ticket-triage/pkg/util/errorutil"
)

// AuthService coordinates login flows.
type AuthService struct {
	users      repository.UserRepository
	tokens     *auth.TokenManager
	identity   auth.IdentityProvider
	dispatcher events.Dispatcher
	bcryptCost int
	logger     *zap.Logger
}

// AuthDependencies encapsulates collaborators for the auth service. Identity may be nil when
// Google login is not configured.
type AuthDependencies struct {
	UserRepo   repository.UserRepository
	Tokens     *auth.TokenManager
	Identity   auth.IdentityProvider
	Dispatcher events.Dispatcher
	BcryptCost int
	Logger     *zap.Logger
}

// LoginResult is a signed-in user and the session issued for them.
type LoginResult struct {
	User    *domain.User
	Session domain.Session
	Created bool
}

// SeedUserInput provisions a local password account.
type SeedUserInput struct {
	Email    string
	FullName string
	Password string
	Role     string
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		tokens:     deps.Tokens,
		identity:   deps.Identity,
		dispatcher: deps.Dispatcher,
		bcryptCost: deps.BcryptCost,
		logger:     logger,
	}
}

// TokenManager exposes the token manager for middleware wiring.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokens
}

// LoginWithGoogle exchanges an authorization code. The first login of an address creates a
// user account and publishes user/registered.
func (s *AuthService) LoginWithGoogle(ctx context.Context, code string) (*LoginResult, error) {
	if s.identity == nil {
		return nil, apperrors.NewDomainError("NOT_CONFIGURED", "google login is not configured", http.StatusServiceUnavailable, nil)
	}
	if strings.TrimSpace(code) == "" {
		return nil, apperrors.NewValidationError("authorization code is required", nil)
	}

	identity, err := s.identity.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("google exchange failed", zap.Error(err))
		return nil, apperrors.NewUnauthorized("google sign-in failed")
	}

	user, err := s.users.GetByEmail(ctx, identity.Email)
	created := false
	switch {
	case errors.Is(err, repository.ErrNotFound):
		user, created, err = s.register(ctx, identity)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, apperrors.MapError(err)
	}

	session, err := s.tokens.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &LoginResult{User: user, Session: session, Created: created}, nil
}

func (s *AuthService) register(ctx context.Context, identity *domain.ExternalIdentity) (*domain.User, bool, error) {
	subject := identity.Subject
	pic := identity.ProfilePic
	if pic == "" {
		pic = domain.DefaultProfilePic
	}
	user := &domain.User{
		Email:      identity.Email,
		GoogleID:   &subject,
		FullName:   identity.FullName,
		ProfilePic: pic,
		Role:       domain.RoleUser,
		Skills:     []string{},
	}
	err := s.users.Create(ctx, user)
	if errors.Is(err, repository.ErrConflict) {
		// A concurrent first login won the insert.
		existing, getErr := s.users.GetByEmail(ctx, identity.Email)
		if getErr != nil {
			return nil, false, apperrors.MapError(getErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, apperrors.MapError(err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))
	s.publishRegistered(ctx, user)
	return user, true, nil
}

func (s *AuthService) publishRegistered(ctx context.Context, user *domain.User) {
	if s.dispatcher == nil {
		return
	}
	event, err := events.NewEvent(events.EventUserRegistered, events.Actor{UserID: user.ID, Role: string(user.Role)}, events.UserRegisteredPayload{
		UserID:   user.ID,
		Email:    user.Email,
		FullName: user.FullName,
	})
	if err == nil {
		err = s.dispatcher.Publish(ctx, event)
	}
	if err != nil {
		s.logger.Warn("publish user/registered failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

// LoginWithPassword authenticates a locally provisioned account.
func (s *AuthService) LoginWithPassword(ctx context.Context, email, password string) (*LoginResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, apperrors.NewValidationError("email and password are required", nil)
	}
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !user.HasPassword() || auth.ComparePassword(user.PasswordHash, password) != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}

	session, err := s.tokens.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &LoginResult{User: user, Session: session}, nil
}

// Profile returns the persisted account of the caller.
func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("user", map[string]any{"user_id": userID})
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

// SeedUser creates or updates a password account, e.g. the fallback admin.
func (s *AuthService) SeedUser(ctx context.Context, input SeedUserInput) (*domain.User, error) {
	email := domain.NormalizeEmail(input.Email)
	if email == "" {
		return nil, apperrors.NewValidationError("email is required", nil)
	}
	role, ok := domain.ParseRole(input.Role)
	if !ok {
		return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": input.Role})
	}
	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Email:        email,
		FullName:     strings.TrimSpace(input.FullName),
		ProfilePic:   domain.DefaultProfilePic,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.users.UpsertLocal(ctx, user); err != nil {
		return nil, apperrors.MapError(err)
	}
	return user, nil
}
