package auth

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/repository"
	apperrors "github.com/helpdeskhq/ticket-triage/pkg/util/errorutil"
)

// UserLookup loads the persisted user behind a principal.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// RequireAdmin re-reads the caller on every request so a demotion takes effect
// before the session token expires.
func RequireAdmin(users UserLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		user, err := users.GetByID(c.UserContext(), principal.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewUnauthorized("account no longer exists")
		}
		if err != nil {
			return apperrors.MapError(err)
		}
		if user.Role != domain.RoleAdmin {
			return apperrors.NewForbidden("admin role required")
		}
		return c.Next()
	}
}
