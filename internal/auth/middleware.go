package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
	apperrors "github.com/helpdeskhq/ticket-triage/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller as stated by the session token.
type Principal struct {
	UserID string
	Role   domain.Role
}

// AuthMiddleware validates session tokens from the cookie or a bearer header.
type AuthMiddleware struct {
	tokens     *TokenManager
	cookieName string
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, cookieName string) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, cookieName: cookieName}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token := c.Cookies(m.cookieName)
	if token == "" {
		token = bearerToken(c.Get(fiber.HeaderAuthorization))
	}
	if token == "" {
		return apperrors.NewUnauthorized("session token not found")
	}

	claims, err := m.tokens.ParseToken(token)
	if err != nil {
		return apperrors.NewUnauthorized("invalid or expired session")
	}

	c.Locals(principalKey, &Principal{UserID: claims.Subject, Role: claims.Role})
	return c.Next()
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// PrincipalFromContext retrieves the authenticated caller.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
