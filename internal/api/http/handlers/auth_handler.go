package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/helpdeskhq/ticket-triage/internal/api/dto"
	"github.com/helpdeskhq/ticket-triage/internal/auth"
	"github.com/helpdeskhq/ticket-triage/internal/service"
	apperrors "github.com/helpdeskhq/ticket-triage/pkg/util/errorutil"
)

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
}

// AuthHandler exposes login, logout and profile endpoints.
type AuthHandler struct {
	auth   *service.AuthService
	cookie CookieConfig
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, cookie CookieConfig) *AuthHandler {
	return &AuthHandler{auth: authService, cookie: cookie}
}

// Login handles POST /auth/login. A Google authorization code takes precedence over local credentials.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	var (
		result *service.LoginResult
		err    error
	)
	switch {
	case strings.TrimSpace(req.Code) != "":
		result, err = h.auth.LoginWithGoogle(c.UserContext(), req.Code)
	case req.Email != "" || req.Password != "":
		result, err = h.auth.LoginWithPassword(c.UserContext(), req.Email, req.Password)
	default:
		return apperrors.NewValidationError("code or email and password required", nil)
	}
	if err != nil {
		return err
	}

	h.setCookie(c, result.Session.Token, result.Session.ExpiresAt)
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"data": fiber.Map{
			"user": dto.NewUserResponse(result.User),
			"auth": dto.AuthResponse{Token: result.Session.Token, ExpiresAt: result.Session.ExpiresAt},
		},
	})
}

// Logout handles DELETE /auth/logout by expiring the session cookie.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	h.setCookie(c, "", time.Unix(0, 0))
	return c.JSON(fiber.Map{"data": fiber.Map{"message": "logged out"}})
}

// Profile handles GET /auth/profile.
func (h *AuthHandler) Profile(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	user, err := h.auth.Profile(c.UserContext(), principal.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

func (h *AuthHandler) setCookie(c *fiber.Ctx, value string, expires time.Time) {
	sameSite := fiber.CookieSameSiteLaxMode
	if h.cookie.Secure {
		sameSite = fiber.CookieSameSiteNoneMode
	}
	c.Cookie(&fiber.Cookie{
		Name:     h.cookie.Name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: sameSite,
	})
}
