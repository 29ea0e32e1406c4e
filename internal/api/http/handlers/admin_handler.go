package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/helpdeskhq/ticket-triage/internal/api/dto"
	"github.com/helpdeskhq/ticket-triage/internal/service"
	apperrors "github.com/helpdeskhq/ticket-triage/pkg/util/errorutil"
)

// AdminHandler exposes user management. Routes sit behind auth.RequireAdmin.
type AdminHandler struct {
	service *service.AdminService
}

// NewAdminHandler constructs handler.
func NewAdminHandler(adminService *service.AdminService) *AdminHandler {
	return &AdminHandler{service: adminService}
}

// UpdateUser POST /admin/update-users.
func (h *AdminHandler) UpdateUser(c *fiber.Ctx) error {
	var req dto.UpdateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	user, err := h.service.UpdateUser(c.UserContext(), service.UpdateUserInput{
		Email:  req.Email,
		Role:   req.Role,
		Skills: req.Skills,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// ListUsers GET /admin/allusers.
func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	users, err := h.service.ListUsers(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		items = append(items, dto.NewUserResponse(&users[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}
