package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/helpdeskhq/ticket-triage/internal/api/dto"
	"github.com/helpdeskhq/ticket-triage/internal/auth"
	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/service"
	apperrors "github.com/helpdeskhq/ticket-triage/pkg/util/errorutil"
)

// TicketsHandler manages ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /ticket/create. Triage happens asynchronously.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), principal.UserID, service.TicketCreateInput{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketSummary(ticket)})
}

// ListTickets GET /ticket/all.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	views, err := h.service.ListTickets(c.UserContext(), principal.UserID, parseTicketQuery(c))
	if err != nil {
		return err
	}
	items := make([]any, 0, len(views))
	for i := range views {
		items = append(items, dto.NewTicketView(&views[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /ticket/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	view, err := h.service.GetTicket(c.UserContext(), principal.UserID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketView(view)})
}

// Paging bounds. Capping page keeps (page-1)*pageSize far from overflow.
const (
	defaultPageSize = 20
	maxPageSize     = 200
	maxPage         = 1_000_000
)

func parseTicketQuery(c *fiber.Ctx) service.TicketListInput {
	input := service.TicketListInput{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			input.Statuses = append(input.Statuses, domain.TicketStatus(strings.ToLower(strings.TrimSpace(part))))
		}
	}
	if priorityStr := c.Query("priority"); priorityStr != "" {
		for _, part := range strings.Split(priorityStr, ",") {
			input.Priorities = append(input.Priorities, domain.TicketPriority(strings.ToLower(strings.TrimSpace(part))))
		}
	}
	page := min(parseInt(c.Query("page"), 1), maxPage)
	pageSize := min(parseInt(c.Query("page_size"), defaultPageSize), maxPageSize)
	input.Offset = (page - 1) * pageSize
	input.Limit = pageSize
	return input
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
