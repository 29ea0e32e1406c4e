package dto

import (
	"time"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
	"github.com/helpdeskhq/ticket-triage/internal/service"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TicketSummary is what a ticket's creator sees.
type TicketSummary struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Status      domain.TicketStatus   `json:"status"`
	Priority    domain.TicketPriority `json:"priority"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// TicketAssignee is the slice of the assignee shown to staff.
type TicketAssignee struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// TicketDetailResponse is what staff see.
type TicketDetailResponse struct {
	TicketSummary
	HelpfulNotes  string          `json:"helpful_notes"`
	RelatedSkills []string        `json:"related_skills"`
	CreatorID     string          `json:"creator_id"`
	AssigneeID    *string         `json:"assignee_id"`
	Assignee      *TicketAssignee `json:"assignee"`
}

// NewTicketSummary maps a ticket for its creator.
func NewTicketSummary(ticket *domain.Ticket) TicketSummary {
	return TicketSummary{
		ID:          ticket.ID,
		Title:       ticket.Title,
		Description: ticket.Description,
		Status:      ticket.Status,
		Priority:    ticket.Priority,
		CreatedAt:   ticket.CreatedAt,
		UpdatedAt:   ticket.UpdatedAt,
	}
}

// NewTicketView renders a service view: staff get the detail shape, users the summary.
func NewTicketView(view *service.TicketView) any {
	summary := NewTicketSummary(&view.Ticket)
	if !view.StaffView {
		return summary
	}
	skills := view.Ticket.RelatedSkills
	if skills == nil {
		skills = []string{}
	}
	detail := TicketDetailResponse{
		TicketSummary: summary,
		HelpfulNotes:  view.Ticket.HelpfulNotes,
		RelatedSkills: skills,
		CreatorID:     view.Ticket.CreatorID,
		AssigneeID:    view.Ticket.AssigneeID,
	}
	if view.Assignee != nil {
		detail.Assignee = &TicketAssignee{ID: view.Assignee.ID, Email: view.Assignee.Email}
	}
	return detail
}
