package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusCreated  TicketStatus = "created"
	TicketStatusTriaging TicketStatus = "triaging"
	TicketStatusAssigned TicketStatus = "assigned"
	TicketStatusResolved TicketStatus = "resolved"
	TicketStatusClosed   TicketStatus = "closed"
)

// TicketPriority enumerates urgency as decided by triage.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID            string
	Title         string
	Description   string
	Status        TicketStatus
	Priority      TicketPriority
	AssigneeID    *string
	HelpfulNotes  string
	RelatedSkills []string
	CreatorID     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusCreated, TicketStatusTriaging, TicketStatusAssigned, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// Owned reports whether a ticket in this status must carry an assignee.
func (s TicketStatus) Owned() bool {
	return s == TicketStatusAssigned || s == TicketStatusResolved || s == TicketStatusClosed
}

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	}
	return false
}

// ParsePriority maps free-form text such as "High" or " LOW " into the enum domain.
// Unknown or empty input yields medium.
func ParsePriority(raw string) TicketPriority {
	p := TicketPriority(strings.ToLower(strings.TrimSpace(raw)))
	if p.Valid() {
		return p
	}
	return TicketPriorityMedium
}

// ParseTicketStatus validates a status string.
func ParseTicketStatus(raw string) (TicketStatus, bool) {
	s := TicketStatus(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// TicketAssignment is the single write the pipeline applies to a triaged ticket.
type TicketAssignment struct {
	Priority      TicketPriority
	HelpfulNotes  string
	RelatedSkills []string
	AssigneeID    string
}

// Validate checks enum values and the assignee invariant before a write.
func (a TicketAssignment) Validate() error {
	if !a.Priority.Valid() {
		return ErrInvalidPriority
	}
	if strings.TrimSpace(a.AssigneeID) == "" {
		return ErrMissingAssignee
	}
	return nil
}

// AssignableStatuses are the states from which the pipeline may (re)apply an assignment.
// Re-applying to an already assigned ticket is how redelivered events converge.
var AssignableStatuses = []TicketStatus{TicketStatusCreated, TicketStatusTriaging, TicketStatusAssigned}
