// Package triage asks a chat-completion model to classify a support ticket and
// normalizes whatever comes back into domain values.
package triage

import (
	"context"
	"errors"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
)

// FallbackNotes is used when no usable model answer is available.
const FallbackNotes = "No AI suggestions available"

var (
	// ErrEmptyResponse is returned when the model produced no content, or an object
	// carrying none of priority, helpfulNotes and relatedSkills.
	ErrEmptyResponse = errors.New("triage: empty model response")
	// ErrMalformedResponse is returned when the content holds no JSON object.
	ErrMalformedResponse = errors.New("triage: malformed model response")
)

// Suggestion is a normalized triage answer.
type Suggestion struct {
	Summary       string                `json:"summary"`
	Priority      domain.TicketPriority `json:"priority"`
	HelpfulNotes  string                `json:"helpfulNotes"`
	RelatedSkills []string              `json:"relatedSkills"`
}

// Fallback is substituted whenever analysis fails.
func Fallback() Suggestion {
	return Suggestion{
		Priority:      domain.TicketPriorityMedium,
		HelpfulNotes:  FallbackNotes,
		RelatedSkills: []string{},
	}
}

// Analyzer classifies a ticket.
type Analyzer interface {
	Analyze(ctx context.Context, title, description string) (*Suggestion, error)
}
