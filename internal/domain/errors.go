package domain

import (
	"errors"
	"strings"
)

var (
	ErrInvalidPriority = errors.New("invalid ticket priority")
	ErrInvalidStatus   = errors.New("invalid ticket status")
	ErrInvalidRole     = errors.New("invalid role")
	ErrMissingAssignee = errors.New("assignee required")
	// ErrNoAssignee means no moderator, admin or fallback account exists.
	ErrNoAssignee      = errors.New("no moderator or admin available")
)

// CleanTags trims, drops empties and removes duplicates while keeping first-seen order.
func CleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}
