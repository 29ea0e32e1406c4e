package triage

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/helpdeskhq/ticket-triage/internal/domain"
)

var codeFence = regexp.MustCompile("(?i)```(?:json)?")

type rawSuggestion struct {
	Summary       string          `json:"summary"`
	Priority      string          `json:"priority"`
	HelpfulNotes  string          `json:"helpfulNotes"`
	RelatedSkills json.RawMessage `json:"relatedSkills"`
}

// Parse turns raw model output into a Suggestion. Markdown fences and prose around the
// JSON object are tolerated. Priority is mapped case-insensitively, defaulting to medium;
// relatedSkills may be an array or a comma separated string.
func Parse(content string) (*Suggestion, error) {
	cleaned := strings.TrimSpace(codeFence.ReplaceAllString(content, ""))
	if cleaned == "" {
		return nil, ErrEmptyResponse
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, ErrMalformedResponse
	}

	var raw rawSuggestion
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	skills := parseSkills(raw.RelatedSkills)
	if strings.TrimSpace(raw.Priority) == "" && strings.TrimSpace(raw.HelpfulNotes) == "" && len(skills) == 0 {
		return nil, ErrEmptyResponse
	}

	return &Suggestion{
		Summary:       strings.TrimSpace(raw.Summary),
		Priority:      domain.ParsePriority(raw.Priority),
		HelpfulNotes:  strings.TrimSpace(raw.HelpfulNotes),
		RelatedSkills: skills,
	}, nil
}

func parseSkills(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return domain.CleanTags(list)
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		return domain.CleanTags(strings.Split(joined, ","))
	}
	return []string{}
}
