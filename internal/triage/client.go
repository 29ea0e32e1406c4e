package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/helpdeskhq/ticket-triage/internal/config"
)

const systemPrompt = `You are an expert AI assistant that processes technical support tickets.
Respond with valid raw JSON only, as a single object with the keys:
- summary (1-2 sentences)
- priority ("Low", "Medium", "High")
- helpfulNotes (technical guidance for the moderator handling the ticket)
- relatedSkills (array of relevant skills)`

// Client calls an OpenAI-compatible chat completion endpoint. The default base URL points
// at Gemini's compatibility layer; any compatible server works.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// NewClient builds a client from configuration.
func NewClient(cfg config.AIConfig) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout(),
	}
}

// Analyze asks the model for a triage suggestion. Callers decide what to do on error.
func (c *Client) Analyze(ctx context.Context, title, description string) (*Suggestion, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(title, description)},
		},
		Temperature:    0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("triage: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return Parse(resp.Choices[0].Message.Content)
}

func userPrompt(title, description string) string {
	return fmt.Sprintf("Analyze the following ticket and return a strict JSON object:\n\nTitle: %s\nDescription: %s\n", title, description)
}
