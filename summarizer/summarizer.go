// Package summarizer is the paid operation: it condenses text into a few
// bullet points through an OpenAI-compatible chat completion API.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	// DefaultBaseURL is Gemini's OpenAI-compatible endpoint
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel   = "gemini-2.5-flash"

	promptTemplate = "Summarize the following text in 3-5 concise bullet points:\n\n%s"
)

var (
	// ErrEmptyText is returned for blank input
	ErrEmptyText = errors.New("text is required")
	// ErrNoSummary is returned when the backend answers without content
	ErrNoSummary = errors.New("backend returned no summary")
)

// Summarizer produces a short summary of text
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// ChatCompleter is the part of *openai.Client used here
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config selects the backend
type Config struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// New returns the chat completion summarizer, or the demo summarizer when no
// API key is configured.
func New(cfg Config, logger *slog.Logger) Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		logger.Warn("no summarizer API key configured, serving demo summaries")
		return Demo{}
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	} else {
		clientCfg.BaseURL = DefaultBaseURL
	}
	return NewChat(openai.NewClientWithConfig(clientCfg), cfg.Model, cfg.MaxTokens, logger)
}

// Chat summarizes through a chat completion model
type Chat struct {
	client    ChatCompleter
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewChat creates a summarizer over client. An empty model selects DefaultModel.
func NewChat(client ChatCompleter, model string, maxTokens int, logger *slog.Logger) *Chat {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chat{client: client, model: model, maxTokens: maxTokens, logger: logger}
}

func (s *Chat) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf(promptTemplate, text),
		}},
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		s.logger.Error("summary generation failed", "model", s.model, "error", err)
		return "", fmt.Errorf("generate summary: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrNoSummary
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Demo returns a fixed explanatory summary so the service runs end to end
// without credentials.
type Demo struct{}

func (Demo) Summarize(_ context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	return fmt.Sprintf(`**Demo Summary** (No API Key Configured)

- This is a demonstration summary showing how the model would respond
- Real summarization requires an API key for an OpenAI-compatible backend
- Set GEMINI_API_KEY (or OPENAI_API_KEY with summarizer.base_url) to enable it
- The paid request flow is otherwise identical

**Your original text was %d characters long.**`, len(text)), nil
}
