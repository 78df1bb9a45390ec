package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// ChatBackend answers chat turns through an OpenAI-compatible completions API.
// OpenAI, Gemini and OpenRouter differ only in base URL, key and model names.
type ChatBackend struct {
	client       *openai.Client
	apiKey       string
	provider     string
	model        string
	historyLimit int
	logger       *zap.Logger
}

// ChatConfig holds one chat backend.
type ChatConfig struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Model        string
	HistoryLimit int
	Timeout      time.Duration
	Logger       *zap.Logger
}

// NewChatBackend creates a chat backend.
func NewChatBackend(cfg *ChatConfig) *ChatBackend {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatBackend{
		client:       openai.NewClientWithConfig(clientCfg),
		apiKey:       cfg.APIKey,
		provider:     cfg.Provider,
		model:        cfg.Model,
		historyLimit: cfg.HistoryLimit,
		logger:       logger,
	}
}

// Name returns the backend name used for routing.
func (b *ChatBackend) Name() string { return b.provider }

// DefaultModel returns the model used when a request names none.
func (b *ChatBackend) DefaultModel() string { return b.model }

// Complete sends the system prompt and the trimmed history to model.
func (b *ChatBackend) Complete(ctx context.Context, model string, req domain.ChatRequest) (domain.ChatResponse, error) {
	if model == "" {
		model = b.model
	}
	if b.apiKey == "" {
		return domain.ChatResponse{}, &domain.ProviderError{
			Provider: b.provider, Model: model, Err: domain.ErrMissingCredentials,
		}
	}

	history := domain.TrimHistory(req.Messages, b.historyLimit)
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    chatRole(m.Role),
			Content: m.Content,
		})
	}
	if len(messages) == 0 {
		return domain.ChatResponse{}, fmt.Errorf("no messages to send: %w", domain.ErrInvalidRequest)
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return domain.ChatResponse{}, parseChatError(b.provider, model, err)
	}
	if len(resp.Choices) == 0 {
		return domain.ChatResponse{}, &domain.ProviderError{
			Provider: b.provider, Model: model,
			Err: fmt.Errorf("empty choices: %w", domain.ErrGenerationFailed),
		}
	}

	b.logger.Debug("Chat completion finished",
		zap.String("provider", b.provider),
		zap.String("model", model),
		zap.Int("history", len(history)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	respModel := resp.Model
	if respModel == "" {
		respModel = model
	}
	return domain.ChatResponse{
		Content:  resp.Choices[0].Message.Content,
		Provider: b.provider,
		Model:    respModel,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func chatRole(r domain.Role) string {
	switch r {
	case domain.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case domain.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
