package ai

import (
	"context"
	"errors"
	"time"

	"smile-ai/backend/conversation/models"
	"smile-ai/backend/pkg/logger"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures the chat-completions client
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	// MaxRetries is the SDK's own retry budget for 429/5xx answers
	MaxRetries int
	Timeout    time.Duration
}

// OpenAIClient implements Completer on the Chat Completions API
type OpenAIClient struct {
	client openai.Client
	log    *logger.Logger
}

// NewOpenAIClient creates a new completion client
func NewOpenAIClient(cfg OpenAIConfig, log *logger.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		log:    log,
	}, nil
}

// Complete sends messages in order and returns the first choice's text as-is
func (c *OpenAIClient) Complete(ctx context.Context, messages []models.Turn, opts Options) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages:            toChatMessages(messages),
		Model:               opts.Model,
		Temperature:         openai.Float(opts.Temperature),
		MaxCompletionTokens: openai.Int(opts.MaxTokens),
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			c.log.WithContext(ctx).Warn("Completion provider rejected request",
				"status", apiErr.StatusCode,
				"model", opts.Model,
			)
		}
		return "", err
	}

	c.log.WithContext(ctx).Debug("Completion received",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration", time.Since(start).String(),
	)

	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

func toChatMessages(turns []models.Turn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case models.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	return messages
}
