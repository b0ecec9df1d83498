package adapter

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
)

const DefaultClaudeModel = "claude-sonnet-4-5"

type claudeMessages interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// ClaudeClient implements interfaces.LLM. Claude has no embedding endpoint,
// so it is paired with another Embedder.
type ClaudeClient struct {
	messages  claudeMessages
	model     string
	maxTokens int64
	retry     RetryConfig
}

type ClaudeOption func(*ClaudeClient)

func WithClaudeModel(model string) ClaudeOption {
	return func(c *ClaudeClient) {
		c.model = model
	}
}

func WithClaudeMaxTokens(n int64) ClaudeOption {
	return func(c *ClaudeClient) {
		c.maxTokens = n
	}
}

func withClaudeMessages(m claudeMessages) ClaudeOption {
	return func(c *ClaudeClient) {
		c.messages = m
	}
}

// NewClaude creates a new Claude API client
func NewClaude(apiKey string, opts ...ClaudeOption) (*ClaudeClient, error) {
	c := &ClaudeClient{
		model:     DefaultClaudeModel,
		maxTokens: 4096,
		retry:     DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.messages == nil {
		if apiKey == "" {
			return nil, goerr.New("anthropic api key is required")
		}
		client := anthropic.NewClient(option.WithAPIKey(apiKey))
		c.messages = &client.Messages
	}

	return c, nil
}

func isRetryableClaude(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}
	return false
}

func (c *ClaudeClient) Complete(ctx context.Context, messages []model.Message) (string, error) {
	var system []string
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
	}
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			system = append(system, msg.Content)
		case model.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	if len(params.Messages) == 0 {
		return "", goerr.New("no user message to send")
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	var resp *anthropic.Message
	err := withRetry(ctx, c.retry, isRetryableClaude, func(ctx context.Context) error {
		var err error
		resp, err = c.messages.New(ctx, params)
		return err
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to create message", goerr.V("model", c.model))
	}

	var text []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text = append(text, block.Text)
		}
	}
	if len(text) == 0 {
		return "", goerr.New("empty response from Claude", goerr.V("model", c.model))
	}
	return strings.Join(text, ""), nil
}
