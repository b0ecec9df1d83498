package adapter

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultAzureAPIVersion      = "2024-02-01"
	DefaultOpenAIChatModel      = "gpt-4o"
	DefaultOpenAIEmbeddingModel = "text-embedding-ada-002"
)

type openAIAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIClient implements interfaces.LLM and interfaces.Embedder on OpenAI
// or Azure OpenAI. On Azure the model names are deployment names.
type OpenAIClient struct {
	api            openAIAPI
	chatModel      string
	embeddingModel string
	temperature    float32
	retry          RetryConfig
}

type OpenAIOption func(*OpenAIClient)

func WithOpenAIChatModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.chatModel = model
	}
}

func WithOpenAIEmbeddingModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.embeddingModel = model
	}
}

func WithOpenAITemperature(t float32) OpenAIOption {
	return func(c *OpenAIClient) {
		c.temperature = t
	}
}

func WithOpenAIRetry(cfg RetryConfig) OpenAIOption {
	return func(c *OpenAIClient) {
		c.retry = cfg
	}
}

func withOpenAIAPI(api openAIAPI) OpenAIOption {
	return func(c *OpenAIClient) {
		c.api = api
	}
}

func newOpenAIClient(api openAIAPI, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		api:            api,
		chatModel:      DefaultOpenAIChatModel,
		embeddingModel: DefaultOpenAIEmbeddingModel,
		temperature:    0.2,
		retry:          DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewAzureOpenAI creates a client for an Azure OpenAI resource.
func NewAzureOpenAI(endpoint, apiKey, apiVersion string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if endpoint == "" {
		return nil, goerr.New("azure endpoint is required")
	}
	if apiKey == "" {
		return nil, goerr.New("azure api key is required")
	}
	if apiVersion == "" {
		apiVersion = DefaultAzureAPIVersion
	}

	cfg := openai.DefaultAzureConfig(apiKey, endpoint)
	cfg.APIVersion = apiVersion
	// Deployment names are passed through as-is.
	cfg.AzureModelMapperFunc = func(model string) string {
		return model
	}

	return newOpenAIClient(openai.NewClientWithConfig(cfg), opts...), nil
}

// NewOpenAI creates a client for the public OpenAI API.
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, goerr.New("openai api key is required")
	}
	return newOpenAIClient(openai.NewClient(apiKey), opts...), nil
}

func isRetryableOpenAI(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return false
}

func toOpenAIRole(role model.Role) string {
	switch role {
	case model.RoleSystem:
		return openai.ChatMessageRoleSystem
	case model.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []model.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Temperature: c.temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    toOpenAIRole(msg.Role),
			Content: msg.Content,
		})
	}

	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, c.retry, isRetryableOpenAI, func(ctx context.Context) error {
		var err error
		resp, err = c.api.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to create chat completion", goerr.V("model", c.chatModel))
	}

	if len(resp.Choices) == 0 {
		return "", goerr.New("no choices in chat completion", goerr.V("model", c.chatModel))
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp openai.EmbeddingResponse
	err := withRetry(ctx, c.retry, isRetryableOpenAI, func(ctx context.Context) error {
		var err error
		resp, err = c.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: []string{text},
			Model: openai.EmbeddingModel(c.embeddingModel),
		})
		return err
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding", goerr.V("model", c.embeddingModel))
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, goerr.New("no embedding returned", goerr.V("model", c.embeddingModel))
	}
	return resp.Data[0].Embedding, nil
}
