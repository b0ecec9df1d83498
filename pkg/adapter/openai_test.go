package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/talk2sql/pkg/adapter"
	"github.com/m-mizutani/talk2sql/pkg/model"
	openai "github.com/sashabaranov/go-openai"
)

type mockOpenAI struct {
	chatCalls int
	chatFunc  func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	embedFunc func(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

func (m *mockOpenAI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.chatCalls++
	return m.chatFunc(ctx, req)
}

func (m *mockOpenAI) CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	return m.embedFunc(ctx, conv)
}

func newTestOpenAI(t *testing.T, api *mockOpenAI, opts ...adapter.OpenAIOption) *adapter.OpenAIClient {
	opts = append(opts,
		adapter.WithOpenAIAPI(api),
		adapter.WithOpenAIRetry(adapter.RetryConfig{MaxAttempts: 3}),
	)
	client, err := adapter.NewOpenAI("dummy-key", opts...)
	gt.NoError(t, err)
	return client
}

func TestOpenAIComplete(t *testing.T) {
	ctx := context.Background()
	api := &mockOpenAI{
		chatFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			gt.Equal(t, req.Model, "sql-deployment")
			gt.A(t, req.Messages).Length(2)
			gt.Equal(t, req.Messages[0].Role, openai.ChatMessageRoleSystem)
			gt.Equal(t, req.Messages[1].Content, "How many users?")
			return openai.ChatCompletionResponse{
				Choices: []openai.ChatCompletionChoice{
					{Message: openai.ChatCompletionMessage{Content: "SELECT COUNT(*) FROM users"}},
				},
			}, nil
		},
	}

	client := newTestOpenAI(t, api, adapter.WithOpenAIChatModel("sql-deployment"))
	resp, err := client.Complete(ctx, []model.Message{
		model.SystemMessage("system"),
		model.UserMessage("How many users?"),
	})
	gt.NoError(t, err)
	gt.Equal(t, resp, "SELECT COUNT(*) FROM users")
}

func TestOpenAICompleteRetriesRateLimit(t *testing.T) {
	ctx := context.Background()
	api := &mockOpenAI{}
	api.chatFunc = func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		if api.chatCalls < 3 {
			return openai.ChatCompletionResponse{}, &openai.APIError{HTTPStatusCode: 429, Message: "rate limited"}
		}
		return openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
		}, nil
	}

	client := newTestOpenAI(t, api)
	resp, err := client.Complete(ctx, []model.Message{model.UserMessage("hi")})
	gt.NoError(t, err)
	gt.Equal(t, resp, "ok")
	gt.Equal(t, api.chatCalls, 3)
}

func TestOpenAICompleteDoesNotRetryBadRequest(t *testing.T) {
	ctx := context.Background()
	api := &mockOpenAI{
		chatFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return openai.ChatCompletionResponse{}, &openai.APIError{HTTPStatusCode: 400, Message: "bad request"}
		},
	}

	client := newTestOpenAI(t, api)
	_, err := client.Complete(ctx, []model.Message{model.UserMessage("hi")})
	gt.Error(t, err)
	gt.Equal(t, api.chatCalls, 1)
}

func TestOpenAIEmbed(t *testing.T) {
	ctx := context.Background()
	api := &mockOpenAI{
		embedFunc: func(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
			req := conv.Convert()
			gt.Equal(t, req.Model, openai.EmbeddingModel("text-embedding-ada-002"))
			return openai.EmbeddingResponse{
				Data: []openai.Embedding{{Embedding: []float32{1, 0}}},
			}, nil
		},
	}

	client := newTestOpenAI(t, api)
	vec, err := client.Embed(ctx, "orders")
	gt.NoError(t, err)
	gt.Equal(t, vec, []float32{1, 0})
}

func TestAzureOpenAILive(t *testing.T) {
	endpoint := os.Getenv("TEST_AZURE_OPENAI_ENDPOINT")
	apiKey := os.Getenv("TEST_AZURE_OPENAI_API_KEY")
	deployment := os.Getenv("TEST_AZURE_OPENAI_DEPLOYMENT")
	if endpoint == "" || apiKey == "" || deployment == "" {
		t.Skip("TEST_AZURE_OPENAI_ENDPOINT, TEST_AZURE_OPENAI_API_KEY or TEST_AZURE_OPENAI_DEPLOYMENT is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewAzureOpenAI(endpoint, apiKey, "", adapter.WithOpenAIChatModel(deployment))
	gt.NoError(t, err)

	resp, err := client.Complete(ctx, []model.Message{model.UserMessage("Reply with OK")})
	gt.NoError(t, err)
	gt.S(t, resp).Contains("OK")
}
