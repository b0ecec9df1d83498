package adapter

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/model"
	"google.golang.org/genai"
)

// geminiModels is the subset of genai.Models used by GeminiClient.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiClient implements interfaces.LLM and interfaces.Embedder on Vertex AI.
type GeminiClient struct {
	models          geminiModels
	generativeModel string
	embeddingModel  string
	dimensions      int32
	retry           RetryConfig
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

// WithEmbeddingDimensions truncates embeddings to dims. Zero keeps the model default.
func WithEmbeddingDimensions(dims int) GeminiOption {
	return func(g *GeminiClient) {
		g.dimensions = int32(dims)
	}
}

func WithGeminiRetry(cfg RetryConfig) GeminiOption {
	return func(g *GeminiClient) {
		g.retry = cfg
	}
}

// withGeminiModels replaces the API surface, used by tests.
func withGeminiModels(models geminiModels) GeminiOption {
	return func(g *GeminiClient) {
		g.models = models
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	g := &GeminiClient{
		generativeModel: "gemini-2.5-flash",
		embeddingModel:  "gemini-embedding-001",
		dimensions:      768,
		retry:           DefaultRetryConfig(),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.models == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			Project:  projectID,
			Location: location,
			Backend:  genai.BackendVertexAI,
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create genai client")
		}
		g.models = client.Models
	}

	return g, nil
}

func isRetryableGemini(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return retryableStatus(apiErrPtr.Code)
	}
	return false
}

// Complete sends the messages as one generation request. System messages
// are merged into the system instruction.
func (g *GeminiClient) Complete(ctx context.Context, messages []model.Message) (string, error) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			system = append(system, msg.Content)
		case model.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return "", goerr.New("no user message to send")
	}

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), "")
	}

	var resp *genai.GenerateContentResponse
	err := withRetry(ctx, g.retry, isRetryableGemini, func(ctx context.Context) error {
		var err error
		resp, err = g.models.GenerateContent(ctx, g.generativeModel, contents, config)
		return err
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content", goerr.V("model", g.generativeModel))
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.New("empty response from Gemini", goerr.V("model", g.generativeModel))
	}

	var textParts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			textParts = append(textParts, part.Text)
		}
	}
	return strings.Join(textParts, ""), nil
}

func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	config := &genai.EmbedContentConfig{}
	if g.dimensions > 0 {
		config.OutputDimensionality = &g.dimensions
	}

	var resp *genai.EmbedContentResponse
	err := withRetry(ctx, g.retry, isRetryableGemini, func(ctx context.Context) error {
		var err error
		resp, err = g.models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), config)
		return err
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", g.embeddingModel))
	}

	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.New("no embedding returned", goerr.V("model", g.embeddingModel))
	}

	return resp.Embeddings[0].Values, nil
}
