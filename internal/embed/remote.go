package embed

import (
	"context"
	"errors"
	"fmt"

	gemini "github.com/google/generative-ai-go/genai"
	"github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"

	"github.com/felixgeelhaar/termax/internal/provider"
)

type OpenAI struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewOpenAI(cfg provider.OpenAIConfig, model string) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, provider.Unavailable("openai embeddings", "openai.api_key is not configured")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	m := openai.SmallEmbedding3
	if model != "" {
		m = openai.EmbeddingModel(model)
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  m,
	}, nil
}

func (e *OpenAI) Name() string {
	return "openai-" + string(e.model)
}

func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

type Gemini struct {
	client *gemini.Client
	model  string
}

func NewGemini(ctx context.Context, cfg provider.GeminiConfig, model string) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, provider.Unavailable("gemini embeddings", "gemini.api_key is not configured")
	}

	client, err := gemini.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = "text-embedding-004"
	}

	return &Gemini{client: client, model: model}, nil
}

func (e *Gemini) Name() string {
	return "gemini-" + e.model
}

func (e *Gemini) Close() error {
	return e.client.Close()
}

func (e *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.client.EmbeddingModel(e.model).EmbedContent(ctx, gemini.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings failed: %w", err)
	}
	if res.Embedding == nil {
		return nil, errors.New("no embedding returned")
	}
	return res.Embedding.Values, nil
}

type Ollama struct {
	client *api.Client
	model  string
}

func NewOllama(cfg provider.OllamaConfig) (*Ollama, error) {
	client, err := provider.NewOllamaClient(cfg.Host)
	if err != nil {
		return nil, provider.Unavailable("ollama embeddings", err.Error())
	}

	model := cfg.EmbedModel
	if model == "" {
		model = "nomic-embed-text"
	}
	return &Ollama{client: client, model: model}, nil
}

func (e *Ollama) Name() string {
	return "ollama-" + e.model
}

func (e *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings failed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return resp.Embeddings[0], nil
}
