package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ollama/ollama/api"
)

// OllamaHost resolves the server address: explicit config, then
// OLLAMA_HOST, then the local default.
func OllamaHost(host string) string {
	if host != "" {
		return host
	}
	if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
		return envURL
	}
	return "http://localhost:11434"
}

// NewOllamaClient builds an api.Client for the resolved host.
func NewOllamaClient(host string) (*api.Client, error) {
	uri, err := url.Parse(OllamaHost(host))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host: %w", err)
	}
	return api.NewClient(uri, http.DefaultClient), nil
}

type OllamaProvider struct {
	client   *api.Client
	model    string
	sampling Sampling
}

func NewOllamaProvider(cfg OllamaConfig) (*OllamaProvider, error) {
	if err := cfg.Sampling.Validate(); err != nil {
		return nil, err
	}
	client, err := NewOllamaClient(cfg.Host)
	if err != nil {
		return nil, Unavailable("ollama", err.Error())
	}

	model := cfg.Model
	if model == "" {
		model = "llama3.2"
	}

	return &OllamaProvider{
		client:   client,
		model:    model,
		sampling: cfg.Sampling,
	}, nil
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

func (p *OllamaProvider) options() map[string]any {
	opts := map[string]any{}
	if p.sampling.Temperature != nil {
		opts["temperature"] = *p.sampling.Temperature
	}
	if p.sampling.TopP != nil {
		opts["top_p"] = *p.sampling.TopP
	}
	if p.sampling.TopK > 0 {
		opts["top_k"] = p.sampling.TopK
	}
	if p.sampling.MaxTokens > 0 {
		opts["num_predict"] = p.sampling.MaxTokens
	}
	if len(p.sampling.StopSequences) > 0 {
		opts["stop"] = p.sampling.StopSequences
	}
	return opts
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	apiMsgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		apiMsgs = append(apiMsgs, api.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	req := &api.ChatRequest{
		Model:    p.model,
		Messages: apiMsgs,
		Stream:   new(bool), // false
		Options:  p.options(),
	}

	var respContent string
	var usage Usage

	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		respContent += resp.Message.Content
		if resp.Done {
			usage = Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return nil, generationErr("ollama", fmt.Errorf("chat failed: %w", err))
	}

	return &Response{
		Content: respContent,
		Usage:   usage,
	}, nil
}
