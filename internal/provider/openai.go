package provider

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// openAICompatible lists the defaults of every platform served through the
// OpenAI chat completions wire format.
var openAICompatible = map[string]struct {
	baseURL string
	model   string
}{
	"openai":  {"", openai.GPT3Dot5Turbo},
	"mistral": {"https://api.mistral.ai/v1", "mistral-small-latest"},
	"qianwen": {"https://dashscope.aliyuncs.com/compatible-mode/v1", "qwen-turbo"},
	"ernie":   {"https://qianfan.baidubce.com/v2", "ernie-4.0-8k"},
}

type OpenAIProvider struct {
	name     string
	client   *openai.Client
	model    string
	sampling Sampling
}

func NewOpenAIProvider(name string, cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, Unavailable(name, "api_key is not configured")
	}
	if err := cfg.Sampling.Validate(); err != nil {
		return nil, err
	}

	defaults := openAICompatible[name]
	config := openai.DefaultConfig(cfg.APIKey)
	switch {
	case cfg.BaseURL != "":
		config.BaseURL = cfg.BaseURL
	case defaults.baseURL != "":
		config.BaseURL = defaults.baseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaults.model
	}
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}

	return &OpenAIProvider{
		name:     name,
		client:   openai.NewClientWithConfig(config),
		model:    model,
		sampling: cfg.Sampling,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	reqMsgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		reqMsgs[i] = openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  reqMsgs,
		MaxTokens: p.sampling.MaxTokens,
		Stop:      p.sampling.StopSequences,
	}
	if p.sampling.Temperature != nil {
		req.Temperature = float32(*p.sampling.Temperature)
	}
	if p.sampling.TopP != nil {
		req.TopP = float32(*p.sampling.TopP)
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, generationErr(p.name, fmt.Errorf("completion failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, generationErr(p.name, errors.New("no choices returned"))
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
