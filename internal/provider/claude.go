package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultClaudeMaxTokens = 1024

type ClaudeProvider struct {
	client   anthropic.Client
	model    string
	sampling Sampling
}

func NewClaudeProvider(cfg ClaudeConfig) (*ClaudeProvider, error) {
	if cfg.APIKey == "" {
		return nil, Unavailable("claude", "api_key is not configured")
	}
	if err := cfg.Sampling.Validate(); err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}

	return &ClaudeProvider{
		client:   anthropic.NewClient(opts...),
		model:    model,
		sampling: cfg.Sampling,
	}, nil
}

func (p *ClaudeProvider) Name() string {
	return "claude"
}

func (p *ClaudeProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	system, conv := split(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: defaultClaudeMaxTokens,
	}
	if p.sampling.MaxTokens > 0 {
		params.MaxTokens = int64(p.sampling.MaxTokens)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if p.sampling.Temperature != nil {
		params.Temperature = anthropic.Float(*p.sampling.Temperature)
	}
	if p.sampling.TopP != nil {
		params.TopP = anthropic.Float(*p.sampling.TopP)
	}
	if p.sampling.TopK > 0 {
		params.TopK = anthropic.Int(int64(p.sampling.TopK))
	}
	if len(p.sampling.StopSequences) > 0 {
		params.StopSequences = p.sampling.StopSequences
	}

	for _, m := range conv {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, generationErr("claude", fmt.Errorf("claude API error: %w", err))
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	if content == "" && len(resp.Content) == 0 {
		return nil, generationErr("claude", errors.New("empty response"))
	}

	return &Response{
		Content: content,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}
