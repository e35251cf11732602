package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

type VertexProvider struct {
	client   *genai.Client
	model    string
	sampling Sampling
}

func NewVertexProvider(ctx context.Context, cfg VertexConfig) (*VertexProvider, error) {
	if cfg.APIKey == "" && cfg.Project == "" {
		return nil, Unavailable("vertexai", "project (or api_key for express mode) is not configured")
	}
	if err := cfg.Sampling.Validate(); err != nil {
		return nil, err
	}

	cc := &genai.ClientConfig{Backend: genai.BackendVertexAI}
	if cfg.APIKey != "" {
		cc.APIKey = cfg.APIKey
	} else {
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		if cc.Location == "" {
			cc.Location = "us-central1"
		}
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, Unavailable("vertexai", fmt.Sprintf("failed to create genai client: %v", err))
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	return &VertexProvider{
		client:   client,
		model:    model,
		sampling: cfg.Sampling,
	}, nil
}

func (p *VertexProvider) Name() string {
	return "vertexai"
}

func (p *VertexProvider) config(system string) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		StopSequences:   p.sampling.StopSequences,
		MaxOutputTokens: int32(p.sampling.MaxTokens),
		CandidateCount:  int32(p.sampling.CandidateCount),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, "")
	}
	if p.sampling.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*p.sampling.Temperature))
	}
	if p.sampling.TopP != nil {
		config.TopP = genai.Ptr(float32(*p.sampling.TopP))
	}
	if p.sampling.TopK > 0 {
		config.TopK = genai.Ptr(float32(p.sampling.TopK))
	}
	return config
}

func (p *VertexProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	system, conv := split(messages)
	if len(conv) == 0 {
		return nil, generationErr("vertexai", errors.New("no user message"))
	}

	contents := make([]*genai.Content, 0, len(conv))
	for _, m := range conv {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, p.config(system))
	if err != nil {
		return nil, generationErr("vertexai", fmt.Errorf("failed to generate content: %w", err))
	}
	if len(resp.Candidates) == 0 {
		return nil, generationErr("vertexai", errors.New("no candidates returned"))
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return &Response{Content: resp.Text(), Usage: usage}, nil
}
