package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type GeminiProvider struct {
	client   *genai.Client
	model    string
	sampling Sampling
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, Unavailable("gemini", "api_key is not configured")
	}
	if err := cfg.Sampling.Validate(); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}

	return &GeminiProvider{
		client:   client,
		model:    model,
		sampling: cfg.Sampling,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	system, conv := split(messages)
	if len(conv) == 0 {
		return nil, generationErr("gemini", errors.New("no user message"))
	}

	geminiModel := p.client.GenerativeModel(p.model)
	if system != "" {
		geminiModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if p.sampling.Temperature != nil {
		geminiModel.SetTemperature(float32(*p.sampling.Temperature))
	}
	if p.sampling.TopP != nil {
		geminiModel.SetTopP(float32(*p.sampling.TopP))
	}
	if p.sampling.TopK > 0 {
		geminiModel.SetTopK(int32(p.sampling.TopK))
	}
	if p.sampling.MaxTokens > 0 {
		geminiModel.SetMaxOutputTokens(int32(p.sampling.MaxTokens))
	}
	if p.sampling.CandidateCount > 0 {
		geminiModel.SetCandidateCount(int32(p.sampling.CandidateCount))
	}
	geminiModel.StopSequences = p.sampling.StopSequences

	cs := geminiModel.StartChat()
	for _, m := range conv[:len(conv)-1] {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	lastMsg := conv[len(conv)-1]
	resp, err := cs.SendMessage(ctx, genai.Text(lastMsg.Content))
	if err != nil {
		return nil, generationErr("gemini", fmt.Errorf("completion failed: %w", err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, generationErr("gemini", errors.New("no candidates returned"))
	}

	var content string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			content += string(text)
		}
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return &Response{Content: content, Usage: usage}, nil
}
