package provider

import (
	"errors"
	"fmt"
)

// Sampling holds the generation parameters shared by most backends. Nil or
// zero values leave the backend default in place.
type Sampling struct {
	Temperature    *float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
	TopP           *float64 `mapstructure:"top_p" yaml:"top_p,omitempty"`
	TopK           int      `mapstructure:"top_k" yaml:"top_k,omitempty"`
	MaxTokens      int      `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	CandidateCount int      `mapstructure:"candidate_count" yaml:"candidate_count,omitempty"`
	StopSequences  []string `mapstructure:"stop_sequences" yaml:"stop_sequences,omitempty"`
}

func (s Sampling) Validate() error {
	var errs []error
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2) {
		errs = append(errs, fmt.Errorf("temperature %.2f out of range [0,2]", *s.Temperature))
	}
	if s.TopP != nil && (*s.TopP < 0 || *s.TopP > 1) {
		errs = append(errs, fmt.Errorf("top_p %.2f out of range [0,1]", *s.TopP))
	}
	if s.TopK < 0 {
		errs = append(errs, fmt.Errorf("top_k must be >= 0, got %d", s.TopK))
	}
	if s.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max_tokens must be >= 0, got %d", s.MaxTokens))
	}
	if s.CandidateCount < 0 || s.CandidateCount > 8 {
		errs = append(errs, fmt.Errorf("candidate_count %d out of range [0,8]", s.CandidateCount))
	}
	return errors.Join(errs...)
}

// OpenAIConfig also serves the OpenAI-compatible platforms (mistral,
// qianwen, ernie) which only differ in base URL and default model.
type OpenAIConfig struct {
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model    string `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Sampling `mapstructure:",squash" yaml:",inline"`
}

type GeminiConfig struct {
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model    string `mapstructure:"model" yaml:"model,omitempty"`
	Sampling `mapstructure:",squash" yaml:",inline"`
}

// VertexConfig authenticates with application default credentials, or with
// an API key in express mode.
type VertexConfig struct {
	Project  string `mapstructure:"project" yaml:"project,omitempty"`
	Location string `mapstructure:"location" yaml:"location,omitempty"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model    string `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Sampling `mapstructure:",squash" yaml:",inline"`
}

type ClaudeConfig struct {
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model    string `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Sampling `mapstructure:",squash" yaml:",inline"`
}

type OllamaConfig struct {
	Host       string `mapstructure:"host" yaml:"host,omitempty"`
	Model      string `mapstructure:"model" yaml:"model,omitempty"`
	EmbedModel string `mapstructure:"embed_model" yaml:"embed_model,omitempty"`
	Sampling   `mapstructure:",squash" yaml:",inline"`
}

type CLIConfig struct {
	Path string   `mapstructure:"path" yaml:"path,omitempty"`
	Args []string `mapstructure:"args" yaml:"args,omitempty"`
}

type PluginConfig struct {
	Path string   `mapstructure:"path" yaml:"path,omitempty"`
	Args []string `mapstructure:"args" yaml:"args,omitempty"`
}

// Settings aggregates every per-platform section of the configuration.
type Settings struct {
	OpenAI   OpenAIConfig `mapstructure:"openai" yaml:"openai,omitempty"`
	Mistral  OpenAIConfig `mapstructure:"mistral" yaml:"mistral,omitempty"`
	Qianwen  OpenAIConfig `mapstructure:"qianwen" yaml:"qianwen,omitempty"`
	Ernie    OpenAIConfig `mapstructure:"ernie" yaml:"ernie,omitempty"`
	Gemini   GeminiConfig `mapstructure:"gemini" yaml:"gemini,omitempty"`
	VertexAI VertexConfig `mapstructure:"vertexai" yaml:"vertexai,omitempty"`
	Claude   ClaudeConfig `mapstructure:"claude" yaml:"claude,omitempty"`
	Ollama   OllamaConfig `mapstructure:"ollama" yaml:"ollama,omitempty"`
	CLI      CLIConfig    `mapstructure:"cli" yaml:"cli,omitempty"`
	Plugin   PluginConfig `mapstructure:"plugin" yaml:"plugin,omitempty"`
}

// Validate checks the sampling ranges of every section.
func (s Settings) Validate() error {
	sections := []struct {
		name string
		s    Sampling
	}{
		{"openai", s.OpenAI.Sampling},
		{"mistral", s.Mistral.Sampling},
		{"qianwen", s.Qianwen.Sampling},
		{"ernie", s.Ernie.Sampling},
		{"gemini", s.Gemini.Sampling},
		{"vertexai", s.VertexAI.Sampling},
		{"claude", s.Claude.Sampling},
		{"ollama", s.Ollama.Sampling},
	}

	var errs []error
	for _, sec := range sections {
		if err := sec.s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sec.name, err))
		}
	}
	return errors.Join(errs...)
}

// WithModel returns a copy of s with the model of platform replaced.
func (s Settings) WithModel(platform, model string) Settings {
	if model == "" {
		return s
	}
	switch platform {
	case "openai":
		s.OpenAI.Model = model
	case "mistral":
		s.Mistral.Model = model
	case "qianwen":
		s.Qianwen.Model = model
	case "ernie":
		s.Ernie.Model = model
	case "gemini":
		s.Gemini.Model = model
	case "vertexai":
		s.VertexAI.Model = model
	case "claude":
		s.Claude.Model = model
	case "ollama":
		s.Ollama.Model = model
	}
	return s
}
