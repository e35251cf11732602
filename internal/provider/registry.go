package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Provider for one platform from the shared settings.
type Factory func(ctx context.Context, s Settings) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"openai": func(_ context.Context, s Settings) (Provider, error) {
			return NewOpenAIProvider("openai", s.OpenAI)
		},
		"mistral": func(_ context.Context, s Settings) (Provider, error) {
			return NewOpenAIProvider("mistral", s.Mistral)
		},
		"qianwen": func(_ context.Context, s Settings) (Provider, error) {
			return NewOpenAIProvider("qianwen", s.Qianwen)
		},
		"ernie": func(_ context.Context, s Settings) (Provider, error) {
			return NewOpenAIProvider("ernie", s.Ernie)
		},
		"gemini": func(ctx context.Context, s Settings) (Provider, error) {
			return NewGeminiProvider(ctx, s.Gemini)
		},
		"vertexai": func(ctx context.Context, s Settings) (Provider, error) {
			return NewVertexProvider(ctx, s.VertexAI)
		},
		"claude": func(_ context.Context, s Settings) (Provider, error) {
			return NewClaudeProvider(s.Claude)
		},
		"ollama": func(_ context.Context, s Settings) (Provider, error) {
			return NewOllamaProvider(s.Ollama)
		},
		"cli": func(_ context.Context, s Settings) (Provider, error) {
			return NewCLIProvider(s.CLI.Path, s.CLI.Args)
		},
		"stub": func(_ context.Context, _ Settings) (Provider, error) {
			return NewStubProvider(), nil
		},
	}
)

// Register adds or replaces the factory for a platform tag.
func Register(platform string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[platform] = f
}

// Known reports whether a factory exists for platform.
func Known(platform string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[platform]
	return ok
}

// Platforms lists the registered platform tags in sorted order.
func Platforms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the provider registered for platform.
func New(ctx context.Context, platform string, s Settings) (Provider, error) {
	registryMu.RLock()
	f, ok := registry[platform]
	registryMu.RUnlock()
	if !ok {
		return nil, Unavailable(platform, fmt.Sprintf("unknown platform (known: %v)", Platforms()))
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s settings: %w", platform, err)
	}
	return f(ctx, s)
}
