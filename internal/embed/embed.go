// Package embed turns text into vectors for the memory index.
package embed

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/termax/internal/provider"
)

// Embedder maps text to a fixed-length vector. Name identifies the model so
// caches never mix vectors from different embedders.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

const (
	KindHashing = "hashing"
	KindOpenAI  = "openai"
	KindGemini  = "gemini"
	KindOllama  = "ollama"
)

// Kinds lists the accepted values of general.embedder.
var Kinds = []string{KindHashing, KindOpenAI, KindGemini, KindOllama}

// New builds the embedder selected by kind. An empty kind selects the local
// hashing embedder.
func New(ctx context.Context, kind string, s provider.Settings) (Embedder, error) {
	switch kind {
	case "", KindHashing:
		return NewHashing(DefaultDimensions), nil
	case KindOpenAI:
		return NewOpenAI(s.OpenAI, "")
	case KindGemini:
		return NewGemini(ctx, s.Gemini, "")
	case KindOllama:
		return NewOllama(s.Ollama)
	default:
		return nil, provider.Unavailable("embedder "+kind, fmt.Sprintf("unknown embedder (known: %v)", Kinds))
	}
}
