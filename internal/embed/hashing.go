package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const DefaultDimensions = 256

// Hashing is an offline embedder based on signed feature hashing of word
// unigrams and character trigrams. It needs no network and is deterministic,
// so identical texts always produce identical vectors.
type Hashing struct {
	dims int
}

func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Hashing{dims: dims}
}

func (h *Hashing) Name() string {
	return fmt.Sprintf("hashing-%d", h.dims)
}

func (h *Hashing) Dimensions() int {
	return h.dims
}

func (h *Hashing) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, w := range words {
		h.add(vec, "w:"+w, 1.0)

		padded := []rune("^" + w + "$")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(vec, "t:"+string(padded[i:i+3]), 0.5)
		}
	}

	return normalize(vec), nil
}

func (h *Hashing) add(vec []float64, feature string, weight float64) {
	f := fnv.New32a()
	f.Write([]byte(feature))
	sum := f.Sum32()

	idx := int(sum % uint32(h.dims))
	if sum&(1<<31) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func normalize(vec []float64) []float32 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}

	out := make([]float32, len(vec))
	if norm == 0 {
		return out
	}

	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
