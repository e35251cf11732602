package store

import (
	"context"
	"time"
)

// DefaultCollection is the partition holding the command history.
const DefaultCollection = "command_history"

// Record is a single entry of a collection. Document is the text that gets
// embedded; Metadata carries everything else the caller wants back.
type Record struct {
	ID        string
	Document  string
	Metadata  map[string]string
	Embedding []float32
}

// Result is a Record ranked against a query.
type Result struct {
	Record
	Similarity float32
}

// Collection describes a named partition.
type Collection struct {
	Name      string
	Dims      int // zero until the first vector is stored
	CreatedAt time.Time
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is a persistent, named collection of embedded records with
// nearest-neighbour search.
type Index interface {
	// GetOrCreate is idempotent and never fails for a valid name.
	GetOrCreate(ctx context.Context, name string) (*Collection, error)

	// Insert embeds and stores records, creating the collection if needed.
	// Records without an ID are rejected; callers generate ids.
	Insert(ctx context.Context, collection string, records []Record) ([]string, error)

	// Search ranks the collection against each query text. Results are
	// ordered by descending similarity; ties keep insertion order.
	Search(ctx context.Context, collection string, queries []string, k int) ([][]Result, error)

	// Get returns the record with the given id, or every record when id is
	// empty or "*".
	Get(ctx context.Context, collection, id string) ([]Record, error)

	Count(ctx context.Context, collection string) (int, error)

	// Peek returns up to limit records in insertion order.
	Peek(ctx context.Context, collection string, limit int) ([]Record, error)

	// Delete removes individual records. Unknown ids are ignored.
	Delete(ctx context.Context, collection string, ids ...string) error

	DeleteCollection(ctx context.Context, name string) error

	// Reset drops every collection. It refuses unless explicitly allowed.
	Reset(ctx context.Context) error

	Close() error
}
