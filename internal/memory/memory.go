// Package memory keeps a bounded history of (request, command) pairs and
// retrieves the most similar ones as prompt context.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/termax/internal/store"
)

const (
	DefaultStorageSize = 2000
	// LegacyStorageSize is the threshold older configurations shipped with.
	LegacyStorageSize  = 100
	DefaultRecallLimit = 5
	DefaultPeekLimit   = 20
)

const (
	metaResponse  = "response"
	metaCreatedAt = "created_at"
)

// Memory defines the interface for long-term storage and retrieval.
type Memory interface {
	// Remember stores a pair. An empty response is ignored and yields "".
	Remember(ctx context.Context, query, response string) (string, error)

	// Recall finds the stored pairs whose query is most similar to query.
	Recall(ctx context.Context, query string, limit int) ([]Interaction, error)

	Size(ctx context.Context) (int, error)

	// EnforceCapacity evicts records once Size exceeds limit and reports
	// how many were removed.
	EnforceCapacity(ctx context.Context, limit int) (int, error)
}

// Interaction is a remembered (query, response) pair.
type Interaction struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
	Score     float32   `json:"score,omitempty"`
}

// Policy selects how EnforceCapacity evicts.
type Policy string

const (
	// PolicyWindow drops the oldest records until the limit is met.
	PolicyWindow Policy = "window"
	// PolicyPartition drops the whole partition at once.
	PolicyPartition Policy = "partition"
)

// Policies lists the accepted values of general.eviction.
var Policies = []Policy{PolicyWindow, PolicyPartition}

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "":
		return PolicyWindow, nil
	case PolicyWindow, PolicyPartition:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown eviction policy %q (want window or partition)", s)
}

// Store implements Memory on top of a store.Index partition.
type Store struct {
	index      store.Index
	collection string
	policy     Policy
	now        func() time.Time
	newID      func() string
}

type Option func(*Store)

func WithCollection(name string) Option {
	return func(s *Store) { s.collection = name }
}

func WithPolicy(p Policy) Option {
	return func(s *Store) { s.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

func New(index store.Index, opts ...Option) *Store {
	s := &Store{
		index:      index,
		collection: store.DefaultCollection,
		policy:     PolicyWindow,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Collection() string {
	return s.collection
}

func (s *Store) Policy() Policy {
	return s.policy
}

func (s *Store) Remember(ctx context.Context, query, response string) (string, error) {
	return s.RememberWithID(ctx, "", query, response)
}

// RememberWithID is Remember with a caller supplied id. An empty id gets a
// random UUID.
func (s *Store) RememberWithID(ctx context.Context, id, query, response string) (string, error) {
	if strings.TrimSpace(response) == "" {
		return "", nil
	}
	if id == "" {
		id = s.newID()
	}

	rec := store.Record{
		ID:       id,
		Document: query,
		Metadata: map[string]string{
			metaResponse:  response,
			metaCreatedAt: s.now().UTC().Format(time.RFC3339Nano),
		},
	}
	if _, err := s.index.Insert(ctx, s.collection, []store.Record{rec}); err != nil {
		return "", fmt.Errorf("remember: %w", err)
	}
	return id, nil
}

func (s *Store) Recall(ctx context.Context, query string, limit int) ([]Interaction, error) {
	res, err := s.index.Search(ctx, s.collection, []string{query}, limit)
	if errors.Is(err, store.ErrNotFound) {
		return []Interaction{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}

	out := make([]Interaction, 0, len(res[0]))
	for _, r := range res[0] {
		it := toInteraction(r.Record)
		it.Score = r.Similarity
		out = append(out, it)
	}
	return out, nil
}

func (s *Store) Size(ctx context.Context) (int, error) {
	n, err := s.index.Count(ctx, s.collection)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("size: %w", err)
	}
	return n, nil
}

// Get looks up exactly one interaction. The index's wildcard ids are
// rejected.
func (s *Store) Get(ctx context.Context, id string) (Interaction, error) {
	if id == "" || id == "*" {
		return Interaction{}, fmt.Errorf("get: %w: id %q is not a single record", store.ErrInvalidArgument, id)
	}
	recs, err := s.index.Get(ctx, s.collection, id)
	if err != nil {
		return Interaction{}, fmt.Errorf("get: %w", err)
	}
	if len(recs) == 0 {
		return Interaction{}, fmt.Errorf("get %s: %w", id, store.ErrNotFound)
	}
	return toInteraction(recs[0]), nil
}

// Peek lists up to limit interactions, oldest first.
func (s *Store) Peek(ctx context.Context, limit int) ([]Interaction, error) {
	recs, err := s.index.Peek(ctx, s.collection, limit)
	if errors.Is(err, store.ErrNotFound) {
		return []Interaction{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek: %w", err)
	}

	out := make([]Interaction, 0, len(recs))
	for _, r := range recs {
		out = append(out, toInteraction(r))
	}
	return out, nil
}

func (s *Store) EnforceCapacity(ctx context.Context, limit int) (int, error) {
	if limit < 0 {
		return 0, fmt.Errorf("enforce capacity: %w: limit must be >= 0, got %d", store.ErrInvalidArgument, limit)
	}

	size, err := s.Size(ctx)
	if err != nil {
		return 0, err
	}
	if size <= limit {
		return 0, nil
	}

	switch s.policy {
	case PolicyPartition:
		if err := s.index.DeleteCollection(ctx, s.collection); err != nil {
			return 0, fmt.Errorf("enforce capacity: %w", err)
		}
		return size, nil

	default:
		excess := size - limit
		oldest, err := s.index.Peek(ctx, s.collection, excess)
		if err != nil {
			return 0, fmt.Errorf("enforce capacity: %w", err)
		}
		ids := make([]string, len(oldest))
		for i, r := range oldest {
			ids[i] = r.ID
		}
		if err := s.index.Delete(ctx, s.collection, ids...); err != nil {
			return 0, fmt.Errorf("enforce capacity: %w", err)
		}
		return len(ids), nil
	}
}

// Forget drops the whole partition and reports how many records it held.
// Forgetting an absent partition is not an error.
func (s *Store) Forget(ctx context.Context) (int, error) {
	size, err := s.Size(ctx)
	if err != nil {
		return 0, err
	}
	err = s.index.DeleteCollection(ctx, s.collection)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("forget: %w", err)
	}
	return size, nil
}

func toInteraction(r store.Record) Interaction {
	it := Interaction{
		ID:       r.ID,
		Query:    r.Document,
		Response: r.Metadata[metaResponse],
	}
	if ts, err := time.Parse(time.RFC3339Nano, r.Metadata[metaCreatedAt]); err == nil {
		it.CreatedAt = ts
	}
	return it
}
