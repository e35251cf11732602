package store

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// wordEmbedder buckets words into a small vector so identical texts map to
// identical vectors and disjoint texts to orthogonal-ish ones.
type wordEmbedder struct {
	calls int
	fail  error
	dims  int
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.fail != nil {
		return nil, e.fail
	}
	dims := e.dims
	if dims == 0 {
		dims = 64
	}
	vec := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%uint32(dims)]++
	}
	return vec, nil
}

func newTestStore(t *testing.T, emb Embedder, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "termax.db"), emb, opts...)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	emb := &wordEmbedder{}
	s := newTestStore(t, emb)

	t.Run("GetOrCreate", func(t *testing.T) {
		col, err := s.GetOrCreate(ctx, "c1")
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		again, err := s.GetOrCreate(ctx, "c1")
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		if col.Name != again.Name || !col.CreatedAt.Equal(again.CreatedAt) {
			t.Errorf("Expected idempotent GetOrCreate, got %+v and %+v", col, again)
		}
		if _, err := s.GetOrCreate(ctx, "  "); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("InsertAndGet", func(t *testing.T) {
		ids, err := s.Insert(ctx, "c2", []Record{
			{ID: "a", Document: "list files", Metadata: map[string]string{"response": "ls"}},
			{ID: "b", Document: "show disk usage", Metadata: map[string]string{"response": "df -h"}},
		})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
			t.Errorf("Unexpected ids: %v", ids)
		}

		got, err := s.Get(ctx, "c2", "b")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(got) != 1 || got[0].Metadata["response"] != "df -h" {
			t.Errorf("Unexpected record: %+v", got)
		}

		all, err := s.Get(ctx, "c2", "*")
		if err != nil {
			t.Fatalf("Get all failed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("Expected 2 records, got %d", len(all))
		}

		if _, err := s.Get(ctx, "c2", "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		if _, err := s.Get(ctx, "nope", ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound for missing collection, got %v", err)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		_, err := s.Insert(ctx, "c2", []Record{{ID: "a", Document: "again"}})
		if !errors.Is(err, ErrDuplicateID) {
			t.Fatalf("Expected ErrDuplicateID, got %v", err)
		}
		_, err = s.Insert(ctx, "c3", []Record{{ID: "x", Document: "one"}, {ID: "x", Document: "two"}})
		if !errors.Is(err, ErrDuplicateID) {
			t.Fatalf("Expected ErrDuplicateID for repeated batch id, got %v", err)
		}
	})

	t.Run("InsertIsAtomic", func(t *testing.T) {
		if _, err := s.Insert(ctx, "c4", []Record{{ID: "keep", Document: "first"}}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		_, err := s.Insert(ctx, "c4", []Record{
			{ID: "new", Document: "second"},
			{ID: "keep", Document: "dup"},
		})
		if !errors.Is(err, ErrDuplicateID) {
			t.Fatalf("Expected ErrDuplicateID, got %v", err)
		}
		n, _ := s.Count(ctx, "c4")
		if n != 1 {
			t.Errorf("Expected failed batch to leave 1 record, got %d", n)
		}
	})

	t.Run("Search", func(t *testing.T) {
		_, err := s.Insert(ctx, "search", []Record{
			{ID: "1", Document: "compress the logs directory"},
			{ID: "2", Document: "list files"},
			{ID: "3", Document: "restart nginx service"},
		})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}

		res, err := s.Search(ctx, "search", []string{"list files"}, 2)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(res) != 1 || len(res[0]) != 2 {
			t.Fatalf("Expected 1x2 results, got %v", res)
		}
		if res[0][0].ID != "2" {
			t.Errorf("Expected exact match first, got %s", res[0][0].ID)
		}
		if res[0][0].Similarity < res[0][1].Similarity {
			t.Errorf("Results not ordered by similarity: %v", res[0])
		}

		calls := emb.calls
		res, err = s.Search(ctx, "search", []string{"anything"}, 0)
		if err != nil {
			t.Fatalf("Search k=0 failed: %v", err)
		}
		if len(res[0]) != 0 || emb.calls != calls {
			t.Errorf("Expected empty result without embedding, got %v (calls %d -> %d)", res, calls, emb.calls)
		}

		if _, err := s.Search(ctx, "search", []string{"x"}, -1); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument, got %v", err)
		}
		if _, err := s.Search(ctx, "nope", []string{"x"}, 3); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SearchTiesKeepInsertionOrder", func(t *testing.T) {
		_, err := s.Insert(ctx, "ties", []Record{
			{ID: "first", Document: "zzz"},
			{ID: "second", Document: "zzz"},
			{ID: "third", Document: "zzz"},
		})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		res, err := s.Search(ctx, "ties", []string{"zzz"}, 3)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		for i, want := range []string{"first", "second", "third"} {
			if res[0][i].ID != want {
				t.Errorf("Position %d: expected %s, got %s", i, want, res[0][i].ID)
			}
		}
	})

	t.Run("PeekAndDelete", func(t *testing.T) {
		peek, err := s.Peek(ctx, "search", 2)
		if err != nil {
			t.Fatalf("Peek failed: %v", err)
		}
		if len(peek) != 2 || peek[0].ID != "1" || peek[1].ID != "2" {
			t.Errorf("Expected insertion order [1 2], got %+v", peek)
		}

		if err := s.Delete(ctx, "search", "1", "unknown"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		n, err := s.Count(ctx, "search")
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if n != 2 {
			t.Errorf("Expected 2 records after delete, got %d", n)
		}
		if err := s.Delete(ctx, "nope", "1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteCollection", func(t *testing.T) {
		if err := s.DeleteCollection(ctx, "c2"); err != nil {
			t.Fatalf("DeleteCollection failed: %v", err)
		}
		if _, err := s.Count(ctx, "c2"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
		if err := s.DeleteCollection(ctx, "c2"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("ResetDisabled", func(t *testing.T) {
		err := s.Reset(ctx)
		if !errors.Is(err, ErrResetDisabled) {
			t.Fatalf("Expected ErrResetDisabled, got %v", err)
		}
		var opErr *OpError
		if !errors.As(err, &opErr) || opErr.Op != "reset" {
			t.Errorf("Expected *OpError for reset, got %T", err)
		}
	})
}

func TestSQLiteStore_EmbeddingErrors(t *testing.T) {
	ctx := context.Background()
	emb := &wordEmbedder{}
	s := newTestStore(t, emb)

	if _, err := s.Insert(ctx, "c", []Record{{ID: "1", Document: "hello"}}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	t.Run("EmbedderFailure", func(t *testing.T) {
		cause := errors.New("backend down")
		emb.fail = cause
		defer func() { emb.fail = nil }()

		_, err := s.Insert(ctx, "c", []Record{{ID: "2", Document: "world"}})
		if !errors.Is(err, ErrEmbedding) || !errors.Is(err, cause) {
			t.Errorf("Expected ErrEmbedding wrapping cause, got %v", err)
		}
		if _, err := s.Search(ctx, "c", []string{"hello"}, 1); !errors.Is(err, ErrEmbedding) {
			t.Errorf("Expected ErrEmbedding on search, got %v", err)
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		emb.dims = 8
		defer func() { emb.dims = 0 }()

		if _, err := s.Search(ctx, "c", []string{"hello"}, 1); !errors.Is(err, ErrEmbedding) {
			t.Errorf("Expected ErrEmbedding for mismatched dims, got %v", err)
		}
		_, err := s.Insert(ctx, "c", []Record{{ID: "3", Document: "short"}})
		if !errors.Is(err, ErrEmbedding) {
			t.Errorf("Expected ErrEmbedding on insert, got %v", err)
		}
	})

	t.Run("PrecomputedEmbedding", func(t *testing.T) {
		calls := emb.calls
		vec := make([]float32, 64)
		vec[0] = 1
		if _, err := s.Insert(ctx, "c", []Record{{ID: "pre", Document: "x", Embedding: vec}}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if emb.calls != calls {
			t.Errorf("Expected no embed call for precomputed vector")
		}
	})
}

func TestSQLiteStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "termax.db")

	s, err := NewSQLiteStore(dbPath, &wordEmbedder{})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if _, err := s.Insert(ctx, DefaultCollection, []Record{{ID: "1", Document: "uptime"}}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	s.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("Expected db file: %v", err)
	}

	s2, err := NewSQLiteStore(dbPath, &wordEmbedder{}, WithAllowReset(true))
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer s2.Close()

	n, err := s2.Count(ctx, DefaultCollection)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 persisted record, got %d (%v)", n, err)
	}

	names, err := s2.Collections(ctx)
	if err != nil || len(names) != 1 || names[0] != DefaultCollection {
		t.Errorf("Unexpected collections %v (%v)", names, err)
	}

	if err := s2.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s2.Count(ctx, DefaultCollection); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after reset, got %v", err)
	}
}

func TestRank(t *testing.T) {
	cands := []Record{
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b", Embedding: []float32{0, 1}},
		{ID: "c", Embedding: []float32{1, 1}},
	}
	got := rank([]float32{1, 0}, cands, 2)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("Unexpected ranking: %+v", got)
	}
	if cosineSimilarity([]float32{0, 0}, []float32{1, 0}) != 0 {
		t.Error("Expected zero similarity for zero vector")
	}
}

func TestVectorRoundTrip(t *testing.T) {
	blob, err := encodeVector([]float32{0.5, -1, 3})
	if err != nil {
		t.Fatal(err)
	}
	vec, err := decodeVector(blob)
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[1] != -1 {
		t.Errorf("Unexpected vector %v", vec)
	}
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for corrupt blob")
	}
}
