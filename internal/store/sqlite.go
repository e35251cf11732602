package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is an Index persisted in a single SQLite file. Concurrent
// processes are serialised by SQLite's own file locking.
type SQLiteStore struct {
	db         *sql.DB
	embedder   Embedder
	allowReset bool
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithAllowReset enables Reset. Without it Reset fails with ErrResetDisabled.
func WithAllowReset(allow bool) Option {
	return func(s *SQLiteStore) {
		s.allowReset = allow
	}
}

func NewSQLiteStore(dbPath string, embedder Embedder, opts ...Option) (*SQLiteStore, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, opErr("open", "", ErrStorage, fmt.Errorf("failed to create db directory: %w", err))
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, opErr("open", "", ErrStorage, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:       db,
		embedder: embedder,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			dims INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS records (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			document TEXT NOT NULL,
			metadata TEXT NOT NULL,
			vector BLOB NOT NULL,
			UNIQUE(collection, id)
		);`,
		`CREATE INDEX IF NOT EXISTS records_collection_seq ON records (collection, seq);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return opErr("init schema", "", ErrStorage, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("collection name must not be empty")
	}
	return nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, name string) (*Collection, error) {
	if err := validName(name); err != nil {
		return nil, opErr("get or create", name, ErrInvalidArgument, err)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dims, created_at) VALUES (?, 0, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, opErr("get or create", name, ErrStorage, err)
	}

	col, err := s.collection(ctx, s.db, name)
	if err != nil {
		return nil, opErr("get or create", name, ErrStorage, err)
	}
	return col, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// collection returns (nil, nil) when the collection does not exist.
func (s *SQLiteStore) collection(ctx context.Context, q querier, name string) (*Collection, error) {
	var (
		col     Collection
		created string
	)
	row := q.QueryRowContext(ctx, `SELECT name, dims, created_at FROM collections WHERE name = ?`, name)
	if err := row.Scan(&col.Name, &col.Dims, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	col.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &col, nil
}

// existing looks a collection up and maps absence to ErrNotFound.
func (s *SQLiteStore) existing(ctx context.Context, op, name string) (*Collection, error) {
	col, err := s.collection(ctx, s.db, name)
	if err != nil {
		return nil, opErr(op, name, ErrStorage, err)
	}
	if col == nil {
		return nil, notFound(op, name, "collection does not exist")
	}
	return col, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, collection string, records []Record) ([]string, error) {
	const op = "insert"
	if err := validName(collection); err != nil {
		return nil, opErr(op, collection, ErrInvalidArgument, err)
	}

	// Embed before opening the transaction so a slow remote embedder does
	// not hold the database lock.
	seen := make(map[string]bool, len(records))
	for i := range records {
		id := records[i].ID
		if id == "" {
			return nil, opErr(op, collection, ErrInvalidArgument, errors.New("record id must not be empty"))
		}
		if seen[id] {
			return nil, opErr(op, collection, ErrDuplicateID, fmt.Errorf("id %q repeated in batch", id))
		}
		seen[id] = true

		if len(records[i].Embedding) > 0 {
			continue
		}
		vec, err := s.embedder.Embed(ctx, records[i].Document)
		if err != nil {
			return nil, opErr(op, collection, ErrEmbedding, err)
		}
		if len(vec) == 0 {
			return nil, opErr(op, collection, ErrEmbedding, errors.New("embedder returned an empty vector"))
		}
		records[i].Embedding = vec
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, opErr(op, collection, ErrStorage, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collections (name, dims, created_at) VALUES (?, 0, ?) ON CONFLICT(name) DO NOTHING`,
		collection, now); err != nil {
		return nil, opErr(op, collection, ErrStorage, err)
	}

	col, err := s.collection(ctx, tx, collection)
	if err != nil || col == nil {
		return nil, opErr(op, collection, ErrStorage, err)
	}
	dims := col.Dims

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if dims == 0 {
			dims = len(rec.Embedding)
		}
		if len(rec.Embedding) != dims {
			return nil, opErr(op, collection, ErrEmbedding,
				fmt.Errorf("vector has %d dimensions, collection expects %d", len(rec.Embedding), dims))
		}

		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM records WHERE collection = ? AND id = ?`, collection, rec.ID).Scan(&exists); err != nil {
			return nil, opErr(op, collection, ErrStorage, err)
		}
		if exists > 0 {
			return nil, opErr(op, collection, ErrDuplicateID, fmt.Errorf("id %q already stored", rec.ID))
		}

		blob, err := encodeVector(rec.Embedding)
		if err != nil {
			return nil, opErr(op, collection, ErrStorage, err)
		}
		meta := rec.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, opErr(op, collection, ErrStorage, fmt.Errorf("failed to marshal metadata: %w", err))
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (collection, id, document, metadata, vector) VALUES (?, ?, ?, ?, ?)`,
			collection, rec.ID, rec.Document, string(metaJSON), blob); err != nil {
			return nil, opErr(op, collection, ErrStorage, err)
		}
		ids = append(ids, rec.ID)
	}

	if col.Dims == 0 && dims > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET dims = ? WHERE name = ?`, dims, collection); err != nil {
			return nil, opErr(op, collection, ErrStorage, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, opErr(op, collection, ErrStorage, err)
	}
	return ids, nil
}

func (s *SQLiteStore) Search(ctx context.Context, collection string, queries []string, k int) ([][]Result, error) {
	const op = "search"
	if k < 0 {
		return nil, opErr(op, collection, ErrInvalidArgument, fmt.Errorf("k must be >= 0, got %d", k))
	}

	col, err := s.existing(ctx, op, collection)
	if err != nil {
		return nil, err
	}

	results := make([][]Result, len(queries))
	if k == 0 {
		for i := range results {
			results[i] = []Result{}
		}
		return results, nil
	}

	candidates, err := s.records(ctx, collection, -1)
	if err != nil {
		return nil, opErr(op, collection, ErrStorage, err)
	}

	for i, text := range queries {
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, opErr(op, collection, ErrEmbedding, err)
		}
		if col.Dims > 0 && len(vec) != col.Dims {
			return nil, opErr(op, collection, ErrEmbedding,
				fmt.Errorf("query vector has %d dimensions, collection expects %d", len(vec), col.Dims))
		}
		results[i] = rank(vec, candidates, k)
	}
	return results, nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) ([]Record, error) {
	const op = "get"
	if _, err := s.existing(ctx, op, collection); err != nil {
		return nil, err
	}

	if id == "" || id == "*" {
		recs, err := s.records(ctx, collection, -1)
		if err != nil {
			return nil, opErr(op, collection, ErrStorage, err)
		}
		return recs, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document, metadata, vector FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return nil, opErr(op, collection, ErrStorage, err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, opErr(op, collection, ErrStorage, err)
	}
	if len(recs) == 0 {
		return nil, notFound(op, collection, fmt.Sprintf("record %q does not exist", id))
	}
	return recs, nil
}

func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	const op = "count"
	if _, err := s.existing(ctx, op, collection); err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM records WHERE collection = ?`, collection).Scan(&n); err != nil {
		return 0, opErr(op, collection, ErrStorage, err)
	}
	return n, nil
}

func (s *SQLiteStore) Peek(ctx context.Context, collection string, limit int) ([]Record, error) {
	const op = "peek"
	if limit < 0 {
		return nil, opErr(op, collection, ErrInvalidArgument, fmt.Errorf("limit must be >= 0, got %d", limit))
	}
	if _, err := s.existing(ctx, op, collection); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []Record{}, nil
	}

	recs, err := s.records(ctx, collection, limit)
	if err != nil {
		return nil, opErr(op, collection, ErrStorage, err)
	}
	return recs, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection string, ids ...string) error {
	const op = "delete"
	if _, err := s.existing(ctx, op, collection); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}

	query := `DELETE FROM records WHERE collection = ? AND id IN (` + placeholders + `)` // #nosec G202
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return opErr(op, collection, ErrStorage, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteCollection(ctx context.Context, name string) error {
	const op = "delete collection"
	if _, err := s.existing(ctx, op, name); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return opErr(op, name, ErrStorage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, name); err != nil {
		return opErr(op, name, ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return opErr(op, name, ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return opErr(op, name, ErrStorage, err)
	}
	return nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	const op = "reset"
	if !s.allowReset {
		return opErr(op, "", ErrResetDisabled, nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return opErr(op, "", ErrStorage, err)
	}
	defer tx.Rollback()

	for _, q := range []string{`DELETE FROM records`, `DELETE FROM collections`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return opErr(op, "", ErrStorage, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return opErr(op, "", ErrStorage, err)
	}
	return nil
}

// Collections lists every collection by name.
func (s *SQLiteStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, opErr("list collections", "", ErrStorage, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, opErr("list collections", "", ErrStorage, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// records loads a collection in insertion order; limit < 0 means all.
func (s *SQLiteStore) records(ctx context.Context, collection string, limit int) ([]Record, error) {
	query := `SELECT id, document, metadata, vector FROM records WHERE collection = ? ORDER BY seq`
	args := []any{collection}
	if limit >= 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	recs := []Record{}
	for rows.Next() {
		var (
			rec      Record
			metaJSON string
			blob     []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Document, &metaJSON, &blob); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata of %q: %w", rec.ID, err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", rec.ID, err)
		}
		rec.Embedding = vec
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
