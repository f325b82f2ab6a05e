package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
	"github.com/Aman-CERP/amanembed/internal/search"
)

// DefaultMultiplier is how many candidates per requested result Nearest
// fetches before applying the in-memory predicate.
const DefaultMultiplier = 3

// SQLiteStore persists entities and embeddings in a single SQLite file.
type SQLiteStore struct {
	mu         sync.RWMutex
	db         *sql.DB
	path       string
	closed     bool
	multiplier int
	logger     *slog.Logger
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithMultiplier sets the candidate over-fetch factor for Nearest.
func WithMultiplier(m int) SQLiteOption {
	return func(s *SQLiteStore) {
		if m > 0 {
			s.multiplier = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLiteStore) {
		if l != nil {
			s.logger = l
		}
	}
}

var _ Backend = (*SQLiteStore)(nil)

// validateSQLiteIntegrity checks an existing database before opening it.
// Returns nil if valid or absent.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// OpenSQLite opens or creates the store at path.
// An empty path opens an in-memory database for testing.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	s := &SQLiteStore{
		path:       path,
		multiplier: DefaultMultiplier,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeFilePermission,
				fmt.Sprintf("failed to create directory %s", dir), err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			s.logger.Warn("store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, amanerrors.New(amanerrors.ErrCodeCorruptIndex,
					fmt.Sprintf("store corrupted at %s and cannot remove (original error: %v)", path, validErr), removeErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			s.logger.Info("store_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, all entities will be re-embedded"))
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeInitFailed, "failed to open database", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params are ignored by modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, amanerrors.New(amanerrors.ErrCodeInitFailed, "failed to set pragma", err)
		}
	}

	s.db = db
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, amanerrors.New(amanerrors.ErrCodeInitFailed, "failed to initialize schema", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS entities (
		key          TEXT PRIMARY KEY,
		type         TEXT NOT NULL,
		source_path  TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		attrs        TEXT NOT NULL DEFAULT '{}',
		updated_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entities_source ON entities(source_path);

	CREATE TABLE IF NOT EXISTS embeddings (
		entity_key TEXT NOT NULL REFERENCES entities(key) ON DELETE CASCADE,
		model_key  TEXT NOT NULL,
		vector     BLOB NOT NULL,
		tokens     INTEGER NOT NULL DEFAULT 0,
		embed_hash TEXT NOT NULL,
		dims       INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (entity_key, model_key)
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model_key, dims);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path, empty for in-memory stores.
func (s *SQLiteStore) Path() string { return s.path }

// Upsert writes entities and all their vectors in one transaction.
// Writing the same record twice leaves the store unchanged.
func (s *SQLiteStore) Upsert(ctx context.Context, entities []EntityRecord, vectors []VectorRecord) error {
	if len(entities) == 0 && len(vectors) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return amanerrors.New(amanerrors.ErrCodeInternal, "store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	entStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (key, type, source_path, content_hash, attrs, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			type = excluded.type,
			source_path = excluded.source_path,
			content_hash = excluded.content_hash,
			attrs = excluded.attrs,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare entity upsert: %w", err)
	}
	defer entStmt.Close()

	for _, e := range entities {
		attrs, err := json.Marshal(e.Attrs)
		if err != nil {
			return fmt.Errorf("failed to encode attrs for %s: %w", e.Key, err)
		}
		if _, err := entStmt.ExecContext(ctx, e.Key, string(e.Type), e.SourcePath, e.ContentHash,
			string(attrs), e.UpdatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to upsert entity %s: %w", e.Key, err)
		}
	}

	vecStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (entity_key, model_key, vector, tokens, embed_hash, dims, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_key, model_key) DO UPDATE SET
			vector = excluded.vector,
			tokens = excluded.tokens,
			embed_hash = excluded.embed_hash,
			dims = excluded.dims,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare embedding upsert: %w", err)
	}
	defer vecStmt.Close()

	for _, v := range vectors {
		if len(v.Vector) == 0 {
			continue
		}
		if _, err := vecStmt.ExecContext(ctx, v.EntityKey, v.ModelKey, encodeVector(v.Vector),
			v.Tokens, v.EmbedHash, len(v.Vector), v.UpdatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to upsert embedding %s/%s: %w", v.EntityKey, v.ModelKey, err)
		}
	}

	return tx.Commit()
}

// Delete removes entities and their embeddings.
func (s *SQLiteStore) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return amanerrors.New(amanerrors.ErrCodeInternal, "store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE entity_key = ?`, key); err != nil {
			return fmt.Errorf("failed to delete embeddings for %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to delete entity %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// LoadAll reads every entity with its vectors.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]EntityRecord, map[string][]VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, nil, amanerrors.New(amanerrors.ErrCodeInternal, "store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, type, source_path, content_hash, attrs, updated_at FROM entities ORDER BY key`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query entities: %w", err)
	}
	var entities []EntityRecord
	for rows.Next() {
		var (
			rec     EntityRecord
			typ     string
			attrs   string
			updated int64
		)
		if err := rows.Scan(&rec.Key, &typ, &rec.SourcePath, &rec.ContentHash, &attrs, &updated); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		rec.Type = EntityType(typ)
		rec.UpdatedAt = time.Unix(0, updated)
		if attrs != "" {
			if err := json.Unmarshal([]byte(attrs), &rec.Attrs); err != nil {
				s.logger.Warn("entity_attrs_invalid",
					slog.String("key", rec.Key),
					slog.String("error", err.Error()))
			}
		}
		entities = append(entities, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, err
	}
	rows.Close()

	vrows, err := s.db.QueryContext(ctx,
		`SELECT entity_key, model_key, vector, tokens, embed_hash, dims, updated_at FROM embeddings`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer vrows.Close()

	vectors := make(map[string][]VectorRecord)
	for vrows.Next() {
		v, err := scanVector(vrows)
		if err != nil {
			return nil, nil, err
		}
		vectors[v.EntityKey] = append(vectors[v.EntityKey], v)
	}
	return entities, vectors, vrows.Err()
}

// Nearest ranks fresh vectors of modelKey against query, highest score first.
//
// Only rows whose embed hash equals the entity's current content hash are
// scanned. Dims, prefix and key-set filters run in SQL and MinScore during
// the scan. The top limit × multiplier candidates are then passed through
// the filter predicate and truncated to limit.
func (s *SQLiteStore) Nearest(ctx context.Context, query []float32, modelKey string, f search.Filter, limit int) ([]search.Result, error) {
	if len(query) == 0 {
		return nil, amanerrors.New(amanerrors.ErrCodeEmptyVector, "query vector is empty", nil)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, amanerrors.New(amanerrors.ErrCodeInternal, "store is closed", nil)
	}

	q, args := nearestQuery(modelKey, len(query), f)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var results []search.Result
	for rows.Next() {
		var (
			key, typ, sourcePath string
			blob                 []byte
		)
		if err := rows.Scan(&key, &typ, &sourcePath, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			s.logger.Warn("embedding_decode_failed",
				slog.String("key", key),
				slog.String("error", err.Error()))
			continue
		}
		if len(vec) != len(query) {
			continue
		}
		score := search.Cosine(query, vec)
		if f.MinScore != 0 && score < f.MinScore {
			continue
		}
		results = append(results, search.Result{Key: key, Type: typ, SourcePath: sourcePath, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	search.Sort(results, false)

	if limit > 0 {
		if window := limit * s.multiplier; len(results) > window {
			results = results[:window]
		}
	}
	if f.Predicate != nil {
		kept := results[:0]
		for _, r := range results {
			if f.Predicate(r) {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func nearestQuery(modelKey string, dims int, f search.Filter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT e.key, e.type, e.source_path, v.vector
		FROM embeddings v JOIN entities e ON e.key = v.entity_key
		WHERE v.model_key = ? AND v.embed_hash = e.content_hash AND v.dims = ?`)
	args := []any{modelKey, dims}

	if f.Dims > 0 && f.Dims != dims {
		// No vector can match both the query length and the filter.
		b.WriteString(` AND 0`)
	}
	if len(f.IncludeKeys) > 0 {
		b.WriteString(` AND e.key IN (` + placeholders(len(f.IncludeKeys)) + `)`)
		args = appendStrings(args, f.IncludeKeys)
	}
	if len(f.ExcludeKeys) > 0 {
		b.WriteString(` AND e.key NOT IN (` + placeholders(len(f.ExcludeKeys)) + `)`)
		args = appendStrings(args, f.ExcludeKeys)
	}
	if len(f.Prefixes) > 0 {
		b.WriteString(` AND (`)
		for i, p := range f.Prefixes {
			if i > 0 {
				b.WriteString(` OR `)
			}
			// substr counts characters, not bytes.
			b.WriteString(`substr(e.key, 1, ?) = ?`)
			args = append(args, utf8.RuneCountInString(p), p)
		}
		b.WriteString(`)`)
	}
	for _, p := range f.ExcludePrefixes {
		b.WriteString(` AND substr(e.key, 1, ?) <> ?`)
		args = append(args, utf8.RuneCountInString(p), p)
	}
	return b.String(), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func appendStrings(args []any, ss []string) []any {
	for _, s := range ss {
		args = append(args, s)
	}
	return args
}

// StoreStats summarizes the persisted state.
type StoreStats struct {
	Entities  int            `json:"entities"`
	Sources   int            `json:"sources"`
	Blocks    int            `json:"blocks"`
	Fresh     map[string]int `json:"fresh"`
	Stale     map[string]int `json:"stale"`
	SizeBytes int64          `json:"size_bytes"`
}

// Stats counts entities and fresh and stale vectors per model.
func (s *SQLiteStore) Stats(ctx context.Context) (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := StoreStats{Fresh: map[string]int{}, Stale: map[string]int{}}
	if s.closed {
		return st, amanerrors.New(amanerrors.ErrCodeInternal, "store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM entities GROUP BY type`)
	if err != nil {
		return st, fmt.Errorf("failed to count entities: %w", err)
	}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.Entities += n
		switch EntityType(typ) {
		case TypeSource:
			st.Sources = n
		case TypeBlock:
			st.Blocks = n
		}
	}
	rows.Close()

	vrows, err := s.db.QueryContext(ctx, `
		SELECT v.model_key, v.embed_hash = e.content_hash AS fresh, COUNT(*)
		FROM embeddings v JOIN entities e ON e.key = v.entity_key
		GROUP BY v.model_key, fresh`)
	if err != nil {
		return st, fmt.Errorf("failed to count embeddings: %w", err)
	}
	defer vrows.Close()
	for vrows.Next() {
		var model string
		var fresh bool
		var n int
		if err := vrows.Scan(&model, &fresh, &n); err != nil {
			return st, err
		}
		if fresh {
			st.Fresh[model] = n
		} else {
			st.Stale[model] = n
		}
	}

	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil {
			st.SizeBytes = info.Size()
		}
	}
	return st, vrows.Err()
}

// Close closes the database. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVector(r rowScanner) (VectorRecord, error) {
	var (
		v       VectorRecord
		blob    []byte
		updated int64
	)
	if err := r.Scan(&v.EntityKey, &v.ModelKey, &blob, &v.Tokens, &v.EmbedHash, &v.Dims, &updated); err != nil {
		return v, fmt.Errorf("failed to scan embedding: %w", err)
	}
	vec, err := decodeVector(blob)
	if err != nil {
		return v, fmt.Errorf("embedding %s/%s: %w", v.EntityKey, v.ModelKey, err)
	}
	v.Vector = vec
	v.UpdatedAt = time.Unix(0, updated)
	return v, nil
}

// encodeVector packs floats as little-endian float32.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
