package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
	"github.com/Aman-CERP/amanembed/internal/search"
)

const testModel = "static|hash-4|"

func openTestStore(t *testing.T, opts ...SQLiteOption) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "store.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// put stores an entity with one fresh vector for testModel.
func put(t *testing.T, s *SQLiteStore, key string, vec []float32) {
	t.Helper()
	hash := HashContent(key)
	require.NoError(t, s.Upsert(context.Background(),
		[]EntityRecord{{Key: key, Type: TypeSource, SourcePath: key, ContentHash: hash, UpdatedAt: time.Now()}},
		[]VectorRecord{{EntityKey: key, ModelKey: testModel, Vector: vec, EmbedHash: hash, UpdatedAt: time.Now()}},
	))
}

func keys(results []search.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Key
	}
	return out
}

func TestSQLiteStore_Nearest_OrdersByScore(t *testing.T) {
	// Given: three vectors at increasing angles from the query
	s := openTestStore(t)
	put(t, s, "a", []float32{1, 0, 0, 0})
	put(t, s, "b", []float32{1, 1, 0, 0})
	put(t, s, "c", []float32{0, 1, 0, 0})

	// When: searching for the nearest two
	results, err := s.Nearest(context.Background(), []float32{1, 0, 0, 0}, testModel, search.Filter{}, 2)

	// Then: the closest come first
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys(results))
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestSQLiteStore_Nearest_ExcludesStaleVectors(t *testing.T) {
	// Given: a stored vector whose entity content has since changed
	s := openTestStore(t)
	ctx := context.Background()
	put(t, s, "a", []float32{1, 0, 0, 0})
	put(t, s, "b", []float32{0.9, 0.1, 0, 0})
	require.NoError(t, s.Upsert(ctx,
		[]EntityRecord{{Key: "a", Type: TypeSource, SourcePath: "a", ContentHash: "changed", UpdatedAt: time.Now()}},
		nil))

	// When: searching
	results, err := s.Nearest(ctx, []float32{1, 0, 0, 0}, testModel, search.Filter{}, 10)

	// Then: the stale vector never appears
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys(results))
}

func TestSQLiteStore_Nearest_OtherModelInvisible(t *testing.T) {
	s := openTestStore(t)
	put(t, s, "a", []float32{1, 0, 0, 0})

	results, err := s.Nearest(context.Background(), []float32{1, 0, 0, 0}, "other|model|", search.Filter{}, 10)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLiteStore_Nearest_Filters(t *testing.T) {
	s := openTestStore(t)
	put(t, s, "docs/a", []float32{1, 0, 0, 0})
	put(t, s, "docs/b", []float32{1, 0.1, 0, 0})
	put(t, s, "src/c", []float32{1, 0.2, 0, 0})
	put(t, s, "src/d", []float32{0, 1, 0, 0})
	query := []float32{1, 0, 0, 0}
	ctx := context.Background()

	tests := []struct {
		name   string
		filter search.Filter
		want   []string
	}{
		{"prefix", search.Filter{Prefixes: []string{"src/"}}, []string{"src/c", "src/d"}},
		{"exclude prefix", search.Filter{ExcludePrefixes: []string{"docs/"}}, []string{"src/c", "src/d"}},
		{"include keys", search.Filter{IncludeKeys: []string{"docs/b", "src/d"}}, []string{"docs/b", "src/d"}},
		{"exclude keys", search.Filter{ExcludeKeys: []string{"docs/a"}}, []string{"docs/b", "src/c", "src/d"}},
		{"min score", search.Filter{MinScore: 0.5}, []string{"docs/a", "docs/b", "src/c"}},
		{"dims mismatch", search.Filter{Dims: 8}, []string{}},
		{"predicate", search.Filter{Predicate: func(r search.Result) bool { return r.Key != "docs/b" }}, []string{"docs/a", "src/c", "src/d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.Nearest(ctx, query, testModel, tt.filter, 10)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keys(results))
		})
	}
}

func TestSQLiteStore_Nearest_NonASCIIPrefix(t *testing.T) {
	// Given: keys under a directory name with a multi-byte character
	s := openTestStore(t)
	put(t, s, "café/notes.md", []float32{1, 0, 0, 0})
	put(t, s, "cafe/notes.md", []float32{1, 0.1, 0, 0})
	query := []float32{1, 0, 0, 0}
	ctx := context.Background()

	// When: filtering by that prefix
	included, err := s.Nearest(ctx, query, testModel, search.Filter{Prefixes: []string{"café/"}}, 10)
	require.NoError(t, err)
	excluded, err := s.Nearest(ctx, query, testModel, search.Filter{ExcludePrefixes: []string{"café/"}}, 10)
	require.NoError(t, err)

	// Then: the persisted surface agrees with strings.HasPrefix
	assert.Equal(t, []string{"café/notes.md"}, keys(included))
	assert.Equal(t, []string{"cafe/notes.md"}, keys(excluded))
	memory := search.Nearest(query, []search.Candidate{
		{Key: "café/notes.md", Vector: []float32{1, 0, 0, 0}},
		{Key: "cafe/notes.md", Vector: []float32{1, 0.1, 0, 0}},
	}, search.Filter{Prefixes: []string{"café/"}}, 10)
	assert.Equal(t, keys(included), keys(memory))
}

func TestSQLiteStore_Nearest_PredicateAppliedAfterWindow(t *testing.T) {
	// Given: a multiplier of 1, so only the top limit rows reach the predicate
	s := openTestStore(t, WithMultiplier(1))
	put(t, s, "a", []float32{1, 0, 0, 0})
	put(t, s, "b", []float32{1, 0.5, 0, 0})
	put(t, s, "c", []float32{1, 1, 0, 0})

	// When: the predicate rejects the best match
	f := search.Filter{Predicate: func(r search.Result) bool { return r.Key != "a" }}
	results, err := s.Nearest(context.Background(), []float32{1, 0, 0, 0}, testModel, f, 1)

	// Then: nothing beyond the window is promoted
	require.NoError(t, err)
	assert.Empty(t, results)

	// When: the default multiplier is used
	s3 := openTestStore(t)
	put(t, s3, "a", []float32{1, 0, 0, 0})
	put(t, s3, "b", []float32{1, 0.5, 0, 0})
	results, err = s3.Nearest(context.Background(), []float32{1, 0, 0, 0}, testModel, f, 1)

	// Then: the next candidate fills the slot
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys(results))
}

func TestSQLiteStore_Nearest_EmptyQuery(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Nearest(context.Background(), nil, testModel, search.Filter{}, 5)

	assert.Equal(t, amanerrors.ErrCodeEmptyVector, amanerrors.GetCode(err))
}

func TestSQLiteStore_Upsert_Idempotent(t *testing.T) {
	// Given: the same record written twice
	s := openTestStore(t)
	put(t, s, "a", []float32{1, 2, 3, 4})
	put(t, s, "a", []float32{1, 2, 3, 4})

	// When: loading everything
	entities, vectors, err := s.LoadAll(context.Background())

	// Then: there is one entity with one vector
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.Len(t, vectors["a"], 1)
	assert.Equal(t, []float32{1, 2, 3, 4}, vectors["a"][0].Vector)
	assert.Equal(t, 4, vectors["a"][0].Dims)
}

func TestSQLiteStore_Delete_RemovesEmbeddings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	put(t, s, "a", []float32{1, 0, 0, 0})
	put(t, s, "b", []float32{0, 1, 0, 0})

	require.NoError(t, s.Delete(ctx, []string{"a"}))

	entities, vectors, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "b", entities[0].Key)
	assert.NotContains(t, vectors, "a")
}

func TestSQLiteStore_Stats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	put(t, s, "a", []float32{1, 0, 0, 0})
	put(t, s, "b", []float32{0, 1, 0, 0})
	require.NoError(t, s.Upsert(ctx,
		[]EntityRecord{{Key: "b", Type: TypeSource, SourcePath: "b", ContentHash: "new", UpdatedAt: time.Now()}}, nil))

	st, err := s.Stats(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, st.Entities)
	assert.Equal(t, 2, st.Sources)
	assert.Equal(t, 1, st.Fresh[testModel])
	assert.Equal(t, 1, st.Stale[testModel])
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	put(t, s, "a", []float32{1, 0, 0, 0})
	require.NoError(t, s.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	results, err := s2.Nearest(context.Background(), []float32{1, 0, 0, 0}, testModel, search.Filter{}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys(results))
}

func TestOpenSQLite_ClearsCorruptedFile(t *testing.T) {
	// Given: a file that is not a SQLite database
	path := filepath.Join(t.TempDir(), "store.db")
	require.NoError(t, os.WriteFile(path, []byte("definitely not sqlite"), 0644))

	// When: opening it
	s, err := OpenSQLite(path)

	// Then: it is replaced by an empty store
	require.NoError(t, err)
	defer s.Close()
	entities, _, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestSQLiteStore_ClosedReturnsError(t *testing.T) {
	s, err := OpenSQLite("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err = s.LoadAll(context.Background())
	assert.Error(t, err)
}

func TestVectorEncoding_LittleEndian(t *testing.T) {
	b := encodeVector([]float32{1})
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, b)

	v, err := decodeVector(b)
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, v)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
