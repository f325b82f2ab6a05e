package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
	"github.com/Aman-CERP/amanembed/internal/search"
)

func hnswFixture(t *testing.T) (*Collection, *HNSWIndex) {
	t.Helper()
	c, _ := newTestCollection(t)
	c.Put(embedded("a", "a", []float32{1, 0, 0}))
	c.Put(embedded("b", "b", []float32{0.8, 0.2, 0}))
	c.Put(embedded("c", "c", []float32{0, 0, 1}))

	x := NewHNSWIndex(testModel, HNSWConfig{})
	require.Equal(t, 3, x.Build(c))
	return c, x
}

func TestHNSWIndex_SearchFindsNearest(t *testing.T) {
	// Given: an index built from three fresh vectors
	c, x := hnswFixture(t)

	// When: searching near "a"
	hits, err := x.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	results := FreshResults(c, hits, search.Filter{})

	// Then: "a" ranks first
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].Key)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestHNSWIndex_FreshResultsDropsChangedEntities(t *testing.T) {
	// Given: an entity edited after the index was built
	c, x := hnswFixture(t)
	e, _ := c.Get("a")
	e.SetContent("edited")

	// When: searching
	hits, err := x.Search([]float32{1, 0, 0}, 3)
	require.NoError(t, err)
	results := FreshResults(c, hits, search.Filter{})

	// Then: the stale hit is filtered out
	for _, r := range results {
		assert.NotEqual(t, "a", r.Key)
	}
}

func TestHNSWIndex_DeleteAndUpsert(t *testing.T) {
	_, x := hnswFixture(t)

	x.Delete("a")
	assert.Equal(t, 2, x.Len())

	require.NoError(t, x.Upsert("b", []float32{1, 0, 0}, "h"))
	assert.Equal(t, 2, x.Len())

	hits, err := x.Search([]float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].Key)
	assert.Equal(t, "h", hits[0].EmbedHash)

	err = x.Upsert("d", []float32{1, 0}, "h")
	assert.Equal(t, amanerrors.ErrCodeDimensionMismatch, amanerrors.GetCode(err))
}

func TestHNSWIndex_SearchRanksAfterDeleteAndUpsert(t *testing.T) {
	for i := 0; i < 200; i++ {
		// Given: an index whose graph holds an orphaned node for "b"
		_, x := hnswFixture(t)
		x.Delete("a")
		require.NoError(t, x.Upsert("b", []float32{1, 0, 0}, "h"))

		// When: asking for the single nearest neighbour
		hits, err := x.Search([]float32{1, 0, 0}, 1)

		// Then: the closest live vector wins every build
		require.NoError(t, err)
		require.Len(t, hits, 1, "build %d", i)
		require.Equal(t, "b", hits[0].Key, "build %d", i)
	}
}

func TestHNSWIndex_SearchReturnsBestFirst(t *testing.T) {
	_, x := hnswFixture(t)

	hits, err := x.Search([]float32{1, 0, 0}, 3)

	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{hits[0].Key, hits[1].Key, hits[2].Key})
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestHNSWIndex_SearchDimensionMismatch(t *testing.T) {
	_, x := hnswFixture(t)

	_, err := x.Search([]float32{1, 0}, 1)

	assert.Error(t, err)
}

func TestHNSWIndex_SaveLoad(t *testing.T) {
	// Given: a saved index
	c, x := hnswFixture(t)
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	require.NoError(t, x.Save(path))

	// When: loading it for the same model
	loaded, err := LoadHNSWIndex(path, testModel)

	// Then: it answers the same queries
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Len())
	hits, err := loaded.Search([]float32{0, 0, 1}, 1)
	require.NoError(t, err)
	results := FreshResults(c, hits, search.Filter{})
	require.Len(t, results, 1)
	assert.Equal(t, "c", results[0].Key)

	// When: loading it for another model
	_, err = LoadHNSWIndex(path, "other|m|")

	// Then: it is rejected
	assert.Equal(t, amanerrors.ErrCodeCorruptIndex, amanerrors.GetCode(err))
}
