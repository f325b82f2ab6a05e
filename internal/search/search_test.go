package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cands() []Candidate {
	return []Candidate{
		{Key: "notes/a.md", Vector: []float32{1, 0, 0}},
		{Key: "notes/b.md", Vector: []float32{0.9, 0.1, 0}},
		{Key: "notes/c.md", Vector: []float32{0, 1, 0}},
		{Key: "daily/d.md", Vector: []float32{-1, 0, 0}},
		{Key: "notes/empty.md", Vector: nil},
		{Key: "notes/short.md", Vector: []float32{1, 0}},
	}
}

func resultKeys(rs []Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Key
	}
	return out
}

func TestNearest_SortsDescendingAndSkipsEmpty(t *testing.T) {
	// When: ranking against the x axis
	rs := Nearest([]float32{1, 0, 0}, cands(), Filter{}, 0)

	// Then: highest first, empty and wrong-length vectors skipped
	assert.Equal(t, []string{"notes/a.md", "notes/b.md", "notes/c.md", "daily/d.md"}, resultKeys(rs))
	assert.InDelta(t, 1.0, rs[0].Score, 1e-9)
	assert.InDelta(t, -1.0, rs[3].Score, 1e-9)
}

func TestFurthest_SortsAscending(t *testing.T) {
	rs := Furthest([]float32{1, 0, 0}, cands(), Filter{}, 2)

	assert.Equal(t, []string{"daily/d.md", "notes/c.md"}, resultKeys(rs))
}

func TestNearest_TiesBreakByKey(t *testing.T) {
	// Given: identical vectors under different keys
	cs := []Candidate{
		{Key: "z", Vector: []float32{1, 1}},
		{Key: "a", Vector: []float32{1, 1}},
		{Key: "m", Vector: []float32{1, 1}},
	}

	// Then: order is deterministic
	for i := 0; i < 5; i++ {
		assert.Equal(t, []string{"a", "m", "z"}, resultKeys(Nearest([]float32{1, 1}, cs, Filter{}, 0)))
	}
}

func TestNearest_Filters(t *testing.T) {
	q := []float32{1, 0, 0}

	tests := []struct {
		name string
		f    Filter
		want []string
	}{
		{"min score", Filter{MinScore: 0.5}, []string{"notes/a.md", "notes/b.md"}},
		{"prefix", Filter{Prefixes: []string{"daily/"}}, []string{"daily/d.md"}},
		{"exclude prefix", Filter{ExcludePrefixes: []string{"notes/"}}, []string{"daily/d.md"}},
		{"include keys", Filter{IncludeKeys: []string{"notes/c.md", "notes/b.md"}}, []string{"notes/b.md", "notes/c.md"}},
		{"exclude keys", Filter{ExcludeKeys: []string{"notes/a.md", "daily/d.md"}}, []string{"notes/b.md", "notes/c.md"}},
		{"dims", Filter{Dims: 2}, []string{}},
		{
			"predicate",
			Filter{Predicate: func(r Result) bool { return strings.HasSuffix(r.Key, "c.md") }},
			[]string{"notes/c.md"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resultKeys(Nearest(q, cands(), tt.f, 0)))
		})
	}
}

func TestNearest_LimitTruncates(t *testing.T) {
	rs := Nearest([]float32{1, 0, 0}, cands(), Filter{}, 1)
	require.Len(t, rs, 1)
	assert.Equal(t, "notes/a.md", rs[0].Key)
}

func TestNearest_EmptyQuery(t *testing.T) {
	assert.Empty(t, Nearest(nil, cands(), Filter{}, 10))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 0}))
}

func TestFilter_MatchKey(t *testing.T) {
	f := Filter{Prefixes: []string{"a/", "b/"}, ExcludeKeys: []string{"a/x"}}

	assert.True(t, f.MatchKey("a/y"))
	assert.True(t, f.MatchKey("b/z"))
	assert.False(t, f.MatchKey("a/x"))
	assert.False(t, f.MatchKey("c/z"))
}
