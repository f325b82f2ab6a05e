// Package search ranks in-memory vectors by cosine similarity.
//
// It shares its filter vocabulary with the persisted store so that callers
// holding a small working set can rank it without a database round-trip.
package search

import (
	"math"
	"sort"
	"strings"
)

// Candidate is an entity vector offered for ranking.
type Candidate struct {
	Key        string
	Type       string
	SourcePath string
	Vector     []float32
}

// Result is a ranked candidate.
type Result struct {
	Key        string  `json:"key"`
	Type       string  `json:"type,omitempty"`
	SourcePath string  `json:"source_path,omitempty"`
	Score      float64 `json:"score"`
}

// Filter restricts which candidates may appear in results.
// Zero values disable the corresponding check.
type Filter struct {
	// MinScore drops results scoring below it. Zero disables the check.
	MinScore float64

	// IncludeKeys, when non-empty, is the only set of keys that may match.
	IncludeKeys []string

	// ExcludeKeys never match.
	ExcludeKeys []string

	// Prefixes, when non-empty, requires the key to start with one of them.
	Prefixes []string

	// ExcludePrefixes drops keys starting with any of them.
	ExcludePrefixes []string

	// Dims requires vectors of exactly this length.
	Dims int

	// Predicate is applied last, after scoring.
	Predicate func(Result) bool
}

// keyFilter checks a key against the static parts of a filter.
type keyFilter func(key string) bool

// MatchKey reports whether key passes the include, exclude and prefix filters.
func (f Filter) MatchKey(key string) bool {
	for _, kf := range f.keyFilters() {
		if !kf(key) {
			return false
		}
	}
	return true
}

func (f Filter) keyFilters() []keyFilter {
	var filters []keyFilter

	if len(f.IncludeKeys) > 0 {
		set := toSet(f.IncludeKeys)
		filters = append(filters, func(k string) bool { return set[k] })
	}
	if len(f.ExcludeKeys) > 0 {
		set := toSet(f.ExcludeKeys)
		filters = append(filters, func(k string) bool { return !set[k] })
	}
	if len(f.Prefixes) > 0 {
		prefixes := f.Prefixes
		filters = append(filters, func(k string) bool { return hasAnyPrefix(k, prefixes) })
	}
	if len(f.ExcludePrefixes) > 0 {
		prefixes := f.ExcludePrefixes
		filters = append(filters, func(k string) bool { return !hasAnyPrefix(k, prefixes) })
	}

	return filters
}

// Accept reports whether a scored result passes MinScore and Predicate.
func (f Filter) Accept(r Result) bool {
	if f.MinScore != 0 && r.Score < f.MinScore {
		return false
	}
	if f.Predicate != nil && !f.Predicate(r) {
		return false
	}
	return true
}

// Nearest returns up to limit candidates most similar to query, highest score first.
// A non-positive limit returns every match.
func Nearest(query []float32, candidates []Candidate, f Filter, limit int) []Result {
	return rank(query, candidates, f, limit, false)
}

// Furthest returns up to limit candidates least similar to query, lowest score first.
func Furthest(query []float32, candidates []Candidate, f Filter, limit int) []Result {
	return rank(query, candidates, f, limit, true)
}

func rank(query []float32, candidates []Candidate, f Filter, limit int, ascending bool) []Result {
	if len(query) == 0 {
		return nil
	}

	keyFilters := f.keyFilters()
	results := make([]Result, 0, len(candidates))

	for _, c := range candidates {
		if len(c.Vector) == 0 || len(c.Vector) != len(query) {
			continue
		}
		if f.Dims > 0 && len(c.Vector) != f.Dims {
			continue
		}
		if !matchAll(c.Key, keyFilters) {
			continue
		}
		r := Result{
			Key:        c.Key,
			Type:       c.Type,
			SourcePath: c.SourcePath,
			Score:      Cosine(query, c.Vector),
		}
		if !f.Accept(r) {
			continue
		}
		results = append(results, r)
	}

	Sort(results, ascending)

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Sort orders results by score, breaking ties by key ascending.
func Sort(results []Result, ascending bool) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			if ascending {
				return a.Score < b.Score
			}
			return a.Score > b.Score
		}
		return a.Key < b.Key
	})
}

// Cosine returns the cosine similarity of a and b.
// Mismatched lengths and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func matchAll(key string, filters []keyFilter) bool {
	for _, kf := range filters {
		if !kf(key) {
			return false
		}
	}
	return true
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
