package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
	"github.com/Aman-CERP/amanembed/internal/search"
)

// HNSWConfig tunes the approximate index.
type HNSWConfig struct {
	M        int
	EfSearch int
}

// HNSWIndex is an approximate nearest-neighbour index over the fresh vectors
// of one model. It remembers the embed hash each vector was built from so
// callers can drop hits whose entity has changed since.
type HNSWIndex struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[uint64]
	modelKey string
	dims     int
	config   HNSWConfig

	// ID mapping (entity key <-> graph key)
	idMap   map[string]uint64
	keyMap  map[uint64]string
	hashes  map[string]string
	nextKey uint64
}

// hnswMetadata stores ID mappings for persistence.
type hnswMetadata struct {
	ModelKey string
	Dims     int
	IDMap    map[string]uint64
	Hashes   map[string]string
	NextKey  uint64
	Config   HNSWConfig
}

// Hit is an index match before the staleness re-check.
type Hit struct {
	Key       string
	EmbedHash string
	Score     float64
}

// NewHNSWIndex creates an empty index for modelKey.
func NewHNSWIndex(modelKey string, cfg HNSWConfig) *HNSWIndex {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	return &HNSWIndex{
		graph:    newGraph(cfg),
		modelKey: modelKey,
		config:   cfg,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		hashes:   make(map[string]string),
	}
}

func newGraph(cfg HNSWConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// ModelKey returns the model this index holds vectors for.
func (x *HNSWIndex) ModelKey() string { return x.modelKey }

// Build replaces the index contents with the fresh vectors in c.
func (x *HNSWIndex) Build(c *Collection) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.graph = newGraph(x.config)
	x.idMap = make(map[string]uint64)
	x.keyMap = make(map[uint64]string)
	x.hashes = make(map[string]string)
	x.nextKey = 0
	x.dims = 0

	for _, e := range c.All() {
		rec, ok := e.Vector(x.modelKey)
		if !ok || rec.EmbedHash != e.ContentHash() {
			continue
		}
		x.addLocked(e.Key(), rec.Vector, rec.EmbedHash)
	}
	return len(x.idMap)
}

// Upsert adds or replaces the vector for key.
func (x *HNSWIndex) Upsert(key string, vector []float32, embedHash string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.dims != 0 && len(vector) != x.dims {
		return amanerrors.New(amanerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index holds %d-dim vectors, got %d", x.dims, len(vector)), nil)
	}
	x.addLocked(key, vector, embedHash)
	return nil
}

func (x *HNSWIndex) addLocked(key string, vector []float32, embedHash string) {
	if len(vector) == 0 {
		return
	}
	if x.dims == 0 {
		x.dims = len(vector)
	} else if len(vector) != x.dims {
		return
	}

	// Lazy deletion: coder/hnsw breaks when the last node is deleted.
	if old, ok := x.idMap[key]; ok {
		delete(x.keyMap, old)
	}

	gk := x.nextKey
	x.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeVectorInPlace(vec)

	x.graph.Add(hnsw.MakeNode(gk, vec))
	x.idMap[key] = gk
	x.keyMap[gk] = key
	x.hashes[key] = embedHash
}

// Delete drops keys from the index.
func (x *HNSWIndex) Delete(keys ...string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, key := range keys {
		if gk, ok := x.idMap[key]; ok {
			delete(x.keyMap, gk)
			delete(x.idMap, key)
			delete(x.hashes, key)
		}
	}
}

// Len returns the number of live vectors.
func (x *HNSWIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.idMap)
}

// Search returns up to k approximate neighbours of query, best first.
func (x *HNSWIndex) Search(query []float32, k int) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph.Len() == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != x.dims {
		return nil, amanerrors.New(amanerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("query has %d dims, index has %d", len(query), x.dims), nil)
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	// Orphaned nodes take result slots; ask for extra.
	want := k + (x.graph.Len() - len(x.idMap))
	nodes := x.graph.Search(q, want)

	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		key, ok := x.keyMap[node.Key]
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			Key:       key,
			EmbedHash: x.hashes[key],
			Score:     search.Cosine(q, node.Value),
		})
	}
	// The graph returns candidates in heap order, not by distance.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Key < hits[j].Key
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// FreshResults keeps the hits whose entity still has the content the vector
// was computed from, applying the key filters and MinScore of f.
func FreshResults(c *Collection, hits []Hit, f search.Filter) []search.Result {
	results := make([]search.Result, 0, len(hits))
	for _, h := range hits {
		e, ok := c.Get(h.Key)
		if !ok || e.ContentHash() != h.EmbedHash {
			continue
		}
		if !f.MatchKey(h.Key) {
			continue
		}
		r := search.Result{Key: h.Key, Type: e.Type(), SourcePath: e.SourcePath(), Score: h.Score}
		if !f.Accept(r) {
			continue
		}
		results = append(results, r)
	}
	search.Sort(results, false)
	return results
}

// Save writes the graph to path and the mappings to path+".meta".
// Both are written to a temp file and renamed.
func (x *HNSWIndex) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpIndexPath := path + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := x.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpIndexPath, path); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	if err := x.saveMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

func (x *HNSWIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{
		ModelKey: x.modelKey,
		Dims:     x.dims,
		IDMap:    x.idMap,
		Hashes:   x.hashes,
		NextKey:  x.nextKey,
		Config:   x.config,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("hnsw_meta_close_failed", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// LoadHNSWIndex reads an index written by Save. It fails if the index was
// built for a different model.
func LoadHNSWIndex(path, modelKey string) (*HNSWIndex, error) {
	meta, err := readHNSWMetadata(path + ".meta")
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}
	if meta.ModelKey != modelKey {
		return nil, amanerrors.New(amanerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("index built for %q, want %q", meta.ModelKey, modelKey), nil)
	}

	x := NewHNSWIndex(modelKey, meta.Config)
	x.dims = meta.Dims
	x.idMap = meta.IDMap
	x.hashes = meta.Hashes
	x.nextKey = meta.NextKey
	if x.idMap == nil {
		x.idMap = make(map[string]uint64)
	}
	if x.hashes == nil {
		x.hashes = make(map[string]string)
	}
	for id, gk := range x.idMap {
		x.keyMap[gk] = id
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires io.ByteReader.
	if err := x.graph.Import(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("failed to import graph: %w", err)
	}
	return x, nil
}

func readHNSWMetadata(path string) (hnswMetadata, error) {
	var meta hnswMetadata
	file, err := os.Open(path)
	if err != nil {
		return meta, fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("hnsw_meta_close_failed", slog.String("error", err.Error()))
		}
	}()
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return meta, fmt.Errorf("decode hnsw metadata: %w", err)
	}
	return meta, nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
