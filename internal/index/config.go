package index

import (
	"context"

	"github.com/Aman-CERP/amanembed/internal/search"
	"github.com/Aman-CERP/amanembed/internal/source"
	"github.com/Aman-CERP/amanembed/internal/store"
)

// Search modes.
const (
	ModeExact = "exact"
	ModeHNSW  = "hnsw"
)

// Config configures a Coordinator.
type Config struct {
	// Source locates and filters project files.
	Source source.Options

	// Pipeline tuning. Zero values select the pipeline defaults.
	BatchSize   int
	MaxRetries  int
	Concurrency int
	SaveEvery   int

	// SearchMode is ModeExact (SQLite scan) or ModeHNSW.
	SearchMode string

	// Multiplier is the HNSW over-fetch factor, matching the store's.
	Multiplier int

	// HNSW tunes the approximate index; HNSWPath persists it when set.
	HNSW     store.HNSWConfig
	HNSWPath string

	// QueryCacheSize bounds the query embedding cache. Zero selects the
	// embed package default.
	QueryCacheSize int
}

func (c Config) withDefaults() Config {
	if c.SearchMode == "" {
		c.SearchMode = ModeExact
	}
	if c.Multiplier <= 0 {
		c.Multiplier = store.DefaultMultiplier
	}
	return c
}

// VectorStore is the persisted surface the Coordinator needs.
type VectorStore interface {
	store.Backend
	Nearest(ctx context.Context, query []float32, modelKey string, f search.Filter, limit int) ([]search.Result, error)
	Stats(ctx context.Context) (store.StoreStats, error)
	Close() error
}
