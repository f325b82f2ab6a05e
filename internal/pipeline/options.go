package pipeline

import (
	"context"
	"time"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
)

// Defaults for Options.
const (
	DefaultBatchSize   = 10
	DefaultMaxRetries  = 3
	DefaultConcurrency = 1
)

// Item is an entity eligible for embedding.
type Item interface {
	Key() string
	// Type is the item class, e.g. "source" or "block".
	Type() string
	ContentHash() string
	IsDirty() bool
	// EmbedSnapshot materializes the text to embed together with the
	// content hash that text corresponds to. It may do I/O.
	EmbedSnapshot(ctx context.Context) (text, hash string, err error)
	// SetEmbedding records a vector computed from content with embedHash.
	SetEmbedding(modelKey string, vector []float32, tokens int, embedHash string, at time.Time)
	ClearDirty()
}

// Progress is reported after each completed batch.
type Progress struct {
	Current      int
	Total        int
	Batches      int
	TotalBatches int
	Success      int
	Failed       int
	Skipped      int
	SourceCount  int
	BlockCount   int
	LastKey      string
}

// Options configures one Process call.
type Options struct {
	// BatchSize is the number of items per provider call.
	BatchSize int

	// MaxRetries is the number of retries per batch after the first attempt.
	// Use NoRetries to disable retries; zero selects the default.
	MaxRetries int

	// Concurrency is the number of workers.
	Concurrency int

	// OnProgress runs after every completed batch, in completion order.
	OnProgress func(Progress)

	// OnSave runs after every SaveEvery completed batches with the items
	// touched since the previous save, and once more at the end if any remain.
	OnSave    func(ctx context.Context, items []Item) error
	SaveEvery int

	// ExpectedHashes maps item key to the content hash seen when it was queued.
	// Items whose current hash differs are skipped.
	ExpectedHashes map[string]string

	// HaltOnError makes Process return an error when a batch fails.
	HaltOnError bool

	// Backoff controls the delay between retries.
	Backoff amanerrors.RetryConfig
}

// NoRetries disables retries when set as Options.MaxRetries.
const NoRetries = -1

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = DefaultMaxRetries
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Backoff.InitialDelay <= 0 {
		o.Backoff = amanerrors.DefaultRetryConfig()
	}
	return o
}

// Stats are the aggregate counts of one Process call.
// Success + Failed + Skipped == Total once Process returns.
type Stats struct {
	Total   int
	Success int
	Failed  int
	Skipped int

	// Fatal counts items in batches that failed with a fatal provider error.
	Fatal int

	// Attempted counts items that reached the provider.
	Attempted int

	// LastError is the most recent batch failure, if any.
	LastError error

	Halted   bool
	Duration time.Duration
}
