// Package embed defines the embedding provider contract and its adapters.
//
// Adapters translate vendor wire formats and classify failures into the
// provider error codes of internal/errors. They never retry: the pipeline
// is the only retry layer.
package embed

import (
	"context"
	"math"
	"time"

	"github.com/Aman-CERP/amanembed/internal/kernel"
)

const (
	// DefaultTimeout bounds a single provider HTTP request.
	DefaultTimeout = 60 * time.Second

	// DefaultPoolSize is the HTTP connection pool size per provider.
	DefaultPoolSize = 4

	// maxErrorBody caps how much of an error response is kept in messages.
	maxErrorBody = 1 << 12
)

// Result is the outcome for one input of a batch.
// A non-nil Err marks just this input as failed.
type Result struct {
	Vector []float32
	Tokens int
	Err    error
}

// Provider embeds batches of text.
type Provider interface {
	// EmbedBatch returns one Result per input, in input order.
	// A returned error fails the whole batch and is already classified.
	EmbedBatch(ctx context.Context, inputs []string) ([]Result, error)

	// Fingerprint identifies the provider, model and host.
	Fingerprint() kernel.ModelFingerprint

	// Dimensions returns the vector length, or 0 if not yet known.
	Dimensions() int

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

func toFloat32(v []float64) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// estimateTokens is a rough token count for providers that do not report one.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}
