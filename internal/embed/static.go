package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
	"github.com/Aman-CERP/amanembed/internal/kernel"
)

// StaticDimensions is the default vector length of the static provider.
const StaticDimensions = 256

// Weights for vector generation
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// stopWords are dropped before hashing tokens.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "for": true,
	"is": true, "are": true, "was": true, "it": true, "this": true,
	"that": true, "with": true, "as": true, "be": true, "by": true,
}

var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// StaticProvider produces deterministic hash-based vectors without a network.
// Quality is far below a real model; it exists for offline use and tests.
type StaticProvider struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a static provider. dims <= 0 uses StaticDimensions.
func NewStaticProvider(dims int) *StaticProvider {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticProvider{dims: dims}
}

// EmbedBatch implements Provider. Blank inputs fail individually.
func (p *StaticProvider) EmbedBatch(ctx context.Context, inputs []string) ([]Result, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, amanerrors.New(amanerrors.ErrCodeUnavailable, "static: provider is closed", nil)
	}

	results := make([]Result, len(inputs))
	for i, text := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			results[i] = Result{Err: amanerrors.New(amanerrors.ErrCodeBadRequest, "static: empty input", nil)}
			continue
		}
		results[i] = Result{
			Vector: normalizeVector(p.generateVector(trimmed)),
			Tokens: len(tokenize(trimmed)),
		}
	}
	return results, nil
}

// generateVector hashes tokens and character n-grams into buckets.
func (p *StaticProvider) generateVector(text string) []float32 {
	vector := make([]float32, p.dims)

	for _, token := range filterStopWords(tokenize(text)) {
		vector[hashToIndex(token, p.dims)] += tokenWeight
	}

	for _, ngram := range extractNgrams(normalizeForNgrams(text), ngramSize) {
		vector[hashToIndex(ngram, p.dims)] += ngramWeight
	}

	return vector
}

// Fingerprint implements Provider.
func (p *StaticProvider) Fingerprint() kernel.ModelFingerprint {
	return kernel.ModelFingerprint{Provider: string(ProviderStatic), Model: "hash-" + strconv.Itoa(p.dims)}
}

// Dimensions implements Provider.
func (p *StaticProvider) Dimensions() int { return p.dims }

// Close implements Provider.
func (p *StaticProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// tokenize splits text into lowercase tokens, breaking camelCase and snake_case words.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCamelCase(word) {
			if lower := strings.ToLower(t); lower != "" {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// splitCamelCase splits camelCase identifiers.
func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			// Split if previous is lowercase OR next is lowercase (handles acronyms)
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func filterStopWords(tokens []string) []string {
	filtered := tokens[:0:0]
	for _, t := range tokens {
		if !stopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// normalizeForNgrams keeps lowercase letters and digits only.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams extracts n-rune sliding windows.
func extractNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}
