package embed

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
)

// ProviderType names an embedding provider.
type ProviderType string

const (
	// ProviderOllama uses a local or remote Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses an OpenAI-compatible embeddings endpoint.
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings (offline).
	ProviderStatic ProviderType = "static"
)

// ParseProvider converts a string to ProviderType (case-insensitive).
func ParseProvider(s string) ProviderType {
	return ProviderType(strings.ToLower(strings.TrimSpace(s)))
}

// Config selects and configures a provider.
type Config struct {
	Provider   ProviderType
	Model      string
	Host       string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
	PoolSize   int
}

// Factory builds a provider from config.
type Factory func(cfg Config) (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[ProviderType]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[ProviderType]Factory)}
}

// DefaultRegistry returns a registry with the built-in providers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ProviderOllama, func(cfg Config) (Provider, error) {
		return NewOllamaProvider(cfg), nil
	})
	r.Register(ProviderOpenAI, func(cfg Config) (Provider, error) {
		return NewOpenAIProvider(cfg)
	})
	r.Register(ProviderStatic, func(cfg Config) (Provider, error) {
		return NewStaticProvider(cfg.Dimensions), nil
	})
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name ProviderType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, string(n))
	}
	sort.Strings(names)
	return names
}

// New builds the provider named by cfg.Provider.
func (r *Registry) New(cfg Config) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, amanerrors.New(amanerrors.ErrCodeUnknownProvider,
			fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil).
			WithSuggestion("Use one of: " + strings.Join(r.Names(), ", "))
	}
	p, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", cfg.Provider, err)
	}
	return p, nil
}
