package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
	"github.com/Aman-CERP/amanembed/internal/kernel"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model
	DefaultOllamaModel = "nomic-embed-text"
)

// OllamaEmbedRequest is the request body for /api/embed.
type OllamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// OllamaEmbedResponse is the response body for /api/embed.
type OllamaEmbedResponse struct {
	Model           string      `json:"model"`
	Embeddings      [][]float64 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

// OllamaProvider generates embeddings using Ollama's HTTP API.
type OllamaProvider struct {
	client    *http.Client
	transport *http.Transport
	host      string
	model     string
	timeout   time.Duration

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Provider = (*OllamaProvider)(nil)

// NewOllamaProvider creates an Ollama provider. No request is made until the first batch.
func NewOllamaProvider(cfg Config) *OllamaProvider {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = DefaultOllamaHost
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client, transport := newHTTPClient(cfg.PoolSize)
	return &OllamaProvider{
		client:    client,
		transport: transport,
		host:      host,
		model:     model,
		timeout:   timeout,
		dims:      cfg.Dimensions,
	}
}

// EmbedBatch sends all inputs in a single /api/embed request.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, inputs []string) ([]Result, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, amanerrors.New(amanerrors.ErrCodeUnavailable, "ollama: provider is closed", nil)
	}
	if len(inputs) == 0 {
		return []Result{}, nil
	}

	body, err := json.Marshal(OllamaEmbedRequest{Model: p.model, Input: inputs})
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeBadRequest, "ollama: encode request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeBadRequest, "ollama: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyTransport("ollama", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("ollama", resp)
	}

	var parsed OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeUnknown, "ollama: decode response", err)
	}
	if len(parsed.Embeddings) != len(inputs) {
		return nil, amanerrors.New(amanerrors.ErrCodeUnknown,
			fmt.Sprintf("ollama: got %d embeddings for %d inputs", len(parsed.Embeddings), len(inputs)), nil)
	}

	results := make([]Result, len(inputs))
	for i, emb := range parsed.Embeddings {
		results[i] = Result{
			Vector: toFloat32(emb),
			Tokens: estimateTokens(inputs[i]),
		}
	}
	spreadTokens(results, parsed.PromptEvalCount)
	p.recordDims(results)
	return results, nil
}

// spreadTokens distributes a batch-level token count across results by input weight.
func spreadTokens(results []Result, total int) {
	if total <= 0 {
		return
	}
	var est int
	for _, r := range results {
		est += r.Tokens
	}
	if est == 0 {
		return
	}
	for i := range results {
		results[i].Tokens = results[i].Tokens * total / est
	}
}

func (p *OllamaProvider) recordDims(results []Result) {
	for _, r := range results {
		if len(r.Vector) > 0 {
			p.mu.Lock()
			p.dims = len(r.Vector)
			p.mu.Unlock()
			return
		}
	}
}

// Fingerprint implements Provider.
func (p *OllamaProvider) Fingerprint() kernel.ModelFingerprint {
	return kernel.ModelFingerprint{Provider: string(ProviderOllama), Model: p.model, Host: p.host}
}

// Dimensions implements Provider.
func (p *OllamaProvider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dims
}

// Close releases idle connections.
func (p *OllamaProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.transport.CloseIdleConnections()
	return nil
}
