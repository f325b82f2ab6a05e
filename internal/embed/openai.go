package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
	"github.com/Aman-CERP/amanembed/internal/kernel"
)

const (
	// DefaultOpenAIBaseURL is the OpenAI REST root.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// DefaultOpenAIModel is the default OpenAI embedding model.
	DefaultOpenAIModel = "text-embedding-3-small"
)

type openAIRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// OpenAIProvider calls an OpenAI-compatible POST {baseURL}/embeddings endpoint.
type OpenAIProvider struct {
	client    *http.Client
	transport *http.Transport
	baseURL   string
	model     string
	apiKey    string
	timeout   time.Duration

	// reqDims is sent only when configured; not every model accepts it.
	reqDims int

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, amanerrors.New(amanerrors.ErrCodeAuth, "openai: API key is not configured", nil).
			WithSuggestion("Set the variable named by embeddings.api_key_env")
	}
	baseURL := strings.TrimRight(cfg.Host, "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client, transport := newHTTPClient(cfg.PoolSize)
	return &OpenAIProvider{
		client:    client,
		transport: transport,
		baseURL:   baseURL,
		model:     model,
		apiKey:    cfg.APIKey,
		timeout:   timeout,
		reqDims:   cfg.Dimensions,
		dims:      cfg.Dimensions,
	}, nil
}

// EmbedBatch implements Provider.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, inputs []string) ([]Result, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, amanerrors.New(amanerrors.ErrCodeUnavailable, "openai: provider is closed", nil)
	}
	if len(inputs) == 0 {
		return []Result{}, nil
	}

	body, err := json.Marshal(openAIRequest{Model: p.model, Input: inputs, Dimensions: p.reqDims})
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeBadRequest, "openai: encode request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeBadRequest, "openai: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyTransport("openai", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus("openai", resp)
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeUnknown, "openai: decode response", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, amanerrors.New(amanerrors.ErrCodeUnknown,
			fmt.Sprintf("openai: got %d embeddings for %d inputs", len(parsed.Data), len(inputs)), nil)
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	results := make([]Result, len(inputs))
	for i, d := range parsed.Data {
		results[i] = Result{Vector: toFloat32(d.Embedding), Tokens: estimateTokens(inputs[i])}
	}
	total := parsed.Usage.PromptTokens
	if total == 0 {
		total = parsed.Usage.TotalTokens
	}
	spreadTokens(results, total)

	for _, r := range results {
		if len(r.Vector) > 0 {
			p.mu.Lock()
			p.dims = len(r.Vector)
			p.mu.Unlock()
			break
		}
	}
	return results, nil
}

// Fingerprint implements Provider.
func (p *OpenAIProvider) Fingerprint() kernel.ModelFingerprint {
	return kernel.ModelFingerprint{Provider: string(ProviderOpenAI), Model: p.model, Host: p.baseURL}
}

// Dimensions implements Provider.
func (p *OpenAIProvider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dims
}

// Close implements Provider.
func (p *OpenAIProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.transport.CloseIdleConnections()
	}
	return nil
}
