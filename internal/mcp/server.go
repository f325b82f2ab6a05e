package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanembed/internal/index"
	"github.com/Aman-CERP/amanembed/internal/search"
	"github.com/Aman-CERP/amanembed/internal/store"
	"github.com/Aman-CERP/amanembed/pkg/version"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Index is the part of the coordinator the server exposes.
type Index interface {
	Similar(ctx context.Context, text string, limit int, f search.Filter) ([]search.Result, error)
	SimilarTo(key string, limit int, f search.Filter, furthest bool) ([]search.Result, error)
	Status(ctx context.Context) (index.Status, error)
	Reembed(keys []string) (int, error)
	Retry() error
	Probe(ctx context.Context) error
	Collection() *store.Collection
}

// Server is the MCP server.
type Server struct {
	mcp    *mcp.Server
	idx    Index
	logger *slog.Logger
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{"similar", "Semantic similarity search over indexed files and markdown sections. Embeds the query with the active model and returns the closest entity keys with cosine scores. Only entities whose vector matches their current content are returned."},
	{"similar_to", "Rank indexed entities by similarity to an existing entity's stored vector. Set furthest to list the least similar first."},
	{"embed_status", "Report the embedding kernel phase (idle, running, error), the active model, run progress, queue counts and the last error."},
	{"reembed", "Queue entity keys for re-embedding. A key ending in / or * selects every entity with that prefix."},
	{"retry", "Leave the error phase and resume embedding. With probe set, one provider call is made first and processing resumes only if it succeeds."},
}

// NewServer creates a server over idx. A nil logger uses slog.Default.
func NewServer(idx Index, logger *slog.Logger) (*Server, error) {
	if idx == nil {
		return nil, fmt.Errorf("index is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{idx: idx, logger: logger}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "amanembed", Version: version.Version}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// ListTools returns the registered tools in registration order.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

func (s *Server) registerTools() {
	desc := func(name string) string {
		for _, t := range tools {
			if t.Name == name {
				return t.Description
			}
		}
		return ""
	}
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "similar", Description: desc("similar")}, s.mcpSimilar)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "similar_to", Description: desc("similar_to")}, s.mcpSimilarTo)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "embed_status", Description: desc("embed_status")}, s.mcpStatus)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "reembed", Description: desc("reembed")}, s.mcpReembed)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "retry", Description: desc("retry")}, s.mcpRetry)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// SimilarInput is the input of the similar tool.
type SimilarInput struct {
	Query    string   `json:"query" jsonschema:"text to embed and compare"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Prefixes []string `json:"prefixes,omitempty" jsonschema:"only keys starting with one of these"`
	Exclude  []string `json:"exclude,omitempty" jsonschema:"keys to leave out"`
	Type     string   `json:"type,omitempty" jsonschema:"source or block; empty for both"`
	MinScore float64  `json:"min_score,omitempty" jsonschema:"drop results scoring below this cosine similarity"`
}

// SimilarToInput is the input of the similar_to tool.
type SimilarToInput struct {
	Key      string `json:"key" jsonschema:"entity key to compare against"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Furthest bool   `json:"furthest,omitempty" jsonschema:"return the least similar entities first"`
	Type     string `json:"type,omitempty" jsonschema:"source or block; empty for both"`
}

// ResultOutput is one ranked entity.
type ResultOutput struct {
	Key        string  `json:"key"`
	Type       string  `json:"type"`
	SourcePath string  `json:"source_path"`
	Heading    string  `json:"heading,omitempty"`
	Score      float64 `json:"score"`
}

// SimilarOutput is the output of the similarity tools.
type SimilarOutput struct {
	Results []ResultOutput `json:"results"`
}

// StatusInput takes no parameters.
type StatusInput struct{}

// RunOutput is the progress of the active run.
type RunOutput struct {
	RunID       string `json:"run_id"`
	Reason      string `json:"reason"`
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	StartedAt   string `json:"started_at"`
	LastItemKey string `json:"last_item_key,omitempty"`
}

// ErrorOutput is the last recorded kernel error.
type ErrorOutput struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	At      string `json:"at"`
}

// StatusOutput is the output of embed_status.
type StatusOutput struct {
	Phase      string       `json:"phase"`
	Model      string       `json:"model"`
	Dimensions int          `json:"dimensions"`
	SearchMode string       `json:"search_mode"`
	Run        *RunOutput   `json:"run,omitempty"`
	Pending    int          `json:"pending"`
	Stale      int          `json:"stale"`
	LastError  *ErrorOutput `json:"last_error,omitempty"`
	Entities   int          `json:"entities"`
	Fresh      int          `json:"fresh"`
}

// ReembedInput is the input of reembed.
type ReembedInput struct {
	Keys []string `json:"keys" jsonschema:"entity keys or prefixes ending in / or *"`
}

// ReembedOutput is the output of reembed.
type ReembedOutput struct {
	Enqueued int    `json:"enqueued"`
	Warning  string `json:"warning,omitempty"`
}

// RetryInput is the input of retry.
type RetryInput struct {
	Probe bool `json:"probe,omitempty" jsonschema:"check the provider before resuming"`
}

// RetryOutput is the output of retry.
type RetryOutput struct {
	Phase string `json:"phase"`
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

func typeFilter(f *search.Filter, typ string) error {
	switch typ {
	case "":
		return nil
	case string(store.TypeSource), string(store.TypeBlock):
		f.Predicate = func(r search.Result) bool { return r.Type == typ }
		return nil
	}
	return NewInvalidParamsError(fmt.Sprintf("unknown type %q (want source or block)", typ))
}

func (s *Server) handleSimilar(ctx context.Context, in SimilarInput) (SimilarOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return SimilarOutput{}, NewInvalidParamsError("query parameter is required")
	}
	f := search.Filter{Prefixes: in.Prefixes, ExcludeKeys: in.Exclude, MinScore: in.MinScore}
	if err := typeFilter(&f, in.Type); err != nil {
		return SimilarOutput{}, err
	}
	results, err := s.idx.Similar(ctx, in.Query, clampLimit(in.Limit), f)
	if err != nil {
		return SimilarOutput{}, MapError(err)
	}
	return s.toOutput(results), nil
}

func (s *Server) handleSimilarTo(_ context.Context, in SimilarToInput) (SimilarOutput, error) {
	if in.Key == "" {
		return SimilarOutput{}, NewInvalidParamsError("key parameter is required")
	}
	var f search.Filter
	if err := typeFilter(&f, in.Type); err != nil {
		return SimilarOutput{}, err
	}
	results, err := s.idx.SimilarTo(in.Key, clampLimit(in.Limit), f, in.Furthest)
	if err != nil {
		return SimilarOutput{}, MapError(err)
	}
	return s.toOutput(results), nil
}

func (s *Server) toOutput(results []search.Result) SimilarOutput {
	out := SimilarOutput{Results: make([]ResultOutput, 0, len(results))}
	coll := s.idx.Collection()
	for _, r := range results {
		ro := ResultOutput{Key: r.Key, Type: r.Type, SourcePath: r.SourcePath, Score: r.Score}
		if e, ok := coll.Get(r.Key); ok {
			ro.Heading = e.Attr("heading")
		}
		out.Results = append(out.Results, ro)
	}
	return out
}

func (s *Server) handleStatus(ctx context.Context) (StatusOutput, error) {
	st, err := s.idx.Status(ctx)
	if err != nil {
		return StatusOutput{}, MapError(err)
	}
	modelKey := st.State.Model.Key()
	out := StatusOutput{
		Phase:      string(st.State.Phase),
		Model:      modelKey,
		Dimensions: st.Dimensions,
		SearchMode: st.SearchMode,
		Pending:    st.State.Queue.Pending,
		Stale:      st.State.Queue.Stale,
		Entities:   st.Entities,
		Fresh:      st.Store.Fresh[modelKey],
	}
	if r := st.State.Run; r != nil {
		out.Run = &RunOutput{
			RunID:       r.RunID,
			Reason:      r.Reason,
			Current:     r.Current,
			Total:       r.Total,
			StartedAt:   r.StartedAt.Format(time.RFC3339),
			LastItemKey: r.LastItemKey,
		}
	}
	if e := st.State.LastError; e != nil {
		out.LastError = &ErrorOutput{Code: e.Code, Message: e.Message, At: e.At.Format(time.RFC3339)}
	}
	return out, nil
}

func (s *Server) handleReembed(_ context.Context, in ReembedInput) (ReembedOutput, error) {
	if len(in.Keys) == 0 {
		return ReembedOutput{}, NewInvalidParamsError("keys parameter is required")
	}
	n, err := s.idx.Reembed(in.Keys)
	if err != nil {
		if n == 0 {
			return ReembedOutput{}, MapError(err)
		}
		return ReembedOutput{Enqueued: n, Warning: err.Error()}, nil
	}
	return ReembedOutput{Enqueued: n}, nil
}

func (s *Server) handleRetry(ctx context.Context, in RetryInput) (RetryOutput, error) {
	var err error
	if in.Probe {
		err = s.idx.Probe(ctx)
	} else {
		err = s.idx.Retry()
	}
	if err != nil {
		return RetryOutput{}, MapError(err)
	}
	st, err := s.idx.Status(ctx)
	if err != nil {
		return RetryOutput{}, MapError(err)
	}
	return RetryOutput{Phase: string(st.State.Phase)}, nil
}

func (s *Server) mcpSimilar(ctx context.Context, _ *mcp.CallToolRequest, in SimilarInput) (*mcp.CallToolResult, SimilarOutput, error) {
	out, err := s.handleSimilar(ctx, in)
	return nil, out, err
}

func (s *Server) mcpSimilarTo(ctx context.Context, _ *mcp.CallToolRequest, in SimilarToInput) (*mcp.CallToolResult, SimilarOutput, error) {
	out, err := s.handleSimilarTo(ctx, in)
	return nil, out, err
}

func (s *Server) mcpStatus(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	out, err := s.handleStatus(ctx)
	return nil, out, err
}

func (s *Server) mcpReembed(ctx context.Context, _ *mcp.CallToolRequest, in ReembedInput) (*mcp.CallToolResult, ReembedOutput, error) {
	out, err := s.handleReembed(ctx, in)
	return nil, out, err
}

func (s *Server) mcpRetry(ctx context.Context, _ *mcp.CallToolRequest, in RetryInput) (*mcp.CallToolResult, RetryOutput, error) {
	out, err := s.handleRetry(ctx, in)
	return nil, out, err
}

// CallTool invokes a tool by name with loosely typed arguments, bypassing
// the transport.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "similar":
		return call(ctx, args, s.handleSimilar)
	case "similar_to":
		return call(ctx, args, s.handleSimilarTo)
	case "embed_status":
		return s.handleStatus(ctx)
	case "reembed":
		return call(ctx, args, s.handleReembed)
	case "retry":
		return call(ctx, args, s.handleRetry)
	}
	return nil, NewMethodNotFoundError(name)
}

func call[In, Out any](ctx context.Context, args map[string]any, h func(context.Context, In) (Out, error)) (any, error) {
	var in In
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, NewInvalidParamsError(err.Error())
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, NewInvalidParamsError(err.Error())
		}
	}
	return h(ctx, in)
}

// Serve runs the server on transport until ctx is done. Only stdio is supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))
	switch transport {
	case "stdio", "":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && ctx.Err() == nil {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
