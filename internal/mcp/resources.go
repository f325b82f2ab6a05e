package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanembed/internal/store"
)

const (
	// MaxResourceSize caps the text returned for one resource.
	MaxResourceSize = 1024 * 1024

	entityScheme = "amanembed://entity/"
	statusURI    = "amanembed://status"
)

// EntityURI returns the resource URI of an entity key.
func EntityURI(key string) string {
	return entityScheme + url.PathEscape(key)
}

// RegisterResources registers the status document and every loaded entity
// as resources. Entities added later are readable through the same URI
// scheme once registered again.
func (s *Server) RegisterResources(ctx context.Context) error {
	s.mcp.AddResource(&mcp.Resource{
		Name:        "status",
		URI:         statusURI,
		Description: "Embedding kernel status",
		MIMEType:    "application/json",
	}, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.readStatus(ctx)
	})

	entities := s.idx.Collection().All()
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.registerEntity(e)
	}
	s.logger.Info("registered resources", "count", len(entities)+1)
	return nil
}

func (s *Server) registerEntity(e *store.Entity) {
	desc := e.SourcePath()
	if h := e.Attr("heading"); h != "" {
		desc = fmt.Sprintf("%s > %s", desc, h)
	}
	key := e.Key()
	s.mcp.AddResource(&mcp.Resource{
		Name:        key,
		URI:         EntityURI(key),
		Description: desc,
		MIMEType:    MimeTypeForPath(e.SourcePath()),
	}, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.ReadEntity(ctx, key)
	})
}

// ReadEntity returns the embedding input of an entity as a resource.
func (s *Server) ReadEntity(ctx context.Context, key string) (*mcp.ReadResourceResult, error) {
	e, ok := s.idx.Collection().Get(key)
	if !ok {
		return nil, &MCPError{Code: ErrCodeNotFound, Message: fmt.Sprintf("entity not found: %s", key)}
	}
	text, err := e.EmbedInput(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	if len(text) > MaxResourceSize {
		text = strings.ToValidUTF8(text[:MaxResourceSize], "")
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      EntityURI(key),
			MIMEType: MimeTypeForPath(e.SourcePath()),
			Text:     text,
		}},
	}, nil
}

func (s *Server) readStatus(ctx context.Context) (*mcp.ReadResourceResult, error) {
	out, err := s.handleStatus(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: statusURI, MIMEType: "application/json", Text: string(raw)}},
	}, nil
}
