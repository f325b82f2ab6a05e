package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
	"github.com/Aman-CERP/amanembed/internal/mcp"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		watch   bool
		initial bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve similarity search to MCP clients over stdio",
		Long: `Start an MCP server on stdin/stdout. Tools: similar, similar_to,
embed_status, reembed and retry. Every indexed entity is also readable as
an amanembed://entity/ resource.

The project is scanned in the background and, unless --watch=false, kept
current as files change. Logs go to the log file only.

Example client config:
  {"command": "amanembed", "args": ["serve", "-C", "/path/to/project"]}`,
		Annotations: map[string]string{annotationMCP: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), a, initial, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "Keep the index current while serving")
	cmd.Flags().BoolVar(&initial, "initial-scan", true, "Scan the project when the server starts")
	return cmd
}

func runServe(ctx context.Context, a *app, initial, watch bool) (err error) {
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	srv, err := mcp.NewServer(s.idx, a.logger)
	if err != nil {
		return err
	}
	if err := srv.RegisterResources(ctx); err != nil {
		return err
	}

	// The client closing stdin ends the session, and with it the watcher.
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		defer cancel()
		err := srv.Serve(gctx, a.cfg.Server.Transport)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if initial || watch {
		// One goroutine so the scan and the watcher never ingest concurrently.
		g.Go(func() error {
			if initial {
				if _, err := s.idx.IndexAll(gctx); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					a.logger.LogAttrs(gctx, slog.LevelWarn, "initial_scan_failed", amanerrors.LogAttrs(err)...)
				}
			}
			if !watch {
				return nil
			}
			return watchIndex(gctx, a, s.idx)
		})
	}
	return g.Wait()
}
