package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
	"github.com/Aman-CERP/amanembed/internal/index"
	"github.com/Aman-CERP/amanembed/internal/kernel"
	"github.com/Aman-CERP/amanembed/internal/ui"
)

func newIndexCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Scan the project and embed new or changed content",
		Long: `Scan the project, ingest every text file and markdown section, drop
entities whose file is gone, and embed everything whose content changed.

Unchanged content keeps its vectors. Use --force to re-embed everything
with the active model.

Examples:
  amanembed index
  amanembed index --force --no-tui`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd, a, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Re-embed every entity")
	return cmd
}

func runIndex(cmd *cobra.Command, a *app, force bool) (err error) {
	ctx := cmd.Context()
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	r := a.renderer(cmd)
	if err := r.Start(ctx); err != nil {
		return err
	}
	detach := ui.Attach(s.idx.Kernel(), r)
	defer func() {
		detach()
		_ = r.Stop()
	}()

	started := time.Now()
	rep, err := s.idx.IndexAll(ctx)
	if err != nil {
		return err
	}
	if force {
		n, _ := s.idx.Reembed([]string{"*"})
		rep.Enqueued = n
	}
	if err := waitIdle(ctx, s.idx); err != nil {
		return err
	}
	r.Complete(summary(ctx, s.idx, rep, started))

	a.logger.Info("index_complete",
		slog.Int("files", rep.Files),
		slog.Int("enqueued", rep.Enqueued),
		slog.Int("removed", rep.Removed),
		slog.Duration("duration", time.Since(started)))
	return kernelError(s.idx)
}

// kernelError reports a kernel left in the error phase as a command failure.
func kernelError(idx *index.Coordinator) error {
	st := idx.Kernel().State()
	if st.Phase != kernel.PhaseError || st.LastError == nil {
		return nil
	}
	return amanerrors.New(amanerrors.ErrCodeRunFailed,
		fmt.Sprintf("embedding stopped: %s: %s", st.LastError.Code, st.LastError.Message), nil).
		WithSuggestion("Fix the cause, then run 'amanembed retry --probe'")
}

// waitIdle waits for the active drain; a cancelled ctx is not an error.
func waitIdle(ctx context.Context, idx *index.Coordinator) error {
	if err := idx.Wait(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
