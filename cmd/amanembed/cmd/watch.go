package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanembed/internal/config"
	"github.com/Aman-CERP/amanembed/internal/index"
	"github.com/Aman-CERP/amanembed/internal/ui"
	"github.com/Aman-CERP/amanembed/internal/watcher"
)

func newWatchCmd(a *app) *cobra.Command {
	var noInitial bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Index, then keep embeddings current as files change",
		Long: `Index the project, then watch it and re-embed files as they are
created, modified or deleted. Falls back to polling where fsnotify is not
available. Changing .amanembed.yaml triggers a full rescan.

Stop with Ctrl+C; progress is saved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, a, !noInitial)
		},
	}
	cmd.Flags().BoolVar(&noInitial, "no-initial-scan", false, "Skip the full scan before watching")
	return cmd
}

func runWatch(cmd *cobra.Command, a *app, initial bool) (err error) {
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

	// The interactive view ends after one run; watching is open-ended.
	r := ui.NewPlainRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithProjectDir(a.root)))
	detach := ui.Attach(s.idx.Kernel(), r)
	defer detach()

	if initial {
		if _, err := s.idx.IndexAll(ctx); err != nil {
			return err
		}
	}
	return watchIndex(ctx, a, s.idx)
}

// watchIndex runs the watcher and applies its batches to idx until ctx is done.
func watchIndex(ctx context.Context, a *app, idx *index.Coordinator) error {
	opts := watcher.DefaultOptions()
	opts.Source = a.cfg.SourceOptions(a.root)
	opts.DebounceWindow = config.Duration(a.cfg.Watch.Debounce, opts.DebounceWindow)
	opts.PollInterval = config.Duration(a.cfg.Watch.PollInterval, opts.PollInterval)
	opts.ForcePolling = a.cfg.Watch.ForcePolling
	opts.Logger = a.logger

	w, err := watcher.New(opts)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	syncer := watcher.NewSyncer(idx, a.logger)
	syncer.OnConfigChange = func(context.Context) error {
		cfg, err := config.LoadFile(a.root, a.configPath)
		if err != nil {
			return err
		}
		a.logger.Info("config_reloaded",
			slog.String("provider", cfg.Embeddings.Provider),
			slog.String("model", cfg.Embeddings.Model))
		if cfg.EmbedConfig() != a.cfg.EmbedConfig() {
			if err := idx.SwitchModel(ctx, cfg.EmbedConfig()); err != nil {
				return err
			}
		}
		a.cfg = cfg
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := w.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := syncer.Run(gctx, w)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	a.logger.Info("watch_started", slog.String("root", a.root), slog.String("mode", w.Mode()))

	err = g.Wait()
	a.logger.Info("watch_stopped")
	return err
}
