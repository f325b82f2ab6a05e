package watcher

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/amanembed/internal/index"
)

// Indexer is the part of the index a Syncer drives.
type Indexer interface {
	Ingest(ctx context.Context, rel string) (int, error)
	Remove(ctx context.Context, rel string) (int, error)
	IndexAll(ctx context.Context) (index.IndexReport, error)
}

// SyncResult summarizes one applied batch.
type SyncResult struct {
	Ingested int
	Removed  int
	Rescans  int
	Errors   int
}

// Syncer applies watcher batches to an Indexer.
type Syncer struct {
	idx    Indexer
	logger *slog.Logger

	// OnConfigChange, when set, runs before the rescan that follows a
	// config file change.
	OnConfigChange func(ctx context.Context) error
}

// NewSyncer creates a Syncer. A nil logger uses slog.Default.
func NewSyncer(idx Indexer, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{idx: idx, logger: logger}
}

// Apply ingests created and modified files and removes deleted ones.
// Directory changes, config changes and deletes that matched nothing fall
// back to one full rescan after the rest of the batch.
func (s *Syncer) Apply(ctx context.Context, batch []FileEvent) SyncResult {
	var res SyncResult
	rescan := false

	for _, ev := range batch {
		if ctx.Err() != nil {
			return res
		}
		switch {
		case ev.Operation == OpConfigChange:
			if s.OnConfigChange != nil {
				if err := s.OnConfigChange(ctx); err != nil {
					res.Errors++
					s.logger.Warn("config_reload_failed", slog.String("error", err.Error()))
				}
			}
			rescan = true

		case ev.IsDir, ev.Operation == OpIgnoreChange:
			// Scans reload ignore rules.
			rescan = true

		case ev.Operation == OpDelete:
			n, err := s.idx.Remove(ctx, ev.Path)
			if err != nil {
				res.Errors++
				s.logger.Warn("watch_remove_failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
				continue
			}
			if n == 0 {
				// Possibly a directory; its files are only known to the index.
				rescan = true
			}
			res.Removed += n

		default:
			n, err := s.idx.Ingest(ctx, ev.Path)
			if err != nil {
				res.Errors++
				s.logger.Warn("watch_ingest_failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
				continue
			}
			res.Ingested += n
		}
	}

	if rescan {
		report, err := s.idx.IndexAll(ctx)
		res.Rescans++
		if err != nil {
			res.Errors++
			s.logger.Warn("watch_rescan_failed", slog.String("error", err.Error()))
		} else {
			res.Ingested += report.Enqueued
			res.Removed += report.Removed
		}
	}

	s.logger.Debug("watch_batch_applied",
		slog.Int("events", len(batch)),
		slog.Int("ingested", res.Ingested),
		slog.Int("removed", res.Removed),
		slog.Int("rescans", res.Rescans))
	return res
}

// Run applies batches from w until ctx is done or w is stopped.
func (s *Syncer) Run(ctx context.Context, w *Watcher) error {
	events, errs := w.Events(), w.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			s.Apply(ctx, batch)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}
