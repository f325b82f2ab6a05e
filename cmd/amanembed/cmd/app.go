package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/amanembed/internal/embed"
	"github.com/Aman-CERP/amanembed/internal/index"
	"github.com/Aman-CERP/amanembed/internal/store"
	"github.com/Aman-CERP/amanembed/internal/ui"
)

// Data directory layout.
const (
	storeFileName = "store.db"
	hnswFileName  = "vectors.hnsw"
)

// lockWait bounds how long a command waits for another process to release
// the data directory.
var lockWait = 2 * time.Second

// session is an opened index with the lock that guards it.
type session struct {
	idx  *index.Coordinator
	lock *store.DirLock
	log  *slog.Logger
}

// open locks the data directory and opens the coordinator over it.
func (a *app) open(ctx context.Context) (*session, error) {
	dataDir := a.cfg.ResolveDataDir(a.root)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	lock := store.NewDirLock(dataDir)
	lctx, cancel := context.WithTimeout(ctx, lockWait)
	err := lock.LockContext(lctx, 100*time.Millisecond)
	cancel()
	if err != nil {
		if lerr := lock.TryLock(); lerr != nil {
			return nil, lerr
		}
	}

	s, err := a.openLocked(ctx, dataDir)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	s.lock = lock
	return s, nil
}

func (a *app) openLocked(ctx context.Context, dataDir string) (*session, error) {
	db, err := store.OpenSQLite(filepath.Join(dataDir, storeFileName),
		store.WithMultiplier(a.cfg.Search.Multiplier),
		store.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}

	registry := embed.DefaultRegistry()
	provider, err := registry.New(a.cfg.EmbedConfig())
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	e := a.cfg.Embeddings
	idx := index.New(index.Config{
		Source:         a.cfg.SourceOptions(a.root),
		BatchSize:      e.BatchSize,
		MaxRetries:     e.MaxRetries,
		Concurrency:    e.Concurrency,
		SaveEvery:      e.SaveEvery,
		SearchMode:     a.cfg.Search.Mode,
		Multiplier:     a.cfg.Search.Multiplier,
		HNSW:           store.HNSWConfig{M: a.cfg.Search.HNSWM, EfSearch: a.cfg.Search.HNSWEfSearch},
		HNSWPath:       filepath.Join(dataDir, hnswFileName),
		QueryCacheSize: e.QueryCacheSize,
	}, index.Deps{
		Store:    db,
		Provider: provider,
		Registry: registry,
		Logger:   a.logger,
	})
	if err := idx.Open(ctx); err != nil {
		_ = idx.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return &session{idx: idx, log: a.logger}, nil
}

// close saves state and releases the data directory.
func (s *session) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	err := s.idx.Close(ctx)
	if uerr := s.lock.Unlock(); uerr != nil {
		s.log.Warn("unlock_failed", slog.String("error", uerr.Error()))
	}
	return err
}

// renderer returns the renderer for out, honouring --no-tui.
func (a *app) renderer(cmd interface{ OutOrStdout() io.Writer }) ui.Renderer {
	return ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(a.noTUI),
		ui.WithProjectDir(a.root)))
}

// summary builds the closing summary for a command that waited on a run.
func summary(ctx context.Context, idx *index.Coordinator, rep index.IndexReport, started time.Time) ui.Summary {
	st, _ := idx.Status(ctx)
	s := ui.Summary{
		Files:      rep.Files,
		Entities:   st.Entities,
		Embedded:   max(rep.Enqueued-st.State.Queue.Pending, 0),
		Removed:    rep.Removed,
		Errors:     rep.Errors,
		Model:      st.State.Model.Key(),
		Dimensions: st.Dimensions,
		Duration:   time.Since(started),
	}
	if st.State.LastError != nil {
		s.Errors++
	}
	return s
}
