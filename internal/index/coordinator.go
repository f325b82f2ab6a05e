// Package index drives embedding runs for a project.
//
// The Coordinator owns the kernel store, job queue, pipeline, entity
// collection and provider. Producers call Ingest, Remove, Reembed or
// SwitchModel; queue transitions start drains in the background, and each
// drain resolves queued jobs to entities and hands them to the pipeline.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/Aman-CERP/amanembed/internal/embed"
	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
	"github.com/Aman-CERP/amanembed/internal/kernel"
	"github.com/Aman-CERP/amanembed/internal/pipeline"
	"github.com/Aman-CERP/amanembed/internal/queue"
	"github.com/Aman-CERP/amanembed/internal/source"
	"github.com/Aman-CERP/amanembed/internal/store"
)

// Run reasons recorded in kernel.RunContext.
const (
	ReasonQueue       = "queue"
	ReasonManualRetry = "manual_retry"
	ReasonProbe       = "probe"
	ReasonModelSwitch = "model_switch"
)

// Coordinator wires the embedding subsystems together. Construct one with
// New and pass it by handle.
type Coordinator struct {
	cfg      Config
	logger   *slog.Logger
	kernel   *kernel.Store
	queue    *queue.Queue
	pipe     *pipeline.Pipeline
	coll     *store.Collection
	db       VectorStore
	registry *embed.Registry

	// mu guards the fields below.
	mu        sync.Mutex
	provider  embed.Provider
	cache     *embed.Cached
	hnsw      *store.HNSWIndex
	draining  bool
	pending   bool
	switching bool
	closed    bool
	idle      chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	newID   func() string
}

// Deps are the collaborators a Coordinator takes ownership of.
type Deps struct {
	Store    VectorStore
	Provider embed.Provider
	Registry *embed.Registry
	Logger   *slog.Logger
}

// New creates a Coordinator. Call Open before use.
func New(cfg Config, deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := deps.Registry
	if registry == nil {
		registry = embed.DefaultRegistry()
	}
	cfg = cfg.withDefaults()

	idle := make(chan struct{})
	close(idle)
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		cfg:      cfg,
		logger:   logger,
		kernel:   kernel.NewStore(kernel.Initial(deps.Provider.Fingerprint()), logger),
		queue:    queue.New(),
		pipe:     pipeline.New(deps.Provider, logger),
		coll:     store.NewCollection(deps.Store, logger),
		db:       deps.Store,
		registry: registry,
		provider: deps.Provider,
		cache:    embed.NewCached(deps.Provider, cfg.QueryCacheSize),
		idle:     idle,
		baseCtx:  ctx,
		cancel:   cancel,
		newID:    uuid.NewString,
	}

	c.queue.OnNonEmpty(c.onQueueNonEmpty)
	c.queue.OnEmpty(func() {
		c.kernel.Dispatch(kernel.Event{Type: kernel.QueueEmpty})
	})
	return c
}

// Kernel returns the kernel store for subscribers.
func (c *Coordinator) Kernel() *kernel.Store { return c.kernel }

// Queue returns the job queue.
func (c *Coordinator) Queue() *queue.Queue { return c.queue }

// Collection returns the entity collection.
func (c *Coordinator) Collection() *store.Collection { return c.coll }

// Provider returns the active provider.
func (c *Coordinator) Provider() embed.Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider
}

// ModelKey returns the fingerprint key of the active provider.
func (c *Coordinator) ModelKey() string {
	return c.Provider().Fingerprint().Key()
}

// Open loads persisted entities and prepares the search index. A failure
// moves the kernel to the error phase.
func (c *Coordinator) Open(ctx context.Context) error {
	if err := c.coll.Load(ctx); err != nil {
		c.kernel.Dispatch(kernel.Event{Type: kernel.InitCoreFailed, Message: err.Error()})
		return amanerrors.New(amanerrors.ErrCodeInitFailed, "load entities", err)
	}
	for _, e := range c.coll.All() {
		e.SetLoader(c.loaderFor(e))
	}

	if c.cfg.SearchMode == ModeHNSW {
		c.mu.Lock()
		c.hnsw = c.openHNSW(c.provider.Fingerprint().Key())
		c.mu.Unlock()
	}

	c.logger.Info("coordinator_opened",
		slog.Int("entities", c.coll.Len()),
		slog.String("model", c.ModelKey()),
		slog.String("search_mode", c.cfg.SearchMode))
	return nil
}

// openHNSW loads the persisted index for modelKey, or rebuilds it.
func (c *Coordinator) openHNSW(modelKey string) *store.HNSWIndex {
	if c.cfg.HNSWPath != "" {
		x, err := store.LoadHNSWIndex(c.cfg.HNSWPath, modelKey)
		if err == nil {
			return x
		}
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("hnsw_load_failed", slog.String("error", err.Error()))
		}
	}
	x := store.NewHNSWIndex(modelKey, c.cfg.HNSW)
	n := x.Build(c.coll)
	c.logger.Info("hnsw_built", slog.Int("vectors", n), slog.String("model", modelKey))
	return x
}

// loaderFor re-reads an entity's text from disk when it is not in memory.
func (c *Coordinator) loaderFor(e *store.Entity) store.Loader {
	key, typ, path := e.Key(), e.Type(), e.SourcePath()
	return func(context.Context) (string, error) {
		doc, err := source.Read(c.cfg.Source, path)
		if err != nil {
			return "", err
		}
		if typ != string(store.TypeBlock) {
			return doc.Text, nil
		}
		text, ok := source.BlockText(doc, key)
		if !ok {
			return "", fmt.Errorf("block %s no longer exists", key)
		}
		return text, nil
	}
}

func (c *Coordinator) newRun(reason string) *kernel.RunContext {
	return &kernel.RunContext{RunID: c.newID(), Reason: reason}
}

// onQueueNonEmpty runs on the goroutine that made the queue non-empty.
func (c *Coordinator) onQueueNonEmpty() {
	c.kernel.Dispatch(kernel.Event{Type: kernel.QueueHasItems, Run: c.newRun(ReasonQueue)})
	c.kick(ReasonQueue)
}

// publishQueue dispatches the current queue counts.
func (c *Coordinator) publishQueue() {
	c.kernel.Dispatch(kernel.Event{
		Type: kernel.QueueSnapshotUpdated,
		Queue: kernel.QueueSnapshot{
			Pending: c.queue.Size(),
			Stale:   len(c.coll.Missing(c.ModelKey())),
		},
	})
}

// enqueue submits a job for e. It is the only way work is requested.
func (c *Coordinator) enqueue(e *store.Entity) {
	e.MarkDirty()
	c.queue.Enqueue(queue.Job{
		EntityKey:   e.Key(),
		ContentHash: e.ContentHash(),
		SourcePath:  e.SourcePath(),
	})
}

// kick starts a background drain, or marks one pending if a drain is
// already running or a model switch is in progress.
func (c *Coordinator) kick(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.draining || c.switching {
		c.pending = true
		c.mu.Unlock()
		return
	}
	c.draining = true
	c.idle = make(chan struct{})
	c.mu.Unlock()

	go c.drainLoop(reason)
}

func (c *Coordinator) drainLoop(reason string) {
	for {
		c.drain(c.baseCtx, reason)

		c.mu.Lock()
		if !c.pending || c.closed || c.switching {
			c.draining = false
			close(c.idle)
			c.mu.Unlock()
			return
		}
		c.pending = false
		c.mu.Unlock()
		reason = ReasonQueue
	}
}

func (c *Coordinator) isSwitching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switching
}

// Wait blocks until no drain is running or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.draining {
			c.mu.Unlock()
			return nil
		}
		idle := c.idle
		c.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain processes queued jobs until the queue is empty, the kernel leaves
// the running phase, or a run is halted.
func (c *Coordinator) drain(ctx context.Context, reason string) {
	for ctx.Err() == nil && !c.isSwitching() {
		st := c.kernel.State()
		if st.Phase == kernel.PhaseError {
			return
		}

		jobs := c.queue.ToArray()
		if len(jobs) == 0 {
			if st.Phase == kernel.PhaseRunning {
				c.kernel.Dispatch(kernel.Event{Type: kernel.RunFinished})
			}
			c.publishQueue()
			return
		}
		if st.Phase == kernel.PhaseIdle {
			c.kernel.Dispatch(kernel.Event{Type: kernel.RunStarted, Run: c.newRun(reason)})
		}

		if !c.runJobs(ctx, jobs) {
			return
		}
		reason = ReasonQueue
	}
}

// runJobs embeds one snapshot of jobs. It reports whether draining should
// continue.
func (c *Coordinator) runJobs(ctx context.Context, jobs []queue.Job) bool {
	items := make([]pipeline.Item, 0, len(jobs))
	expected := make(map[string]string, len(jobs))
	removed := 0
	for _, job := range jobs {
		e, ok := c.coll.Get(job.EntityKey)
		if !ok {
			if c.queue.RemoveIfHash(job.EntityKey, job.ContentHash) {
				removed++
			}
			continue
		}
		items = append(items, e)
		expected[job.EntityKey] = job.ContentHash
	}

	logger := c.logger
	if run := c.kernel.State().Run; run != nil {
		logger = logger.With(slog.String("run_id", run.RunID))
	}
	logger.Info("run_started", slog.Int("jobs", len(jobs)), slog.Int("items", len(items)))

	stats, err := c.pipe.Process(ctx, items, pipeline.Options{
		BatchSize:      c.cfg.BatchSize,
		MaxRetries:     c.cfg.MaxRetries,
		Concurrency:    c.cfg.Concurrency,
		SaveEvery:      c.cfg.SaveEvery,
		ExpectedHashes: expected,
		OnProgress: func(p pipeline.Progress) {
			c.kernel.Dispatch(kernel.Event{
				Type:        kernel.RunProgress,
				Current:     p.Current,
				Total:       p.Total,
				SourceCount: p.SourceCount,
				BlockCount:  p.BlockCount,
				LastItemKey: p.LastKey,
			})
		},
		OnSave: c.saveItems,
	})

	logger.Info("run_finished",
		slog.Int("total", stats.Total),
		slog.Int("success", stats.Success),
		slog.Int("failed", stats.Failed),
		slog.Int("skipped", stats.Skipped),
		slog.Bool("halted", stats.Halted),
		slog.Duration("duration", stats.Duration))

	// The terminal event goes out before jobs are removed, so an emptied
	// queue cannot move the kernel to idle ahead of a failure.
	proceed := false
	switch {
	case err != nil:
		c.kernel.Dispatch(kernel.Event{Type: kernel.RunFailed, Message: err.Error()})
	case stats.Fatal > 0 && stats.Success == 0:
		c.kernel.Dispatch(kernel.Event{
			Type:    kernel.FatalError,
			Code:    amanerrors.GetCode(stats.LastError),
			Message: stats.LastError.Error(),
		})
	default:
		c.kernel.Dispatch(kernel.Event{Type: kernel.RunFinished})
		proceed = !stats.Halted
	}

	// Jobs whose entity is clean and unchanged are done, whatever the outcome.
	for _, it := range items {
		if it.IsDirty() {
			continue
		}
		if c.queue.RemoveIfHash(it.Key(), expected[it.Key()]) {
			removed++
		}
	}
	c.publishQueue()

	if proceed && removed == 0 && c.queue.Size() > 0 {
		logger.Warn("drain_stalled", slog.Int("pending", c.queue.Size()))
		return false
	}
	return proceed
}

// saveItems persists embedded entities and keeps the HNSW index in step.
func (c *Coordinator) saveItems(ctx context.Context, items []pipeline.Item) error {
	entities := make([]*store.Entity, 0, len(items))
	for _, it := range items {
		if e, ok := it.(*store.Entity); ok {
			entities = append(entities, e)
		}
	}
	if err := c.coll.SaveBatch(ctx, entities); err != nil {
		return err
	}

	c.mu.Lock()
	x := c.hnsw
	c.mu.Unlock()
	if x == nil {
		return nil
	}
	for _, e := range entities {
		rec, ok := e.Vector(x.ModelKey())
		if !ok || rec.EmbedHash != e.ContentHash() {
			continue
		}
		if err := x.Upsert(e.Key(), rec.Vector, rec.EmbedHash); err != nil {
			c.logger.Warn("hnsw_upsert_failed", slog.String("key", e.Key()), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Close halts any run, waits for drains, saves state and releases the
// provider and store.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.pipe.Halt()
	c.cancel()
	waitErr := c.Wait(ctx)

	var errs []error
	if waitErr != nil {
		errs = append(errs, waitErr)
	}
	if err := c.coll.Save(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	x, provider := c.hnsw, c.provider
	c.mu.Unlock()
	if x != nil && c.cfg.HNSWPath != "" {
		if err := x.Save(c.cfg.HNSWPath); err != nil {
			errs = append(errs, err)
		}
	}
	if err := provider.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
