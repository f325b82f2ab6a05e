package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/Aman-CERP/amanembed/internal/embed"
	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
	"github.com/Aman-CERP/amanembed/internal/kernel"
	"github.com/Aman-CERP/amanembed/internal/search"
	"github.com/Aman-CERP/amanembed/internal/source"
	"github.com/Aman-CERP/amanembed/internal/store"
)

// Ingest reads the file at rel and upserts its source entity and markdown
// blocks. Changed entities, and entities without a fresh vector for the
// active model, are enqueued. Files that can no longer be read are removed.
func (c *Coordinator) Ingest(ctx context.Context, rel string) (int, error) {
	n, err := c.ingest(ctx, rel)
	c.publishQueue()
	return n, err
}

func (c *Coordinator) ingest(ctx context.Context, rel string) (int, error) {
	doc, err := source.Read(c.cfg.Source, rel)
	if err != nil {
		switch amanerrors.GetCode(err) {
		case amanerrors.ErrCodeFileNotFound, amanerrors.ErrCodeFileTooLarge, amanerrors.ErrCodeInvalidInput:
			c.logger.Debug("source_unreadable", slog.String("path", rel), slog.String("error", err.Error()))
			_, rmErr := c.remove(ctx, rel)
			return 0, rmErr
		}
		return 0, err
	}

	modelKey := c.ModelKey()
	var touched []*store.Entity

	src := c.upsert(doc.Path, store.TypeSource, doc.Path, doc.Text)
	for k, v := range doc.Attrs {
		src.SetAttr(k, v)
	}
	touched = append(touched, src)

	live := map[string]bool{doc.Path: true}
	for _, b := range doc.Blocks {
		e := c.upsert(b.Key, store.TypeBlock, doc.Path, b.Text)
		e.SetAttr("heading", b.Heading)
		e.SetAttr("header_path", b.HeaderPath)
		e.SetAttr("level", strconv.Itoa(b.Level))
		e.SetAttr("start_line", strconv.Itoa(b.StartLine))
		touched = append(touched, e)
		live[b.Key] = true
	}

	// Blocks whose heading disappeared.
	for _, e := range c.coll.BySourcePath(doc.Path) {
		if !live[e.Key()] {
			c.dropEntity(e.Key())
		}
	}

	enqueued := 0
	for _, e := range touched {
		if _, fresh := e.FreshVector(modelKey); e.IsDirty() || !fresh {
			c.enqueue(e)
			enqueued++
		}
	}

	if err := c.coll.SaveBatch(ctx, touched); err != nil {
		return enqueued, err
	}
	return enqueued, nil
}

// upsert returns the entity for key with its content set to text.
func (c *Coordinator) upsert(key string, typ store.EntityType, path, text string) *store.Entity {
	e, ok := c.coll.Get(key)
	if !ok {
		e = store.NewEntity(key, typ, path)
		e.SetLoader(c.loaderFor(e))
		c.coll.Put(e)
	}
	e.SetContent(text)
	return e
}

func (c *Coordinator) dropEntity(key string) {
	c.coll.Delete(key)
	c.queue.Remove(key)
	c.mu.Lock()
	x := c.hnsw
	c.mu.Unlock()
	if x != nil {
		x.Delete(key)
	}
}

// Remove deletes every entity read from rel, with its vectors and queued jobs.
func (c *Coordinator) Remove(ctx context.Context, rel string) (int, error) {
	n, err := c.remove(ctx, rel)
	c.publishQueue()
	return n, err
}

func (c *Coordinator) remove(ctx context.Context, rel string) (int, error) {
	entities := c.coll.BySourcePath(rel)
	for _, e := range entities {
		c.dropEntity(e.Key())
	}
	c.queue.RemoveBySourcePath(rel)
	if len(entities) == 0 {
		return 0, nil
	}
	c.logger.Debug("source_removed", slog.String("path", rel), slog.Int("entities", len(entities)))
	return len(entities), c.coll.SaveBatch(ctx, nil)
}

// IndexReport summarizes an IndexAll call.
type IndexReport struct {
	Files    int `json:"files"`
	Enqueued int `json:"enqueued"`
	Removed  int `json:"removed"`
	Errors   int `json:"errors"`
}

// IndexAll scans the project, ingests every file and removes entities whose
// file is gone. Embedding happens in the background; call Wait to block.
func (c *Coordinator) IndexAll(ctx context.Context) (IndexReport, error) {
	var report IndexReport

	files, err := source.ScanAll(ctx, c.cfg.Source)
	if err != nil {
		return report, fmt.Errorf("scan: %w", err)
	}
	report.Files = len(files)

	present := make(map[string]bool, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		present[f.Path] = true
		n, err := c.ingest(ctx, f.Path)
		if err != nil {
			report.Errors++
			c.logger.Warn("ingest_failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		report.Enqueued += n
	}

	gone := map[string]bool{}
	for _, e := range c.coll.All() {
		if !present[e.SourcePath()] {
			gone[e.SourcePath()] = true
		}
	}
	paths := make([]string, 0, len(gone))
	for p := range gone {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		n, err := c.remove(ctx, p)
		if err != nil {
			report.Errors++
			c.logger.Warn("remove_failed", slog.String("path", p), slog.String("error", err.Error()))
		}
		report.Removed += n
	}

	c.publishQueue()
	c.logger.Info("index_scan_complete",
		slog.Int("files", report.Files),
		slog.Int("enqueued", report.Enqueued),
		slog.Int("removed", report.Removed))
	return report, nil
}

// Reembed enqueues the given entity keys regardless of their state. A key
// ending in "/" or "*" selects every entity with that prefix.
func (c *Coordinator) Reembed(keys []string) (int, error) {
	var unknown []string
	n := 0
	for _, key := range keys {
		if prefix, ok := prefixOf(key); ok {
			for _, e := range c.coll.All() {
				if strings.HasPrefix(e.Key(), prefix) {
					c.enqueue(e)
					n++
				}
			}
			continue
		}
		e, ok := c.coll.Get(key)
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		c.enqueue(e)
		n++
	}
	c.publishQueue()

	if len(unknown) > 0 {
		return n, amanerrors.New(amanerrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown entity keys: %s", strings.Join(unknown, ", ")), nil)
	}
	return n, nil
}

func prefixOf(key string) (string, bool) {
	switch {
	case strings.HasSuffix(key, "*"):
		return strings.TrimSuffix(key, "*"), true
	case strings.HasSuffix(key, "/"):
		return key, true
	}
	return "", false
}

// SwitchModel halts the active run, swaps in a provider built from cfg and
// re-enqueues, in key order, every entity without a fresh vector for it.
func (c *Coordinator) SwitchModel(ctx context.Context, cfg embed.Config) error {
	c.kernel.Dispatch(kernel.Event{Type: kernel.ModelSwitchRequested})

	c.mu.Lock()
	c.switching = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.switching = false
		c.mu.Unlock()
	}()

	c.pipe.Halt()
	if err := c.Wait(ctx); err != nil {
		c.kernel.Dispatch(kernel.Event{Type: kernel.ModelSwitchFailed, Message: err.Error()})
		return err
	}

	next, err := c.registry.New(cfg)
	if err != nil {
		c.kernel.Dispatch(kernel.Event{Type: kernel.ModelSwitchFailed, Message: err.Error()})
		return err
	}
	if err := c.pipe.SetProvider(next); err != nil {
		_ = next.Close()
		c.kernel.Dispatch(kernel.Event{Type: kernel.ModelSwitchFailed, Message: err.Error()})
		return err
	}

	fp := next.Fingerprint()
	c.mu.Lock()
	prev := c.provider
	c.provider = next
	c.cache = embed.NewCached(next, c.cfg.QueryCacheSize)
	rebuildHNSW := c.hnsw != nil
	c.mu.Unlock()
	if err := prev.Close(); err != nil {
		c.logger.Warn("provider_close_failed", slog.String("error", err.Error()))
	}

	if rebuildHNSW {
		x := c.openHNSW(fp.Key())
		c.mu.Lock()
		c.hnsw = x
		c.mu.Unlock()
	}

	c.kernel.Dispatch(kernel.Event{Type: kernel.ModelSwitchSucceeded, Model: fp})
	c.logger.Info("model_switched", slog.String("model", fp.Key()))

	c.mu.Lock()
	c.switching = false
	c.pending = false
	c.mu.Unlock()

	// Collection.Missing is ordered by key, giving a stable FIFO order.
	for _, e := range c.coll.Missing(fp.Key()) {
		c.enqueue(e)
	}
	c.publishQueue()
	if c.queue.Size() > 0 {
		c.kick(ReasonModelSwitch)
	}
	return nil
}

// Retry leaves the error phase and drains the queue.
func (c *Coordinator) Retry() error {
	st := c.kernel.Dispatch(kernel.Event{Type: kernel.ManualRetry, Run: c.newRun(ReasonManualRetry)})
	if st.Phase != kernel.PhaseRunning {
		return amanerrors.New(amanerrors.ErrCodeInvalidInput,
			fmt.Sprintf("nothing to retry in phase %s", st.Phase), nil)
	}
	c.kick(ReasonManualRetry)
	return nil
}

// Probe makes one provider call. If it succeeds while the kernel is in the
// error phase, processing resumes.
func (c *Coordinator) Probe(ctx context.Context) error {
	results, err := c.Provider().EmbedBatch(ctx, []string{"ping"})
	if err == nil && (len(results) != 1 || results[0].Err != nil || len(results[0].Vector) == 0) {
		err = amanerrors.New(amanerrors.ErrCodeEmptyVector, "probe returned no vector", nil)
		if len(results) == 1 && results[0].Err != nil {
			err = results[0].Err
		}
	}
	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelInfo, "probe_failed", amanerrors.LogAttrs(err)...)
		return err
	}

	if c.kernel.State().Phase == kernel.PhaseError {
		c.kernel.Dispatch(kernel.Event{Type: kernel.RetrySuccess, Run: c.newRun(ReasonProbe)})
		c.kick(ReasonProbe)
	}
	return nil
}

// ResetError clears the recorded error without changing phase.
func (c *Coordinator) ResetError() {
	c.kernel.Dispatch(kernel.Event{Type: kernel.ResetError})
}

// Similar embeds text with the active model and returns the nearest fresh
// entities.
func (c *Coordinator) Similar(ctx context.Context, text string, limit int, f search.Filter) ([]search.Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, amanerrors.New(amanerrors.ErrCodeQueryEmpty, "query text is empty", nil)
	}

	c.mu.Lock()
	cache, x := c.cache, c.hnsw
	c.mu.Unlock()

	vec, err := cache.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return c.nearest(ctx, vec, cache.Inner().Fingerprint().Key(), x, f, limit)
}

func (c *Coordinator) nearest(ctx context.Context, vec []float32, modelKey string, x *store.HNSWIndex, f search.Filter, limit int) ([]search.Result, error) {
	if x == nil || x.ModelKey() != modelKey {
		return c.db.Nearest(ctx, vec, modelKey, f, limit)
	}

	k := limit
	if k <= 0 {
		k = x.Len()
	}
	hits, err := x.Search(vec, k*c.cfg.Multiplier)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "hnsw search", err)
	}
	results := store.FreshResults(c.coll, hits, f)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SimilarTo ranks entities against the stored vector of key, in memory.
// With furthest set the least similar come first.
func (c *Coordinator) SimilarTo(key string, limit int, f search.Filter, furthest bool) ([]search.Result, error) {
	modelKey := c.ModelKey()
	e, ok := c.coll.Get(key)
	if !ok {
		return nil, amanerrors.New(amanerrors.ErrCodeInvalidInput, fmt.Sprintf("unknown entity %q", key), nil)
	}
	vec, ok := e.FreshVector(modelKey)
	if !ok {
		return nil, amanerrors.New(amanerrors.ErrCodeEmptyVector,
			fmt.Sprintf("entity %q has no current vector for %s", key, modelKey), nil)
	}

	f.ExcludeKeys = append(append([]string(nil), f.ExcludeKeys...), key)
	candidates := c.coll.Candidates(modelKey)
	if furthest {
		return search.Furthest(vec, candidates, f, limit), nil
	}
	return search.Nearest(vec, candidates, f, limit), nil
}

// Status is a point-in-time report.
type Status struct {
	State      kernel.State     `json:"state"`
	Store      store.StoreStats `json:"store"`
	Entities   int              `json:"entities"`
	Dimensions int              `json:"dimensions"`
	SearchMode string           `json:"search_mode"`
	HNSWSize   int              `json:"hnsw_size,omitempty"`
	CacheSize  int              `json:"query_cache_size"`
}

// Status reports kernel state and store counts.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	c.mu.Lock()
	provider, x, cache := c.provider, c.hnsw, c.cache
	c.mu.Unlock()

	st := Status{
		State:      c.kernel.State(),
		Entities:   c.coll.Len(),
		Dimensions: provider.Dimensions(),
		SearchMode: c.cfg.SearchMode,
		CacheSize:  cache.Len(),
	}
	if x != nil {
		st.HNSWSize = x.Len()
	}
	stats, err := c.db.Stats(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return st, err
	}
	st.Store = stats
	return st, nil
}
