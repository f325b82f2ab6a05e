// Package pipeline embeds dirty items in concurrent batches.
//
// A pool of workers drains a shared batch cursor. Each batch is sent to the
// embedding provider, with transient failures retried under exponential
// backoff and fatal failures surfaced at once. The pipeline is the only
// retry layer; providers classify errors but never retry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanembed/internal/embed"
	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
)

// ErrBusy is returned when Process is called while another call is active.
var ErrBusy = amanerrors.New(amanerrors.ErrCodePipelineBusy, "embedding pipeline is already running", nil)

// Pipeline runs embedding batches against a provider. It is not reentrant.
type Pipeline struct {
	mu       sync.RWMutex
	provider embed.Provider

	active atomic.Bool
	halted atomic.Bool

	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a pipeline bound to provider.
func New(provider embed.Provider, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		provider: provider,
		logger:   logger,
		now:      time.Now,
		sleep:    amanerrors.Sleep,
	}
}

// SetProvider swaps the provider. It fails while a run is active.
func (p *Pipeline) SetProvider(provider embed.Provider) error {
	if p.active.Load() {
		return ErrBusy
	}
	p.mu.Lock()
	p.provider = provider
	p.mu.Unlock()
	return nil
}

// Provider returns the current provider.
func (p *Pipeline) Provider() embed.Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.provider
}

// IsActive reports whether Process is executing.
func (p *Pipeline) IsActive() bool {
	return p.active.Load()
}

// Halt asks workers to stop claiming batches. In-flight batches finish.
func (p *Pipeline) Halt() {
	if p.active.Load() {
		p.halted.Store(true)
		p.logger.Info("pipeline_halt_requested")
	}
}

// Process embeds the dirty items. Per-batch failures are reported in Stats;
// an error is returned only for HaltOnError, save failures, or a busy pipeline.
func (p *Pipeline) Process(ctx context.Context, items []Item, opts Options) (Stats, error) {
	if !p.active.CompareAndSwap(false, true) {
		return Stats{}, ErrBusy
	}
	// A Halt racing the previous run's exit may have landed after its reset.
	p.halted.Store(false)
	defer func() {
		p.halted.Store(false)
		p.active.Store(false)
	}()

	opts = opts.withDefaults()

	dirty := make([]Item, 0, len(items))
	for _, it := range items {
		if it.IsDirty() {
			dirty = append(dirty, it)
		}
	}
	if len(dirty) == 0 {
		return Stats{}, nil
	}

	provider := p.Provider()
	r := &run{
		p:        p,
		opts:     opts,
		provider: provider,
		modelKey: provider.Fingerprint().Key(),
		batches:  partition(dirty, opts.BatchSize),
		stats:    Stats{Total: len(dirty)},
	}
	start := p.now()

	workers := opts.Concurrency
	if workers > len(r.batches) {
		workers = len(r.batches)
	}

	p.logger.Info("pipeline_started",
		slog.Int("items", len(dirty)),
		slog.Int("batches", len(r.batches)),
		slog.Int("workers", workers),
		slog.String("model", r.modelKey))

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error { return r.worker(ctx) })
	}
	runErr := g.Wait()
	r.skipRemaining()

	if err := r.flush(ctx); err != nil && runErr == nil {
		runErr = err
	}

	r.mu.Lock()
	stats := r.stats
	r.mu.Unlock()
	stats.Halted = p.halted.Load() || ctx.Err() != nil
	stats.Duration = p.now().Sub(start)

	p.logger.Info("pipeline_complete",
		slog.Int("total", stats.Total),
		slog.Int("success", stats.Success),
		slog.Int("failed", stats.Failed),
		slog.Int("skipped", stats.Skipped),
		slog.Bool("halted", stats.Halted),
		slog.Duration("duration", stats.Duration))

	return stats, runErr
}

func partition(items []Item, size int) [][]Item {
	batches := make([][]Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// run is the shared state of one Process call.
type run struct {
	p        *Pipeline
	opts     Options
	provider embed.Provider
	modelKey string
	batches  [][]Item

	// mu guards the cursor, stats, progress and the save counter.
	mu          sync.Mutex
	next        int
	stopped     bool
	done        int
	stats       Stats
	sourceCount int
	blockCount  int
	unsaved     []Item
	sinceSave   int
}

func (r *run) worker(ctx context.Context) error {
	for {
		idx, ok := r.claim(ctx)
		if !ok {
			return nil
		}
		out := r.processBatch(ctx, r.batches[idx])
		if err := r.complete(ctx, r.batches[idx], out); err != nil {
			return err
		}
	}
}

// claim hands out the next batch index. When a halt, cancellation or abort is
// seen, every unclaimed batch is counted as skipped exactly once.
func (r *run) claim(ctx context.Context) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.batches) {
		return 0, false
	}
	if r.stopped || r.p.halted.Load() || ctx.Err() != nil {
		r.skipRemainingLocked()
		return 0, false
	}

	idx := r.next
	r.next++
	return idx, true
}

// skipRemaining counts unclaimed batches as skipped after the workers joined.
func (r *run) skipRemaining() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipRemainingLocked()
}

func (r *run) skipRemainingLocked() {
	for _, b := range r.batches[r.next:] {
		r.stats.Skipped += len(b)
	}
	r.next = len(r.batches)
}

// batchOutcome is the per-batch tally merged into the run stats.
type batchOutcome struct {
	success   int
	failed    int
	skipped   int
	fatal     int
	attempted int
	lastKey   string
	err       error
}

func (r *run) processBatch(ctx context.Context, batch []Item) batchOutcome {
	var out batchOutcome
	ready := make([]Item, 0, len(batch))
	inputs := make([]string, 0, len(batch))
	hashes := make([]string, 0, len(batch))

	for _, it := range batch {
		out.lastKey = it.Key()

		input, hash, err := it.EmbedSnapshot(ctx)
		if err != nil {
			r.p.logger.Warn("embed_input_failed", slog.String("key", it.Key()), slog.String("error", err.Error()))
			it.ClearDirty()
			out.failed++
			out.err = err
			continue
		}

		if expected, ok := r.opts.ExpectedHashes[it.Key()]; ok && expected != hash {
			r.p.logger.Debug("item_stale_skipped", slog.String("key", it.Key()))
			out.skipped++
			continue
		}

		if strings.TrimSpace(input) == "" {
			it.ClearDirty()
			out.skipped++
			continue
		}

		ready = append(ready, it)
		inputs = append(inputs, input)
		hashes = append(hashes, hash)
	}

	if len(ready) == 0 {
		return out
	}
	out.attempted = len(ready)

	results, err := r.embedWithRetry(ctx, inputs)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			out.skipped += len(ready)
			return out
		}
		for _, it := range ready {
			it.ClearDirty()
		}
		out.failed += len(ready)
		if amanerrors.Classify(err) == amanerrors.KindFatal {
			out.fatal += len(ready)
		}
		out.err = err
		return out
	}

	now := r.p.now()
	for i, res := range results {
		it := ready[i]
		switch {
		case res.Err != nil:
			it.ClearDirty()
			out.failed++
			out.err = res.Err
		case len(res.Vector) == 0:
			it.ClearDirty()
			out.failed++
			out.err = amanerrors.New(amanerrors.ErrCodeEmptyVector,
				fmt.Sprintf("provider returned an empty vector for %s", it.Key()), nil)
		default:
			it.SetEmbedding(r.modelKey, res.Vector, res.Tokens, hashes[i], now)
			out.success++
		}
	}
	return out
}

// embedWithRetry calls the provider until success, a fatal error, or retries run out.
func (r *run) embedWithRetry(ctx context.Context, inputs []string) ([]embed.Result, error) {
	for attempt := 0; ; attempt++ {
		results, err := r.provider.EmbedBatch(ctx, inputs)
		if err == nil && len(results) != len(inputs) {
			err = amanerrors.New(amanerrors.ErrCodeUnknown,
				fmt.Sprintf("provider returned %d results for %d inputs", len(results), len(inputs)), nil)
		}
		if err == nil {
			return results, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		kind := amanerrors.Classify(err)
		if kind == amanerrors.KindFatal || attempt >= r.opts.MaxRetries {
			attrs := append(amanerrors.LogAttrs(err), slog.Int("attempts", attempt+1))
			r.p.logger.LogAttrs(ctx, slog.LevelWarn, "batch_failed", attrs...)
			return nil, err
		}

		delay := r.opts.Backoff.DelayFor(attempt, err)
		r.p.logger.Info("batch_retry",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("code", amanerrors.GetCode(err)))
		if err := r.p.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// complete merges a batch outcome, reports progress and triggers periodic saves.
func (r *run) complete(ctx context.Context, batch []Item, out batchOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Success += out.success
	r.stats.Failed += out.failed
	r.stats.Skipped += out.skipped
	r.stats.Fatal += out.fatal
	r.stats.Attempted += out.attempted
	if out.err != nil {
		r.stats.LastError = out.err
	}
	for _, it := range batch {
		switch it.Type() {
		case "source":
			r.sourceCount++
		case "block":
			r.blockCount++
		}
	}
	r.done++

	if r.opts.OnProgress != nil {
		r.opts.OnProgress(Progress{
			Current:      r.stats.Success + r.stats.Failed + r.stats.Skipped,
			Total:        r.stats.Total,
			Batches:      r.done,
			TotalBatches: len(r.batches),
			Success:      r.stats.Success,
			Failed:       r.stats.Failed,
			Skipped:      r.stats.Skipped,
			SourceCount:  r.sourceCount,
			BlockCount:   r.blockCount,
			LastKey:      out.lastKey,
		})
	}

	r.unsaved = append(r.unsaved, batch...)
	r.sinceSave++
	if r.opts.OnSave != nil && r.opts.SaveEvery > 0 && r.sinceSave >= r.opts.SaveEvery {
		if err := r.saveLocked(ctx); err != nil {
			r.stopped = true
			return err
		}
	}

	if out.err != nil && out.failed > 0 && r.opts.HaltOnError {
		r.stopped = true
		return fmt.Errorf("batch failed: %w", out.err)
	}
	return nil
}

// flush saves whatever is left after all workers joined.
func (r *run) flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.OnSave == nil || len(r.unsaved) == 0 {
		return nil
	}
	return r.saveLocked(ctx)
}

// saveLocked calls OnSave with the pending items. Caller holds mu.
func (r *run) saveLocked(ctx context.Context) error {
	items := r.unsaved
	r.unsaved = nil
	r.sinceSave = 0
	if err := r.opts.OnSave(context.WithoutCancel(ctx), items); err != nil {
		r.p.logger.Error("pipeline_save_failed", slog.String("error", err.Error()))
		return amanerrors.New(amanerrors.ErrCodeRunFailed, "save embeddings", err)
	}
	return nil
}
