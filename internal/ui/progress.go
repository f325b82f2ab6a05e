package ui

import (
	"sync"
	"time"

	"github.com/Aman-CERP/amanembed/internal/kernel"
)

// etaSmoothing weights the newest ETA estimate against the previous one.
const etaSmoothing = 0.3

// Tracker derives throughput and ETA from successive run snapshots.
// It is safe for concurrent use.
type Tracker struct {
	mu  sync.Mutex
	now func() time.Time

	runID     string
	current   int
	total     int
	lastKey   string
	startedAt time.Time

	lastCurrent int
	lastSample  time.Time
	speed       float64
	peak        float64
	eta         time.Duration
	spark       *Sparkline
}

// RunStats is a snapshot for display.
type RunStats struct {
	Current  int
	Total    int
	Fraction float64
	Speed    float64
	Peak     float64
	ETA      time.Duration
	Elapsed  time.Duration
	LastKey  string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now, spark: NewSparkline(30)}
}

// Observe records run. A new RunID resets the counters.
func (t *Tracker) Observe(run *kernel.RunContext) {
	if run == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if run.RunID != t.runID {
		t.runID = run.RunID
		t.startedAt = run.StartedAt
		if t.startedAt.IsZero() {
			t.startedAt = now
		}
		t.lastCurrent, t.lastSample = 0, now
		t.speed, t.peak, t.eta = 0, 0, 0
		t.spark.Clear()
	}
	t.current, t.total = run.Current, run.Total
	if run.LastItemKey != "" {
		t.lastKey = run.LastItemKey
	}

	// Samples closer than 250ms are too noisy for a rate.
	elapsed := now.Sub(t.lastSample)
	if elapsed >= 250*time.Millisecond {
		if delta := run.Current - t.lastCurrent; delta > 0 {
			t.speed = float64(delta) / elapsed.Seconds()
			t.peak = max(t.peak, t.speed)
			t.spark.Add(t.speed)
		}
		t.lastCurrent, t.lastSample = run.Current, now
	}
	t.updateETA(now)
}

func (t *Tracker) updateETA(now time.Time) {
	if t.current <= 0 || t.total <= 0 || t.current >= t.total {
		t.eta = 0
		return
	}
	elapsed := now.Sub(t.startedAt)
	raw := time.Duration(float64(elapsed)*float64(t.total)/float64(t.current)) - elapsed
	if raw < 0 {
		raw = 0
	}
	if t.eta == 0 {
		t.eta = raw
		return
	}
	t.eta = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(t.eta))
}

// Stats returns the current snapshot.
func (t *Tracker) Stats() RunStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := RunStats{
		Current: t.current,
		Total:   t.total,
		Speed:   t.speed,
		Peak:    t.peak,
		ETA:     t.eta,
		LastKey: t.lastKey,
	}
	if t.total > 0 {
		s.Fraction = min(float64(t.current)/float64(t.total), 1)
	}
	if !t.startedAt.IsZero() {
		s.Elapsed = t.now().Sub(t.startedAt)
	}
	return s
}

// Sparkline renders recent throughput.
func (t *Tracker) Sparkline() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spark.Render()
}
