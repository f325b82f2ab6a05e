package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/amanembed/internal/kernel"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTracker_SpeedAndETA(t *testing.T) {
	// Given: a tracker with a controllable clock
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tr := NewTracker()
	tr.now = clock.now
	run := &kernel.RunContext{RunID: "a", Total: 100, StartedAt: clock.t}
	tr.Observe(run)

	// When: 10 items complete per second for two seconds
	for i := 1; i <= 2; i++ {
		clock.advance(time.Second)
		r := *run
		r.Current = 10 * i
		tr.Observe(&r)
	}

	// Then: speed is 10/s and the ETA points at the remaining 80 items
	st := tr.Stats()
	assert.Equal(t, 20, st.Current)
	assert.InDelta(t, 0.2, st.Fraction, 1e-9)
	assert.InDelta(t, 10.0, st.Speed, 1e-9)
	assert.Equal(t, 2*time.Second, st.Elapsed)
	assert.InDelta(t, float64(8*time.Second), float64(st.ETA), float64(time.Second))
}

func TestTracker_NewRunResets(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tr := NewTracker()
	tr.now = clock.now
	tr.Observe(&kernel.RunContext{RunID: "a", Total: 10})
	clock.advance(time.Second)
	tr.Observe(&kernel.RunContext{RunID: "a", Total: 10, Current: 5, LastItemKey: "x"})

	tr.Observe(&kernel.RunContext{RunID: "b", Total: 4})

	st := tr.Stats()
	assert.Equal(t, 0, st.Current)
	assert.Equal(t, 4, st.Total)
	assert.Zero(t, st.Speed)
	assert.Equal(t, "x", st.LastKey)
}

func TestTracker_IgnoresNilRun(t *testing.T) {
	tr := NewTracker()
	tr.Observe(nil)
	assert.Equal(t, RunStats{}, tr.Stats())
}

func TestSparkline_ScalesToPeakAndDropsOldest(t *testing.T) {
	s := NewSparkline(4)
	assert.Equal(t, "    ", s.Render())

	for _, v := range []float64{100, 0, 7, 0, 7} {
		s.Add(v)
	}

	assert.Equal(t, 4, s.Len())
	assert.Equal(t, "▁█▁█", s.Render())
}
