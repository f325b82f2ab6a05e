package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Aman-CERP/amanembed/internal/kernel"
)

// progressSteps is how many progress lines a run prints at most.
const progressSteps = 10

// PlainRenderer writes one line per notable transition (for CI and pipes).
type PlainRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	lastStep int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// Handle implements Renderer.
func (r *PlainRenderer) Handle(state, prev kernel.State, ev kernel.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case state.Phase == kernel.PhaseRunning && prev.Phase != kernel.PhaseRunning:
		r.lastStep = 0
		reason := ""
		if state.Run != nil {
			reason = state.Run.Reason
		}
		r.printf("[RUN] started (%s), %d queued", reason, state.Queue.Pending)

	case state.Phase == kernel.PhaseError && prev.Phase != kernel.PhaseError:
		if state.LastError != nil {
			r.printf("[ERROR] %s: %s", state.LastError.Code, state.LastError.Message)
		} else {
			r.printf("[ERROR] processing suspended")
		}

	case state.Phase == kernel.PhaseIdle && prev.Phase == kernel.PhaseRunning:
		r.printf("[IDLE] %d queued, %d stale", state.Queue.Pending, state.Queue.Stale)

	case ev.Type == kernel.RunProgress && state.Run != nil && state.Run.Total > 0:
		run := state.Run
		step := run.Current * progressSteps / run.Total
		if step > r.lastStep || run.Current == run.Total {
			r.lastStep = step
			r.printf("[EMBED] %d/%d %s", run.Current, run.Total, run.LastItemKey)
		}
	}

	if ev.Type == kernel.ModelSwitchSucceeded && state.Model != prev.Model {
		r.printf("[MODEL] %s", state.Model.Key())
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := fmt.Sprintf("Complete: %d files, %d entities, %d embedded in %s",
		s.Files, s.Entities, s.Embedded, s.Duration.Round(100*time.Millisecond))
	if s.Removed > 0 {
		line += fmt.Sprintf(", %d removed", s.Removed)
	}
	if s.Errors > 0 {
		line += fmt.Sprintf(" (%d errors)", s.Errors)
	}
	r.printf("%s", line)
	if s.Model != "" {
		r.printf("Model: %s (%d dims)", s.Model, s.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

func (r *PlainRenderer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format+"\n", args...)
}
