// Package ui renders kernel state to the terminal.
//
// Renderers are kernel subscribers. NewRenderer returns a bubbletea view on
// an interactive terminal and line-oriented output for pipes, CI and
// --no-tui.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/amanembed/internal/kernel"
)

// Summary is printed when a command finishes.
type Summary struct {
	Files      int
	Entities   int
	Embedded   int
	Removed    int
	Errors     int
	Model      string
	Dimensions int
	Duration   time.Duration
}

// Renderer displays kernel transitions.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// Handle is called for every dispatched event. It must not block
	// and must not dispatch.
	Handle(state, prev kernel.State, ev kernel.Event)

	// Complete shows the final summary.
	Complete(s Summary)

	// Stop releases the terminal.
	Stop() error
}

// Attach subscribes r to k and returns the unsubscribe function.
func Attach(k *kernel.Store, r Renderer) func() {
	return k.Subscribe(r.Handle)
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	ProjectDir string
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithProjectDir sets the directory shown in the header.
func WithProjectDir(dir string) ConfigOption {
	return func(c *Config) { c.ProjectDir = dir }
}

// NewConfig creates a Config for output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output, NoColor: DetectNoColor()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the TUI for interactive terminals and plain text otherwise.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
