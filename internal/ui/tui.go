package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/amanembed/internal/kernel"
)

// TUIRenderer shows a live bubbletea view of the kernel.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	model   *runModel
	program *tea.Program
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails when output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}
	return &TUIRenderer{
		cfg:   cfg,
		model: newRunModel(NewTracker(), cfg.ProjectDir, GetStyles(cfg.NoColor)),
		done:  make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// Handle implements Renderer. The view picks the state up on its next tick,
// so the dispatcher never waits on the event loop.
func (r *TUIRenderer) Handle(state, _ kernel.State, _ kernel.Event) {
	r.model.tracker.Observe(state.Run)
	r.model.live.set(state)
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(s Summary) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(completeMsg(s))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

// liveState is the latest kernel state, written by Handle and read by View.
type liveState struct {
	mu    sync.Mutex
	state kernel.State
}

func (l *liveState) set(s kernel.State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *liveState) get() kernel.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

type completeMsg Summary

type tickMsg time.Time

// runModel is the bubbletea model.
type runModel struct {
	tracker    *Tracker
	live       *liveState
	styles     Styles
	projectDir string
	spinner    spinner.Model
	bar        progress.Model
	width      int

	state    kernel.State
	summary  *Summary
	quitting bool
}

func newRunModel(tracker *Tracker, projectDir string, styles Styles) *runModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Active

	bar := progress.New(
		progress.WithSolidFill(ColorAccent),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)
	return &runModel{
		tracker:    tracker,
		live:       &liveState{},
		styles:     styles,
		projectDir: projectDir,
		spinner:    s,
		bar:        bar,
		width:      80,
	}
}

// Init implements tea.Model.
func (m *runModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m *runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-30, 20)
	case completeMsg:
		s := Summary(msg)
		m.summary = &s
		return m, tea.Quit
	case tickMsg:
		m.state = m.live.get()
		return m, tickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *runModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.summary != nil {
		return m.viewSummary()
	}

	var b strings.Builder
	title := "amanembed"
	if m.projectDir != "" {
		title += " " + m.styles.Dim.Render(m.projectDir)
	}
	b.WriteString(m.styles.Header.Render(title) + "\n\n")

	phase := string(m.state.Phase)
	if phase == "" {
		phase = string(kernel.PhaseIdle)
	}
	indicator := " "
	if m.state.Phase == kernel.PhaseRunning {
		indicator = m.spinner.View()
	}
	fmt.Fprintf(&b, "%s %s  %s %s\n", indicator, m.styles.Phase(phase),
		m.styles.Label.Render("model"), m.styles.Value.Render(m.state.Model.Key()))

	if m.state.Phase == kernel.PhaseRunning {
		st := m.tracker.Stats()
		fmt.Fprintf(&b, "\n%s %d/%d\n", m.bar.ViewAs(st.Fraction), st.Current, st.Total)
		fmt.Fprintf(&b, "%s %.1f/s  %s %s  %s\n",
			m.styles.Label.Render("speed"), st.Speed,
			m.styles.Label.Render("eta"), st.ETA.Round(time.Second),
			m.styles.Dim.Render(m.tracker.Sparkline()))
		if st.LastKey != "" {
			fmt.Fprintf(&b, "%s %s\n", m.styles.Label.Render("last"), truncate(st.LastKey, m.width-8))
		}
	}

	fmt.Fprintf(&b, "\n%s %d  %s %d\n",
		m.styles.Label.Render("queued"), m.state.Queue.Pending,
		m.styles.Label.Render("stale"), m.state.Queue.Stale)

	if e := m.state.LastError; e != nil {
		fmt.Fprintf(&b, "\n%s %s\n", m.styles.Error.Render(e.Code), e.Message)
		if m.state.Phase == kernel.PhaseError {
			b.WriteString(m.styles.Dim.Render("run `amanembed retry` after fixing the cause") + "\n")
		}
	}
	b.WriteString(m.styles.Dim.Render("\nq to quit") + "\n")
	return m.styles.Panel.Render(b.String())
}

func (m *runModel) viewSummary() string {
	s := m.summary
	lines := []string{
		m.styles.Header.Render("Complete"),
		fmt.Sprintf("%s %d  %s %d  %s %d",
			m.styles.Label.Render("files"), s.Files,
			m.styles.Label.Render("entities"), s.Entities,
			m.styles.Label.Render("embedded"), s.Embedded),
		fmt.Sprintf("%s %s", m.styles.Label.Render("took"), s.Duration.Round(100*time.Millisecond)),
	}
	if s.Errors > 0 {
		lines = append(lines, m.styles.Warn.Render(fmt.Sprintf("%d errors", s.Errors)))
	}
	if s.Model != "" {
		lines = append(lines, fmt.Sprintf("%s %s (%d dims)", m.styles.Label.Render("model"), s.Model, s.Dimensions))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n+3:]
}
