package ui

import (
	"bytes"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanembed/internal/kernel"
)

func TestRunModel_ViewFollowsLiveState(t *testing.T) {
	// Given: a model with a running state published
	m := newRunModel(NewTracker(), "/work/proj", NoColorStyles())
	st := kernel.State{
		Phase: kernel.PhaseRunning,
		Model: kernel.ModelFingerprint{Provider: "static", Model: "hash-8"},
		Run:   &kernel.RunContext{RunID: "r", Current: 3, Total: 6, LastItemKey: "docs/a.md"},
		Queue: kernel.QueueSnapshot{Pending: 6},
	}
	m.tracker.Observe(st.Run)
	m.live.set(st)

	// When: the next tick arrives
	_, cmd := m.Update(tickMsg(time.Now()))

	// Then: the view shows the run
	require.NotNil(t, cmd)
	view := m.View()
	assert.Contains(t, view, "running")
	assert.Contains(t, view, "static|hash-8|")
	assert.Contains(t, view, "3/6")
	assert.Contains(t, view, "docs/a.md")
	assert.Contains(t, view, "queued 6")
}

func TestRunModel_ErrorHint(t *testing.T) {
	m := newRunModel(NewTracker(), "", NoColorStyles())
	m.live.set(kernel.State{Phase: kernel.PhaseError, LastError: &kernel.KernelError{Code: "RUN_FAILED", Message: "boom"}})
	m.Update(tickMsg(time.Now()))

	view := m.View()

	assert.Contains(t, view, "RUN_FAILED boom")
	assert.Contains(t, view, "amanembed retry")
}

func TestRunModel_CompleteQuits(t *testing.T) {
	m := newRunModel(NewTracker(), "", NoColorStyles())

	_, cmd := m.Update(completeMsg(Summary{Files: 2, Entities: 4, Embedded: 4}))

	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, m.View(), "files 2")
}

func TestRunModel_KeyQuit(t *testing.T) {
	m := newRunModel(NewTracker(), "", NoColorStyles())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})

	require.NotNil(t, cmd)
	assert.Equal(t, "Cancelled.\n", m.View())
}

func TestNewTUIRenderer_RequiresTTY(t *testing.T) {
	_, err := NewTUIRenderer(Config{Output: &bytes.Buffer{}})
	assert.Error(t, err)
}
