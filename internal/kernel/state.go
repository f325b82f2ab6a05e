// Package kernel tracks the single operational phase of the embedding system.
//
// Reduce is a pure function from (state, event) to state. Store wraps it with
// serialized dispatch and synchronous subscriber notification.
package kernel

import (
	"strings"
	"time"
)

// Phase is the operational phase.
type Phase string

const (
	// PhaseIdle means no run is active.
	PhaseIdle Phase = "idle"
	// PhaseRunning means a pipeline invocation is in flight.
	PhaseRunning Phase = "running"
	// PhaseError means processing is suspended until explicit recovery.
	PhaseError Phase = "error"
)

// Error codes recorded in State.LastError by the kernel itself.
const (
	CodeRunFailed         = "RUN_FAILED"
	CodeModelSwitchFailed = "MODEL_SWITCH_FAILED"
	CodeInitCoreFailed    = "INIT_CORE_FAILED"
)

// ModelFingerprint identifies the active embedding model.
type ModelFingerprint struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Host     string `json:"host,omitempty"`
}

// Key returns a stable "provider|model|host" string.
func (f ModelFingerprint) Key() string {
	host := strings.TrimRight(strings.ToLower(strings.TrimSpace(f.Host)), "/")
	return strings.ToLower(strings.TrimSpace(f.Provider)) + "|" +
		strings.ToLower(strings.TrimSpace(f.Model)) + "|" + host
}

// IsZero reports whether no model is set.
func (f ModelFingerprint) IsZero() bool {
	return f.Provider == "" && f.Model == "" && f.Host == ""
}

// RunContext is the progress snapshot of the active run.
type RunContext struct {
	RunID       string    `json:"run_id"`
	Reason      string    `json:"reason"`
	Current     int       `json:"current"`
	Total       int       `json:"total"`
	SourceCount int       `json:"source_count"`
	BlockCount  int       `json:"block_count"`
	StartedAt   time.Time `json:"started_at"`
	LastItemKey string    `json:"last_item_key,omitempty"`
}

// QueueSnapshot is a read-only view of queue counts.
type QueueSnapshot struct {
	Pending int `json:"pending"`
	Stale   int `json:"stale"`
}

// KernelError is the last recorded failure.
type KernelError struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// State is the kernel state. Run is non-nil only while Phase is PhaseRunning.
type State struct {
	Phase     Phase            `json:"phase"`
	Model     ModelFingerprint `json:"model"`
	Run       *RunContext      `json:"run,omitempty"`
	Queue     QueueSnapshot    `json:"queue"`
	LastError *KernelError     `json:"last_error,omitempty"`
}

// Initial returns the idle state for model.
func Initial(model ModelFingerprint) State {
	return State{Phase: PhaseIdle, Model: model}
}
