package kernel

import "time"

// EventType names a kernel event.
type EventType string

const (
	QueueHasItems        EventType = "QUEUE_HAS_ITEMS"
	QueueEmpty           EventType = "QUEUE_EMPTY"
	RunStarted           EventType = "RUN_STARTED"
	RunProgress          EventType = "RUN_PROGRESS"
	RunFinished          EventType = "RUN_FINISHED"
	RunFailed            EventType = "RUN_FAILED"
	FatalError           EventType = "FATAL_ERROR"
	ModelSwitchRequested EventType = "MODEL_SWITCH_REQUESTED"
	ModelSwitchSucceeded EventType = "MODEL_SWITCH_SUCCEEDED"
	ModelSwitchFailed    EventType = "MODEL_SWITCH_FAILED"
	RetrySuccess         EventType = "RETRY_SUCCESS"
	ManualRetry          EventType = "MANUAL_RETRY"
	QueueSnapshotUpdated EventType = "QUEUE_SNAPSHOT_UPDATED"
	ResetError           EventType = "RESET_ERROR"
	InitCoreFailed       EventType = "INIT_CORE_FAILED"
)

// Event is an input to Reduce. Only the fields relevant to Type are read.
type Event struct {
	Type EventType

	// Run is the snapshot installed by RUN_STARTED and other events entering running.
	Run *RunContext

	// RUN_PROGRESS counters.
	Current     int
	Total       int
	SourceCount int
	BlockCount  int
	LastItemKey string

	// Model is the fingerprint for MODEL_SWITCH_SUCCEEDED.
	Model ModelFingerprint

	// Code and Message describe failures. Code is only honoured for FATAL_ERROR.
	Code    string
	Message string

	// Queue is the snapshot for QUEUE_SNAPSHOT_UPDATED.
	Queue QueueSnapshot

	// At is the event time. Store.Dispatch fills it when zero.
	At time.Time
}
