package watcher

import (
	"log/slog"
	"path"
	"time"

	"github.com/Aman-CERP/amanembed/internal/source"
)

// Operation is a file system change kind.
type Operation int

const (
	// OpCreate indicates a new file or directory.
	OpCreate Operation = iota
	// OpModify indicates an existing file was written.
	OpModify
	// OpDelete indicates a file or directory was removed or renamed away.
	OpDelete
	// OpConfigChange indicates the project config file changed.
	OpConfigChange
	// OpIgnoreChange indicates a .gitignore file changed.
	OpIgnoreChange
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpConfigChange:
		return "CONFIG_CHANGE"
	case OpIgnoreChange:
		return "IGNORE_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a change to one path, relative to the root with forward slashes.
type FileEvent struct {
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Options configures a watcher.
type Options struct {
	// Source supplies the root and the include/exclude rules.
	Source source.Options

	// DebounceWindow is how long a path must be quiet before its event is emitted.
	// Default: 200ms
	DebounceWindow time.Duration

	// PollInterval is the rescan interval in polling mode.
	// Default: 5s
	PollInterval time.Duration

	// ForcePolling skips fsnotify.
	ForcePolling bool

	// EventBufferSize is the capacity of the batch channel.
	// Default: 100
	EventBufferSize int

	// ConfigFiles are base names reported as OpConfigChange.
	ConfigFiles []string

	Logger *slog.Logger
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 100,
		ConfigFiles:     []string{".amanembed.yaml", ".amanembed.yml"},
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if o.ConfigFiles == nil {
		o.ConfigFiles = defaults.ConfigFiles
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// classify maps a relative path to the event that should be debounced for
// it, or reports false when the path is filtered out.
func (o Options) classify(rel string, op Operation, isDir bool) (FileEvent, bool) {
	if rel == "" || rel == "." {
		return FileEvent{}, false
	}
	ev := FileEvent{Path: rel, Operation: op, IsDir: isDir, Timestamp: time.Now()}

	if !isDir && path.Dir(rel) == "." {
		for _, name := range o.ConfigFiles {
			if rel == name {
				ev.Operation = OpConfigChange
				return ev, true
			}
		}
	}
	if !isDir && o.Source.Ignore != nil && path.Base(rel) == source.IgnoreFile {
		ev.Operation = OpIgnoreChange
		return ev, true
	}
	if isDir {
		return ev, !o.Source.ExcludedDir(rel)
	}
	// Deleted directories arrive without IsDir; keep them if the directory
	// itself is not excluded so the syncer can reconcile.
	if op == OpDelete && path.Ext(rel) == "" {
		return ev, !o.Source.ExcludedDir(rel)
	}
	return ev, !o.Source.Excluded(rel)
}
