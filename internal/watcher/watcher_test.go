package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanembed/internal/source"
)

func TestOptions_Classify(t *testing.T) {
	opts := Options{Source: source.Options{Exclude: []string{"build/**", "*.log"}}}.WithDefaults()

	tests := []struct {
		name   string
		rel    string
		op     Operation
		isDir  bool
		keep   bool
		wantOp Operation
	}{
		{"plain file", "docs/a.md", OpModify, false, true, OpModify},
		{"excluded pattern", "debug.log", OpCreate, false, false, 0},
		{"excluded dir", "build", OpCreate, true, false, 0},
		{"default excluded dir", ".git/HEAD", OpModify, false, false, 0},
		{"config file", ".amanembed.yaml", OpModify, false, true, OpConfigChange},
		{"nested config name is a file", "sub/.amanembed.yaml", OpModify, false, true, OpModify},
		{"deleted dir without flag", "docs", OpDelete, false, true, OpDelete},
		{"root", ".", OpModify, true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, keep := opts.classify(tt.rel, tt.op, tt.isDir)
			assert.Equal(t, tt.keep, keep)
			if keep {
				assert.Equal(t, tt.wantOp, ev.Operation)
				assert.Equal(t, tt.rel, ev.Path)
			}
		})
	}
}

func TestOptions_ClassifyIgnoreFile(t *testing.T) {
	root := t.TempDir()
	with := Options{Source: source.Options{Root: root, Ignore: source.NewIgnore(root)}}.WithDefaults()
	without := Options{Source: source.Options{Root: root}}.WithDefaults()

	ev, keep := with.classify("docs/.gitignore", OpModify, false)
	assert.True(t, keep)
	assert.Equal(t, OpIgnoreChange, ev.Operation)

	ev, keep = without.classify("docs/.gitignore", OpModify, false)
	assert.True(t, keep)
	assert.Equal(t, OpModify, ev.Operation)
}

func TestNew_RootMustBeDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := New(Options{Source: source.Options{Root: file}})

	assert.Error(t, err)
}

func nextBatch(t *testing.T, w *Watcher) []FileEvent {
	t.Helper()
	select {
	case batch, ok := <-w.Events():
		require.True(t, ok, "events channel closed")
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for watch batch")
		return nil
	}
}

func startWatcher(t *testing.T, opts Options) *Watcher {
	t.Helper()
	w, err := New(opts)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	return w
}

func TestWatcher_FsnotifyReportsFileWrites(t *testing.T) {
	// Given: a running watcher on an empty directory
	root := t.TempDir()
	w := startWatcher(t, Options{Source: source.Options{Root: root}, DebounceWindow: 50 * time.Millisecond})
	if w.Mode() != "fsnotify" {
		t.Skip("fsnotify unavailable")
	}
	time.Sleep(100 * time.Millisecond)

	// When: a file is created and an ignored file is written
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("# Notes\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "x.js"), []byte("x"), 0644))

	// Then: only the markdown file is reported, as a create
	batch := nextBatch(t, w)
	require.Len(t, batch, 1)
	assert.Equal(t, "notes.md", batch[0].Path)
	assert.Equal(t, OpCreate, batch[0].Operation)
}

func TestWatcher_PollingReportsChanges(t *testing.T) {
	// Given: a polling watcher on a directory with one file
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.md"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "drop.md"), []byte("b"), 0644))
	w := startWatcher(t, Options{
		Source:         source.Options{Root: root},
		ForcePolling:   true,
		PollInterval:   30 * time.Millisecond,
		DebounceWindow: 30 * time.Millisecond,
	})
	assert.Equal(t, "polling", w.Mode())
	time.Sleep(60 * time.Millisecond)

	// When: one file is deleted and one is added
	require.NoError(t, os.Remove(filepath.Join(root, "drop.md")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.md"), []byte("c"), 0644))

	// Then: both changes arrive, possibly across batches
	seen := map[string]Operation{}
	deadline := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case batch := <-w.Events():
			for _, ev := range batch {
				seen[ev.Path] = ev.Operation
			}
		case <-deadline:
			t.Fatalf("timeout, saw %v", seen)
		}
	}
	assert.Equal(t, OpDelete, seen["drop.md"])
	assert.Equal(t, OpCreate, seen["new.md"])
}

func TestPoller_PollDetectsModify(t *testing.T) {
	root := t.TempDir()
	p := NewPoller(root, time.Hour, nil)
	defer p.Stop()
	f := filepath.Join(root, "a.md")
	require.NoError(t, os.WriteFile(f, []byte("one"), 0644))
	require.NoError(t, p.Poll())
	<-p.Events()

	require.NoError(t, os.WriteFile(f, []byte("three"), 0644))
	require.NoError(t, p.Poll())

	ev := <-p.Events()
	assert.Equal(t, "a.md", ev.Path)
	assert.Equal(t, OpModify, ev.Operation)
}
