package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for debounced batch")
		return nil
	}
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		name  string
		first Operation
		next  Operation
		want  Operation
		keep  bool
	}{
		{"create then modify stays create", OpCreate, OpModify, OpCreate, true},
		{"create then delete cancels", OpCreate, OpDelete, 0, false},
		{"delete then create is a replace", OpDelete, OpCreate, OpModify, true},
		{"modify then delete", OpModify, OpDelete, OpDelete, true},
		{"modify then modify", OpModify, OpModify, OpModify, true},
		{"config change then modify keeps latest", OpConfigChange, OpModify, OpModify, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, keep := coalesce(FileEvent{Path: "a", Operation: tt.first}, FileEvent{Path: "a", Operation: tt.next})
			assert.Equal(t, tt.keep, keep)
			if keep {
				assert.Equal(t, tt.want, got.Operation)
			}
		})
	}
}

func TestDebouncer_BurstOnOnePathEmitsOnce(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(50*time.Millisecond, nil)
	defer d.Stop()

	// When: a file is written repeatedly
	for i := 0; i < 5; i++ {
		d.Add(FileEvent{Path: "notes.md", Operation: OpModify, Timestamp: time.Now()})
		time.Sleep(10 * time.Millisecond)
	}

	// Then: one event comes out
	batch := receive(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "notes.md", batch[0].Path)
	assert.Equal(t, OpModify, batch[0].Operation)
}

func TestDebouncer_BatchIsSortedByPath(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, nil)
	defer d.Stop()

	d.Add(FileEvent{Path: "c.md", Operation: OpDelete})
	d.Add(FileEvent{Path: "a.md", Operation: OpCreate})
	d.Add(FileEvent{Path: "b.md", Operation: OpModify})

	batch := receive(t, d)
	require.Len(t, batch, 3)
	assert.Equal(t, "a.md", batch[0].Path)
	assert.Equal(t, "b.md", batch[1].Path)
	assert.Equal(t, "c.md", batch[2].Path)
}

func TestDebouncer_CancelledPathIsNotEmitted(t *testing.T) {
	// Given: a temp file created and removed inside one window
	d := NewDebouncer(30*time.Millisecond, nil)
	defer d.Stop()
	d.Add(FileEvent{Path: "tmp.md", Operation: OpCreate})
	d.Add(FileEvent{Path: "tmp.md", Operation: OpDelete})
	d.Add(FileEvent{Path: "kept.md", Operation: OpModify})

	// Then: only the other path is reported
	batch := receive(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "kept.md", batch[0].Path)
	assert.Equal(t, 0, d.Pending())
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	d := NewDebouncer(50*time.Millisecond, nil)
	d.Add(FileEvent{Path: "a.md", Operation: OpCreate})

	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "b.md", Operation: OpCreate})

	_, ok := <-d.Output()
	assert.False(t, ok)
}
