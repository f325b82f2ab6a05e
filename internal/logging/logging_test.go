package logging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestConfigs(t *testing.T) {
	assert.False(t, DefaultConfig().WriteToStderr)
	assert.True(t, DebugConfig().WriteToStderr)
	assert.Equal(t, "debug", DebugConfig().Level)

	mcp := MCPConfig("warn")
	assert.False(t, mcp.WriteToStderr)
	assert.Equal(t, "warn", mcp.Level)
	assert.Equal(t, DefaultLogPath(), mcp.FilePath)
}

func TestDefaultLogPath(t *testing.T) {
	assert.True(t, strings.HasSuffix(DefaultLogPath(), filepath.Join(".amanembed", "logs", "server.log")))
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: a file-only configuration at warn level
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	// When: logging below and at the level
	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: path, MaxSizeMB: 1, MaxFiles: 2})
	require.NoError(t, err)
	logger.Info("run_started")
	slog.Warn("batch_failed", slog.Int("batch", 3))
	cleanup()

	// Then: only the warning is written, through the default logger too
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "run_started")
	assert.Contains(t, string(data), `"msg":"batch_failed"`)
	assert.Contains(t, string(data), `"batch":3`)
}

func TestSetup_NoOutputs(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger, cleanup, err := Setup(Config{Level: "info"})

	require.NoError(t, err)
	logger.Info("discarded")
	cleanup()
}

func TestRotatingWriter_Rotates(t *testing.T) {
	// Given: a 1MB writer keeping two backups
	path := filepath.Join(t.TempDir(), "server.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	w.SetImmediateSync(false)
	defer func() { _ = w.Close() }()

	// When: writing well over three files' worth
	line := bytes.Repeat([]byte("x"), 64*1024)
	for i := 0; i < 16*4; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	// Then: the live file and two backups exist, no third
	assert.FileExists(t, path)
	assert.FileExists(t, path+".1")
	assert.FileExists(t, path+".2")
	assert.NoFileExists(t, path+".3")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(1024*1024))
}

func TestRotatingWriter_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	_, err = w.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\nnew\n", string(data))
}

func TestFindLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	_, err := FindLogFile(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	got, err := FindLogFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func logLine(level, msg string, attrs string) string {
	return fmt.Sprintf(`{"time":"2026-05-01T10:00:00.123Z","level":%q,"msg":%q%s}`, level, msg, attrs)
}

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestViewer_TailFilters(t *testing.T) {
	path := writeLog(t,
		logLine("DEBUG", "queue_snapshot", ""),
		logLine("INFO", "run_started", `,"run_id":"r1"`),
		logLine("WARN", "batch_failed", `,"run_id":"r1"`),
		logLine("INFO", "run_started", `,"run_id":"r2"`),
		"not json",
	)

	tests := []struct {
		name string
		cfg  ViewerConfig
		n    int
		want []string
	}{
		{"all", ViewerConfig{}, 10, []string{"queue_snapshot", "run_started", "batch_failed", "run_started", ""}},
		{"last two", ViewerConfig{}, 2, []string{"run_started", ""}},
		{"level", ViewerConfig{Level: "warn"}, 10, []string{"batch_failed", ""}},
		{"run", ViewerConfig{RunID: "r1"}, 10, []string{"run_started", "batch_failed"}},
		{"pattern", ViewerConfig{Pattern: regexp.MustCompile(`batch_`)}, 10, []string{"batch_failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewViewer(tt.cfg, &bytes.Buffer{})

			entries, err := v.Tail(path, tt.n)

			require.NoError(t, err)
			var msgs []string
			for _, e := range entries {
				msgs = append(msgs, e.Msg)
			}
			assert.Equal(t, tt.want, msgs)
		})
	}
}

func TestViewer_FormatEntry(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})
	e := v.parseLine(logLine("WARN", "batch_failed", `,"run_id":"r1","batch":2`))

	got := v.FormatEntry(e)

	assert.Equal(t, "10:00:00.123 WARN  batch_failed batch=2 run_id=r1", got)
	assert.Equal(t, "plain text", v.FormatEntry(v.parseLine("plain text")))
}

func TestViewer_Print(t *testing.T) {
	var out bytes.Buffer
	v := NewViewer(ViewerConfig{NoColor: true}, &out)

	v.Print([]LogEntry{v.parseLine(logLine("INFO", "run_finished", ""))})

	assert.Equal(t, "10:00:00.123 INFO  run_finished\n", out.String())
}

func TestViewer_Follow(t *testing.T) {
	// Given: a log file being followed
	path := writeLog(t, logLine("INFO", "before", ""))
	v := NewViewer(ViewerConfig{}, &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	entries := make(chan LogEntry, 4)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()
	time.Sleep(150 * time.Millisecond)

	// When: a line is appended
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(logLine("INFO", "after", "") + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Then: only the new line arrives
	select {
	case e := <-entries:
		assert.Equal(t, "after", e.Msg)
	case <-time.After(3 * time.Second):
		t.Fatal("no entry followed")
	}
	cancel()
	assert.NoError(t, <-done)
}
