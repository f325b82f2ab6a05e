package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
	"github.com/Aman-CERP/amanembed/pkg/version"
)

// newProject creates a project embedded with the offline static provider,
// with HOME and the user config pointed at temp directories.
func newProject(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AMANEMBED_PROVIDER", "")

	dir := t.TempDir()
	files := map[string]string{
		".amanembed.yaml": "version: 1\nembeddings:\n  provider: static\n  dimensions: 64\n",
		"notes.txt":       "plain notes about database backups\n",
		"docs/guide.md":   "# Guide\n\nIntro text.\n\n## Backups\n\nRun the backup job nightly.\n\n## Restore\n\nRestore from the latest snapshot.\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	// Given: the root command
	cmd := NewRootCmd()

	// When: listing its subcommands
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}

	// Then: every command is registered
	for _, want := range []string{"index", "watch", "search", "status", "switch", "retry", "serve", "logs", "config", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCmd(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"default", []string{"version"}, "amanembed " + version.Version},
		{"short", []string{"version", "--short"}, version.Version},
		{"json", []string{"version", "--json"}, `"go_version"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: no project at all
			t.Setenv("HOME", t.TempDir())

			// When: running version
			out, err := run(t, tt.args...)

			// Then: it prints without loading config
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestSearchCmd_RequiresQueryOrLike(t *testing.T) {
	// Given: a project
	dir := newProject(t)

	// When: searching with neither a query nor --like
	_, err := run(t, "search", "-C", dir)

	// Then: arguments are rejected
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--like")
}

func TestSearchCmd_RejectsUnknownType(t *testing.T) {
	dir := newProject(t)

	_, err := run(t, "search", "backups", "--type", "chapter", "-C", dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestReportError_JSONFormatWritesPayloadToStdout(t *testing.T) {
	// Given: a search asking for JSON output that fails validation
	dir := newProject(t)
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"search", "backups", "--type", "chapter", "--format", "json", "-C", dir})
	c, err := cmd.ExecuteC()
	require.Error(t, err)

	// When: reporting the error
	var stdout, stderr bytes.Buffer
	reportError(c, err, &stdout, &stderr)

	// Then: stdout holds a JSON error document and stderr stays empty
	var doc struct {
		Error amanerrors.Payload `json:"error"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &doc))
	assert.Equal(t, amanerrors.ErrCodeInvalidInput, doc.Error.Code)
	assert.Contains(t, doc.Error.Message, "unknown type")
	assert.Empty(t, stderr.String())
}

func TestReportError_TextByDefault(t *testing.T) {
	// Given: the same failure without JSON output
	dir := newProject(t)
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"search", "backups", "--type", "chapter", "-C", dir})
	c, err := cmd.ExecuteC()
	require.Error(t, err)

	// When: reporting the error
	var stdout, stderr bytes.Buffer
	reportError(c, err, &stdout, &stderr)

	// Then: a CLI message goes to stderr
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "Code: "+amanerrors.ErrCodeInvalidInput)
}

func TestIndexSearchStatus_EndToEnd(t *testing.T) {
	// Given: a project indexed with the static provider
	dir := newProject(t)
	out, err := run(t, "index", "--no-tui", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Complete:")

	// When: searching for a block's own text
	out, err = run(t, "search", "Run the backup job nightly.", "-C", dir, "--format", "json", "-n", "3")
	require.NoError(t, err)

	// Then: ranked results come back as JSON
	var results []struct {
		Key   string  `json:"key"`
		Score float64 `json:"score"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	// And: status reports every entity as embedded
	out, err = run(t, "status", "--json", "-C", dir)
	require.NoError(t, err)
	var st struct {
		Entities int `json:"entities"`
		State    struct {
			Phase string `json:"phase"`
		} `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.GreaterOrEqual(t, st.Entities, 3)
	assert.Equal(t, "idle", st.State.Phase)
}

func TestSearchCmd_Like(t *testing.T) {
	// Given: an indexed project
	dir := newProject(t)
	_, err := run(t, "index", "--no-tui", "-C", dir)
	require.NoError(t, err)

	// When: ranking against an existing entity
	out, err := run(t, "search", "--like", "notes.txt", "--type", "source", "-C", dir)

	// Then: the entity itself is left out
	require.NoError(t, err)
	assert.NotContains(t, out, " notes.txt")
	assert.Contains(t, out, "docs/guide.md")
}

func TestSwitchCmd_Save(t *testing.T) {
	// Given: an indexed project
	dir := newProject(t)
	_, err := run(t, "index", "--no-tui", "-C", dir)
	require.NoError(t, err)

	// When: switching to another static model and saving it
	_, err = run(t, "switch", "static", "--model", "static-alt", "--save", "--no-tui", "-C", dir)
	require.NoError(t, err)

	// Then: the project config records the model
	data, err := os.ReadFile(filepath.Join(dir, ".amanembed.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "static-alt")

	// And: the previous file was backed up
	backups, err := filepath.Glob(filepath.Join(dir, ".amanembed.yaml.*"))
	require.NoError(t, err)
	assert.NotEmpty(t, backups)
}

func TestSwitchCmd_UnknownProvider(t *testing.T) {
	dir := newProject(t)

	_, err := run(t, "switch", "word2vec", "-C", dir)

	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "provider")
}

func TestLogsCmd_MissingFile(t *testing.T) {
	// Given: no log file
	t.Setenv("HOME", t.TempDir())

	// When: viewing logs
	_, err := run(t, "logs")

	// Then: the error says where it looked
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.log")
}

func TestLogsCmd_AfterCommand(t *testing.T) {
	// Given: a command that logged to the default file
	dir := newProject(t)
	_, err := run(t, "index", "--no-tui", "-C", dir)
	require.NoError(t, err)

	// When: viewing info logs
	out, err := run(t, "logs", "--no-color", "--level", "info", "-n", "200")

	// Then: the index run is visible
	require.NoError(t, err)
	assert.Contains(t, out, "index_complete")
}

func TestConfigInit_WritesProjectTemplateOnce(t *testing.T) {
	// Given: a project without a config file
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()

	// When: running config init twice
	out, err := run(t, "config", "init", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Created")
	out, err = run(t, "config", "init", "-C", dir)
	require.NoError(t, err)

	// Then: the template is written and then preserved
	assert.Contains(t, out, "preserved")
	data, err := os.ReadFile(filepath.Join(dir, ".amanembed.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "embeddings:")
}

func TestConfigInit_UserTemplate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	_, err := run(t, "config", "init", "--user")

	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(xdg, "amanembed", "config.yaml"))
}

func TestConfigShow_ReflectsProjectConfig(t *testing.T) {
	// Given: a project using the static provider
	dir := newProject(t)

	// When: showing the effective config as JSON
	out, err := run(t, "config", "show", "--json", "-C", dir)
	require.NoError(t, err)

	// Then: project values are merged over the defaults
	var cfg struct {
		Embeddings struct {
			Provider   string `json:"provider"`
			Dimensions int    `json:"dimensions"`
			BatchSize  int    `json:"batch_size"`
		} `json:"embeddings"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 64, cfg.Embeddings.Dimensions)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)
}
