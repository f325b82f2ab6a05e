package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanembed/internal/embed"
	"github.com/Aman-CERP/amanembed/internal/source"
)

// isolate points the user config at an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	return xdg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "", cfg.Embeddings.Model)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)
	assert.Equal(t, 3, cfg.Embeddings.MaxRetries)
	assert.Equal(t, SearchModeExact, cfg.Search.Mode)
	assert.Equal(t, 10, cfg.Search.Limit)
	assert.Equal(t, source.DefaultMaxFileSize, cfg.Paths.MaxFileSize)
	assert.Equal(t, "200ms", cfg.Watch.Debounce)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFilesUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig().Embeddings, cfg.Embeddings)
}

func TestLoad_ProjectOverridesUser(t *testing.T) {
	// Given: a user config and a project config that disagree
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "amanembed", "config.yaml"), `
embeddings:
  provider: openai
  model: text-embedding-3-small
  batch_size: 16
paths:
  exclude: ["drafts/**"]
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".amanembed.yaml"), `
embeddings:
  provider: static
  dimensions: 64
search:
  mode: hnsw
paths:
  exclude: ["tmp/**"]
`)

	// When: loading
	cfg, err := Load(dir)

	// Then: project values win, unset ones fall through and excludes accumulate
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embeddings.Model)
	assert.Equal(t, 16, cfg.Embeddings.BatchSize)
	assert.Equal(t, 64, cfg.Embeddings.Dimensions)
	assert.Equal(t, SearchModeHNSW, cfg.Search.Mode)
	assert.Equal(t, []string{"drafts/**", "tmp/**"}, cfg.Paths.Exclude)
}

func TestLoad_YmlFallback(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".amanembed.yml"), "embeddings:\n  provider: static\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestLoadFile_ExplicitPath(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".amanembed.yaml"), "embeddings:\n  provider: openai\n")
	other := filepath.Join(t.TempDir(), "alt.yaml")
	writeFile(t, other, "embeddings:\n  provider: static\n")

	cfg, err := LoadFile(dir, other)

	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	// Given: a project config and AMANEMBED_* variables
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".amanembed.yaml"), "embeddings:\n  provider: openai\n  batch_size: 8\n")
	t.Setenv("AMANEMBED_PROVIDER", "static")
	t.Setenv("AMANEMBED_BATCH_SIZE", "4")
	t.Setenv("AMANEMBED_MIN_SCORE", "0.25")
	t.Setenv("AMANEMBED_FORCE_POLLING", "1")
	t.Setenv("AMANEMBED_NO_GITIGNORE", "true")

	// When: loading
	cfg, err := Load(dir)

	// Then: the environment wins
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 4, cfg.Embeddings.BatchSize)
	assert.InDelta(t, 0.25, cfg.Search.MinScore, 1e-9)
	assert.True(t, cfg.Watch.ForcePolling)
	assert.True(t, cfg.Paths.NoGitignore)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	// Given: a .env file and one variable already set
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "AMANEMBED_PROVIDER=openai\nAMANEMBED_TEST_KEY=from-dotenv\n")
	t.Setenv("AMANEMBED_PROVIDER", "static")
	t.Setenv("AMANEMBED_TEST_KEY", "")
	require.NoError(t, os.Unsetenv("AMANEMBED_TEST_KEY"))

	// When: loading
	cfg, err := Load(dir)

	// Then: the real environment wins and unset variables are filled
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, "from-dotenv", os.Getenv("AMANEMBED_TEST_KEY"))
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".amanembed.yaml"), "embeddings: [unclosed\n")

	_, err := Load(dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "mlx" }, "embeddings.provider"},
		{"provider case-insensitive", func(c *Config) { c.Embeddings.Provider = "OpenAI" }, ""},
		{"zero batch size", func(c *Config) { c.Embeddings.BatchSize = 0 }, "embeddings.batch_size"},
		{"negative retries", func(c *Config) { c.Embeddings.MaxRetries = -1 }, "max_retries"},
		{"unknown mode", func(c *Config) { c.Search.Mode = "bm25" }, "search.mode"},
		{"min score range", func(c *Config) { c.Search.MinScore = 1.5 }, "min_score"},
		{"bad timeout", func(c *Config) { c.Embeddings.Timeout = "soon" }, "embeddings.timeout"},
		{"zero debounce", func(c *Config) { c.Watch.Debounce = "0s" }, "watch.debounce"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad transport", func(c *Config) { c.Server.Transport = "sse" }, "server.transport"},
		{"zero max file size", func(c *Config) { c.Paths.MaxFileSize = 0 }, "max_file_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEmbedConfig_ReadsAPIKeyFromNamedVariable(t *testing.T) {
	t.Setenv("MY_EMBED_KEY", "sk-test")
	cfg := NewConfig()
	cfg.Embeddings.Provider = "OpenAI"
	cfg.Embeddings.APIKeyEnv = "MY_EMBED_KEY"
	cfg.Embeddings.Timeout = "5s"

	ec := cfg.EmbedConfig()

	assert.Equal(t, embed.ProviderOpenAI, ec.Provider)
	assert.Equal(t, "sk-test", ec.APIKey)
	assert.Equal(t, 5*time.Second, ec.Timeout)
}

func TestSourceOptions(t *testing.T) {
	cfg := NewConfig()
	cfg.Paths.Include = []string{"docs/**"}
	cfg.Paths.Exclude = []string{"tmp/**"}

	opts := cfg.SourceOptions("/project")

	assert.Equal(t, "/project", opts.Root)
	assert.Equal(t, []string{"docs/**"}, opts.Include)
	assert.Equal(t, []string{"tmp/**"}, opts.Exclude)
	assert.NotNil(t, opts.Ignore, "gitignore applies by default")

	cfg.Paths.NoGitignore = true
	assert.Nil(t, cfg.SourceOptions("/project").Ignore)
}

func TestResolveDataDir(t *testing.T) {
	root := t.TempDir()
	abs := filepath.Join(t.TempDir(), "data")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		dataDir string
		want    string
	}{
		{"", filepath.Join(root, DefaultDataDir)},
		{"cache/embed", filepath.Join(root, "cache", "embed")},
		{abs, abs},
		{"~/embed", filepath.Join(home, "embed")},
	}
	for _, tt := range tests {
		cfg := NewConfig()
		cfg.DataDir = tt.dataDir
		assert.Equal(t, tt.want, cfg.ResolveDataDir(root), tt.dataDir)
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, Duration("2s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("-1s", time.Minute))
}

func TestFindProjectRoot(t *testing.T) {
	// Given: a project with a config file and a nested directory
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".amanembed.yaml"), "version: 1\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	// When: searching from the nested directory
	got, err := FindProjectRoot(nested)

	// Then: the config directory is found
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(root)
	gotResolved, _ := filepath.EvalSymlinks(got)
	assert.Equal(t, want, gotResolved)
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Embeddings.Provider = "static"
	cfg.Search.Limit = 7

	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ProjectConfigFile)))
	loaded, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "static", loaded.Embeddings.Provider)
	assert.Equal(t, 7, loaded.Search.Limit)
}
