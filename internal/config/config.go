package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanembed/internal/embed"
	"github.com/Aman-CERP/amanembed/internal/source"
)

// Project config file names, in lookup order.
const (
	ProjectConfigFile    = ".amanembed.yaml"
	ProjectConfigFileAlt = ".amanembed.yml"

	// DefaultDataDir is the data directory, relative to the project root.
	DefaultDataDir = ".amanembed"

	envPrefix = "AMANEMBED_"
)

// Search modes.
const (
	SearchModeExact = "exact"
	SearchModeHNSW  = "hnsw"
)

// Config is the complete amanembed configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Server     ServerConfig     `yaml:"server" json:"server"`

	// DataDir holds the store, HNSW graph and lock. Relative paths are
	// resolved against the project root.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// EmbeddingsConfig selects the provider and tunes the pipeline.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	Host     string `yaml:"host" json:"host"`

	// APIKeyEnv names the environment variable holding the provider key.
	// The key itself is never stored in config files.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`

	BatchSize      int    `yaml:"batch_size" json:"batch_size"`
	MaxRetries     int    `yaml:"max_retries" json:"max_retries"`
	Concurrency    int    `yaml:"concurrency" json:"concurrency"`
	SaveEvery      int    `yaml:"save_every" json:"save_every"`
	Timeout        string `yaml:"timeout" json:"timeout"`
	Dimensions     int    `yaml:"dimensions" json:"dimensions"`
	QueryCacheSize int    `yaml:"query_cache_size" json:"query_cache_size"`
}

// SearchConfig tunes similarity search.
type SearchConfig struct {
	Mode         string  `yaml:"mode" json:"mode"`
	Multiplier   int     `yaml:"multiplier" json:"multiplier"`
	MinScore     float64 `yaml:"min_score" json:"min_score"`
	Limit        int     `yaml:"limit" json:"limit"`
	HNSWM        int     `yaml:"hnsw_m" json:"hnsw_m"`
	HNSWEfSearch int     `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
}

// PathsConfig configures which paths are indexed.
type PathsConfig struct {
	Include     []string `yaml:"include" json:"include"`
	Exclude     []string `yaml:"exclude" json:"exclude"`
	MaxFileSize int64    `yaml:"max_file_size" json:"max_file_size"`
	// NoGitignore stops .gitignore files from excluding paths.
	NoGitignore bool `yaml:"no_gitignore" json:"no_gitignore"`
}

// WatchConfig tunes the file watcher.
type WatchConfig struct {
	Debounce     string `yaml:"debounce" json:"debounce"`
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
	ForcePolling bool   `yaml:"force_polling" json:"force_polling"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Embeddings: EmbeddingsConfig{
			Provider:    string(embed.ProviderOllama),
			BatchSize:   32,
			MaxRetries:  3,
			Concurrency: 1,
			SaveEvery:   5,
			Timeout:     "60s",
			Dimensions:  256,
		},
		Search: SearchConfig{
			Mode:         SearchModeExact,
			Multiplier:   3,
			Limit:        10,
			HNSWM:        16,
			HNSWEfSearch: 20,
		},
		Paths: PathsConfig{
			Include:     []string{},
			Exclude:     []string{},
			MaxFileSize: source.DefaultMaxFileSize,
		},
		Watch: WatchConfig{
			Debounce:     "200ms",
			PollInterval: "5s",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Server:  ServerConfig{Transport: "stdio"},
		DataDir: DefaultDataDir,
	}
}

// GetUserConfigPath returns the path to the user configuration file:
// $XDG_CONFIG_HOME/amanembed/config.yaml, or ~/.config/amanembed/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanembed", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanembed", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanembed", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration for the project in dir. Layers, lowest first:
//  1. defaults
//  2. user config
//  3. project .amanembed.yaml (or .yml)
//  4. dir/.env, which never overrides variables already set
//  5. AMANEMBED_* environment variables
func Load(dir string) (*Config, error) {
	return LoadFile(dir, "")
}

// LoadFile is Load with an explicit project config path. An empty path
// uses the file found in dir.
func LoadFile(dir, path string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path == "" {
		path = ProjectConfigPath(dir)
	}
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ProjectConfigPath returns the project config file in dir, or "" when
// there is none. .yaml takes precedence over .yml.
func ProjectConfigPath(dir string) string {
	for _, name := range []string{ProjectConfigFile, ProjectConfigFileAlt} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

func loadDotEnv(dir string) error {
	p := filepath.Join(dir, ".env")
	if !fileExists(p) {
		return nil
	}
	// godotenv.Load leaves variables that are already set alone.
	if err := godotenv.Load(p); err != nil {
		return fmt.Errorf("failed to load %s: %w", p, err)
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c. Exclude patterns
// accumulate across layers.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	e, o := &c.Embeddings, other.Embeddings
	setString(&e.Provider, o.Provider)
	setString(&e.Model, o.Model)
	setString(&e.Host, o.Host)
	setString(&e.APIKeyEnv, o.APIKeyEnv)
	setString(&e.Timeout, o.Timeout)
	setInt(&e.BatchSize, o.BatchSize)
	setInt(&e.MaxRetries, o.MaxRetries)
	setInt(&e.Concurrency, o.Concurrency)
	setInt(&e.SaveEvery, o.SaveEvery)
	setInt(&e.Dimensions, o.Dimensions)
	setInt(&e.QueryCacheSize, o.QueryCacheSize)

	s, so := &c.Search, other.Search
	setString(&s.Mode, so.Mode)
	setInt(&s.Multiplier, so.Multiplier)
	setInt(&s.Limit, so.Limit)
	setInt(&s.HNSWM, so.HNSWM)
	setInt(&s.HNSWEfSearch, so.HNSWEfSearch)
	if so.MinScore != 0 {
		s.MinScore = so.MinScore
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}
	if other.Paths.MaxFileSize != 0 {
		c.Paths.MaxFileSize = other.Paths.MaxFileSize
	}
	if other.Paths.NoGitignore {
		c.Paths.NoGitignore = true
	}

	setString(&c.Watch.Debounce, other.Watch.Debounce)
	setString(&c.Watch.PollInterval, other.Watch.PollInterval)
	if other.Watch.ForcePolling {
		c.Watch.ForcePolling = true
	}

	setString(&c.Logging.Level, other.Logging.Level)
	setInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	setInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)

	setString(&c.Server.Transport, other.Server.Transport)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies AMANEMBED_* environment variables.
func (c *Config) applyEnvOverrides() {
	strs := map[string]*string{
		"PROVIDER":       &c.Embeddings.Provider,
		"MODEL":          &c.Embeddings.Model,
		"HOST":           &c.Embeddings.Host,
		"API_KEY_ENV":    &c.Embeddings.APIKeyEnv,
		"TIMEOUT":        &c.Embeddings.Timeout,
		"SEARCH_MODE":    &c.Search.Mode,
		"DATA_DIR":       &c.DataDir,
		"LOG_LEVEL":      &c.Logging.Level,
		"WATCH_DEBOUNCE": &c.Watch.Debounce,
		"TRANSPORT":      &c.Server.Transport,
	}
	for name, dst := range strs {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BATCH_SIZE":  &c.Embeddings.BatchSize,
		"MAX_RETRIES": &c.Embeddings.MaxRetries,
		"CONCURRENCY": &c.Embeddings.Concurrency,
		"SAVE_EVERY":  &c.Embeddings.SaveEvery,
		"DIMENSIONS":  &c.Embeddings.Dimensions,
	}
	for name, dst := range ints {
		if v := os.Getenv(envPrefix + name); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	if v := os.Getenv(envPrefix + "MIN_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Search.MinScore = f
		}
	}
	if v := os.Getenv(envPrefix + "FORCE_POLLING"); v != "" {
		c.Watch.ForcePolling = parseBool(v)
	}
	if v := os.Getenv(envPrefix + "NO_GITIGNORE"); v != "" {
		c.Paths.NoGitignore = parseBool(v)
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	e := c.Embeddings
	switch embed.ParseProvider(e.Provider) {
	case embed.ProviderOllama, embed.ProviderOpenAI, embed.ProviderStatic:
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama', 'openai' or 'static', got %q", e.Provider)
	}
	for name, v := range map[string]int{
		"embeddings.batch_size":  e.BatchSize,
		"embeddings.concurrency": e.Concurrency,
		"embeddings.save_every":  e.SaveEvery,
		"search.multiplier":      c.Search.Multiplier,
		"search.limit":           c.Search.Limit,
		"logging.max_size_mb":    c.Logging.MaxSizeMB,
		"logging.max_files":      c.Logging.MaxFiles,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("embeddings.max_retries must be non-negative, got %d", e.MaxRetries)
	}
	if e.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", e.Dimensions)
	}
	if c.Paths.MaxFileSize <= 0 {
		return fmt.Errorf("paths.max_file_size must be positive, got %d", c.Paths.MaxFileSize)
	}

	switch c.Search.Mode {
	case SearchModeExact, SearchModeHNSW:
	default:
		return fmt.Errorf("search.mode must be 'exact' or 'hnsw', got %q", c.Search.Mode)
	}
	if c.Search.MinScore < -1 || c.Search.MinScore > 1 {
		return fmt.Errorf("search.min_score must be between -1 and 1, got %f", c.Search.MinScore)
	}

	for name, v := range map[string]string{
		"embeddings.timeout":  e.Timeout,
		"watch.debounce":      c.Watch.Debounce,
		"watch.poll_interval": c.Watch.PollInterval,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %q", name, v)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	if strings.ToLower(c.Server.Transport) != "stdio" {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}
	return nil
}

// EmbedConfig returns the provider configuration. The API key is read from
// the variable named by api_key_env.
func (c *Config) EmbedConfig() embed.Config {
	e := c.Embeddings
	timeout, _ := time.ParseDuration(e.Timeout)
	cfg := embed.Config{
		Provider:   embed.ParseProvider(e.Provider),
		Model:      e.Model,
		Host:       e.Host,
		Dimensions: e.Dimensions,
		Timeout:    timeout,
		PoolSize:   e.Concurrency,
	}
	if e.APIKeyEnv != "" {
		cfg.APIKey = os.Getenv(e.APIKeyEnv)
	}
	return cfg
}

// SourceOptions returns the scan options for the project at root. Unless
// disabled, the project's .gitignore files apply.
func (c *Config) SourceOptions(root string) source.Options {
	opts := source.Options{
		Root:        root,
		Include:     c.Paths.Include,
		Exclude:     c.Paths.Exclude,
		MaxFileSize: c.Paths.MaxFileSize,
	}
	if !c.Paths.NoGitignore {
		opts.Ignore = source.NewIgnore(root)
	}
	return opts
}

// ResolveDataDir returns the absolute data directory for the project at root.
func (c *Config) ResolveDataDir(root string) string {
	dir := c.DataDir
	if dir == "" {
		dir = DefaultDataDir
	}
	if strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[2:])
		}
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return filepath.Clean(dir)
}

// Duration parses a duration field, returning def when it is empty or invalid.
func Duration(v string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return def
}

// FindProjectRoot walks up from startDir to the first directory holding
// .git or a project config file. It returns startDir when none is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	current := absDir
	for {
		if dirExists(filepath.Join(current, ".git")) || ProjectConfigPath(current) != "" {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
