package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dshills/fileindex-mcp/internal/fileindex"
	"github.com/dshills/fileindex-mcp/internal/ignore"
	"github.com/dshills/fileindex-mcp/internal/indexer"
	"github.com/dshills/fileindex-mcp/internal/searcher"
	"github.com/dshills/fileindex-mcp/internal/walker"
	"github.com/dshills/fileindex-mcp/internal/watcher"
	"github.com/dshills/fileindex-mcp/pkg/types"
)

// Environment variables that override file settings
const (
	EnvDatabasePath = "FILEINDEX_DB_PATH"
	EnvEntrypoints  = "FILEINDEX_ENTRYPOINTS"
	EnvLogLevel     = "FILEINDEX_LOG_LEVEL"
	EnvConfigPath   = "FILEINDEX_CONFIG"
)

const defaultDatabaseFile = "file-index.db"

// Config is the complete service configuration
type Config struct {
	DatabasePath string   `toml:"database_path"`
	Entrypoints  []string `toml:"entrypoints"`

	Scan  ScanConfig  `toml:"scan"`
	Query QueryConfig `toml:"query"`
	Watch WatchConfig `toml:"watch"`
	Log   LogConfig   `toml:"log"`
}

// ScanConfig controls walking and batching
type ScanConfig struct {
	BatchSize           int      `toml:"batch_size"`
	MaxPendingBatches   int      `toml:"max_pending_batches"`
	IncrementalMaxDepth int      `toml:"incremental_max_depth"`
	IgnoreHiddenPaths   bool     `toml:"ignore_hidden_paths"`
	IgnoreFileNames     []string `toml:"ignore_file_names"`
	ExcludedPaths       []string `toml:"excluded_paths"`
	ExcludedNames       []string `toml:"excluded_names"`
}

// QueryConfig controls the searcher
type QueryConfig struct {
	DefaultLimit  int `toml:"default_limit"`
	MaxConcurrent int `toml:"max_concurrent"`
	CacheSize     int `toml:"cache_size"`
}

// WatchConfig controls the optional directory watcher
type WatchConfig struct {
	Enabled             bool    `toml:"enabled"`
	Depth               int     `toml:"depth"`
	Debounce            string  `toml:"debounce"`
	MaxRescansPerSecond float64 `toml:"max_rescans_per_second"`
}

// LogConfig controls the process logger
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		DatabasePath: DefaultDatabasePath(),
		Entrypoints:  defaultEntrypoints(),
		Scan: ScanConfig{
			BatchSize:           indexer.DefaultBatchSize,
			MaxPendingBatches:   indexer.DefaultMaxPendingBatches,
			IncrementalMaxDepth: fileindex.DefaultIncrementalMaxDepth,
			IgnoreFileNames:     []string{ignore.DefaultFileName},
			ExcludedPaths:       append([]string(nil), walker.DefaultExcludedPaths...),
			ExcludedNames:       append([]string(nil), walker.DefaultExcludedNames...),
		},
		Query: QueryConfig{
			DefaultLimit:  types.DefaultSearchLimit,
			MaxConcurrent: searcher.DefaultMaxConcurrent,
			CacheSize:     searcher.DefaultCacheSize,
		},
		Watch: WatchConfig{
			Depth:               watcher.DefaultDepth,
			Debounce:            watcher.DefaultDebounce.String(),
			MaxRescansPerSecond: watcher.DefaultMaxRescansPerSecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultDatabasePath returns $XDG_DATA_HOME/fileindex/file-index.db, falling
// back to ~/.local/share when XDG_DATA_HOME is unset
func DefaultDatabasePath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "fileindex", defaultDatabaseFile)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "fileindex", defaultDatabaseFile)
}

func defaultEntrypoints() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{home}
}

// Load reads a TOML file over the defaults, then applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies FILEINDEX_* environment variables
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvDatabasePath); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv(EnvEntrypoints); v != "" {
		c.Entrypoints = splitList(v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// SetDefaults fills zero values left by a partial config file
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.DatabasePath == "" {
		c.DatabasePath = defaults.DatabasePath
	}
	if c.Scan.BatchSize == 0 {
		c.Scan.BatchSize = defaults.Scan.BatchSize
	}
	if c.Scan.MaxPendingBatches == 0 {
		c.Scan.MaxPendingBatches = defaults.Scan.MaxPendingBatches
	}
	if c.Scan.IncrementalMaxDepth == 0 {
		c.Scan.IncrementalMaxDepth = defaults.Scan.IncrementalMaxDepth
	}
	if c.Query.DefaultLimit == 0 {
		c.Query.DefaultLimit = defaults.Query.DefaultLimit
	}
	if c.Query.MaxConcurrent == 0 {
		c.Query.MaxConcurrent = defaults.Query.MaxConcurrent
	}
	if c.Query.CacheSize == 0 {
		c.Query.CacheSize = defaults.Query.CacheSize
	}
	if c.Watch.Depth == 0 {
		c.Watch.Depth = defaults.Watch.Depth
	}
	if c.Watch.Debounce == "" {
		c.Watch.Debounce = defaults.Watch.Debounce
	}
	if c.Watch.MaxRescansPerSecond == 0 {
		c.Watch.MaxRescansPerSecond = defaults.Watch.MaxRescansPerSecond
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// ValidationError describes one invalid field
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks every field and reports all problems at once
func (c *Config) Validate() error {
	var errs []error
	invalid := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.DatabasePath == "" {
		invalid("database_path", "must not be empty")
	}
	for _, ep := range c.Entrypoints {
		if !filepath.IsAbs(ep) {
			invalid("entrypoints", "%q is not an absolute path", ep)
		}
	}
	if c.Scan.BatchSize < 1 {
		invalid("scan.batch_size", "must be positive, got %d", c.Scan.BatchSize)
	}
	if c.Scan.MaxPendingBatches < 1 {
		invalid("scan.max_pending_batches", "must be positive, got %d", c.Scan.MaxPendingBatches)
	}
	if c.Scan.IncrementalMaxDepth < 0 {
		invalid("scan.incremental_max_depth", "must not be negative, got %d", c.Scan.IncrementalMaxDepth)
	}
	if c.Query.DefaultLimit < 1 {
		invalid("query.default_limit", "must be positive, got %d", c.Query.DefaultLimit)
	}
	if c.Query.MaxConcurrent < 1 {
		invalid("query.max_concurrent", "must be positive, got %d", c.Query.MaxConcurrent)
	}
	if c.Query.CacheSize < 0 {
		invalid("query.cache_size", "must not be negative, got %d", c.Query.CacheSize)
	}
	if c.Watch.Depth < 0 {
		invalid("watch.depth", "must not be negative, got %d", c.Watch.Depth)
	}
	if d, err := time.ParseDuration(c.Watch.Debounce); err != nil {
		invalid("watch.debounce", "invalid duration %q", c.Watch.Debounce)
	} else if d <= 0 {
		invalid("watch.debounce", "must be positive, got %s", d)
	}
	if c.Watch.MaxRescansPerSecond <= 0 {
		invalid("watch.max_rescans_per_second", "must be positive, got %g", c.Watch.MaxRescansPerSecond)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		invalid("log.level", "%v", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		invalid("log.format", "must be text or json, got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

// EntrypointList converts the configured roots
func (c *Config) EntrypointList() []types.Entrypoint {
	out := make([]types.Entrypoint, 0, len(c.Entrypoints))
	for _, root := range c.Entrypoints {
		out = append(out, types.Entrypoint{Root: root})
	}
	return out
}

// WalkerOptions builds the walk filters. A non-nil chain is shared with every
// component that walks so ignore file changes seen by one reach all.
func (c *Config) WalkerOptions(chain *ignore.Chain, logger *slog.Logger) walker.Options {
	return walker.Options{
		IgnoreFileNames:   append([]string(nil), c.Scan.IgnoreFileNames...),
		Recursive:         true,
		IgnoreHiddenPaths: c.Scan.IgnoreHiddenPaths,
		ExcludedPaths:     append([]string(nil), c.Scan.ExcludedPaths...),
		ExcludedNames:     append([]string(nil), c.Scan.ExcludedNames...),
		Ignore:            chain,
		Logger:            logger,
	}
}

// FileIndexConfig builds the facade configuration
func (c *Config) FileIndexConfig(opts walker.Options) fileindex.Config {
	return fileindex.Config{
		DatabasePath:        c.DatabasePath,
		IncrementalMaxDepth: c.Scan.IncrementalMaxDepth,
		Scanner: indexer.Config{
			BatchSize:         c.Scan.BatchSize,
			MaxPendingBatches: c.Scan.MaxPendingBatches,
			Walker:            opts,
		},
		Search: searcher.Config{
			MaxConcurrent: c.Query.MaxConcurrent,
			CacheSize:     c.Query.CacheSize,
			DefaultLimit:  c.Query.DefaultLimit,
		},
	}
}

// WatcherConfig builds the watcher configuration. Validate must have passed.
func (c *Config) WatcherConfig(opts walker.Options) watcher.Config {
	debounce, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		debounce = watcher.DefaultDebounce
	}
	return watcher.Config{
		Depth:               c.Watch.Depth,
		Debounce:            debounce,
		MaxRescansPerSecond: c.Watch.MaxRescansPerSecond,
		Walker:              opts,
	}
}

// NewLogger builds the process logger writing to w
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}

func splitList(v string) []string {
	parts := filepath.SplitList(v)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
