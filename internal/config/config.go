// Package config provides configuration types and defaults for courier.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/courier/internal/log"
	"github.com/zjrosen/courier/internal/tracing"
)

// DefaultWorkspace is used when no workspace is configured.
const DefaultWorkspace = "default"

// DBFileName is the session database file inside DataDir.
const DBFileName = "sessions.db"

// Config holds all configuration options for courier.
type Config struct {
	DataDir   string `mapstructure:"data_dir"`
	Workspace string `mapstructure:"workspace"`
	Debug     bool   `mapstructure:"debug"`
	LogPath   string `mapstructure:"log_path"`
	// Ephemeral keeps sessions in memory only; nothing is written to DataDir.
	Ephemeral bool `mapstructure:"ephemeral"`

	Autosave  AutosaveConfig  `mapstructure:"autosave"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
}

// AutosaveConfig controls debounced session and draft writes.
type AutosaveConfig struct {
	Debounce time.Duration `mapstructure:"debounce"` // 0 writes synchronously
}

// CacheConfig controls the session document cache.
type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"` // 0 disables the cache
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// WatcherConfig controls watching the session database for outside writes.
type WatcherConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// ExecutionConfig controls the execution event router and simulated engine.
type ExecutionConfig struct {
	GlobalLogSize int           `mapstructure:"global_log_size"`
	StepDelay     time.Duration `mapstructure:"step_delay"`
}

// DBPath returns the session database path.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, DBFileName)
}

// DefaultDataDir returns ~/.courier, or .courier when the home directory is
// unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".courier"
	}
	return filepath.Join(home, ".courier")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	return filepath.Join(DefaultDataDir(), "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()

	return Config{
		DataDir:   DefaultDataDir(),
		Workspace: DefaultWorkspace,
		LogPath:   "debug.log",
		Autosave: AutosaveConfig{
			Debounce: 500 * time.Millisecond,
		},
		Cache: CacheConfig{
			TTL:             5 * time.Minute,
			CleanupInterval: 10 * time.Minute,
		},
		Watcher: WatcherConfig{
			Enabled:  true,
			Debounce: 1 * time.Second,
		},
		Execution: ExecutionConfig{
			GlobalLogSize: 500,
			StepDelay:     150 * time.Millisecond,
		},
		Tracing: tc,
	}
}

// Validate checks the configuration for errors. Zero durations are valid and
// mean "off" or "immediate".
func Validate(c Config) error {
	var errs []error

	if c.Workspace == "" {
		errs = append(errs, errors.New("workspace must not be empty"))
	}
	if !c.Ephemeral && c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required unless ephemeral is set"))
	}
	for name, d := range map[string]time.Duration{
		"autosave.debounce":      c.Autosave.Debounce,
		"cache.ttl":              c.Cache.TTL,
		"cache.cleanup_interval": c.Cache.CleanupInterval,
		"watcher.debounce":       c.Watcher.Debounce,
		"execution.step_delay":   c.Execution.StepDelay,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	if c.Execution.GlobalLogSize < 0 {
		errs = append(errs, fmt.Errorf("execution.global_log_size must not be negative, got %d", c.Execution.GlobalLogSize))
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	if tc.Exporter != "" {
		switch tc.Exporter {
		case tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
		}
	}

	if tc.Enabled {
		if tc.Exporter == tracing.ExporterFile && tc.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tc.Exporter == tracing.ExporterOTLP && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Courier Configuration

# Directory holding the session database (default: ~/.courier)
# data_dir: /path/to/data

# Workspace whose tabs and drafts are restored on start
workspace: default

# Keep sessions in memory only
ephemeral: false

# Write debug logs to log_path
debug: false
log_path: debug.log

autosave:
  # Quiet period before tab and draft changes are written (0 = immediately)
  debounce: 500ms

cache:
  # How long a session document stays cached (0 = no cache)
  ttl: 5m
  cleanup_interval: 10m

watcher:
  # Reload the session when another process writes the database
  enabled: true
  debounce: 1s

execution:
  # Entries kept in the global execution log
  global_log_size: 500
  # Delay between simulated engine events
  step_delay: 150ms

# Distributed tracing of session and execution operations
tracing:
  enabled: false
  exporter: file
  # file_path: ~/.courier/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
  #
  # Example: Send traces to Jaeger via OTLP
  # tracing:
  #   enabled: true
  #   exporter: otlp
  #   otlp_endpoint: jaeger.internal:4317
  #   sample_rate: 0.1  # Sample 10% of traces
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
