// Package config provides configuration types and defaults for vigil.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vigil-dev/vigil/internal/flags"
	"github.com/vigil-dev/vigil/internal/log"
	"github.com/vigil-dev/vigil/internal/paths"
)

// Config holds all configuration options for vigil.
type Config struct {
	Registry   RegistryConfig   `mapstructure:"registry"`
	Durability DurabilityConfig `mapstructure:"durability"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Flags      map[string]bool  `mapstructure:"flags"`
	Log        LogConfig        `mapstructure:"log"`
}

// RegistryConfig holds the health monitoring policy.
type RegistryConfig struct {
	// HeartbeatTimeout is how long a monitorable component may stay silent
	// before a sweep marks it degraded.
	// Default: 90s
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`

	// MonitorInterval is the period between monitor sweeps. Must be shorter
	// than HeartbeatTimeout; a 1:3 ratio gives a component two chances to
	// be seen before the second strike.
	// Default: 30s
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`

	// MaxRecoveryAttempts bounds automatic degraded->active recoveries
	// before a component is left degraded for operator attention.
	// Default: 3
	MaxRecoveryAttempts int `mapstructure:"max_recovery_attempts"`

	// AutoRecover re-activates degraded components when heartbeats resume.
	// Default: true
	AutoRecover bool `mapstructure:"auto_recover"`
}

// DurabilityConfig holds snapshot and history persistence settings.
type DurabilityConfig struct {
	// Enabled controls whether registry state is persisted at all. When
	// false the registry runs purely in memory.
	// Default: true
	Enabled bool `mapstructure:"enabled"`

	// DataDir is where the snapshot file and history database live.
	// Default: ~/.local/share/vigil (XDG_DATA_HOME honored)
	DataDir string `mapstructure:"data_dir"`
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	// Default: ~/.local/share/vigil/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// 1.0 = all traces, 0.1 = 10% of traces
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`

	// ServiceName is the service.name resource attribute on emitted spans.
	// Default: "vigil-registry"
	ServiceName string `mapstructure:"service_name"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	// Level is the minimum level written to the log file.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `mapstructure:"level"`
}

// DefaultTracesFilePath returns the default location for file-exported
// traces, inside the vigil data directory. Returns the empty string when
// the home directory cannot be resolved.
func DefaultTracesFilePath() string {
	dir, err := paths.DataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Registry: RegistryConfig{
			HeartbeatTimeout:    90 * time.Second,
			MonitorInterval:     30 * time.Second,
			MaxRecoveryAttempts: 3,
			AutoRecover:         true,
		},
		Durability: DurabilityConfig{
			Enabled: true,
			DataDir: "", // Resolved against XDG at runtime
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from the data dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "vigil-registry",
		},
		Flags: map[string]bool{
			flags.FlagHistoryPersistence: true,
			flags.FlagHeartbeatTracing:   false,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks the full configuration for errors.
func (c Config) Validate() error {
	if err := ValidateRegistry(c.Registry); err != nil {
		return err
	}
	if err := ValidateDurability(c.Durability); err != nil {
		return err
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		return err
	}
	return ValidateLog(c.Log)
}

// ValidateRegistry checks the monitoring policy for errors.
func ValidateRegistry(reg RegistryConfig) error {
	if reg.HeartbeatTimeout <= 0 {
		return fmt.Errorf("registry.heartbeat_timeout must be positive, got %v", reg.HeartbeatTimeout)
	}
	if reg.MonitorInterval <= 0 {
		return fmt.Errorf("registry.monitor_interval must be positive, got %v", reg.MonitorInterval)
	}
	if reg.MonitorInterval >= reg.HeartbeatTimeout {
		return fmt.Errorf("registry.monitor_interval (%v) must be shorter than registry.heartbeat_timeout (%v)",
			reg.MonitorInterval, reg.HeartbeatTimeout)
	}
	if reg.MaxRecoveryAttempts < 0 {
		return fmt.Errorf("registry.max_recovery_attempts must not be negative, got %d", reg.MaxRecoveryAttempts)
	}
	return nil
}

// ValidateDurability checks persistence configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateDurability(dur DurabilityConfig) error {
	// DataDir must be absolute or home-relative so it doesn't silently
	// depend on the working directory a command happened to run from.
	if dur.DataDir != "" && !filepath.IsAbs(dur.DataDir) &&
		dur.DataDir != "~" && !strings.HasPrefix(dur.DataDir, "~/") {
		return fmt.Errorf("durability.data_dir must be an absolute path or start with ~/, got %q", dur.DataDir)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
			// Valid
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	// Only validate backend requirements when tracing is enabled
	if tracing.Enabled {
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// ValidateLog checks logging configuration for errors.
func ValidateLog(lc LogConfig) error {
	switch lc.Level {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", lc.Level)
	}
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Vigil Configuration

# Health monitoring policy
registry:
  heartbeat_timeout: 90s    # Silence tolerated before a component is degraded
  monitor_interval: 30s     # Sweep period; keep shorter than heartbeat_timeout (1:3 works well)
  max_recovery_attempts: 3  # Automatic degraded->active recoveries before a component stays down
  auto_recover: true        # Re-activate degraded components when heartbeats resume

# Durable state: JSON snapshot of the registry plus the transition history
durability:
  enabled: true
  # Snapshot (registry.json) and history (history.db) live here.
  # Default: ~/.local/share/vigil (XDG_DATA_HOME honored)
  # data_dir: /var/lib/vigil

# OpenTelemetry tracing for facade operations and monitor sweeps
# tracing:
#   enabled: false
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.local/share/vigil/traces/traces.jsonl  # Output file for file exporter
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
#   service_name: vigil-registry   # service.name resource attribute
#
# Example: send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1  # Sample 10% of traces

# Feature flags
flags:
  history-persistence: true  # Record every state transition to the SQLite history
  heartbeat-tracing: false   # Span per heartbeat; noisy, off even when tracing is on

# Logging
log:
  level: info  # debug, info, warn, error
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
