package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vigil-dev/vigil/internal/config"
	"github.com/vigil-dev/vigil/internal/history"
	"github.com/vigil-dev/vigil/internal/log"
	"github.com/vigil-dev/vigil/internal/paths"
	"github.com/vigil-dev/vigil/internal/snapshot"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Component lifecycle registry",
	Long: `Vigil tracks the components of a multi-process system: which are
registered, which process instance owns each component id, what lifecycle
state each one is in, and whether it is still proving liveness through
heartbeats. A health monitor degrades components that stop reporting,
fails the ones that stay silent, and schedules bounded automatic recovery.

State survives restarts through an atomically written snapshot, and every
transition is appended to a queryable SQLite history.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .vigil/config.yaml, then the user config dir)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"log at debug level regardless of log.level")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("registry.heartbeat_timeout", defaults.Registry.HeartbeatTimeout)
	viper.SetDefault("registry.monitor_interval", defaults.Registry.MonitorInterval)
	viper.SetDefault("registry.max_recovery_attempts", defaults.Registry.MaxRecoveryAttempts)
	viper.SetDefault("registry.auto_recover", defaults.Registry.AutoRecover)
	viper.SetDefault("durability.enabled", defaults.Durability.Enabled)
	viper.SetDefault("durability.data_dir", defaults.Durability.DataDir)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	viper.SetDefault("flags", defaults.Flags)
	viper.SetDefault("log.level", defaults.Log.Level)

	// VIGIL_REGISTRY_HEARTBEAT_TIMEOUT and friends override the file.
	viper.SetEnvPrefix("VIGIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .vigil/config.yaml (current directory)
		// 2. <user config dir>/vigil/config.yaml
		if _, err := os.Stat(filepath.Join(".vigil", "config.yaml")); err == nil {
			viper.SetConfigFile(filepath.Join(".vigil", "config.yaml"))
		} else if dir, err := paths.ConfigDir(); err == nil {
			viper.AddConfigPath(dir)
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - write the commented default to
		// the user config dir so there is something to edit.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if defaultPath, pathErr := paths.ConfigFile(); pathErr == nil {
				if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
					viper.SetConfigFile(defaultPath)
					_ = viper.ReadInConfig()
				}
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// dataPaths resolves the snapshot and transition history locations under
// the configured data directory.
func dataPaths(c config.Config) (snapshotPath, historyPath string, err error) {
	dir, err := paths.ResolveDataDir(c.Durability.DataDir)
	if err != nil {
		return "", "", fmt.Errorf("resolving data directory: %w", err)
	}
	return filepath.Join(dir, snapshot.DefaultFileName), filepath.Join(dir, history.DefaultFileName), nil
}

// initLogging opens the file-backed log and applies the configured level.
// The returned cleanup flushes and closes the log file.
func initLogging(c config.Config) (func(), error) {
	logPath := os.Getenv("VIGIL_LOG_FILE")
	if logPath == "" {
		dir, err := paths.DataDir()
		if err != nil {
			return nil, fmt.Errorf("resolving log path: %w", err)
		}
		logPath = filepath.Join(dir, "vigil.log")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	cleanup, err := log.Init(logPath)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}

	level := log.ParseLevel(c.Log.Level)
	if debugFlag || os.Getenv("VIGIL_DEBUG") != "" {
		level = log.LevelDebug
	}
	log.SetMinLevel(level)
	return cleanup, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
