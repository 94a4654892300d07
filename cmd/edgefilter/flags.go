package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	Describe        bool

	flags *flag.FlagSet
}

// parseFlags parses args with environment variable fallbacks
func parseFlags(args []string) (*CLIConfig, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg := &CLIConfig{flags: fs}

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("EDGEFILTER_CONFIG", ""),
		"Path to configuration file, JSON or YAML (env: EDGEFILTER_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("EDGEFILTER_CONFIG", ""),
		"Path to configuration file, JSON or YAML (env: EDGEFILTER_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("EDGEFILTER_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: EDGEFILTER_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("EDGEFILTER_LOG_FORMAT", "json"),
		"Log format: json, text (env: EDGEFILTER_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("EDGEFILTER_DEBUG", false),
		"Enable debug mode (env: EDGEFILTER_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("EDGEFILTER_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: EDGEFILTER_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&cfg.Describe, "describe", false, "Print the filter's ports and configuration JSON Schema and exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp || cfg.Describe {
		return nil
	}

	// An empty path runs on defaults plus environment overrides
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Edge temperature filter

Forwards telemetry whose temperature exceeds a threshold, tagged as an alert.

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.SetOutput(os.Stderr)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with a config file
  %s --config=/etc/edgefilter/config.yaml

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Run from the environment only
  export EDGEFILTER_NATS_URLS=nats://hub.local:4222
  export EDGEFILTER_FILTER_DEFAULT_THRESHOLD=30
  %s

  # Validate configuration only
  %s --config=config.yaml --validate

  # Print the configuration JSON Schema
  %s --describe

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
