package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Mode            string
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	In              string
	Out             string
	InFormat        string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.Mode, "mode",
		getEnv("CHATSTREAM_MODE", "ingest"),
		"Run mode: ingest, convert, replay, bench (env: CHATSTREAM_MODE)")

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("CHATSTREAM_CONFIG", ""),
		"Path to configuration file (env: CHATSTREAM_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("CHATSTREAM_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: CHATSTREAM_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("CHATSTREAM_LOG_FORMAT", "json"),
		"Log format: json, text (env: CHATSTREAM_LOG_FORMAT)")

	flag.StringVar(&cfg.In, "in", "",
		"Input directory for convert, replay, and bench modes")

	flag.StringVar(&cfg.Out, "out", "",
		"Output directory for convert mode")

	flag.StringVar(&cfg.InFormat, "in-format", "orl",
		"Input format for offline modes: orl, jsonl")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("CHATSTREAM_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: CHATSTREAM_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	switch cfg.Mode {
	case "ingest", "convert", "replay", "bench":
	default:
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}

	if !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if !contains([]string{"orl", "jsonl"}, cfg.InFormat) {
		return fmt.Errorf("invalid input format: %s", cfg.InFormat)
	}

	switch cfg.Mode {
	case "convert":
		if cfg.In == "" || cfg.Out == "" {
			return fmt.Errorf("convert mode requires -in and -out")
		}
	case "replay", "bench":
		if cfg.In == "" {
			return fmt.Errorf("%s mode requires -in", cfg.Mode)
		}
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Live chat event pipeline

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Live ingest with custom config
  %s -config=/etc/chatstream/config.json

  # Convert an ORL archive to JSONL
  %s -mode=convert -in=./logs -in-format=orl -out=./jsonl

  # Replay an archive into the configured sinks
  %s -mode=replay -in=./jsonl -in-format=jsonl -config=config.json

  # Measure parse and pipeline throughput
  %s -mode=bench -in=./logs

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
