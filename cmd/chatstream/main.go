// Package main implements the chatstream entry point. Chatstream ingests
// live chat events from an IRC-over-websocket gateway, normalizes them, and
// delivers them to configured storage and messaging sinks. Offline modes
// convert, replay, and benchmark archived logs through the same pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/chatstream/config"
	"github.com/c360/chatstream/health"
	"github.com/c360/chatstream/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "chatstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	// Signal-aware run context shared by every mode.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewRegistry()
	monitor := health.NewMonitor()
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Listen, "/metrics", registry)
		metricsServer.SetHealthHandler(monitor.Handler())
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() { _ = metricsServer.Stop() }()
	}

	logger.Info("starting", "mode", cliCfg.Mode)
	switch cliCfg.Mode {
	case "ingest":
		err = runIngest(ctx, cliCfg, cfg, registry, monitor, logger)
	case "convert":
		err = runConvert(ctx, cliCfg, logger)
	case "replay":
		err = runReplay(ctx, cliCfg, cfg, registry, monitor, logger)
	case "bench":
		err = runBench(ctx, cliCfg, logger)
	default:
		err = fmt.Errorf("invalid mode: %s", cliCfg.Mode)
	}
	if err != nil {
		return err
	}
	logger.Info("done", "mode", cliCfg.Mode)
	return nil
}
