package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/chatstream/channels"
	"github.com/c360/chatstream/config"
	"github.com/c360/chatstream/dispatch"
	"github.com/c360/chatstream/engine"
	"github.com/c360/chatstream/health"
	"github.com/c360/chatstream/metric"
	"github.com/c360/chatstream/pkg/queue"
	"github.com/c360/chatstream/pool"
	"github.com/c360/chatstream/sink/counter"
	"github.com/c360/chatstream/sink/file"
	"github.com/c360/chatstream/source"
	"github.com/c360/chatstream/transport"
)

// offlineSource is the shared shape of the archive readers.
type offlineSource interface {
	Each(ctx context.Context, fn source.Handler) error
}

func newSource(root, format string, logger *slog.Logger) offlineSource {
	if format == "jsonl" {
		return source.NewJSONLDir(root, logger)
	}
	return source.NewORLDir(root, logger)
}

// runIngest connects to the gateway and streams live events into the
// configured sinks until the context is cancelled.
func runIngest(ctx context.Context, cliCfg *CLIConfig, cfg *config.Config, registry *metric.Registry, monitor *health.Monitor, logger *slog.Logger) error {
	if !cfg.Twitch.Enabled {
		return fmt.Errorf("ingest mode requires twitch.enabled")
	}

	p, err := buildPipeline(ctx, cfg, registry, monitor, logger)
	if err != nil {
		return err
	}
	if err := p.start(ctx); err != nil {
		p.stop(ctx, cliCfg.ShutdownTimeout)
		return err
	}

	dialer, err := transport.NewWSDialer(cfg.Twitch.TransportConfig(), logger)
	if err != nil {
		p.stop(ctx, cliCfg.ShutdownTimeout)
		return err
	}

	coord, err := pool.New(dialer, p.dispatcher.Publish, cfg.Twitch.PoolConfig(),
		pool.WithLogger(logger), pool.WithMetrics(registry))
	if err != nil {
		p.stop(ctx, cliCfg.ShutdownTimeout)
		return err
	}
	if err := coord.Start(ctx); err != nil {
		p.stop(ctx, cliCfg.ShutdownTimeout)
		return err
	}

	go func() {
		for failure := range coord.Failures() {
			logger.Error("channel abandoned after repeated join failures",
				"channel", failure.Channel, "attempts", failure.Attempts, "error", failure.Err)
		}
	}()

	provider, err := channels.FromConfig(cfg.Twitch.Channels)
	if err != nil {
		_ = coord.Stop(cliCfg.ShutdownTimeout)
		p.stop(ctx, cliCfg.ShutdownTimeout)
		return err
	}
	syncer, err := channels.NewSyncer(provider, coord.SetWanted,
		cfg.Twitch.SyncInterval.Std(), channels.WithLogger(logger))
	if err != nil {
		_ = coord.Stop(cliCfg.ShutdownTimeout)
		p.stop(ctx, cliCfg.ShutdownTimeout)
		return err
	}
	if err := syncer.Start(ctx); err != nil {
		_ = coord.Stop(cliCfg.ShutdownTimeout)
		p.stop(ctx, cliCfg.ShutdownTimeout)
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down", "grace", cliCfg.ShutdownTimeout)

	if err := syncer.Stop(cliCfg.ShutdownTimeout); err != nil {
		logger.Warn("syncer did not stop cleanly", "error", err)
	}
	if err := coord.Stop(cliCfg.ShutdownTimeout); err != nil {
		logger.Warn("pool did not stop cleanly", "error", err)
	}
	p.stop(context.Background(), cliCfg.ShutdownTimeout)
	return nil
}

// runConvert reads one archive format and writes the other.
func runConvert(ctx context.Context, cliCfg *CLIConfig, logger *slog.Logger) error {
	outFormat := "jsonl"
	if cliCfg.InFormat == "jsonl" {
		outFormat = "orl"
	}

	out, err := file.New("convert", file.Config{
		Root:          cliCfg.Out,
		Format:        outFormat,
		ControlPolicy: "comment",
	}, logger)
	if err != nil {
		return err
	}

	d := dispatch.New(dispatch.WithLogger(logger))
	q, err := d.Subscribe("convert", 4096, queue.Block)
	if err != nil {
		return err
	}
	d.Start()

	eng, err := engine.New("convert", q, out, engine.DefaultConfig(),
		engine.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	src := newSource(cliCfg.In, cliCfg.InFormat, logger)
	srcErr := src.Each(ctx, d.Publish)

	if err := eng.Stop(cliCfg.ShutdownTimeout); err != nil {
		logger.Warn("engine did not stop cleanly", "error", err)
	}
	if err := out.Close(ctx); err != nil {
		logger.Warn("output close failed", "error", err)
	}
	return srcErr
}

// runReplay streams an archive through the configured sinks, exactly as if
// the events arrived live.
func runReplay(ctx context.Context, cliCfg *CLIConfig, cfg *config.Config, registry *metric.Registry, monitor *health.Monitor, logger *slog.Logger) error {
	p, err := buildPipeline(ctx, cfg, registry, monitor, logger)
	if err != nil {
		return err
	}
	if err := p.start(ctx); err != nil {
		p.stop(ctx, cliCfg.ShutdownTimeout)
		return err
	}

	src := newSource(cliCfg.In, cliCfg.InFormat, logger)
	srcErr := src.Each(ctx, p.dispatcher.Publish)

	p.stop(context.Background(), cliCfg.ShutdownTimeout)
	return srcErr
}

// runBench measures end-to-end pipeline throughput against a counting sink.
func runBench(ctx context.Context, cliCfg *CLIConfig, logger *slog.Logger) error {
	cnt := counter.New("bench")

	d := dispatch.New(dispatch.WithLogger(logger))
	// A deep blocking queue so measurement reflects parse and delivery
	// cost, not artificial backpressure.
	q, err := d.Subscribe("bench", 65536, queue.Block)
	if err != nil {
		return err
	}
	d.Start()

	eng, err := engine.New("bench", q, cnt, engine.DefaultConfig(),
		engine.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	src := newSource(cliCfg.In, cliCfg.InFormat, logger)
	srcErr := src.Each(ctx, d.Publish)

	if err := eng.Stop(cliCfg.ShutdownTimeout); err != nil {
		logger.Warn("engine did not stop cleanly", "error", err)
	}

	report := cnt.Report()
	fmt.Printf("events:      %d\n", report.Events)
	fmt.Printf("batches:     %d\n", report.Batches)
	fmt.Printf("bytes:       %d\n", report.Bytes)
	fmt.Printf("elapsed:     %s\n", report.Elapsed)
	fmt.Printf("events/sec:  %.0f\n", report.EventsPerSec)
	fmt.Printf("bytes/sec:   %.0f\n", report.BytesPerSec)
	fmt.Printf("events/batch: %.1f\n", report.EventsPerBatch)
	return srcErr
}
