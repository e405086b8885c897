package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/c360/chatstream/config"
	"github.com/c360/chatstream/dispatch"
	"github.com/c360/chatstream/engine"
	"github.com/c360/chatstream/health"
	"github.com/c360/chatstream/metric"
	"github.com/c360/chatstream/sink"
	"github.com/c360/chatstream/sink/bulkindex"
	"github.com/c360/chatstream/sink/counter"
	"github.com/c360/chatstream/sink/file"
	"github.com/c360/chatstream/sink/natspub"
	"github.com/c360/chatstream/sink/postgres"
)

// pipeline is the assembled delivery side: one dispatcher fanning out to a
// batching engine per enabled sink.
type pipeline struct {
	dispatcher *dispatch.Dispatcher
	engines    []*engine.Engine
	adapters   map[string]sink.Sink
	logger     *slog.Logger
}

// buildAdapters constructs a sink adapter for every enabled sink plus any
// sink referenced as a dead-letter target.
func buildAdapters(ctx context.Context, cfg *config.Config, logger *slog.Logger) (map[string]sink.Sink, error) {
	needed := make(map[string]bool)
	for name, s := range cfg.Sinks {
		if s.Enabled {
			needed[name] = true
			if s.DeadLetter != "" {
				needed[s.DeadLetter] = true
			}
		}
	}

	adapters := make(map[string]sink.Sink, len(needed))
	for name := range needed {
		s := cfg.Sinks[name]
		adapter, err := buildAdapter(ctx, name, s, logger)
		if err != nil {
			closeAdapters(ctx, adapters)
			return nil, fmt.Errorf("sink %q: %w", name, err)
		}
		adapters[name] = adapter
	}
	return adapters, nil
}

func buildAdapter(ctx context.Context, name string, s config.SinkConfig, logger *slog.Logger) (sink.Sink, error) {
	switch s.Type {
	case "file":
		var fc file.Config
		if err := decodeOptions(s.Options, &fc); err != nil {
			return nil, err
		}
		return file.New(name, fc, logger)
	case "counter":
		return counter.New(name), nil
	case "nats":
		var nc natspub.Config
		if err := decodeOptions(s.Options, &nc); err != nil {
			return nil, err
		}
		return natspub.New(name, nc, logger)
	case "postgres":
		var pc postgres.Config
		if err := decodeOptions(s.Options, &pc); err != nil {
			return nil, err
		}
		ps, err := postgres.New(ctx, name, pc, logger)
		if err != nil {
			return nil, err
		}
		if err := ps.EnsureSchema(ctx); err != nil {
			_ = ps.Close(ctx)
			return nil, err
		}
		return ps, nil
	case "bulkindex":
		var bc bulkindex.Config
		if err := decodeOptions(s.Options, &bc); err != nil {
			return nil, err
		}
		bs, err := bulkindex.New(name, bc, logger)
		if err != nil {
			return nil, err
		}
		if err := bs.EnsureTemplate(ctx); err != nil {
			_ = bs.Close(ctx)
			return nil, err
		}
		return bs, nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", s.Type)
	}
}

func decodeOptions(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}

func closeAdapters(ctx context.Context, adapters map[string]sink.Sink) {
	for _, a := range adapters {
		_ = a.Close(ctx)
	}
}

// buildPipeline wires the dispatcher, queues, and engines for every enabled
// sink. Nothing runs until start is called. A nil monitor skips probe
// registration.
func buildPipeline(ctx context.Context, cfg *config.Config, registry *metric.Registry, monitor *health.Monitor, logger *slog.Logger) (*pipeline, error) {
	adapters, err := buildAdapters(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	d := dispatch.New(dispatch.WithLogger(logger), dispatch.WithMetrics(registry))

	// Deterministic lane order keeps logs and metrics stable across runs.
	names := make([]string, 0, len(cfg.Sinks))
	for name, s := range cfg.Sinks {
		if s.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	p := &pipeline{
		dispatcher: d,
		adapters:   adapters,
		logger:     logger,
	}
	for _, name := range names {
		s := cfg.Sinks[name]
		policy, err := s.QueuePolicy()
		if err != nil {
			closeAdapters(ctx, adapters)
			return nil, err
		}
		q, err := d.Subscribe(name, s.QueueCapacity, policy)
		if err != nil {
			closeAdapters(ctx, adapters)
			return nil, err
		}

		opts := []engine.Option{
			engine.WithLogger(logger),
			engine.WithMetrics(registry),
		}
		if s.DeadLetter != "" {
			opts = append(opts, engine.WithDeadLetter(adapters[s.DeadLetter]))
		}
		eng, err := engine.New(name, q, adapters[name], s.EngineConfig(), opts...)
		if err != nil {
			closeAdapters(ctx, adapters)
			return nil, err
		}
		p.engines = append(p.engines, eng)
		if monitor != nil {
			monitor.Register("engine:"+name, engineProbe(eng))
		}
	}

	return p, nil
}

func engineProbe(eng *engine.Engine) health.Probe {
	return func() health.Status {
		component := "engine:" + eng.Name()
		switch eng.State() {
		case engine.StateFailed:
			return health.Unhealthy(component, "sink delivery stalled")
		case engine.StateRetrying:
			return health.Degraded(component, "retrying batch commit")
		default:
			return health.Healthy(component)
		}
	}
}

// start freezes the subscriber set and launches every engine.
func (p *pipeline) start(ctx context.Context) error {
	p.dispatcher.Start()
	for _, eng := range p.engines {
		if err := eng.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// stop flushes partial batches within the grace period, then closes the
// adapters.
func (p *pipeline) stop(ctx context.Context, grace time.Duration) {
	for _, eng := range p.engines {
		if err := eng.Stop(grace); err != nil {
			p.logger.Warn("engine did not stop cleanly", "error", err)
		}
	}
	closeAdapters(ctx, p.adapters)
}
