package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all pipeline-level metrics shared across components.
type Metrics struct {
	// Ingestion metrics
	EventsParsed   *prometheus.CounterVec
	ParseAnomalies prometheus.Counter

	// Coordinator metrics
	JoinsTotal      prometheus.Counter
	PartsTotal      prometheus.Counter
	ReconnectsTotal prometheus.Counter
	ChannelFailures prometheus.Counter
	ChannelsJoined  prometheus.Gauge
	ConnectionsOpen prometheus.Gauge

	// Dispatch metrics
	DispatchDropped *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec

	// Delivery metrics
	BatchesCommitted *prometheus.CounterVec
	EventsCommitted  *prometheus.CounterVec
	CommitDuration   *prometheus.HistogramVec
	DeadLetterEvents *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all pipeline metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsParsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatstream",
				Subsystem: "parser",
				Name:      "events_total",
				Help:      "Total number of protocol lines parsed, by resulting event type",
			},
			[]string{"type"},
		),

		ParseAnomalies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatstream",
				Subsystem: "parser",
				Name:      "anomalies_total",
				Help:      "Total number of malformed lines recovered as unknown events",
			},
		),

		JoinsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatstream",
				Subsystem: "pool",
				Name:      "joins_total",
				Help:      "Total number of JOIN commands emitted",
			},
		),

		PartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatstream",
				Subsystem: "pool",
				Name:      "parts_total",
				Help:      "Total number of PART commands emitted",
			},
		),

		ReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatstream",
				Subsystem: "pool",
				Name:      "reconnects_total",
				Help:      "Total number of transport reconnect attempts",
			},
		),

		ChannelFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatstream",
				Subsystem: "pool",
				Name:      "channel_failures_total",
				Help:      "Total number of channels that exhausted their join retry ceiling",
			},
		),

		ChannelsJoined: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chatstream",
				Subsystem: "pool",
				Name:      "channels_joined",
				Help:      "Number of channels currently in the joined state",
			},
		),

		ConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chatstream",
				Subsystem: "pool",
				Name:      "connections_open",
				Help:      "Number of transport connections currently open",
			},
		),

		DispatchDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatstream",
				Subsystem: "dispatch",
				Name:      "dropped_total",
				Help:      "Total events dropped by best-effort sink queues on overflow",
			},
			[]string{"sink"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "chatstream",
				Subsystem: "dispatch",
				Name:      "queue_depth",
				Help:      "Current depth of each sink delivery queue",
			},
			[]string{"sink"},
		),

		BatchesCommitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatstream",
				Subsystem: "delivery",
				Name:      "batches_total",
				Help:      "Total batch commit outcomes per sink",
			},
			[]string{"sink", "status"},
		),

		EventsCommitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatstream",
				Subsystem: "delivery",
				Name:      "events_total",
				Help:      "Total events durably committed per sink",
			},
			[]string{"sink"},
		),

		CommitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chatstream",
				Subsystem: "delivery",
				Name:      "commit_seconds",
				Help:      "Batch commit duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sink"},
		),

		DeadLetterEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatstream",
				Subsystem: "delivery",
				Name:      "dead_letter_events_total",
				Help:      "Total events routed to dead-letter or dropped after permanent failure",
			},
			[]string{"sink"},
		),
	}
}
