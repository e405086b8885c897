// Package postgres stores chat events in a relational analytics table.
//
// Batches turn into one pgx.Batch of inserts each, with
// "on conflict do nothing" on the upstream message id so retried batches
// never duplicate rows. Connection-level failures classify transient and
// ride the engine's retry; SQL-state integrity and schema errors classify
// permanent and dead-letter instead.
package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/c360/chatstream/errors"
	"github.com/c360/chatstream/event"
	"github.com/c360/chatstream/sink"
)

// Config holds configuration for the postgres sink.
type Config struct {
	DSN          string        `json:"dsn"`
	FlushTimeout time.Duration `json:"flush_timeout"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DSN == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "dsn is required")
	}
	return nil
}

// DefaultConfig returns defaults for the postgres sink.
func DefaultConfig() Config {
	return Config{
		FlushTimeout: 30 * time.Second,
	}
}

const insertQuery = `
insert into chat_events (
  event_id, type, channel, sender_id, sender_login, sender_name,
  text, tags, sent_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
on conflict (event_id) do nothing;`

// schemaQuery creates the analytics table when it does not exist yet.
const schemaQuery = `
create table if not exists chat_events (
  event_id     text primary key,
  type         text not null,
  channel      text not null,
  sender_id    text,
  sender_login text,
  sender_name  text,
  text         text,
  tags         jsonb,
  sent_at      timestamptz not null
);
create index if not exists chat_events_channel_sent_at
  on chat_events (channel, sent_at);`

// batchSender is the pgx surface the sink needs, separated for tests.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Sink writes events to the chat_events table.
type Sink struct {
	name   string
	config Config
	sender batchSender
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects a pool and returns the sink.
func New(ctx context.Context, name string, config Config, logger *slog.Logger) (*Sink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, config.DSN)
	if err != nil {
		return nil, errors.WrapFatal(err, "Sink", "New", "parse dsn")
	}
	s := newWithSender(name, config, pool, logger)
	s.pool = pool
	return s, nil
}

func newWithSender(name string, config Config, sender batchSender, logger *slog.Logger) *Sink {
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = DefaultConfig().FlushTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		name:   name,
		config: config,
		sender: sender,
		logger: logger.With("sink", name),
	}
}

// Name implements sink.Sink.
func (s *Sink) Name() string { return s.name }

// EnsureSchema creates the table and index if missing. Called once at
// startup.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if _, err := s.sender.Exec(ctx, schemaQuery); err != nil {
		return classify(err, "EnsureSchema", "create table")
	}
	return nil
}

// Commit inserts the whole batch in one round trip.
func (s *Sink) Commit(ctx context.Context, batch sink.Batch) error {
	dbCtx, cancel := context.WithTimeout(ctx, s.config.FlushTimeout)
	defer cancel()

	pgBatch := &pgx.Batch{}
	for _, ev := range batch.Events {
		var tags []byte
		if len(ev.Tags) > 0 {
			var err error
			tags, err = json.Marshal(ev.Tags)
			if err != nil {
				return errors.WrapPermanent(err, "Sink", "Commit", "marshal tags")
			}
		}
		pgBatch.Queue(insertQuery,
			eventKey(ev), string(ev.Type), ev.Channel,
			nullable(ev.SenderID), nullable(ev.SenderLogin), nullable(ev.SenderName),
			nullable(ev.Text), tags, ev.Timestamp.UTC(),
		)
	}

	br := s.sender.SendBatch(dbCtx, pgBatch)
	if err := br.Close(); err != nil {
		return classify(err, "Commit", "send batch")
	}
	return nil
}

// eventKey prefers the upstream message id and falls back to the derived
// document id for records that never had one.
func eventKey(ev event.Event) string {
	if ev.MessageID != "" {
		return ev.MessageID
	}
	return ev.DocumentID()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// classify maps database failures onto the retry taxonomy. SQL-state
// classes 22 (data), 23 (integrity), 42 (syntax or missing object) never
// succeed on retry.
func classify(err error, operation, action string) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		class := ""
		if len(pgErr.Code) >= 2 {
			class = pgErr.Code[:2]
		}
		switch class {
		case "22", "23", "42":
			return errors.WrapPermanent(err, "Sink", operation, action)
		}
	}
	return errors.WrapTransient(err, "Sink", operation, action)
}

// Close releases the pool.
func (s *Sink) Close(context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
