// Package bulkindex delivers events to a search index over the NDJSON bulk
// protocol.
//
// Documents land in monthly indexes named <base>-YYYY-MM-01, keyed by
// event.DocumentID so replaying a batch after a partial failure overwrites
// instead of duplicating. EnsureTemplate installs the index template once at
// startup; channel and username map to keyword fields, text to a full-text
// field, ts to a date.
package bulkindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c360/chatstream/errors"
	"github.com/c360/chatstream/event"
	"github.com/c360/chatstream/sink"
)

// Config holds configuration for the bulk index sink.
type Config struct {
	URL       string        `json:"url"`        // base URL of the index server
	IndexBase string        `json:"index_base"` // index name prefix
	Username  string        `json:"username"`
	Password  string        `json:"password"`
	Timeout   time.Duration `json:"timeout"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "url is required")
	}
	if c.IndexBase == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate",
			"index_base is required")
	}
	return nil
}

// DefaultConfig returns defaults for the bulk index sink.
func DefaultConfig() Config {
	return Config{
		IndexBase: "chatstream",
		Timeout:   30 * time.Second,
	}
}

// document is the indexed shape of an event.
type document struct {
	Channel  string `json:"channel"`
	Username string `json:"username"`
	Text     string `json:"text"`
	Type     string `json:"type"`
	TS       string `json:"ts"`
}

// Sink indexes events via the bulk endpoint.
type Sink struct {
	name   string
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a bulk index sink.
func New(name string, config Config, logger *slog.Logger) (*Sink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		name:   name,
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With("sink", name),
	}, nil
}

// Name implements sink.Sink.
func (s *Sink) Name() string { return s.name }

// EnsureTemplate installs the index template covering <base>-*. Called once
// before the first commit.
func (s *Sink) EnsureTemplate(ctx context.Context) error {
	template := map[string]any{
		"index_patterns": s.config.IndexBase + "-*",
		"mappings": map[string]any{
			"properties": map[string]any{
				"channel":  map[string]string{"type": "keyword"},
				"username": map[string]string{"type": "keyword"},
				"text":     map[string]string{"type": "text"},
				"type":     map[string]string{"type": "keyword"},
				"ts":       map[string]string{"type": "date"},
			},
		},
		"settings": map[string]any{
			"number_of_replicas": 0,
			"number_of_shards":   1,
			"refresh_interval":   "1s",
			"sort.field":         []string{"ts", "ts"},
			"sort.order":         []string{"desc", "asc"},
			"codec":              "best_compression",
		},
	}
	body, err := json.Marshal(template)
	if err != nil {
		return errors.WrapPermanent(err, "Sink", "EnsureTemplate", "marshal template")
	}

	url := strings.TrimRight(s.config.URL, "/") + "/_template/" + s.config.IndexBase + "-template"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return errors.WrapPermanent(err, "Sink", "EnsureTemplate", "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "Sink", "EnsureTemplate", "put template")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return s.classifyStatus(resp, "Sink", "EnsureTemplate")
	}
	s.logger.Info("index template installed", "index_base", s.config.IndexBase)
	return nil
}

// Commit sends the batch as one bulk request. Request-level failures and
// item-level mapping errors are surfaced with the first reason; duplicate
// document ids overwrite in place, keeping retries idempotent.
func (s *Sink) Commit(ctx context.Context, batch sink.Batch) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range batch.Events {
		action := map[string]map[string]string{
			"index": {
				"_index": s.indexFor(ev),
				"_id":    ev.DocumentID(),
			},
		}
		if err := enc.Encode(action); err != nil {
			return errors.WrapPermanent(err, "Sink", "Commit", "encode action line")
		}
		doc := document{
			Channel:  ev.Channel,
			Username: ev.SenderLogin,
			Text:     ev.Text,
			Type:     string(ev.Type),
			TS:       ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		}
		if err := enc.Encode(doc); err != nil {
			return errors.WrapPermanent(err, "Sink", "Commit", "encode document line")
		}
	}

	url := strings.TrimRight(s.config.URL, "/") + "/_bulk"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return errors.WrapPermanent(err, "Sink", "Commit", "build request")
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "Sink", "Commit", "post bulk request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return s.classifyStatus(resp, "Sink", "Commit")
	}
	return s.checkItems(resp.Body, batch)
}

// bulkResponse is the subset of the bulk reply the sink inspects.
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (s *Sink) checkItems(body io.Reader, batch sink.Batch) error {
	var parsed bulkResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return errors.WrapTransient(err, "Sink", "Commit", "decode bulk response")
	}
	if !parsed.Errors {
		return nil
	}

	failed := 0
	transient := false
	var firstReason string
	for _, item := range parsed.Items {
		for _, result := range item {
			if result.Error == nil {
				continue
			}
			failed++
			if firstReason == "" {
				firstReason = result.Error.Reason
			}
			if result.Status >= 500 || result.Status == http.StatusTooManyRequests {
				transient = true
			}
		}
	}

	s.logger.Warn("bulk request had item failures",
		"batch_id", batch.ID, "failed", failed, "total", batch.Len(), "reason", firstReason)

	err := fmt.Errorf("%w: %d of %d items failed: %s",
		errors.ErrBatchRejected, failed, batch.Len(), firstReason)
	if transient {
		return errors.WrapTransient(err, "Sink", "Commit", "index batch")
	}
	return errors.WrapPermanent(err, "Sink", "Commit", "index batch")
}

func (s *Sink) classifyStatus(resp *http.Response, component, operation string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("%w: status %d: %s", errors.ErrBatchRejected, resp.StatusCode,
		strings.TrimSpace(string(snippet)))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return errors.WrapTransient(err, component, operation, "server rejected request")
	}
	return errors.WrapPermanent(err, component, operation, "server rejected request")
}

func (s *Sink) authorize(req *http.Request) {
	if s.config.Username != "" {
		req.SetBasicAuth(s.config.Username, s.config.Password)
	}
}

// indexFor floors the event timestamp to the month, matching the template's
// index pattern.
func (s *Sink) indexFor(ev event.Event) string {
	return s.config.IndexBase + "-" + ev.Timestamp.UTC().Format("2006-01") + "-01"
}

// Close implements sink.Sink. The HTTP client holds no per-sink state.
func (s *Sink) Close(context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}
