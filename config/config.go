// Package config loads and validates the application configuration.
//
// Configuration is a single JSON file. The path comes from the -config flag
// or the CHATSTREAM_CONFIG environment variable, flag winning. Validation
// errors here are the only errors that abort startup; everything downstream
// degrades or retries.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/c360/chatstream/engine"
	"github.com/c360/chatstream/errors"
	"github.com/c360/chatstream/pkg/queue"
	"github.com/c360/chatstream/pool"
	"github.com/c360/chatstream/transport"
)

// EnvConfigPath overrides the config file path when the -config flag is
// not given.
const EnvConfigPath = "CHATSTREAM_CONFIG"

// Duration is a time.Duration that unmarshals from JSON strings like "2s"
// or from integer nanoseconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val))
		return nil
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("duration must be a string or number, got %T", v)
	}
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete application configuration.
type Config struct {
	Twitch  TwitchConfig          `json:"twitch"`
	Sinks   map[string]SinkConfig `json:"sinks"`
	Metrics MetricsConfig         `json:"metrics"`
}

// TwitchConfig covers the live ingest side: the gateway connection and the
// channel pool.
type TwitchConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Nick    string `json:"nick"`
	Token   string `json:"token,omitempty"`

	Channels     ChannelsConfig `json:"channels"`
	SyncInterval Duration       `json:"sync_interval"`

	MaxChannelsPerConn    int      `json:"max_channels_per_conn"`
	MaxJoinsPerWindow     int      `json:"max_joins_per_window"`
	JoinWindow            Duration `json:"join_window"`
	MaxJoinAttempts       int      `json:"max_join_attempts"`
	JoinRetryDelay        Duration `json:"join_retry_delay"`
	ReconnectInitialDelay Duration `json:"reconnect_initial_delay"`
	ReconnectMaxDelay     Duration `json:"reconnect_max_delay"`
}

// ChannelsConfig selects where the wanted channel list comes from.
type ChannelsConfig struct {
	// Source is static, file, or http.
	Source string   `json:"source"`
	Static []string `json:"static,omitempty"`
	// Path points at a JSON array of channel names for the file source.
	Path string `json:"path,omitempty"`
	// URL and Token configure the http source. Token is sent as a
	// bearer token.
	URL   string `json:"url,omitempty"`
	Token string `json:"token,omitempty"`
}

// SinkConfig configures one named delivery lane: its queue, its batching
// engine, and the adapter behind it.
type SinkConfig struct {
	// Type is postgres, bulkindex, file, nats, or counter.
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`

	QueueCapacity int `json:"queue_capacity"`
	// Policy is block or drop_oldest.
	Policy string `json:"policy"`

	BatchSize         int      `json:"batch_size"`
	BatchAge          Duration `json:"batch_age"`
	MaxRetries        int      `json:"max_retries"`
	RetryInitialDelay Duration `json:"retry_initial_delay"`
	RetryMaxDelay     Duration `json:"retry_max_delay"`

	// DeadLetter names another configured sink that receives batches
	// this one permanently rejects.
	DeadLetter string `json:"dead_letter,omitempty"`

	// Options carries adapter-specific fields, decoded by the adapter's
	// own config type.
	Options json.RawMessage `json:"options,omitempty"`
}

// MetricsConfig controls the observability listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// Default returns the built-in configuration: anonymous gateway access, a
// single file sink, metrics on localhost.
func Default() *Config {
	return &Config{
		Twitch: TwitchConfig{
			Enabled:               true,
			URL:                   "wss://irc-ws.chat.twitch.tv:443",
			Nick:                  "justinfan12345",
			Channels:              ChannelsConfig{Source: "static"},
			SyncInterval:          Duration(5 * time.Minute),
			MaxChannelsPerConn:    90,
			MaxJoinsPerWindow:     20,
			JoinWindow:            Duration(10 * time.Second),
			MaxJoinAttempts:       5,
			JoinRetryDelay:        Duration(2 * time.Second),
			ReconnectInitialDelay: Duration(time.Second),
			ReconnectMaxDelay:     Duration(time.Minute),
		},
		Sinks: map[string]SinkConfig{
			"archive": {
				Type:          "file",
				Enabled:       true,
				QueueCapacity: 4096,
				Policy:        "block",
				BatchSize:     500,
				BatchAge:      Duration(2 * time.Second),
				MaxRetries:    5,
				Options:       json.RawMessage(`{"root":"./data","format":"jsonl"}`),
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9301",
		},
	}
}

// Load reads and validates the configuration file at path. An empty path
// falls back to the CHATSTREAM_CONFIG environment variable, then to the
// built-in defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	cfg := Default()
	if path != "" {
		data, err := safeReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", "decode config file")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the full configuration. Any error here is fatal.
func (c *Config) Validate() error {
	if c.Twitch.Enabled {
		if err := c.Twitch.validate(); err != nil {
			return err
		}
	}
	if len(c.Sinks) == 0 {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate",
			"at least one sink must be configured")
	}
	for name, s := range c.Sinks {
		if err := s.validate(name); err != nil {
			return err
		}
		if s.DeadLetter != "" {
			// The target is constructed as an adapter even when it has
			// no delivery lane of its own.
			if _, ok := c.Sinks[s.DeadLetter]; !ok {
				return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate",
					fmt.Sprintf("sink %q dead-letters to unknown sink %q", name, s.DeadLetter))
			}
			if s.DeadLetter == name {
				return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate",
					fmt.Sprintf("sink %q dead-letters to itself", name))
			}
		}
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate",
			"metrics.listen required when metrics are enabled")
	}
	return nil
}

func (t *TwitchConfig) validate() error {
	if t.URL == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate",
			"twitch.url required")
	}
	if t.Nick == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate",
			"twitch.nick required")
	}
	switch t.Channels.Source {
	case "static":
	case "file":
		if t.Channels.Path == "" {
			return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate",
				"twitch.channels.path required for the file source")
		}
	case "http":
		if t.Channels.URL == "" {
			return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate",
				"twitch.channels.url required for the http source")
		}
	default:
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate",
			"twitch.channels.source must be static, file, or http, got "+t.Channels.Source)
	}
	pc := t.PoolConfig()
	return pc.Validate()
}

func (s *SinkConfig) validate(name string) error {
	switch s.Type {
	case "postgres", "bulkindex", "file", "nats", "counter":
	default:
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("sink %q has unknown type %q", name, s.Type))
	}
	if !s.Enabled {
		return nil
	}
	if s.QueueCapacity <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("sink %q needs a positive queue_capacity", name))
	}
	if _, err := queue.ParsePolicy(s.Policy); err != nil {
		return err
	}
	ec := s.EngineConfig()
	if err := ec.Validate(); err != nil {
		return fmt.Errorf("sink %q: %w", name, err)
	}
	return nil
}

// PoolConfig maps the twitch section onto the channel pool configuration.
func (t *TwitchConfig) PoolConfig() pool.Config {
	cfg := pool.DefaultConfig()
	if t.MaxChannelsPerConn > 0 {
		cfg.MaxChannelsPerConn = t.MaxChannelsPerConn
	}
	if t.MaxJoinsPerWindow > 0 {
		cfg.MaxJoinsPerWindow = t.MaxJoinsPerWindow
	}
	if t.JoinWindow > 0 {
		cfg.JoinWindow = t.JoinWindow.Std()
	}
	if t.MaxJoinAttempts > 0 {
		cfg.MaxJoinAttempts = t.MaxJoinAttempts
	}
	if t.JoinRetryDelay > 0 {
		cfg.JoinRetryDelay = t.JoinRetryDelay.Std()
	}
	if t.ReconnectInitialDelay > 0 {
		cfg.ReconnectInitialDelay = t.ReconnectInitialDelay.Std()
	}
	if t.ReconnectMaxDelay > 0 {
		cfg.ReconnectMaxDelay = t.ReconnectMaxDelay.Std()
	}
	return cfg
}

// TransportConfig maps the twitch section onto the websocket dialer
// configuration.
func (t *TwitchConfig) TransportConfig() transport.WSConfig {
	cfg := transport.DefaultWSConfig()
	if t.URL != "" {
		cfg.URL = t.URL
	}
	if t.Nick != "" {
		cfg.Nick = t.Nick
	}
	cfg.Token = t.Token
	return cfg
}

// QueuePolicy parses the sink's overflow policy.
func (s *SinkConfig) QueuePolicy() (queue.OverflowPolicy, error) {
	return queue.ParsePolicy(s.Policy)
}

// EngineConfig maps the sink section onto the batching engine
// configuration.
func (s *SinkConfig) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	if s.BatchSize > 0 {
		cfg.MaxBatchSize = s.BatchSize
	}
	if s.BatchAge > 0 {
		cfg.MaxBatchAge = s.BatchAge.Std()
	}
	if s.MaxRetries > 0 {
		cfg.MaxRetries = s.MaxRetries
	}
	if s.RetryInitialDelay > 0 {
		cfg.RetryInitialDelay = s.RetryInitialDelay.Std()
	}
	if s.RetryMaxDelay > 0 {
		cfg.RetryMaxDelay = s.RetryMaxDelay.Std()
	}
	return cfg
}
