package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chatstream/pkg/queue"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"twitch": {
			"enabled": true,
			"url": "wss://example.test:443",
			"nick": "justinfan999",
			"channels": {"source": "static", "static": ["a", "b"]},
			"sync_interval": "30s",
			"max_joins_per_window": 5,
			"join_window": "2s"
		},
		"sinks": {
			"archive": {
				"type": "file",
				"enabled": true,
				"queue_capacity": 128,
				"policy": "drop_oldest",
				"batch_size": 50,
				"batch_age": "500ms",
				"options": {"root": "/tmp/chat", "format": "orl"}
			}
		},
		"metrics": {"enabled": false}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://example.test:443", cfg.Twitch.URL)
	assert.Equal(t, []string{"a", "b"}, cfg.Twitch.Channels.Static)
	assert.Equal(t, 30*time.Second, cfg.Twitch.SyncInterval.Std())

	pc := cfg.Twitch.PoolConfig()
	assert.Equal(t, 5, pc.MaxJoinsPerWindow)
	assert.Equal(t, 2*time.Second, pc.JoinWindow)
	// Unset fields keep pool defaults.
	assert.Equal(t, 90, pc.MaxChannelsPerConn)

	archive := cfg.Sinks["archive"]
	pol, err := archive.QueuePolicy()
	require.NoError(t, err)
	assert.Equal(t, queue.DropOldest, pol)

	ec := archive.EngineConfig()
	assert.Equal(t, 50, ec.MaxBatchSize)
	assert.Equal(t, 500*time.Millisecond, ec.MaxBatchAge)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadRejectsNonJSONPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEnvFallback(t *testing.T) {
	path := writeConfig(t, `{
		"twitch": {"enabled": false},
		"sinks": {"bench": {"type": "counter", "enabled": true, "queue_capacity": 16}}
	}`)
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Twitch.Enabled)
	assert.Contains(t, cfg.Sinks, "bench")
}

func TestValidateRejectsUnknownSinkType(t *testing.T) {
	cfg := Default()
	cfg.Sinks["bad"] = SinkConfig{Type: "carrier_pigeon", Enabled: true, QueueCapacity: 1}
	assert.Error(t, cfg.Validate())
}

func TestValidateDeadLetterTargets(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Sinks["primary"] = SinkConfig{
			Type: "counter", Enabled: true, QueueCapacity: 16, DeadLetter: "fallback",
		}
		return cfg
	}

	cfg := base()
	assert.Error(t, cfg.Validate(), "unknown dead-letter target")

	cfg = base()
	cfg.Sinks["fallback"] = SinkConfig{Type: "counter", Enabled: false, QueueCapacity: 16}
	assert.NoError(t, cfg.Validate(), "construct-only dead-letter target is fine")

	cfg = base()
	primary := cfg.Sinks["primary"]
	primary.DeadLetter = "primary"
	cfg.Sinks["primary"] = primary
	assert.Error(t, cfg.Validate(), "self dead-letter")
}

func TestValidateChannelSources(t *testing.T) {
	cfg := Default()
	cfg.Twitch.Channels = ChannelsConfig{Source: "file"}
	assert.Error(t, cfg.Validate(), "file source without path")

	cfg.Twitch.Channels = ChannelsConfig{Source: "http"}
	assert.Error(t, cfg.Validate(), "http source without url")

	cfg.Twitch.Channels = ChannelsConfig{Source: "sqlite"}
	assert.Error(t, cfg.Validate(), "unknown source")

	cfg.Twitch.Channels = ChannelsConfig{Source: "file", Path: "/tmp/channels.json"}
	assert.NoError(t, cfg.Validate())
}

func TestDisabledSinkSkipsValidation(t *testing.T) {
	cfg := Default()
	cfg.Sinks["later"] = SinkConfig{Type: "postgres", Enabled: false}
	assert.NoError(t, cfg.Validate())
}

func TestDurationJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Duration
		err  bool
	}{
		{name: "string", in: `"1m30s"`, want: 90 * time.Second},
		{name: "nanos", in: `1000000000`, want: time.Second},
		{name: "garbage string", in: `"soon"`, err: true},
		{name: "wrong type", in: `true`, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.in), &d)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Std())
		})
	}

	out, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(out))
}
