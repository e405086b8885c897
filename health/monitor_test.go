package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyMonitorIsHealthy(t *testing.T) {
	m := NewMonitor()
	status := m.Check()
	assert.True(t, status.IsHealthy())
	assert.Empty(t, status.SubStatuses)
}

func TestAggregation(t *testing.T) {
	tests := []struct {
		name   string
		probes map[string]Probe
		want   string
	}{
		{
			name: "all healthy",
			probes: map[string]Probe{
				"pool":   func() Status { return Healthy("pool") },
				"engine": func() Status { return Healthy("engine") },
			},
			want: StateHealthy,
		},
		{
			name: "one degraded",
			probes: map[string]Probe{
				"pool":   func() Status { return Healthy("pool") },
				"engine": func() Status { return Degraded("engine", "retrying batch") },
			},
			want: StateDegraded,
		},
		{
			name: "unhealthy wins over degraded",
			probes: map[string]Probe{
				"pool":   func() Status { return Degraded("pool", "reconnecting") },
				"engine": func() Status { return Unhealthy("engine", "sink rejected batch") },
			},
			want: StateUnhealthy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor()
			for name, probe := range tt.probes {
				m.Register(name, probe)
			}
			status := m.Check()
			assert.Equal(t, tt.want, status.Status)
			assert.Len(t, status.SubStatuses, len(tt.probes))
		})
	}
}

func TestSubStatusOrderIsStable(t *testing.T) {
	m := NewMonitor()
	m.Register("zeta", func() Status { return Healthy("zeta") })
	m.Register("alpha", func() Status { return Healthy("alpha") })
	m.Register("mid", func() Status { return Healthy("mid") })

	status := m.Check()
	require.Len(t, status.SubStatuses, 3)
	assert.Equal(t, "alpha", status.SubStatuses[0].Component)
	assert.Equal(t, "mid", status.SubStatuses[1].Component)
	assert.Equal(t, "zeta", status.SubStatuses[2].Component)
}

func TestUnregister(t *testing.T) {
	m := NewMonitor()
	m.Register("pool", func() Status { return Unhealthy("pool", "down") })
	m.Unregister("pool")
	assert.True(t, m.Check().IsHealthy())
}

func TestHandlerStatusCodes(t *testing.T) {
	m := NewMonitor()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Healthy)

	m.Register("engine", func() Status { return Unhealthy("engine", "stalled") })
	resp, err = http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Degraded still serves 200 so orchestrators do not restart a
	// retrying pipeline.
	m.Register("engine", func() Status { return Degraded("engine", "retrying") })
	resp, err = http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
