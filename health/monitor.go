package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Probe reports one component's current health. Probes must be cheap and
// non-blocking; they run on every health request.
type Probe func() Status

// Monitor holds registered probes and aggregates them.
type Monitor struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// NewMonitor creates an empty monitor. A monitor with no probes reports
// healthy.
func NewMonitor() *Monitor {
	return &Monitor{probes: make(map[string]Probe)}
}

// Register adds or replaces the probe for a component.
func (m *Monitor) Register(component string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[component] = probe
}

// Unregister removes a component's probe.
func (m *Monitor) Unregister(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.probes, component)
}

// Check runs every probe and rolls the results up: any unhealthy component
// makes the system unhealthy, otherwise any degraded one makes it degraded.
func (m *Monitor) Check() Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.probes))
	for name := range m.probes {
		names = append(names, name)
	}
	probes := make([]Probe, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		probes = append(probes, m.probes[name])
	}
	m.mu.RUnlock()

	overall := Status{
		Component: "chatstream",
		Healthy:   true,
		Status:    StateHealthy,
		Timestamp: time.Now().UTC(),
	}
	for _, probe := range probes {
		sub := probe()
		overall.SubStatuses = append(overall.SubStatuses, sub)
		switch {
		case sub.IsUnhealthy():
			overall.Status = StateUnhealthy
			overall.Healthy = false
		case sub.IsDegraded() && overall.Status == StateHealthy:
			overall.Status = StateDegraded
			overall.Healthy = false
		}
	}
	return overall
}

// Handler serves the aggregate status as JSON. Unhealthy responds 503 so
// load balancers and orchestrators act on it; degraded still responds 200.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.Check()
		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
