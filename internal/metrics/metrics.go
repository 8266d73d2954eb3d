// Package metrics provides Prometheus instrumentation for the relay server:
// a gauge for live connections, counters for relayed events and presence
// transitions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of live WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections",
		Help: "Current number of live WebSocket connections",
	})

	// EventsRelayed counts events routed through the relay, labeled by the
	// inbound event type (named trigger events get an "emit:" prefix).
	EventsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Total number of events routed through the relay",
	}, []string{"event"})

	// PresenceTransitions counts user-status broadcasts by status.
	PresenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_presence_transitions_total",
		Help: "Total number of presence transitions broadcast",
	}, []string{"status"})

	// RegistrySize tracks how many user identities the presence registry has
	// ever seen this process lifetime (entries are not evicted).
	RegistrySize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_presence_registry_entries",
		Help: "Number of user identities tracked by the presence registry",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		EventsRelayed,
		PresenceTransitions,
		RegistrySize,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
