// Package metrics provides Prometheus instrumentation for the pairing
// server: gauges for connections, queues, and rooms, counters for matches
// and relayed traffic, and a histogram for profile enrichment latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "driftpair_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// QueueSize tracks the current waiting-queue length, labeled by chat type.
	QueueSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "driftpair_queue_size",
		Help: "Current number of users waiting for a partner",
	}, []string{"chat_type"})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "driftpair_active_rooms",
		Help: "Current number of active two-party rooms",
	})

	// MatchesTotal counts successful pairings, labeled by whether a shared
	// interest drove the selection.
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftpair_matches_total",
		Help: "Total number of successful pairings",
	}, []string{"selection"}) // selection = "interest", "random"

	// RelayedTotal counts relayed room events by kind.
	RelayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftpair_relayed_total",
		Help: "Total number of relayed room events",
	}, []string{"kind"}) // kind = "message", "typing", "signal"

	// CooldownRejections counts partner requests denied by the cooldown window.
	CooldownRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftpair_cooldown_rejections_total",
		Help: "Total number of partner requests rejected by the cooldown",
	})

	// EnrichLatency records profile enrichment latency in seconds.
	EnrichLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "driftpair_enrich_latency_seconds",
		Help:    "Profile enrichment lookup latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 3},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		QueueSize,
		ActiveRooms,
		MatchesTotal,
		RelayedTotal,
		CooldownRejections,
		EnrichLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
