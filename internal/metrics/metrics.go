// Package metrics provides Prometheus metrics for the sync core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PushEvents counts inbound push events by kind and outcome (applied, duplicate).
	PushEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_push_events_total",
			Help: "Total number of push events seen by the bridge",
		},
		[]string{"kind", "outcome"},
	)

	// DedupEvictions counts ids evicted from the dedup ledger.
	DedupEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inboxsync_dedup_evictions_total",
			Help: "Total number of event ids evicted from the dedup ledger",
		},
	)

	// BridgeAttached is 1 while the bridge listeners are installed.
	BridgeAttached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inboxsync_bridge_attached",
			Help: "Whether the push bridge is currently attached",
		},
	)

	// BridgeBacklog is the number of events queued for the bridge.
	BridgeBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inboxsync_bridge_backlog",
			Help: "Number of bus events waiting to be applied by the push bridge",
		},
	)

	// ChannelTransitions tracks push channel state changes.
	ChannelTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_channel_transitions_total",
			Help: "Total number of push channel state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	// SummaryLoads counts summary list fetches by result.
	SummaryLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_summary_loads_total",
			Help: "Total number of conversation summary fetches",
		},
		[]string{"result"},
	)

	// Sends counts outbound message sends by result.
	Sends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_sends_total",
			Help: "Total number of message sends",
		},
		[]string{"result"},
	)

	// BusDropped counts events dropped because a subscriber buffer was full.
	BusDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inboxsync_bus_dropped_total",
			Help: "Total number of bus events dropped on full subscriber buffers",
		},
	)
)

// RecordPushEvent increments the push event counter.
func RecordPushEvent(kind string, applied bool) {
	outcome := "applied"
	if !applied {
		outcome = "duplicate"
	}
	PushEvents.WithLabelValues(kind, outcome).Inc()
}

// RecordResult increments a result-labelled counter with ok/error.
func RecordResult(c *prometheus.CounterVec, err error) {
	if err != nil {
		c.WithLabelValues("error").Inc()
		return
	}
	c.WithLabelValues("ok").Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
