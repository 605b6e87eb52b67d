// Package metrics provides Prometheus instrumentation for the chat server:
// gauges for connections, online users and rooms, counters for message
// outcomes and dropped frames, and histograms for fan-out.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of open WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the size of the presence registry.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_online_users",
		Help: "Current number of users with a live connection",
	})

	// Rooms tracks the number of non-empty rooms.
	Rooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_rooms",
		Help: "Current number of rooms with at least one member",
	})

	// MessagesTotal counts published messages by outcome: "accepted",
	// "rejected" or "private".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_messages_total",
		Help: "Total number of messages processed",
	}, []string{"outcome"})

	// FanoutSize records how many members a room message was delivered to.
	FanoutSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomchat_fanout_size",
		Help:    "Members reached per room message",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// PublishLatency records validation plus fan-out time in seconds.
	PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomchat_publish_latency_seconds",
		Help:    "Time to validate and fan out a room message",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})

	// SlowConsumers counts connections closed because their outbound queue
	// was full.
	SlowConsumers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_slow_consumers_total",
		Help: "Connections closed because their send queue overflowed",
	})

	// AuthFailures counts rejected handshakes by reason.
	AuthFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_auth_failures_total",
		Help: "Rejected connection attempts",
	}, []string{"reason"})

	// SinkDropped counts messages a persistence sink could not accept.
	SinkDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_sink_dropped_total",
		Help: "Messages dropped by a persistence sink",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		Rooms,
		MessagesTotal,
		FanoutSize,
		PublishLatency,
		SlowConsumers,
		AuthFailures,
		SinkDropped,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
