package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "feedrelay_build_info",
			Help:        "Build information for the feedrelay server",
			ConstLabels: prometheus.Labels{"component": "server"},
		},
		[]string{"date", "sha", "version"},
	)

	connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedrelay_connections",
			Help: "Number of open WebSocket connections",
		},
	)

	producers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedrelay_producers",
			Help: "Number of connections registered as video producers",
		},
	)

	streamActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedrelay_stream_active",
			Help: "1 while at least one producer is connected",
		},
	)

	messagesRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrelay_messages_relayed_total",
			Help: "Validated inbound messages broadcast to all connections",
		},
		[]string{"kind"},
	)

	invalidPayloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrelay_invalid_payloads_total",
			Help: "Inbound messages dropped because their payload failed validation",
		},
		[]string{"kind"},
	)

	statusBroadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrelay_status_broadcasts_total",
			Help: "stream-status transitions broadcast to all connections",
		},
		[]string{"active"},
	)

	messagesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedrelay_messages_dropped_total",
			Help: "Outbound messages dropped because a connection queue was full",
		},
	)
)

// Register registers the relay collectors with r.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, connections, producers, streamActive,
		messagesRelayed, invalidPayloads, statusBroadcasts, messagesDropped)
}

// SetBuildInfo sets the build info metric for the server.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// ConnectionOpened increments the open connection gauge.
func ConnectionOpened() { connections.Inc() }

// ConnectionClosed decrements the open connection gauge.
func ConnectionClosed() { connections.Dec() }

// SetProducers records the current producer count and derived stream state.
func SetProducers(n int) {
	producers.Set(float64(n))
	if n > 0 {
		streamActive.Set(1)
	} else {
		streamActive.Set(0)
	}
}

// RecordRelayed counts a validated message of the given kind.
func RecordRelayed(kind string) { messagesRelayed.WithLabelValues(kind).Inc() }

// RecordInvalid counts a rejected message of the given kind.
func RecordInvalid(kind string) { invalidPayloads.WithLabelValues(kind).Inc() }

// RecordStatusBroadcast counts a stream-status transition.
func RecordStatusBroadcast(active bool) {
	statusBroadcasts.WithLabelValues(strconv.FormatBool(active)).Inc()
}

// RecordDropped counts an outbound message dropped on a full queue.
func RecordDropped() { messagesDropped.Inc() }
