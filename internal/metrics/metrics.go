// Package metrics exposes Prometheus instrumentation for the RTMP server:
// connection counts, messages and bytes moved in each direction, and
// handshake latency. internal/rtmp/server registers a /metrics handler backed
// by this package's default registry when Config.MetricsAddr is set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsAccepted counts every connection that completed the RTMP
	// handshake and was handed off to the chunk layer.
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_connections_accepted_total",
		Help: "Total RTMP connections that completed the handshake.",
	})

	// ConnectionsActive tracks currently open connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtmp_connections_active",
		Help: "RTMP connections currently open.",
	})

	// HandshakeFailures counts handshakes that failed version/echo validation.
	HandshakeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_handshake_failures_total",
		Help: "Total RTMP handshakes that failed.",
	})

	// HandshakeDuration observes how long the three-way handshake took.
	HandshakeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rtmp_handshake_duration_seconds",
		Help:    "Duration of the RTMP handshake.",
		Buckets: prometheus.DefBuckets,
	})

	// MessagesDecoded counts fully reassembled inbound messages, labeled by
	// event datatype.
	MessagesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtmp_messages_decoded_total",
		Help: "Total inbound RTMP messages decoded, by datatype.",
	}, []string{"datatype"})

	// MessagesEncoded counts outbound messages enqueued for sending, labeled
	// by event datatype.
	MessagesEncoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtmp_messages_encoded_total",
		Help: "Total outbound RTMP messages encoded, by datatype.",
	}, []string{"datatype"})

	// BytesReceived counts raw inbound bytes fed to the decoder.
	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_bytes_received_total",
		Help: "Total bytes received from peers.",
	})

	// BytesSent counts raw outbound bytes written to peers.
	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_bytes_sent_total",
		Help: "Total bytes written to peers.",
	})

	// PublishRejections counts publish attempts refused with BadName status.
	PublishRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_publish_rejections_total",
		Help: "Total publish attempts rejected (name collision or application veto).",
	})

	// SubscribersDropped counts media messages dropped because a subscriber's
	// outbound queue was full.
	SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_subscribers_dropped_messages_total",
		Help: "Total media messages dropped due to a slow subscriber.",
	})
)
