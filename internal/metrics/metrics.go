package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mqtt_exerciser"

// Metrics holds the Prometheus collectors for exerciser clients. All
// collectors are labelled by client id.
type Metrics struct {
	connectionStatus  *prometheus.GaugeVec
	connectAttempts   *prometheus.CounterVec
	messagesPublished *prometheus.CounterVec
	publishErrors     *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	subscriptions     *prometheus.CounterVec
	payloadBytes      *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors. A nil registerer gets a
// private registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		connectionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "Client connection status (1 = connected, 0 = not connected)",
		}, []string{"client"}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by result",
		}, []string{"client", "result"}),
		messagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages handed to the client library for publishing",
		}, []string{"client"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Publish calls that returned an error",
		}, []string{"client"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages delivered to subscribers",
		}, []string{"client"}),
		subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_total",
			Help:      "Acknowledged subscriptions",
		}, []string{"client"}),
		payloadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payload_bytes",
			Help:      "Payload size of published and received messages",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"direction"}),
	}

	collectors := []prometheus.Collector{
		m.connectionStatus,
		m.connectAttempts,
		m.messagesPublished,
		m.publishErrors,
		m.messagesReceived,
		m.subscriptions,
		m.payloadBytes,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// SetConnectionStatus records whether a client is connected
func (m *Metrics) SetConnectionStatus(client string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	m.connectionStatus.WithLabelValues(client).Set(v)
}

// IncConnectAttempts counts a connection attempt with result "success" or "error"
func (m *Metrics) IncConnectAttempts(client, result string) {
	m.connectAttempts.WithLabelValues(client, result).Inc()
}

// IncMessagesPublished counts a successful publish call
func (m *Metrics) IncMessagesPublished(client string, size int) {
	m.messagesPublished.WithLabelValues(client).Inc()
	m.payloadBytes.WithLabelValues("out").Observe(float64(size))
}

// IncPublishErrors counts a failed publish call
func (m *Metrics) IncPublishErrors(client string) {
	m.publishErrors.WithLabelValues(client).Inc()
}

// IncMessagesReceived counts a delivered message
func (m *Metrics) IncMessagesReceived(client string, size int) {
	m.messagesReceived.WithLabelValues(client).Inc()
	m.payloadBytes.WithLabelValues("in").Observe(float64(size))
}

// IncSubscriptions counts an acknowledged subscription
func (m *Metrics) IncSubscriptions(client string) {
	m.subscriptions.WithLabelValues(client).Inc()
}
