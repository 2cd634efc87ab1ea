package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains Prometheus metrics for the commit notifier.
type MQTTMetrics struct {
	*operationMetrics
	messageSize prometheus.Histogram
}

// NewMQTTMetrics creates and registers mqtt metrics.
func NewMQTTMetrics(registry prometheus.Registerer) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		operationMetrics: newOperationMetrics("mqtt"),
		messageSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "mqtt",
			Name:      "message_size_bytes",
			Help:      "Size of published payloads in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		}),
	}
	if err := m.register(registry); err != nil {
		return nil, fmt.Errorf("failed to register mqtt metrics: %w", err)
	}
	if err := registry.Register(m.messageSize); err != nil {
		return nil, fmt.Errorf("failed to register mqtt metrics: %w", err)
	}
	return m, nil
}

// ObserveMessageSize records the size of a published payload.
func (m *MQTTMetrics) ObserveMessageSize(bytes float64) {
	m.messageSize.Observe(bytes)
}
