package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// operationMetrics are the counters and histogram shared by the camera and
// flow collectors.
type operationMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	gauges            *prometheus.GaugeVec
}

func newOperationMetrics(subsystem string) *operationMetrics {
	return &operationMetrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: subsystem,
				Name:      "operations_total",
				Help:      "Total number of operations by outcome",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: subsystem,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
			},
			[]string{"operation"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors by operation and category",
			},
			[]string{"operation", "error_type"},
		),
		gauges: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: subsystem,
				Name:      "state",
				Help:      "Current values such as lifecycle state index or batch size",
			},
			[]string{"name"},
		),
	}
}

func (m *operationMetrics) register(registry prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.operationsTotal, m.operationDuration, m.errorsTotal, m.gauges} {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return nil
}

// RecordOperation implements Recorder.
func (m *operationMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *operationMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *operationMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// SetGauge implements GaugeRecorder.
func (m *operationMetrics) SetGauge(name string, value float64) {
	m.gauges.WithLabelValues(name).Set(value)
}
