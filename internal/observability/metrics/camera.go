package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// CameraMetrics contains Prometheus metrics for the capture session and
// device controller.
type CameraMetrics struct {
	*operationMetrics
	captureFailures    *prometheus.CounterVec
	protocolViolations *prometheus.CounterVec
}

// NewCameraMetrics creates and registers camera metrics.
func NewCameraMetrics(registry prometheus.Registerer) (*CameraMetrics, error) {
	m := &CameraMetrics{
		operationMetrics: newOperationMetrics("camera"),
		captureFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "camera",
				Name:      "capture_failures_total",
				Help:      "Captures that resolved without a photo, by reason",
			},
			[]string{"reason"},
		),
		protocolViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "camera",
				Name:      "protocol_violations_total",
				Help:      "Ignored capture completions, by reason",
			},
			[]string{"reason"},
		),
	}

	if err := m.register(registry); err != nil {
		return nil, fmt.Errorf("failed to register camera metrics: %w", err)
	}
	for _, c := range []prometheus.Collector{m.captureFailures, m.protocolViolations} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register camera metrics: %w", err)
		}
	}
	return m, nil
}

// RecordError implements Recorder. Capture failures and protocol
// violations are also broken down by reason.
func (m *CameraMetrics) RecordError(operation, errorType string) {
	m.operationMetrics.RecordError(operation, errorType)
	switch operation {
	case OpCapture:
		m.captureFailures.WithLabelValues(errorType).Inc()
	case OpProtocolViolation:
		m.protocolViolations.WithLabelValues(errorType).Inc()
	}
}
