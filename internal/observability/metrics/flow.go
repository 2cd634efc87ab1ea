package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// FlowMetrics contains Prometheus metrics for the capture flow.
type FlowMetrics struct {
	*operationMetrics
	committedPhotos prometheus.Counter
}

// NewFlowMetrics creates and registers flow metrics.
func NewFlowMetrics(registry prometheus.Registerer) (*FlowMetrics, error) {
	m := &FlowMetrics{
		operationMetrics: newOperationMetrics("flow"),
		committedPhotos: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "flow",
			Name:      "committed_photos_total",
			Help:      "Photos handed to the photo store",
		}),
	}
	if err := m.register(registry); err != nil {
		return nil, fmt.Errorf("failed to register flow metrics: %w", err)
	}
	if err := registry.Register(m.committedPhotos); err != nil {
		return nil, fmt.Errorf("failed to register flow metrics: %w", err)
	}
	return m, nil
}

// RecordOperation implements Recorder. Successful saves also count as
// committed photos.
func (m *FlowMetrics) RecordOperation(operation, status string) {
	m.operationMetrics.RecordOperation(operation, status)
	if operation == OpSave && status == StatusSuccess {
		m.committedPhotos.Inc()
	}
}
