// Package observability provides Prometheus metrics for the chairside
// application. Error telemetry is handled by the errors package.
package observability

import (
	"fmt"
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chairside/chairside/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Camera   *metrics.CameraMetrics
	Flow     *metrics.FlowMetrics
	MQTT     *metrics.MQTTMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}

	cameraMetrics, err := metrics.NewCameraMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create camera metrics: %w", err)
	}

	flowMetrics, err := metrics.NewFlowMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create mqtt metrics: %w", err)
	}

	log.Debug("metrics initialized")

	return &Metrics{
		registry: registry,
		Camera:   cameraMetrics,
		Flow:     flowMetrics,
		MQTT:     mqttMetrics,
	}, nil
}

// Registry returns the registry all collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
