package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chairside/chairside/internal/observability/metrics"
)

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Camera.RecordOperation(metrics.OpCapture, metrics.StatusSuccess)
	m.Camera.RecordError(metrics.OpCapture, "timeout")
	m.Camera.RecordError(metrics.OpProtocolViolation, "duplicate_completion")
	m.Camera.SetGauge(metrics.GaugeSessionState, 3)
	m.Flow.RecordOperation(metrics.OpSave, metrics.StatusSuccess)
	m.Flow.RecordDuration(metrics.OpCommit, 0.02)
	m.MQTT.RecordOperation(metrics.OpPublish, metrics.StatusSuccess)
	m.MQTT.ObserveMessageSize(120)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, `chairside_camera_operations_total{operation="capture",status="success"} 1`)
	assert.Contains(t, out, `chairside_camera_capture_failures_total{reason="timeout"} 1`)
	assert.Contains(t, out, `chairside_camera_protocol_violations_total{reason="duplicate_completion"} 1`)
	assert.Contains(t, out, `chairside_camera_state{name="session_state"} 3`)
	assert.Contains(t, out, `chairside_flow_committed_photos_total 1`)
	assert.Contains(t, out, `chairside_flow_operation_duration_seconds_count{operation="commit"} 1`)
	assert.Contains(t, out, `chairside_mqtt_operations_total{operation="publish",status="success"} 1`)
	assert.Contains(t, out, `chairside_mqtt_message_size_bytes_count 1`)
	assert.Contains(t, out, "go_goroutines")
}

func TestNewMetricsIndependentRegistries(t *testing.T) {
	a, err := NewMetrics()
	require.NoError(t, err)
	b, err := NewMetrics()
	require.NoError(t, err)
	assert.NotSame(t, a.Registry(), b.Registry())
}
