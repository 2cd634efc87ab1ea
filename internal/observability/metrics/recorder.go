// Package metrics provides custom Prometheus metrics for the chairside application.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on this abstraction rather than on concrete collectors.
type Recorder interface {
	// RecordOperation records an operation with its status
	// (e.g. "capture", "success").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type, usually the
	// error category.
	RecordError(operation, errorType string)
}

// GaugeRecorder is implemented by recorders that also track current values
// such as session state or batch size.
type GaugeRecorder interface {
	SetGauge(name string, value float64)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) RecordOperation(string, string) {}
func (NoopRecorder) RecordDuration(string, float64) {}
func (NoopRecorder) RecordError(string, string)     {}
func (NoopRecorder) SetGauge(string, float64)       {}
