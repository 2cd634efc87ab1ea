// Package events provides an asynchronous event bus for decoupling capture
// and flow activity from metrics, notification and telemetry consumers, and
// typed snapshot feeds for reactive state.
package events

import (
	"time"
)

// Topics published on the bus.
const (
	TopicCaptureCompleted   = "camera.capture.completed"
	TopicCaptureFailed      = "camera.capture.failed"
	TopicDeviceChanged      = "camera.device.changed"
	TopicAdjustmentRejected = "camera.adjustment.rejected"
	TopicProtocolViolation  = "camera.protocol.violation"
	TopicPhotosCommitted    = "flow.photos.committed"
	TopicBatchDiscarded     = "flow.batch.discarded"
	TopicError              = "error"
)

// Event is anything published on the bus.
type Event interface {
	Topic() string
}

// CaptureCompleted is published after a captured photo decoded successfully.
type CaptureCompleted struct {
	Token     string
	PhotoID   string
	Width     int
	Height    int
	Duration  time.Duration
	Timestamp time.Time
}

func (CaptureCompleted) Topic() string { return TopicCaptureCompleted }

// CaptureFailed is published when a capture resolved without a photo.
type CaptureFailed struct {
	Token     string
	Reason    string
	Timestamp time.Time
}

func (CaptureFailed) Topic() string { return TopicCaptureFailed }

// DeviceChanged is published after a device was installed as session input.
type DeviceChanged struct {
	DeviceID   string
	Position   string
	RolledBack bool
	Timestamp  time.Time
}

func (DeviceChanged) Topic() string { return TopicDeviceChanged }

// AdjustmentRejected is published when the hardware refused an adjustment
// and the last-known-good value was kept.
type AdjustmentRejected struct {
	Kind      string
	Reason    string
	Timestamp time.Time
}

func (AdjustmentRejected) Topic() string { return TopicAdjustmentRejected }

// ProtocolViolation is published for duplicate or unknown capture completions.
type ProtocolViolation struct {
	Token     string
	Reason    string
	Timestamp time.Time
}

func (ProtocolViolation) Topic() string { return TopicProtocolViolation }

// PhotosCommitted is published after a flow committed its kept photos.
type PhotosCommitted struct {
	FlowID     string
	AssetIDs   []string
	TagSummary string
	Timestamp  time.Time
}

func (PhotosCommitted) Topic() string { return TopicPhotosCommitted }

// BatchDiscarded is published when a flow threw away its batch.
type BatchDiscarded struct {
	FlowID    string
	Count     int
	Timestamp time.Time
}

func (BatchDiscarded) Topic() string { return TopicBatchDiscarded }

// ErrorEvent is the view of an enhanced error the bus needs. It lets the
// errors package publish without importing this package.
type ErrorEvent interface {
	GetComponent() string
	GetCategory() string
	GetContext() map[string]any
	GetTimestamp() time.Time
	GetMessage() string
}

// ErrorOccurred carries an ErrorEvent on the bus.
type ErrorOccurred struct {
	Err ErrorEvent
}

func (ErrorOccurred) Topic() string { return TopicError }

// EventConsumer processes events delivered by the bus
type EventConsumer interface {
	// Name returns the consumer name for identification
	Name() string

	// Topics lists the topics the consumer wants; empty means all
	Topics() []string

	// ProcessEvent processes a single event
	ProcessEvent(event Event) error
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}
