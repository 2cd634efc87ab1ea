package metrics

import "time"

// Namespace prefixes every metric name.
const Namespace = "chairside"

// Camera operation names.
const (
	OpPermission        = "permission"
	OpSessionStart      = "session_start"
	OpSessionStop       = "session_stop"
	OpSessionSuspend    = "session_suspend"
	OpSessionResume     = "session_resume"
	OpDeviceSwitch      = "device_switch"
	OpZoom              = "zoom"
	OpExposure          = "exposure"
	OpFocus             = "focus"
	OpFocusExposureLock = "focus_exposure_lock"
	OpFlash             = "flash"
	OpCapture           = "capture"
	OpProtocolViolation = "protocol_violation"
)

// Flow operation names.
const (
	OpAddPhoto   = "add_photo"
	OpRemove     = "remove_photo"
	OpTransition = "transition"
	OpCommit     = "commit"
	OpSave       = "save"
	OpDiscard    = "discard"
)

// Notification operation names.
const (
	OpConnect = "connect"
	OpPublish = "publish"
)

// Status label values.
const (
	StatusSuccess    = "success"
	StatusError      = "error"
	StatusRejected   = "rejected"
	StatusRolledBack = "rolled_back"
	StatusIgnored    = "ignored"
)

// Gauge names accepted by SetGauge.
const (
	GaugeSessionState = "session_state"
	GaugeBatchSize    = "batch_size"
	GaugeFlowState    = "flow_state"
	GaugeZoom         = "zoom_factor"
	GaugeExposure     = "exposure_bias"
	GaugeConnected    = "connected"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~16s range).
	BucketStart1ms = 0.001
	// BucketFactor2 is the exponential growth factor for histogram buckets.
	BucketFactor2 = 2
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// ShutdownTimeout is the timeout for graceful shutdown operations.
const ShutdownTimeout = 5 * time.Second
