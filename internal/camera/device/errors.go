package device

import (
	"github.com/chairside/chairside/internal/errors"
)

// Sentinel errors. Returned errors wrap them, so match with errors.Is.
var (
	ErrNoDevice      = errors.NewStd("no capture device available")
	ErrNotConfigured = errors.NewStd("no device configured")
	ErrLockTimeout   = errors.NewStd("configuration lock timeout")
	ErrUnsupported   = errors.NewStd("adjustment not supported by device")
	ErrOutOfRange    = errors.NewStd("adjustment out of range")
	ErrRejected      = errors.NewStd("device rejected adjustment")
	ErrReleased      = errors.NewStd("device controller released")
)

// Reasons attached to configuration failures.
const (
	ReasonLockTimeout = "lock_timeout"
	ReasonUnsupported = "unsupported"
	ReasonOutOfRange  = "out_of_range"
	ReasonRejected    = "rejected"
)

func unavailable(err error, position Position) error {
	return errors.New(err).
		Component("camera.device").
		Category(errors.CategoryDeviceUnavailable).
		Context("position", string(position)).
		Build()
}

func configurationFailed(err error, kind, reason string) error {
	return errors.New(err).
		Component("camera.device").
		Category(errors.CategoryConfigurationFailed).
		Context("adjustment", kind).
		Context("reason", reason).
		Build()
}

// Reason extracts the failure reason from a configuration error.
func Reason(err error) string {
	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		return ""
	}
	if r, ok := ee.GetContext()["reason"].(string); ok {
		return r
	}
	return ""
}
