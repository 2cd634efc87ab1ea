package capture

import (
	"github.com/chairside/chairside/internal/errors"
)

// Sentinel errors. Returned errors wrap them.
var (
	ErrCaptureInFlight   = errors.NewStd("a capture is already in flight")
	ErrUnknownToken      = errors.NewStd("unknown capture token")
	ErrTimeout           = errors.NewStd("capture timed out")
	ErrDecode            = errors.NewStd("captured data could not be decoded")
	ErrHardware          = errors.NewStd("capture failed in hardware")
	ErrClosed            = errors.NewStd("capture correlator closed")
	ErrProtocolViolation = errors.NewStd("capture protocol violation")
)

// Failure reasons.
const (
	ReasonTimeout   = "timeout"
	ReasonDecode    = "decode"
	ReasonHardware  = "hardware"
	ReasonClosed    = "closed"
	ReasonDuplicate = "duplicate_completion"
	ReasonUnknown   = "unknown_token"
)

func captureFailed(err error, token Token, reason string) error {
	return errors.New(err).
		Component("camera.capture").
		Category(errors.CategoryCaptureFailed).
		Context("token", string(token)).
		Context("reason", reason).
		Build()
}

func protocolViolation(token Token, reason string) error {
	return errors.New(ErrProtocolViolation).
		Component("camera.capture").
		Category(errors.CategoryProtocolViolation).
		Context("token", string(token)).
		Context("reason", reason).
		Build()
}

// FailureReason returns the reason attached to a capture error.
func FailureReason(err error) string {
	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		return ""
	}
	reason, _ := ee.GetContext()["reason"].(string)
	return reason
}
