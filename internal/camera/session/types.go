package session

import (
	"context"
	"time"

	"github.com/chairside/chairside/internal/camera/capture"
	"github.com/chairside/chairside/internal/camera/device"
)

// State is the lifecycle state of the capture session.
type State int

const (
	StateUnconfigured State = iota
	StateConfiguring
	StateReady
	StateRunning
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// AuthorizationState is the camera permission as reported by the platform.
type AuthorizationState string

const (
	AuthNotDetermined AuthorizationState = "not-determined"
	AuthAuthorized    AuthorizationState = "authorized"
	AuthDenied        AuthorizationState = "denied"
	AuthRestricted    AuthorizationState = "restricted"
)

// Terminal reports whether the state is a final answer.
func (a AuthorizationState) Terminal() bool {
	switch a {
	case AuthAuthorized, AuthDenied, AuthRestricted:
		return true
	default:
		return false
	}
}

// PermissionProvider asks the platform, and through it the user, for camera
// access. One call is one prompt.
type PermissionProvider interface {
	RequestCameraAccess(ctx context.Context) (AuthorizationState, error)
}

// Snapshot is an immutable view of the session published after every
// completed operation.
type Snapshot struct {
	Version         uint64             `json:"version"`
	State           State              `json:"-"`
	StateName       string             `json:"state"`
	Authorization   AuthorizationState `json:"authorization"`
	Ready           bool               `json:"ready"`
	Device          device.Handle      `json:"device"`
	Zoom            float64            `json:"zoom"`
	ExposureBias    float64            `json:"exposure_bias"`
	FocusPoint      device.Point       `json:"focus_point"`
	FocusLocked     bool               `json:"focus_locked"`
	Flash           device.FlashMode   `json:"flash"`
	Bounds          device.Bounds      `json:"bounds"`
	CaptureInFlight bool               `json:"capture_in_flight"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// CaptureResult is published when a capture resolves.
type CaptureResult struct {
	Token   capture.Token
	Photo   capture.Photo
	Err     error
	Elapsed time.Duration
}
