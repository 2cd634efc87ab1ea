// Package device wraps a physical capture device behind an exclusive,
// locked configuration API. Callers only ever hold Handle metadata; the
// device itself stays owned by the Controller.
package device

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Position identifies where a camera faces.
type Position string

const (
	PositionBack     Position = "back"
	PositionFront    Position = "front"
	PositionExternal Position = "external"
)

// ParsePosition parses a configured position name.
func ParsePosition(s string) (Position, error) {
	switch p := Position(strings.ToLower(strings.TrimSpace(s))); p {
	case PositionBack, PositionFront, PositionExternal:
		return p, nil
	default:
		return "", fmt.Errorf("unknown camera position %q", s)
	}
}

// FlashMode controls the flash for a capture.
type FlashMode string

const (
	FlashOff  FlashMode = "off"
	FlashOn   FlashMode = "on"
	FlashAuto FlashMode = "auto"
)

// ParseFlashMode parses a configured flash mode.
func ParseFlashMode(s string) (FlashMode, error) {
	switch m := FlashMode(strings.ToLower(strings.TrimSpace(s))); m {
	case FlashOff, FlashOn, FlashAuto:
		return m, nil
	default:
		return "", fmt.Errorf("unknown flash mode %q", s)
	}
}

// Point is a normalized position in the frame, (0,0) top-left to (1,1)
// bottom-right.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Center of the frame.
var Center = Point{X: 0.5, Y: 0.5}

// Clamp limits both coordinates to [0,1].
func (p Point) Clamp() Point {
	return Point{X: clamp01(p.X), Y: clamp01(p.Y)}
}

func (p Point) valid() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	return math.Max(0, math.Min(1, v))
}

// Range is an inclusive interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Clamp returns v limited to the range. NaN resolves to Min.
func (r Range) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return r.Min
	}
	return math.Max(r.Min, math.Min(r.Max, v))
}

// Contains reports whether v is inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Bounds are the adjustment limits reported by a device.
type Bounds struct {
	Zoom     Range `json:"zoom"`
	Exposure Range `json:"exposure"`
}

// Capabilities describe what a device supports.
type Capabilities struct {
	Bounds       Bounds
	FocusPoint   bool
	ExposureLock bool
	Flash        bool
}

// Settings is the full adjustable state of a device.
type Settings struct {
	Zoom         float64   `json:"zoom"`
	ExposureBias float64   `json:"exposure_bias"`
	FocusPoint   Point     `json:"focus_point"`
	Locked       bool      `json:"locked"`
	Flash        FlashMode `json:"flash"`
}

// DefaultSettings are applied when a device is acquired.
func DefaultSettings(b Bounds) Settings {
	return Settings{
		Zoom:         b.Zoom.Clamp(1),
		ExposureBias: b.Exposure.Clamp(0),
		FocusPoint:   Center,
		Flash:        FlashOff,
	}
}

// Info describes a device the driver can open.
type Info struct {
	ID       string
	Name     string
	Position Position
}

// Handle is what callers see of an acquired device.
type Handle struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Position Position `json:"position"`
	Bounds   Bounds   `json:"bounds"`
}

// IsZero reports whether the handle refers to no device.
func (h Handle) IsZero() bool {
	return h.ID == ""
}

// Deliver receives the raw encoded output of one capture. Drivers may call it
// from any goroutine.
type Deliver func(raw []byte, err error)

// Hardware is the platform driver that enumerates and opens devices.
type Hardware interface {
	Discover(ctx context.Context) ([]Info, error)
	Open(ctx context.Context, id string) (Device, error)
}

// Device is an opened capture device.
type Device interface {
	Info() Info
	Capabilities() Capabilities

	// LockForConfiguration blocks until the device grants exclusive
	// configuration access or ctx ends.
	LockForConfiguration(ctx context.Context) error
	UnlockForConfiguration()

	// Apply commits a complete settings value. It must either apply all of
	// it or none of it.
	Apply(ctx context.Context, s Settings) error

	StartStreaming(ctx context.Context) error
	StopStreaming() error

	// Capture starts an asynchronous capture and returns once the request
	// was accepted. The result arrives through deliver.
	Capture(ctx context.Context, flash FlashMode, deliver Deliver) error

	Close() error
}
