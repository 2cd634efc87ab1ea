package device

import (
	"fmt"
	"math"
)

// Mutator is one adjustment applied under the configuration lock. It edits a
// staged copy of the settings; nothing reaches the device unless Mutate
// succeeds and the device accepts the result.
type Mutator interface {
	Kind() string
	Mutate(caps Capabilities, staged *Settings) error
}

// ZoomFactor sets the zoom.
type ZoomFactor float64

func (ZoomFactor) Kind() string { return "zoom" }

func (z ZoomFactor) Mutate(caps Capabilities, s *Settings) error {
	v := float64(z)
	if math.IsNaN(v) || !caps.Bounds.Zoom.Contains(v) {
		return configurationFailed(fmt.Errorf("%w: zoom %.2f not in [%.2f, %.2f]",
			ErrOutOfRange, v, caps.Bounds.Zoom.Min, caps.Bounds.Zoom.Max), z.Kind(), ReasonOutOfRange)
	}
	s.Zoom = v
	return nil
}

// ExposureBias sets the absolute exposure bias in EV.
type ExposureBias float64

func (ExposureBias) Kind() string { return "exposure" }

func (e ExposureBias) Mutate(caps Capabilities, s *Settings) error {
	v := float64(e)
	if math.IsNaN(v) || !caps.Bounds.Exposure.Contains(v) {
		return configurationFailed(fmt.Errorf("%w: exposure %.2f not in [%.2f, %.2f]",
			ErrOutOfRange, v, caps.Bounds.Exposure.Min, caps.Bounds.Exposure.Max), e.Kind(), ReasonOutOfRange)
	}
	s.ExposureBias = v
	return nil
}

// FocusPoint moves the point of interest and releases any lock.
type FocusPoint Point

func (FocusPoint) Kind() string { return "focus" }

func (f FocusPoint) Mutate(caps Capabilities, s *Settings) error {
	if !caps.FocusPoint {
		return configurationFailed(ErrUnsupported, f.Kind(), ReasonUnsupported)
	}
	if !Point(f).valid() {
		return configurationFailed(fmt.Errorf("%w: point (%.2f, %.2f)", ErrOutOfRange, f.X, f.Y), f.Kind(), ReasonOutOfRange)
	}
	s.FocusPoint = Point(f)
	s.Locked = false
	return nil
}

// FocusExposureLock focuses and meters at a point and holds both.
type FocusExposureLock Point

func (FocusExposureLock) Kind() string { return "focus_exposure_lock" }

func (l FocusExposureLock) Mutate(caps Capabilities, s *Settings) error {
	if !caps.FocusPoint || !caps.ExposureLock {
		return configurationFailed(ErrUnsupported, l.Kind(), ReasonUnsupported)
	}
	if !Point(l).valid() {
		return configurationFailed(fmt.Errorf("%w: point (%.2f, %.2f)", ErrOutOfRange, l.X, l.Y), l.Kind(), ReasonOutOfRange)
	}
	s.FocusPoint = Point(l)
	s.Locked = true
	return nil
}

// Flash sets the default flash mode.
type Flash FlashMode

func (Flash) Kind() string { return "flash" }

func (f Flash) Mutate(caps Capabilities, s *Settings) error {
	mode := FlashMode(f)
	if _, err := ParseFlashMode(string(mode)); err != nil {
		return configurationFailed(err, f.Kind(), ReasonOutOfRange)
	}
	if mode != FlashOff && !caps.Flash {
		return configurationFailed(ErrUnsupported, f.Kind(), ReasonUnsupported)
	}
	s.Flash = mode
	return nil
}
