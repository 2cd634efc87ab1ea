// Package simulator is an in-process camera driver. It renders a synthetic
// intraoral scene, honours zoom, exposure and focus, and can be told to
// misbehave so callers can exercise failure paths.
package simulator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/blur"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/chairside/chairside/internal/camera/device"
)

// CaptureBehavior selects how the next capture completes.
type CaptureBehavior int

const (
	// CaptureNormal delivers one valid JPEG.
	CaptureNormal CaptureBehavior = iota
	// CaptureCorrupt delivers bytes that do not decode.
	CaptureCorrupt
	// CaptureDuplicate delivers the same JPEG twice.
	CaptureDuplicate
	// CaptureDrop never delivers.
	CaptureDrop
	// CaptureError delivers a hardware error.
	CaptureError
)

// ErrInjected is returned by injected failures.
var ErrInjected = fmt.Errorf("simulated hardware failure")

// Options configure the simulated hardware.
type Options struct {
	Width       int
	Height      int
	JPEGQuality int
	// Latency is the delay between a capture request and its delivery.
	Latency time.Duration
	// ApplyLatency is how long the hardware takes to accept settings.
	ApplyLatency time.Duration
	Devices      []DeviceSpec
}

// DeviceSpec describes one simulated device.
type DeviceSpec struct {
	Info device.Info
	Caps device.Capabilities
}

// DefaultDevices returns a back camera with full controls and a simpler
// front camera.
func DefaultDevices() []DeviceSpec {
	return []DeviceSpec{
		{
			Info: device.Info{ID: "sim-back", Name: "Simulated Back Camera", Position: device.PositionBack},
			Caps: device.Capabilities{
				Bounds: device.Bounds{
					Zoom:     device.Range{Min: 1, Max: 10},
					Exposure: device.Range{Min: -2, Max: 2},
				},
				FocusPoint:   true,
				ExposureLock: true,
				Flash:        true,
			},
		},
		{
			Info: device.Info{ID: "sim-front", Name: "Simulated Front Camera", Position: device.PositionFront},
			Caps: device.Capabilities{
				Bounds: device.Bounds{
					Zoom:     device.Range{Min: 1, Max: 3},
					Exposure: device.Range{Min: -1, Max: 1},
				},
			},
		},
	}
}

// Hardware implements device.Hardware.
type Hardware struct {
	opts Options

	mu          sync.Mutex
	devices     map[string]*Device
	openErrs    map[string]error
	streamErrs  map[string]error
	discoverErr error

	applying    atomic.Int32
	maxApplying atomic.Int32
}

// New creates simulated hardware. Zero options get small defaults.
func New(opts Options) *Hardware {
	if opts.Width <= 0 {
		opts.Width = 320
	}
	if opts.Height <= 0 {
		opts.Height = 240
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 85
	}
	if opts.Devices == nil {
		opts.Devices = DefaultDevices()
	}
	return &Hardware{
		opts:       opts,
		devices:    make(map[string]*Device),
		openErrs:   make(map[string]error),
		streamErrs: make(map[string]error),
	}
}

// Discover implements device.Hardware.
func (h *Hardware) Discover(ctx context.Context) ([]device.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.discoverErr != nil {
		return nil, h.discoverErr
	}
	infos := make([]device.Info, 0, len(h.opts.Devices))
	for _, spec := range h.opts.Devices {
		infos = append(infos, spec.Info)
	}
	return infos, nil
}

// Open implements device.Hardware.
func (h *Hardware) Open(ctx context.Context, id string) (device.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.openErrs[id]; err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(h.opts.Devices, func(s DeviceSpec) bool { return s.Info.ID == id })
	if idx < 0 {
		return nil, fmt.Errorf("no simulated device %q", id)
	}
	if d, ok := h.devices[id]; ok && !d.isClosed() {
		return nil, fmt.Errorf("device %q already open", id)
	}

	d := &Device{
		hw:        h,
		spec:      h.opts.Devices[idx],
		opts:      h.opts,
		lock:      make(chan struct{}, 1),
		applied:   device.DefaultSettings(h.opts.Devices[idx].Caps.Bounds),
		streamErr: h.streamErrs[id],
	}
	h.devices[id] = d
	return d, nil
}

// FailOpen makes Open fail for id until cleared with a nil error.
func (h *Hardware) FailOpen(id string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.openErrs, id)
		return
	}
	h.openErrs[id] = err
}

// FailStreamingOn makes StartStreaming fail on devices opened later with
// the given id, until cleared with a nil error.
func (h *Hardware) FailStreamingOn(id string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.streamErrs, id)
		return
	}
	h.streamErrs[id] = err
}

// FailDiscover makes Discover fail until cleared with a nil error.
func (h *Hardware) FailDiscover(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discoverErr = err
}

func (h *Hardware) enterApply() {
	n := h.applying.Add(1)
	for {
		peak := h.maxApplying.Load()
		if n <= peak || h.maxApplying.CompareAndSwap(peak, n) {
			return
		}
	}
}

// MaxConcurrentApply reports the largest number of Apply calls that ran at
// the same time on any device.
func (h *Hardware) MaxConcurrentApply() int {
	return int(h.maxApplying.Load())
}

// Device returns the most recently opened device with the given id.
func (h *Hardware) Device(id string) *Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.devices[id]
}

// Device implements device.Device.
type Device struct {
	hw   *Hardware
	spec DeviceSpec
	opts Options
	lock chan struct{}

	mu         sync.Mutex
	applied    device.Settings
	streaming  bool
	closed     bool
	applyErrs  int
	streamErr  error
	behavior   []CaptureBehavior
	captures   int
	applyCount int
	deliveries sync.WaitGroup
}

func (d *Device) Info() device.Info                 { return d.spec.Info }
func (d *Device) Capabilities() device.Capabilities { return d.spec.Caps }

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// LockForConfiguration implements device.Device.
func (d *Device) LockForConfiguration(ctx context.Context) error {
	select {
	case d.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnlockForConfiguration implements device.Device.
func (d *Device) UnlockForConfiguration() {
	select {
	case <-d.lock:
	default:
	}
}

// HoldLock takes the configuration lock as another client would. The
// returned func releases it.
func (d *Device) HoldLock() func() {
	d.lock <- struct{}{}
	var once sync.Once
	return func() { once.Do(func() { <-d.lock }) }
}

// Apply implements device.Device.
func (d *Device) Apply(ctx context.Context, s device.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.hw.enterApply()
	defer d.hw.applying.Add(-1)
	if d.opts.ApplyLatency > 0 {
		time.Sleep(d.opts.ApplyLatency)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("device closed")
	}
	if d.applyErrs > 0 {
		d.applyErrs--
		return ErrInjected
	}
	d.applied = s
	d.applyCount++
	return nil
}

// FailApply makes the next n Apply calls fail.
func (d *Device) FailApply(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyErrs = n
}

// Applied returns what the device currently runs with.
func (d *Device) Applied() device.Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applied
}

// ApplyCount returns how many Apply calls succeeded.
func (d *Device) ApplyCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applyCount
}

// StartStreaming implements device.Device.
func (d *Device) StartStreaming(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.hw.enterApply()
	defer d.hw.applying.Add(-1)
	if d.opts.ApplyLatency > 0 {
		time.Sleep(d.opts.ApplyLatency)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("device closed")
	}
	if d.streamErr != nil {
		return d.streamErr
	}
	d.streaming = true
	return nil
}

// FailStreaming makes StartStreaming fail until cleared with nil.
func (d *Device) FailStreaming(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streamErr = err
}

// StopStreaming implements device.Device.
func (d *Device) StopStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaming = false
	return nil
}

// Streaming reports whether frames are flowing.
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// QueueBehavior sets how upcoming captures complete, in order. Captures
// beyond the queue behave normally.
func (d *Device) QueueBehavior(b ...CaptureBehavior) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.behavior = append(d.behavior, b...)
}

// Captures returns how many captures were accepted.
func (d *Device) Captures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captures
}

// Capture implements device.Device.
func (d *Device) Capture(ctx context.Context, flash device.FlashMode, deliver device.Deliver) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("device closed")
	}
	if !d.streaming {
		d.mu.Unlock()
		return fmt.Errorf("device not streaming")
	}
	behavior := CaptureNormal
	if len(d.behavior) > 0 {
		behavior = d.behavior[0]
		d.behavior = d.behavior[1:]
	}
	settings := d.applied
	d.captures++
	d.deliveries.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.deliveries.Done()
		if d.opts.Latency > 0 {
			time.Sleep(d.opts.Latency)
		}

		switch behavior {
		case CaptureDrop:
			return
		case CaptureError:
			deliver(nil, ErrInjected)
			return
		case CaptureCorrupt:
			deliver([]byte("not an image"), nil)
			return
		}

		raw, err := Render(d.opts.Width, d.opts.Height, d.opts.JPEGQuality, settings, flash)
		deliver(raw, err)
		if behavior == CaptureDuplicate {
			deliver(raw, err)
		}
	}()
	return nil
}

// Close implements device.Device. It waits for pending deliveries.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.streaming = false
	d.mu.Unlock()
	d.deliveries.Wait()
	return nil
}

// Render draws the synthetic scene as seen through the given settings and
// encodes it as JPEG.
func Render(width, height, quality int, s device.Settings, flash device.FlashMode) ([]byte, error) {
	gum := colorful.Hsv(350, 0.45, 0.75)
	enamel := colorful.Hsv(45, 0.08, 0.95)

	scene := imaging.New(width, height, gum)
	toothW, toothH := width/6, height/3
	for i := range 4 {
		tooth := imaging.New(toothW, toothH, enamel)
		x := width/2 - 2*toothW + i*toothW + 2
		scene = imaging.Paste(scene, tooth, image.Pt(x, height/2-toothH/2))
	}

	var img image.Image = scene
	if s.Zoom > 1 {
		cw := max(1, int(float64(width)/s.Zoom))
		ch := max(1, int(float64(height)/s.Zoom))
		img = imaging.Resize(imaging.CropCenter(img, cw, ch), width, height, imaging.Lanczos)
	}

	// the subject sits at the frame centre
	if dist := math.Hypot(s.FocusPoint.X-0.5, s.FocusPoint.Y-0.5); dist > 0.05 {
		img = blur.Gaussian(img, dist*8)
	}

	brightness := s.ExposureBias * 0.15
	if flash == device.FlashOn {
		brightness += 0.1
	}
	if brightness != 0 {
		img = adjust.Brightness(img, math.Max(-1, math.Min(1, brightness)))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
