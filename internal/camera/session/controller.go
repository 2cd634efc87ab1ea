// Package session owns the capture session: permission, lifecycle, device
// switching, adjustments and the single in-flight capture. Every hardware
// mutation runs on one worker goroutine; observers receive immutable
// snapshots after each operation completes.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chairside/chairside/internal/camera/capture"
	"github.com/chairside/chairside/internal/camera/device"
	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/events"
	"github.com/chairside/chairside/internal/logger"
	"github.com/chairside/chairside/internal/observability/metrics"
)

// DefaultQueueSize is the queue depth above which the worker reports a
// backlog. The queue itself is unbounded.
const DefaultQueueSize = 32

// Config holds session settings.
type Config struct {
	Position       device.Position
	DefaultFlash   device.FlashMode
	QueueSize      int
	LockTimeout    time.Duration
	CaptureTimeout time.Duration
}

// Publisher receives domain events. *events.EventBus implements it.
type Publisher interface {
	Publish(event events.Event) bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithPublisher sets where domain events go.
func WithPublisher(p Publisher) Option {
	return func(c *Controller) {
		c.bus = p
	}
}

type job struct {
	op   string
	fn   func(ctx context.Context) error
	done chan error
}

// Controller is the capture session. Construct one per process and pass it
// to whatever needs the camera.
type Controller struct {
	cfg        Config
	devices    *device.Controller
	perms      PermissionProvider
	correlator *capture.Correlator
	log        logger.Logger
	metrics    metrics.Recorder
	bus        Publisher

	qmu     sync.Mutex
	queue   []job
	qclosed bool
	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
	permMu    sync.Mutex
	pubMu     sync.Mutex

	mu       sync.Mutex
	state    State
	auth     AuthorizationState
	position device.Position
	version  uint64
	snap     Snapshot

	feed        *events.Feed[Snapshot]
	captureFeed *events.Feed[CaptureResult]
	lastCapture atomic.Pointer[capture.Photo]
}

// New creates a session controller and starts its worker goroutine. Call
// Close to stop it.
func New(hw device.Hardware, perms PermissionProvider, cfg Config, opts ...Option) *Controller {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Position == "" {
		cfg.Position = device.PositionBack
	}
	if cfg.DefaultFlash == "" {
		cfg.DefaultFlash = device.FlashAuto
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:         cfg,
		perms:       perms,
		log:         logger.Global().Module("camera").Module("session"),
		metrics:     metrics.NoopRecorder{},
		queue:       make([]job, 0, cfg.QueueSize),
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		state:       StateUnconfigured,
		auth:        AuthNotDetermined,
		position:    cfg.Position,
		feed:        events.NewFeed[Snapshot](),
		captureFeed: events.NewFeed[CaptureResult](),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.devices = device.NewController(hw, device.Config{LockTimeout: cfg.LockTimeout}, c.log.Module("device"))
	c.correlator = capture.NewCorrelator(capture.Config{
		Timeout: cfg.CaptureTimeout,
		Hooks: capture.Hooks{
			OnResolve:   c.onCaptureResolved,
			OnViolation: c.onProtocolViolation,
		},
	}, c.log.Module("capture"))

	c.publish()
	go c.run()
	return c
}

func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.quit:
			return
		case <-c.wake:
		}
		for {
			select {
			case <-c.quit:
				return
			default:
			}
			j, ok := c.next()
			if !ok {
				break
			}
			c.execute(j)
		}
	}
}

// push appends j to the job queue. It reports false once the queue is
// closed.
func (c *Controller) push(j job) bool {
	c.qmu.Lock()
	if c.qclosed {
		c.qmu.Unlock()
		return false
	}
	c.queue = append(c.queue, j)
	depth := len(c.queue)
	c.qmu.Unlock()

	if depth == c.cfg.QueueSize+1 {
		c.metrics.RecordError(j.op, "queue_backlog")
		c.log.Warn("session job queue backlog",
			logger.String("operation", j.op),
			logger.Int("depth", depth))
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *Controller) next() (job, bool) {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	if len(c.queue) == 0 {
		return job{}, false
	}
	j := c.queue[0]
	c.queue[0] = job{}
	c.queue = c.queue[1:]
	return j, true
}

// closeQueue stops accepting jobs and fails the ones still waiting.
func (c *Controller) closeQueue() {
	c.qmu.Lock()
	c.qclosed = true
	pending := c.queue
	c.queue = nil
	c.qmu.Unlock()

	for _, j := range pending {
		if j.done != nil {
			j.done <- closedError(j.op)
			continue
		}
		c.log.Debug("session closed, dropping operation", logger.String("operation", j.op))
	}
}

func (c *Controller) execute(j job) {
	start := time.Now()
	ctx := c.ctx
	err := j.fn(ctx)

	c.metrics.RecordDuration(j.op, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordOperation(j.op, metrics.StatusError)
		c.metrics.RecordError(j.op, string(errors.CategoryOf(err)))
	} else {
		c.metrics.RecordOperation(j.op, metrics.StatusSuccess)
	}

	c.publish()

	if j.done != nil {
		j.done <- err
		return
	}
	if err != nil {
		c.log.Warn("session operation failed",
			logger.String("operation", j.op),
			logger.Error(err))
	}
}

// submit runs fn on the worker and waits for it. The job still runs if ctx
// ends while it is queued; only the wait is abandoned.
func (c *Controller) submit(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	j := job{op: op, done: done, fn: func(workerCtx context.Context) error {
		if err := ctx.Err(); err != nil {
			return classify(err, errors.CategoryCancellation, op)
		}
		merged, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(workerCtx, cancel)
		defer stop()
		return fn(merged)
	}}

	if !c.push(j) {
		return closedError(op)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return classify(ctx.Err(), errors.CategoryCancellation, op)
	case <-c.stopped:
		return closedError(op)
	}
}

// enqueue schedules fn without waiting. It never blocks the caller and
// never drops the job while the session is open.
func (c *Controller) enqueue(op string, fn func(ctx context.Context) error) {
	if !c.push(job{op: op, fn: fn}) {
		c.log.Debug("session closed, dropping operation", logger.String("operation", op))
	}
}

// Sync waits until every operation queued before it has run.
func (c *Controller) Sync(ctx context.Context) error {
	return c.submit(ctx, "sync", func(context.Context) error { return nil })
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		c.log.Info("session state changed",
			logger.String("from", prev.String()),
			logger.String("to", s.String()))
	}
}

func (c *Controller) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// publish builds a snapshot from the committed state and hands it to
// subscribers. pubMu spans the reads so a later version never carries
// older settings.
func (c *Controller) publish() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	handle, _ := c.devices.Handle()
	settings := c.devices.Settings()
	inFlight := c.correlator.InFlight()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.version++
	snap := Snapshot{
		Version:         c.version,
		State:           c.state,
		StateName:       c.state.String(),
		Authorization:   c.auth,
		Ready:           c.state == StateRunning,
		Device:          handle,
		Zoom:            settings.Zoom,
		ExposureBias:    settings.ExposureBias,
		FocusPoint:      settings.FocusPoint,
		FocusLocked:     settings.Locked,
		Flash:           settings.Flash,
		Bounds:          handle.Bounds,
		CaptureInFlight: inFlight,
		UpdatedAt:       time.Now(),
	}
	c.snap = snap
	c.feed.Publish(snap)

	if g, ok := c.metrics.(metrics.GaugeRecorder); ok {
		g.SetGauge(metrics.GaugeSessionState, float64(snap.State))
		g.SetGauge(metrics.GaugeZoom, snap.Zoom)
		g.SetGauge(metrics.GaugeExposure, snap.ExposureBias)
	}
}

func (c *Controller) emit(e events.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

// Snapshot returns the latest published snapshot.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Subscribe returns a channel of snapshots. Slow readers only see the most
// recent one. Call cancel when done.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	return c.feed.Subscribe()
}

// SubscribeCaptures returns a channel of capture resolutions.
func (c *Controller) SubscribeCaptures() (<-chan CaptureResult, func()) {
	return c.captureFeed.Subscribe()
}

// Devices lists the cameras the platform offers.
func (c *Controller) Devices(ctx context.Context) ([]device.Info, error) {
	infos, err := c.devices.Devices(ctx)
	return infos, classify(err, errors.CategoryDeviceUnavailable, "devices")
}

// RequestPermission asks for camera access once. After a terminal answer
// the cached state is returned and the provider is never asked again.
func (c *Controller) RequestPermission(ctx context.Context) (AuthorizationState, error) {
	c.permMu.Lock()
	defer c.permMu.Unlock()

	c.mu.Lock()
	cached := c.auth
	c.mu.Unlock()
	if cached.Terminal() {
		return cached, nil
	}

	start := time.Now()
	state, err := c.perms.RequestCameraAccess(ctx)
	c.metrics.RecordDuration(metrics.OpPermission, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordOperation(metrics.OpPermission, metrics.StatusError)
		return AuthNotDetermined, errors.New(err).
			Component("camera.session").
			Category(errors.CategoryPermissionDenied).
			Context("operation", metrics.OpPermission).
			Build()
	}
	if !state.Terminal() {
		state = AuthNotDetermined
	}
	c.metrics.RecordOperation(metrics.OpPermission, string(state))

	c.mu.Lock()
	c.auth = state
	c.mu.Unlock()
	c.publish()

	switch state {
	case AuthDenied, AuthRestricted:
		c.log.Info("camera access not granted", logger.String("authorization", string(state)))
	case AuthAuthorized:
		c.log.Debug("camera access granted")
	}
	return state, nil
}

// Authorization returns the cached permission state.
func (c *Controller) Authorization() AuthorizationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth
}

// Start configures the session if needed and starts frame flow. It returns
// immediately; failures are logged and visible in the next snapshot.
func (c *Controller) Start() {
	c.enqueue(metrics.OpSessionStart, c.start)
}

// StartAndWait is Start but returns once the worker is done.
func (c *Controller) StartAndWait(ctx context.Context) error {
	return c.submit(ctx, metrics.OpSessionStart, c.start)
}

// Stop halts frame flow and keeps the configuration. It returns immediately.
func (c *Controller) Stop() {
	c.enqueue(metrics.OpSessionStop, c.stop)
}

// StopAndWait is Stop but returns once the worker is done.
func (c *Controller) StopAndWait(ctx context.Context) error {
	return c.submit(ctx, metrics.OpSessionStop, c.stop)
}

// Suspend halts frame flow for a background transition.
func (c *Controller) Suspend() {
	c.enqueue(metrics.OpSessionSuspend, c.suspend)
}

// Resume restarts frame flow after Suspend.
func (c *Controller) Resume() {
	c.enqueue(metrics.OpSessionResume, c.resume)
}

func (c *Controller) start(ctx context.Context) error {
	c.mu.Lock()
	state, auth, position := c.state, c.auth, c.position
	c.mu.Unlock()

	switch state {
	case StateRunning:
		return nil
	case StateSuspended:
		return c.resume(ctx)
	}

	if auth != AuthAuthorized {
		return permissionDenied(auth)
	}

	if state == StateUnconfigured {
		if err := c.configure(ctx, position); err != nil {
			return err
		}
	}

	if err := c.devices.StartStreaming(ctx); err != nil {
		return classify(err, errors.CategoryDeviceUnavailable, metrics.OpSessionStart)
	}
	c.setState(StateRunning)
	return nil
}

func (c *Controller) configure(ctx context.Context, position device.Position) error {
	c.setState(StateConfiguring)
	c.publish()

	handle, err := c.devices.Configure(ctx, position)
	if err != nil {
		c.setState(StateUnconfigured)
		return classify(err, errors.CategoryDeviceUnavailable, "configure")
	}

	if c.cfg.DefaultFlash != device.FlashOff && c.devices.Capabilities().Flash {
		if err := c.devices.LockAndApply(ctx, device.Flash(c.cfg.DefaultFlash)); err != nil {
			c.log.Warn("could not apply default flash mode",
				logger.String("flash", string(c.cfg.DefaultFlash)),
				logger.Error(err))
		}
	}

	c.setState(StateReady)
	c.emit(events.DeviceChanged{
		DeviceID:  handle.ID,
		Position:  string(handle.Position),
		Timestamp: time.Now(),
	})
	return nil
}

func (c *Controller) stop(context.Context) error {
	switch c.currentState() {
	case StateRunning:
		if err := c.devices.StopStreaming(); err != nil {
			return classify(err, errors.CategoryDeviceUnavailable, metrics.OpSessionStop)
		}
		c.setState(StateReady)
	case StateSuspended:
		c.setState(StateReady)
	}
	return nil
}

func (c *Controller) suspend(context.Context) error {
	if c.currentState() != StateRunning {
		return nil
	}
	if err := c.devices.StopStreaming(); err != nil {
		return classify(err, errors.CategoryDeviceUnavailable, metrics.OpSessionSuspend)
	}
	c.setState(StateSuspended)
	return nil
}

func (c *Controller) resume(ctx context.Context) error {
	if c.currentState() != StateSuspended {
		return nil
	}
	if err := c.devices.StartStreaming(ctx); err != nil {
		return classify(err, errors.CategoryDeviceUnavailable, metrics.OpSessionResume)
	}
	c.setState(StateRunning)
	return nil
}

// SwitchDevice replaces the session input with the camera at position. On
// failure the previous input is restored and the error is returned.
func (c *Controller) SwitchDevice(ctx context.Context, position device.Position) error {
	return c.submit(ctx, metrics.OpDeviceSwitch, func(ctx context.Context) error {
		return c.switchDevice(ctx, position)
	})
}

func (c *Controller) switchDevice(ctx context.Context, position device.Position) error {
	state := c.currentState()
	if state == StateUnconfigured {
		c.mu.Lock()
		c.position = position
		c.mu.Unlock()
		return nil
	}
	if c.correlator.InFlight() {
		return stateError(capture.ErrCaptureInFlight, state, metrics.OpDeviceSwitch)
	}

	prev, _ := c.devices.Handle()
	if prev.Position == position {
		return nil
	}

	streaming := state == StateRunning
	if streaming {
		if err := c.devices.StopStreaming(); err != nil {
			return classify(err, errors.CategoryDeviceUnavailable, metrics.OpDeviceSwitch)
		}
	}

	handle, err := c.devices.Configure(ctx, position)
	if err != nil {
		c.rollback(ctx, prev, streaming, false)
		return classify(err, errors.CategoryDeviceUnavailable, metrics.OpDeviceSwitch)
	}

	if streaming {
		if err := c.devices.StartStreaming(ctx); err != nil {
			c.rollback(ctx, prev, streaming, true)
			return classify(err, errors.CategoryDeviceUnavailable, metrics.OpDeviceSwitch)
		}
	}

	c.mu.Lock()
	c.position = position
	c.mu.Unlock()

	c.emit(events.DeviceChanged{
		DeviceID:  handle.ID,
		Position:  string(handle.Position),
		Timestamp: time.Now(),
	})
	c.log.Info("switched device",
		logger.String("from", prev.ID),
		logger.String("to", handle.ID))
	return nil
}

// rollback restores prev as the session input. reacquire is set when the
// new device was already installed and prev has to be opened again.
func (c *Controller) rollback(ctx context.Context, prev device.Handle, streaming, reacquire bool) {
	c.metrics.RecordOperation(metrics.OpDeviceSwitch, metrics.StatusRolledBack)

	if reacquire {
		if _, err := c.devices.Configure(ctx, prev.Position); err != nil {
			c.log.Error("rollback could not reacquire previous device",
				logger.String("device_id", prev.ID),
				logger.Error(err))
			c.setState(StateReady)
			return
		}
	}

	if streaming {
		if err := c.devices.StartStreaming(ctx); err != nil {
			c.log.Error("rollback could not restart frame flow",
				logger.String("device_id", prev.ID),
				logger.Error(err))
			c.setState(StateReady)
			return
		}
	}

	c.emit(events.DeviceChanged{
		DeviceID:   prev.ID,
		Position:   string(prev.Position),
		RolledBack: true,
		Timestamp:  time.Now(),
	})
	c.log.Warn("device switch rolled back", logger.String("device_id", prev.ID))
}

func (c *Controller) requireConfigured(op string) error {
	switch state := c.currentState(); state {
	case StateReady, StateRunning, StateSuspended:
		return nil
	default:
		return errors.New(ErrNotConfigured).
			Component("camera.session").
			Category(errors.CategoryDeviceUnavailable).
			Context("state", state.String()).
			Context("operation", op).
			Build()
	}
}

// adjust applies m and keeps the last-known-good value on failure.
func (c *Controller) adjust(ctx context.Context, op string, m device.Mutator) error {
	if err := c.requireConfigured(op); err != nil {
		return err
	}
	if err := c.devices.LockAndApply(ctx, m); err != nil {
		c.emit(events.AdjustmentRejected{
			Kind:      m.Kind(),
			Reason:    device.Reason(err),
			Timestamp: time.Now(),
		})
		c.log.Warn("adjustment rejected, keeping last-known-good",
			logger.String("adjustment", m.Kind()),
			logger.String("reason", device.Reason(err)))
		return classify(err, errors.CategoryConfigurationFailed, op)
	}
	return nil
}

// SetZoom clamps factor to the device zoom range and applies it. It returns
// the zoom in effect afterwards.
func (c *Controller) SetZoom(ctx context.Context, factor float64) (float64, error) {
	err := c.submit(ctx, metrics.OpZoom, func(ctx context.Context) error {
		v := c.devices.Bounds().Zoom.Clamp(factor)
		return c.adjust(ctx, metrics.OpZoom, device.ZoomFactor(v))
	})
	return c.devices.Settings().Zoom, err
}

// AdjustExposure moves the exposure bias by delta EV, clamped to the device
// range. It returns the bias in effect afterwards.
func (c *Controller) AdjustExposure(ctx context.Context, delta float64) (float64, error) {
	err := c.submit(ctx, metrics.OpExposure, func(ctx context.Context) error {
		current := c.devices.Settings().ExposureBias
		v := c.devices.Bounds().Exposure.Clamp(current + delta)
		return c.adjust(ctx, metrics.OpExposure, device.ExposureBias(v))
	})
	return c.devices.Settings().ExposureBias, err
}

// Focus moves the point of interest. The point is clamped to the frame.
func (c *Controller) Focus(ctx context.Context, at device.Point) error {
	return c.submit(ctx, metrics.OpFocus, func(ctx context.Context) error {
		return c.adjust(ctx, metrics.OpFocus, device.FocusPoint(at.Clamp()))
	})
}

// LockFocusAndExposure focuses and meters at a point and holds both.
func (c *Controller) LockFocusAndExposure(ctx context.Context, at device.Point) error {
	return c.submit(ctx, metrics.OpFocusExposureLock, func(ctx context.Context) error {
		return c.adjust(ctx, metrics.OpFocusExposureLock, device.FocusExposureLock(at.Clamp()))
	})
}

// SetFlash sets the default flash mode for captures.
func (c *Controller) SetFlash(ctx context.Context, mode device.FlashMode) error {
	return c.submit(ctx, metrics.OpFlash, func(ctx context.Context) error {
		return c.adjust(ctx, metrics.OpFlash, device.Flash(mode))
	})
}

// CapturePhoto requests one photo and returns its token. Only one capture
// may be in flight; an overlapping call fails with capture.ErrCaptureInFlight.
// An empty flash uses the session default.
func (c *Controller) CapturePhoto(ctx context.Context, flash device.FlashMode) (capture.Token, error) {
	var token capture.Token
	err := c.submit(ctx, metrics.OpCapture, func(ctx context.Context) error {
		if state := c.currentState(); state != StateRunning {
			return stateError(ErrNotRunning, state, metrics.OpCapture)
		}
		if flash == "" {
			flash = c.devices.Settings().Flash
		}

		t, err := c.correlator.Begin()
		if err != nil {
			return err
		}

		deliver := func(raw []byte, hwErr error) {
			// violations are reported through the correlator hook
			_ = c.correlator.Complete(t, raw, hwErr)
		}
		if err := c.devices.Capture(c.ctx, flash, deliver); err != nil {
			_ = c.correlator.Complete(t, nil, err)
			return classify(err, errors.CategoryCaptureFailed, metrics.OpCapture)
		}
		token = t
		return nil
	})
	return token, err
}

// Await waits for the capture identified by token. Each token can be
// awaited once.
func (c *Controller) Await(ctx context.Context, token capture.Token) (capture.Photo, error) {
	return c.correlator.Await(ctx, token)
}

// TakeLastCapture returns the most recent successful capture and clears it.
func (c *Controller) TakeLastCapture() (capture.Photo, bool) {
	p := c.lastCapture.Swap(nil)
	if p == nil {
		return capture.Photo{}, false
	}
	return *p, true
}

func (c *Controller) onCaptureResolved(token capture.Token, photo capture.Photo, err error, elapsed time.Duration) {
	now := time.Now()
	if err != nil {
		reason := capture.FailureReason(err)
		c.metrics.RecordError(metrics.OpCapture, reason)
		c.emit(events.CaptureFailed{Token: token.String(), Reason: reason, Timestamp: now})
	} else {
		p := photo
		c.lastCapture.Store(&p)
		w, h := photo.Size()
		c.metrics.RecordDuration("capture_roundtrip", elapsed.Seconds())
		c.emit(events.CaptureCompleted{
			Token:     token.String(),
			PhotoID:   photo.ID,
			Width:     w,
			Height:    h,
			Duration:  elapsed,
			Timestamp: now,
		})
	}

	c.captureFeed.Publish(CaptureResult{Token: token, Photo: photo, Err: err, Elapsed: elapsed})
	c.publish()
}

func (c *Controller) onProtocolViolation(token capture.Token, reason string) {
	c.metrics.RecordError(metrics.OpProtocolViolation, reason)
	c.emit(events.ProtocolViolation{Token: token.String(), Reason: reason, Timestamp: time.Now()})
}

// Close stops frame flow, releases the device, fails a pending capture and
// stops the worker. Subscriber channels are closed.
func (c *Controller) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		err = c.submit(ctx, "close", func(context.Context) error {
			if c.currentState() == StateRunning {
				if serr := c.devices.StopStreaming(); serr != nil {
					c.log.Warn("failed to stop frame flow on close", logger.Error(serr))
				}
			}
			c.closeQueue()
			c.correlator.Close()
			rerr := c.devices.Release()
			c.setState(StateUnconfigured)
			return rerr
		})
		if err != nil {
			c.closeQueue()
		}

		close(c.quit)
		<-c.stopped
		c.cancel()

		c.feed.Close()
		c.captureFeed.Close()
		c.log.Debug("capture session closed")
	})
	return err
}
