package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/logger"
)

// DefaultLockTimeout bounds how long LockAndApply waits for the
// configuration lock.
const DefaultLockTimeout = 2 * time.Second

// Config holds device controller settings.
type Config struct {
	LockTimeout time.Duration
}

// Controller owns at most one opened device at a time. Configuration is
// exclusive: concurrent LockAndApply and Configure calls wait for the lock
// and give up after the lock timeout.
type Controller struct {
	hw          Hardware
	lockTimeout time.Duration
	log         logger.Logger

	// configLock is held for the duration of one configuration change.
	configLock chan struct{}

	mu       sync.RWMutex
	dev      Device
	handle   Handle
	caps     Capabilities
	settings Settings
	released bool
}

// NewController creates a controller for the given driver. A nil logger
// uses the global one.
func NewController(hw Hardware, cfg Config, log logger.Logger) *Controller {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if log == nil {
		log = logger.Global().Module("camera").Module("device")
	}
	return &Controller{
		hw:          hw,
		lockTimeout: cfg.LockTimeout,
		log:         log,
		configLock:  make(chan struct{}, 1),
	}
}

func (c *Controller) acquire(ctx context.Context) error {
	timer := time.NewTimer(c.lockTimeout)
	defer timer.Stop()

	select {
	case c.configLock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLockTimeout
	}
}

func (c *Controller) releaseLock() {
	<-c.configLock
}

// Devices lists what the driver can open.
func (c *Controller) Devices(ctx context.Context) ([]Info, error) {
	infos, err := c.hw.Discover(ctx)
	if err != nil {
		return nil, unavailable(err, "")
	}
	return infos, nil
}

// Configure acquires the device at the preferred position and makes it the
// active one. With no active device it falls back to any available device;
// with an active device the position must exist, and on any failure the
// active device is kept. Bounds are read once here.
func (c *Controller) Configure(ctx context.Context, preferred Position) (Handle, error) {
	if err := c.acquire(ctx); err != nil {
		return Handle{}, unavailable(fmt.Errorf("configure: %w", err), preferred)
	}
	defer c.releaseLock()

	c.mu.RLock()
	released := c.released
	current := c.handle
	prevFlash := c.settings.Flash
	c.mu.RUnlock()

	if released {
		return Handle{}, unavailable(ErrReleased, preferred)
	}

	infos, err := c.hw.Discover(ctx)
	if err != nil {
		return Handle{}, unavailable(fmt.Errorf("discover: %w", err), preferred)
	}

	info, ok := choose(infos, preferred, current.IsZero())
	if !ok {
		return Handle{}, unavailable(ErrNoDevice, preferred)
	}
	if info.ID == current.ID {
		return current, nil
	}

	dev, err := c.hw.Open(ctx, info.ID)
	if err != nil {
		return Handle{}, unavailable(fmt.Errorf("open %s: %w", info.ID, err), preferred)
	}

	caps := dev.Capabilities()
	settings := DefaultSettings(caps.Bounds)
	if caps.Flash && prevFlash != "" {
		settings.Flash = prevFlash
	}

	if err := applyLocked(ctx, dev, settings, c.lockTimeout); err != nil {
		if cerr := dev.Close(); cerr != nil {
			c.log.Warn("failed to close device after setup failure",
				logger.String("device_id", info.ID),
				logger.Error(cerr))
		}
		return Handle{}, unavailable(fmt.Errorf("initial settings: %w", err), preferred)
	}

	handle := Handle{ID: info.ID, Name: info.Name, Position: info.Position, Bounds: caps.Bounds}

	c.mu.Lock()
	old := c.dev
	c.dev = dev
	c.handle = handle
	c.caps = caps
	c.settings = settings
	c.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			c.log.Warn("failed to close previous device",
				logger.String("device_id", current.ID),
				logger.Error(err))
		}
	}

	c.log.Info("device configured",
		logger.String("device_id", handle.ID),
		logger.String("position", string(handle.Position)),
		logger.Float64("zoom_min", caps.Bounds.Zoom.Min),
		logger.Float64("zoom_max", caps.Bounds.Zoom.Max))

	return handle, nil
}

func choose(infos []Info, preferred Position, allowFallback bool) (Info, bool) {
	for _, info := range infos {
		if info.Position == preferred {
			return info, true
		}
	}
	if allowFallback && len(infos) > 0 {
		return infos[0], true
	}
	return Info{}, false
}

func applyLocked(ctx context.Context, dev Device, s Settings, timeout time.Duration) error {
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := dev.LockForConfiguration(lockCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	defer dev.UnlockForConfiguration()

	return dev.Apply(ctx, s)
}

// LockAndApply applies one adjustment under the exclusive configuration
// lock. On any failure the previous settings stay in effect.
func (c *Controller) LockAndApply(ctx context.Context, m Mutator) error {
	start := time.Now()

	if err := c.acquire(ctx); err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return configurationFailed(err, m.Kind(), ReasonLockTimeout)
		}
		return configurationFailed(fmt.Errorf("%w: %w", ErrLockTimeout, err), m.Kind(), ReasonLockTimeout)
	}
	defer c.releaseLock()

	c.mu.RLock()
	dev, caps, staged := c.dev, c.caps, c.settings
	c.mu.RUnlock()

	if dev == nil {
		return unavailable(ErrNotConfigured, "")
	}

	if err := m.Mutate(caps, &staged); err != nil {
		return err
	}

	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	defer cancel()
	if err := dev.LockForConfiguration(lockCtx); err != nil {
		return configurationFailed(fmt.Errorf("%w: %w", ErrLockTimeout, err), m.Kind(), ReasonLockTimeout)
	}
	defer dev.UnlockForConfiguration()

	if err := dev.Apply(ctx, staged); err != nil {
		return configurationFailed(fmt.Errorf("%w: %w", ErrRejected, err), m.Kind(), ReasonRejected)
	}

	c.mu.Lock()
	c.settings = staged
	c.mu.Unlock()

	c.log.Debug("adjustment applied",
		logger.String("adjustment", m.Kind()),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Handle returns the active device handle, if any.
func (c *Controller) Handle() (Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle, !c.handle.IsZero()
}

// Bounds returns the bounds read when the active device was acquired.
func (c *Controller) Bounds() Bounds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps.Bounds
}

// Capabilities returns the capabilities of the active device.
func (c *Controller) Capabilities() Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps
}

// Settings returns the last settings the device accepted.
func (c *Controller) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

func (c *Controller) active() (Device, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.dev == nil {
		return nil, unavailable(ErrNotConfigured, "")
	}
	return c.dev, nil
}

// StartStreaming starts frame flow on the active device.
func (c *Controller) StartStreaming(ctx context.Context) error {
	dev, err := c.active()
	if err != nil {
		return err
	}
	if err := dev.StartStreaming(ctx); err != nil {
		return unavailable(fmt.Errorf("start streaming: %w", err), dev.Info().Position)
	}
	return nil
}

// StopStreaming halts frame flow on the active device.
func (c *Controller) StopStreaming() error {
	dev, err := c.active()
	if err != nil {
		return err
	}
	if err := dev.StopStreaming(); err != nil {
		return unavailable(fmt.Errorf("stop streaming: %w", err), dev.Info().Position)
	}
	return nil
}

// Capture asks the active device for one photo. Flash falls back to off on
// devices without one.
func (c *Controller) Capture(ctx context.Context, flash FlashMode, deliver Deliver) error {
	dev, err := c.active()
	if err != nil {
		return err
	}
	if flash != FlashOff && !c.Capabilities().Flash {
		c.log.Debug("flash not available, capturing without", logger.String("requested", string(flash)))
		flash = FlashOff
	}
	if err := dev.Capture(ctx, flash, deliver); err != nil {
		return errors.New(err).
			Component("camera.device").
			Category(errors.CategoryCaptureFailed).
			Context("device_id", dev.Info().ID).
			Build()
	}
	return nil
}

// Release closes the active device. The controller cannot be used after.
func (c *Controller) Release() error {
	c.mu.Lock()
	dev := c.dev
	c.dev = nil
	c.handle = Handle{}
	c.caps = Capabilities{}
	c.released = true
	c.mu.Unlock()

	if dev == nil {
		return nil
	}
	if err := dev.Close(); err != nil {
		return errors.New(err).
			Component("camera.device").
			Category(errors.CategoryDeviceUnavailable).
			Context("operation", "release").
			Build()
	}
	return nil
}
