// Package app wires settings into a running capture session, photo store
// and the optional status server and commit notifier.
package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/chairside/chairside/internal/buildinfo"
	"github.com/chairside/chairside/internal/camera/device"
	"github.com/chairside/chairside/internal/camera/permission"
	"github.com/chairside/chairside/internal/camera/session"
	"github.com/chairside/chairside/internal/camera/simulator"
	"github.com/chairside/chairside/internal/conf"
	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/events"
	"github.com/chairside/chairside/internal/flow"
	"github.com/chairside/chairside/internal/httpserver"
	"github.com/chairside/chairside/internal/logger"
	"github.com/chairside/chairside/internal/mqtt"
	"github.com/chairside/chairside/internal/observability"
	"github.com/chairside/chairside/internal/photostore"
)

const busShutdownTimeout = 5 * time.Second

// Option configures an App.
type Option func(*options)

type options struct {
	hardware    device.Hardware
	permissions session.PermissionProvider
	mqttClient  mqtt.Client
	build       *buildinfo.Context
	log         ModuleLogger
}

// ModuleLogger is satisfied by both *logger.CentralLogger and logger.Logger.
type ModuleLogger interface {
	Module(name string) logger.Logger
}

// WithHardware replaces the simulated camera.
func WithHardware(hw device.Hardware) Option { return func(o *options) { o.hardware = hw } }

// WithPermissions replaces the provider selected by camera.access.
func WithPermissions(p session.PermissionProvider) Option {
	return func(o *options) { o.permissions = p }
}

// WithMQTTClient replaces the paho client used when mqtt is enabled.
func WithMQTTClient(c mqtt.Client) Option { return func(o *options) { o.mqttClient = c } }

// WithBuildInfo sets the version reported by the status endpoint.
func WithBuildInfo(b *buildinfo.Context) Option { return func(o *options) { o.build = b } }

// WithLogger sets the base logger. Modules are derived from it.
func WithLogger(l ModuleLogger) Option { return func(o *options) { o.log = l } }

// App holds the long-lived components. Flows are created per procedure
// with NewFlow.
type App struct {
	Settings *conf.Settings
	Bus      *events.EventBus
	Metrics  *observability.Metrics
	Session  *session.Controller
	Store    *photostore.Store
	Metadata *photostore.Metadata
	HTTP     *httpserver.Server

	log     logger.Logger
	mqtt    mqtt.Client
	current atomic.Pointer[flow.Machine]
}

// New builds the application from settings. Nothing is started; call
// Serve to expose the status endpoint and Close to release everything.
func New(settings *conf.Settings, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Global()
	}
	if o.build == nil {
		o.build = buildinfo.NewContext("", "", "")
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategorySystem).
			Context("operation", "metrics").
			Build()
	}

	a := &App{
		Settings: settings,
		Metrics:  m,
		log:      o.log.Module("app"),
		Bus:      events.NewEventBus(events.DefaultConfig(), o.log.Module("events")),
	}
	errors.SetEventPublisher(a.Bus)
	if err := a.Bus.RegisterConsumer(a.errorLogger()); err != nil {
		return nil, a.fail(err)
	}

	store, err := photostore.Open(photostore.Config{
		SQLitePath:  settings.Store.SQLitePath,
		PhotoDir:    settings.Store.PhotoDir,
		JPEGQuality: settings.Store.JPEGQuality,
		HistoryTTL:  settings.Store.HistoryTTL,
	}, o.log.Module("photostore"))
	if err != nil {
		return nil, a.fail(err)
	}
	a.Store = store
	a.Metadata = photostore.NewMetadata(store, flow.Vocabulary{
		Procedures: settings.Vocabulary.Procedures,
		Stages:     settings.Vocabulary.Stages,
		Angles:     settings.Vocabulary.Angles,
	})

	cfg, err := sessionConfig(settings.Camera)
	if err != nil {
		return nil, a.fail(err)
	}
	hw := o.hardware
	if hw == nil {
		hw = simulator.New(simulator.Options{
			Width:  settings.Camera.Width,
			Height: settings.Camera.Height,
		})
	}
	perms := o.permissions
	if perms == nil {
		perms = PermissionProvider(settings.Camera.Access)
	}
	a.Session = session.New(hw, perms, cfg,
		session.WithLogger(o.log.Module("session")),
		session.WithMetrics(m.Camera),
		session.WithPublisher(a.Bus),
	)

	if settings.MQTT.Enabled {
		mcfg := mqtt.ConfigFromSettings(settings.MQTT)
		client := o.mqttClient
		if client == nil {
			client = mqtt.NewClient(mcfg, m.MQTT)
		}
		a.mqtt = client
		if err := a.Bus.RegisterConsumer(mqtt.NewNotifier(client, mcfg)); err != nil {
			return nil, a.fail(err)
		}
	}

	if settings.Metrics.Enabled {
		a.HTTP = httpserver.New(settings.Metrics.Listen,
			httpserver.WithLogger(o.log.Module("http")),
			httpserver.WithSession(a.Session),
			httpserver.WithFlow(currentFlow{a}),
			httpserver.WithMetrics(m.Handler()),
			httpserver.WithBuildInfo(o.build),
		)
	}

	a.log.Info("application ready",
		logger.String("version", o.build.GetVersion()),
		logger.String("position", string(cfg.Position)),
		logger.Bool("mqtt", settings.MQTT.Enabled),
		logger.Bool("http", a.HTTP != nil))
	return a, nil
}

// PermissionProvider maps a camera.access setting to a provider. "prompt"
// asks on the terminal; the other values answer without asking.
func PermissionProvider(access string) session.PermissionProvider {
	switch access {
	case "authorized":
		return &permission.Static{State: session.AuthAuthorized}
	case "denied":
		return &permission.Static{State: session.AuthDenied}
	case "restricted":
		return &permission.Static{State: session.AuthRestricted}
	default:
		return permission.NewTerminalPrompt()
	}
}

func sessionConfig(c conf.CameraSettings) (session.Config, error) {
	pos, err := device.ParsePosition(c.Position)
	if err != nil {
		return session.Config{}, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("key", "camera.position").
			Build()
	}
	flash, err := device.ParseFlashMode(c.DefaultFlash)
	if err != nil {
		return session.Config{}, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("key", "camera.default_flash").
			Build()
	}
	return session.Config{
		Position:       pos,
		DefaultFlash:   flash,
		QueueSize:      c.QueueSize,
		LockTimeout:    c.LockTimeout,
		CaptureTimeout: c.CaptureTimeout,
	}, nil
}

// NewFlow starts a capture flow backed by the photo store. The flow becomes
// the one reported by the status endpoint.
func (a *App) NewFlow(prefill *flow.Prefill) (*flow.Machine, error) {
	opts := []flow.Option{
		flow.WithLogger(a.log.Module("flow")),
		flow.WithMetrics(a.Metrics.Flow),
		flow.WithPublisher(a.Bus),
		flow.WithMetadata(a.Metadata),
	}
	if prefill != nil {
		opts = append(opts, flow.WithPrefill(*prefill))
	}
	m, err := flow.New(a.Store, opts...)
	if err != nil {
		return nil, err
	}
	if prev := a.current.Swap(m); prev != nil {
		prev.Shutdown()
	}
	return m, nil
}

// Serve starts the status server when metrics are enabled.
func (a *App) Serve() error {
	if a.HTTP == nil {
		return nil
	}
	return a.HTTP.Start()
}

// Close stops the session, the status server and the bus, then closes
// the store. It returns every error encountered.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.HTTP != nil {
		if err := a.HTTP.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Session != nil {
		if err := a.Session.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if m := a.current.Swap(nil); m != nil {
		m.Shutdown()
	}
	if err := a.Bus.Shutdown(busShutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	errors.SetEventPublisher(nil)
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fail releases what New built so far and returns err.
func (a *App) fail(err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), busShutdownTimeout)
	defer cancel()
	if cerr := a.Close(ctx); cerr != nil {
		a.log.Warn("cleanup after failed start", logger.Error(cerr))
	}
	return err
}

// errorLogger logs enhanced errors published on the bus.
func (a *App) errorLogger() events.EventConsumer {
	log := a.log.Module("errors")
	return events.ConsumerFunc{
		ConsumerName: "error-logger",
		TopicFilter:  []string{events.TopicError},
		Fn: func(ev events.Event) error {
			occurred, ok := ev.(events.ErrorOccurred)
			if !ok {
				return nil
			}
			log.Debug("error reported",
				logger.String("component", occurred.Err.GetComponent()),
				logger.String("category", occurred.Err.GetCategory()),
				logger.String("message", occurred.Err.GetMessage()))
			return nil
		},
	}
}

// currentFlow reports the most recent flow to the status endpoint.
type currentFlow struct{ a *App }

func (c currentFlow) Snapshot() flow.Snapshot {
	if m := c.a.current.Load(); m != nil {
		return m.Snapshot()
	}
	return flow.Snapshot{}
}
