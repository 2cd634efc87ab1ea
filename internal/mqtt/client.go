package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/logger"
	"github.com/chairside/chairside/internal/observability/metrics"
)

const component = "mqtt"

// ErrNotConnected is returned by Publish before Connect succeeded or after
// the connection was lost.
var ErrNotConnected = errors.NewStd("not connected to MQTT broker")

// sizeObserver is implemented by recorders that track payload sizes.
type sizeObserver interface {
	ObserveMessageSize(bytes float64)
}

// client implements the Client interface on top of paho.
type client struct {
	config         Config
	internalClient paho.Client
	mu             sync.Mutex
	metrics        metrics.Recorder
	log            logger.Logger
}

// NewClient creates a new MQTT client with the provided configuration. A
// nil recorder disables metrics.
func NewClient(cfg Config, recorder metrics.Recorder) Client {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &client{
		config:  cfg,
		metrics: recorder,
		log:     log.With(logger.String("broker", cfg.Broker)),
	}
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	err := c.connect(ctx)
	c.metrics.RecordDuration(metrics.OpConnect, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordOperation(metrics.OpConnect, metrics.StatusError)
		c.metrics.RecordError(metrics.OpConnect, string(errors.CategoryOf(err)))
		return err
	}
	c.metrics.RecordOperation(metrics.OpConnect, metrics.StatusSuccess)
	return nil
}

func (c *client) connect(ctx context.Context) error {
	u, err := url.Parse(c.config.Broker)
	if err != nil || u.Host == "" {
		return errors.Newf("invalid broker URL %q", c.config.Broker).
			Component(component).
			Category(errors.CategoryConfiguration).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component(component).
				Category(errors.CategoryNetwork).
				Context("operation", "resolve_broker").
				Context("host", host).
				Build()
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	}
	c.internalClient = paho.NewClient(opts)

	token := c.internalClient.Connect()
	if err := wait(ctx, token, c.config.ConnectTimeout); err != nil {
		return errors.New(err).
			Component(component).
			Category(transportCategory(err)).
			Context("operation", "connect").
			Build()
	}
	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		c.metrics.RecordOperation(metrics.OpPublish, metrics.StatusRejected)
		return errors.New(ErrNotConnected).
			Component(component).
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}

	start := time.Now()
	token := c.internalClient.Publish(topic, c.config.QoS, c.config.Retain, payload)
	err := wait(ctx, token, c.config.PublishTimeout)
	c.metrics.RecordDuration(metrics.OpPublish, time.Since(start).Seconds())
	if err != nil {
		c.log.Warn("publish failed", logger.String("topic", topic), logger.Error(err))
		c.metrics.RecordOperation(metrics.OpPublish, metrics.StatusError)
		c.metrics.RecordError(metrics.OpPublish, string(transportCategory(err)))
		return errors.New(err).
			Component(component).
			Category(transportCategory(err)).
			Context("operation", "publish").
			Context("topic", topic).
			Build()
	}

	c.metrics.RecordOperation(metrics.OpPublish, metrics.StatusSuccess)
	if so, ok := c.metrics.(sizeObserver); ok {
		so.ObserveMessageSize(float64(len(payload)))
	}
	c.log.Debug("published", logger.String("topic", topic), logger.Int("bytes", len(payload)))
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	}
	c.setConnected(false)
}

func (c *client) onConnect(paho.Client) {
	c.log.Info("connected to broker")
	c.setConnected(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to broker lost", logger.Error(err))
	c.setConnected(false)
	c.metrics.RecordError(metrics.OpConnect, "connection_lost")
}

func (c *client) setConnected(connected bool) {
	g, ok := c.metrics.(metrics.GaugeRecorder)
	if !ok {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	g.SetGauge(metrics.GaugeConnected, v)
}

// wait blocks until the token completes, ctx ends or timeout passes.
func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return errors.New(ctx.Err()).Category(errors.CategoryCancellation).Build()
	case <-timer.C:
		return errors.Newf("timed out after %s", timeout).Category(errors.CategoryTimeout).Build()
	}
}

// transportCategory keeps timeout and cancellation categories and files
// everything else paho reports under network.
func transportCategory(err error) errors.ErrorCategory {
	if cat := errors.CategoryOf(err); cat != errors.CategoryGeneric {
		return cat
	}
	return errors.CategoryNetwork
}
