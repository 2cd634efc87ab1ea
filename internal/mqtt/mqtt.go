// Package mqtt publishes commit summaries to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/chairside/chairside/internal/conf"
	"github.com/chairside/chairside/internal/logger"
)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	// It returns an error if the connection fails.
	Connect(ctx context.Context) error

	// Publish sends a message to the specified topic on the MQTT broker.
	Publish(ctx context.Context, topic string, payload string) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // Topic commit summaries are published on
	QoS      byte
	Retain   bool // true to retain messages at the broker
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// Package-level logger for MQTT related events
var log = logger.Global().Module("mqtt")

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ClientID:          "chairside",
		Topic:             "chairside/commits",
		QoS:               1,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings fills DefaultConfig from the mqtt settings block.
func ConfigFromSettings(s conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = s.Broker
	if s.ClientID != "" {
		cfg.ClientID = s.ClientID
	}
	if s.Topic != "" {
		cfg.Topic = s.Topic
	}
	cfg.Username = s.Username
	cfg.Password = s.Password
	cfg.QoS = s.QoS
	cfg.Retain = s.Retain
	return cfg
}
