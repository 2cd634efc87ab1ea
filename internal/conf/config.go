// Package conf loads chairside settings from defaults, a YAML config file
// and CHAIRSIDE_* environment variables.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/logger"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "CHAIRSIDE"

// Settings is the full configuration.
type Settings struct {
	Debug      bool                 `yaml:"debug" mapstructure:"debug"`
	Camera     CameraSettings       `yaml:"camera" mapstructure:"camera"`
	Store      StoreSettings        `yaml:"store" mapstructure:"store"`
	Vocabulary VocabularySettings   `yaml:"vocabulary" mapstructure:"vocabulary"`
	Logging    logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Telemetry  TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	Metrics    MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	MQTT       MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt"`
}

// CameraSettings configure the capture session.
type CameraSettings struct {
	Position       string        `yaml:"position" mapstructure:"position"`               // front, back or external
	Access         string        `yaml:"access" mapstructure:"access"`                   // prompt, authorized, denied or restricted
	LockTimeout    time.Duration `yaml:"lock_timeout" mapstructure:"lock_timeout"`       // device configuration lock timeout
	CaptureTimeout time.Duration `yaml:"capture_timeout" mapstructure:"capture_timeout"` // bound on an in-flight capture
	DefaultFlash   string        `yaml:"default_flash" mapstructure:"default_flash"`     // off, on or auto
	QueueSize      int           `yaml:"queue_size" mapstructure:"queue_size"`           // job backlog that triggers a warning
	Width          int           `yaml:"width" mapstructure:"width"`                     // simulator frame width
	Height         int           `yaml:"height" mapstructure:"height"`                   // simulator frame height
}

// StoreSettings configure the photo store.
type StoreSettings struct {
	SQLitePath  string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	PhotoDir    string        `yaml:"photo_dir" mapstructure:"photo_dir"`
	JPEGQuality int           `yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
	HistoryTTL  time.Duration `yaml:"history_ttl" mapstructure:"history_ttl"`
}

// VocabularySettings are the tag values offered during setup.
type VocabularySettings struct {
	Procedures []string `yaml:"procedures" mapstructure:"procedures"`
	Stages     []string `yaml:"stages" mapstructure:"stages"`
	Angles     []string `yaml:"angles" mapstructure:"angles"`
}

// TelemetrySettings configure error reporting.
type TelemetrySettings struct {
	SentryEnabled bool   `yaml:"sentry_enabled" mapstructure:"sentry_enabled"`
	SentryDSN     string `yaml:"sentry_dsn" mapstructure:"sentry_dsn"`
}

// MetricsSettings configure the status and metrics endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// MQTTSettings configure commit notifications.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	QoS      byte   `yaml:"qos" mapstructure:"qos"`
	Retain   bool   `yaml:"retain" mapstructure:"retain"`
}

// Load reads settings into v. A non-empty configFile is read instead of
// searching the default paths; a missing file in the default paths is not
// an error.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if err := readConfig(v, configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "validate").
			Build()
	}
	return settings, nil
}

// Defaults returns the built-in settings, ignoring files and environment.
func Defaults() (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return settings, nil
}

func readConfig(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, path := range DefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	err := v.ReadInConfig()
	if err == nil {
		GetLogger().Debug("config file loaded", logger.String("path", v.ConfigFileUsed()))
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if configFile == "" && errors.As(err, &notFound) {
		GetLogger().Debug("no config file found, using defaults")
		return nil
	}
	return errors.New(err).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context("config_file", configFile).
		Build()
}

// DefaultConfigPaths returns the directories searched for config.yaml, most
// specific first.
func DefaultConfigPaths() []string {
	paths := []string{"."}
	home, err := os.UserHomeDir()
	if err != nil {
		return paths
	}
	switch runtime.GOOS {
	case "windows":
		paths = append(paths, filepath.Join(home, "AppData", "Roaming", "chairside"))
	default:
		paths = append(paths, filepath.Join(home, ".config", "chairside"), "/etc/chairside")
	}
	return paths
}

// String is used by the config command's short form.
func (s *Settings) String() string {
	return fmt.Sprintf("camera=%s store=%s metrics=%t mqtt=%t",
		s.Camera.Position, s.Store.SQLitePath, s.Metrics.Enabled, s.MQTT.Enabled)
}
