package conf

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding maps one config key to one environment variable.
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "CHAIRSIDE_DEBUG", validateEnvBool},

		{"camera.position", "CHAIRSIDE_CAMERA_POSITION", oneOf("front", "back", "external")},
		{"camera.access", "CHAIRSIDE_CAMERA_ACCESS", oneOf(AccessModes...)},
		{"camera.lock_timeout", "CHAIRSIDE_CAMERA_LOCK_TIMEOUT", validateEnvDuration},
		{"camera.capture_timeout", "CHAIRSIDE_CAMERA_CAPTURE_TIMEOUT", validateEnvDuration},
		{"camera.default_flash", "CHAIRSIDE_CAMERA_DEFAULT_FLASH", oneOf("off", "on", "auto")},

		{"store.sqlite_path", "CHAIRSIDE_STORE_SQLITE_PATH", nil},
		{"store.photo_dir", "CHAIRSIDE_STORE_PHOTO_DIR", nil},
		{"store.jpeg_quality", "CHAIRSIDE_STORE_JPEG_QUALITY", intRange(1, 100)},

		{"telemetry.sentry_enabled", "CHAIRSIDE_SENTRY_ENABLED", validateEnvBool},
		{"telemetry.sentry_dsn", "CHAIRSIDE_SENTRY_DSN", nil},

		{"metrics.enabled", "CHAIRSIDE_METRICS_ENABLED", validateEnvBool},
		{"metrics.listen", "CHAIRSIDE_METRICS_LISTEN", nil},

		{"mqtt.enabled", "CHAIRSIDE_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "CHAIRSIDE_MQTT_BROKER", nil},
		{"mqtt.username", "CHAIRSIDE_MQTT_USERNAME", nil},
		{"mqtt.password", "CHAIRSIDE_MQTT_PASSWORD", nil},
	}
}

// bindEnvVars binds every variable and reports invalid values. Invalid
// values are still bound; validation of the loaded settings rejects them.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string
	for _, b := range getEnvBindings() {
		if err := v.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", b.EnvVar, err))
			continue
		}
		if b.Validate == nil {
			continue
		}
		if value := os.Getenv(b.EnvVar); value != "" {
			if err := b.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", b.EnvVar, value, err))
			}
		}
	}
	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive, got %s", d)
	}
	return nil
}

func oneOf(allowed ...string) func(string) error {
	return func(value string) error {
		if slices.Contains(allowed, strings.ToLower(value)) {
			return nil
		}
		return fmt.Errorf("must be one of: %s", strings.Join(allowed, ", "))
	}
}

func intRange(lo, hi int) func(string) error {
	return func(value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d, got %d", lo, hi, n)
		}
		return nil
	}
}
