package conf

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"
)

// AccessModes are the accepted camera.access values.
var AccessModes = []string{"prompt", "authorized", "denied", "restricted"}

var logLevels = []string{"debug", "info", "warn", "warning", "error"}

// ValidationError collects every problem found in the settings.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

func (ve *ValidationError) add(format string, args ...any) {
	ve.Errors = append(ve.Errors, fmt.Sprintf(format, args...))
}

// ValidateSettings checks every section and returns a ValidationError
// listing all problems.
func ValidateSettings(s *Settings) error {
	ve := ValidationError{}

	validateCamera(&s.Camera, &ve)
	validateStore(&s.Store, &ve)
	validateVocabulary(&s.Vocabulary, &ve)
	validateLogging(s, &ve)

	if s.Telemetry.SentryEnabled && s.Telemetry.SentryDSN == "" {
		ve.add("telemetry.sentry_dsn is required when sentry is enabled")
	}
	if s.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(s.Metrics.Listen); err != nil {
			ve.add("metrics.listen %q: %v", s.Metrics.Listen, err)
		}
	}
	if s.MQTT.Enabled {
		validateMQTT(&s.MQTT, &ve)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateCamera(c *CameraSettings, ve *ValidationError) {
	c.Position = strings.ToLower(c.Position)
	c.Access = strings.ToLower(c.Access)
	c.DefaultFlash = strings.ToLower(c.DefaultFlash)

	if !slices.Contains([]string{"front", "back", "external"}, c.Position) {
		ve.add("camera.position %q must be front, back or external", c.Position)
	}
	if !slices.Contains(AccessModes, c.Access) {
		ve.add("camera.access %q must be one of %s", c.Access, strings.Join(AccessModes, ", "))
	}
	if !slices.Contains([]string{"off", "on", "auto"}, c.DefaultFlash) {
		ve.add("camera.default_flash %q must be off, on or auto", c.DefaultFlash)
	}
	if c.LockTimeout <= 0 {
		ve.add("camera.lock_timeout must be positive")
	}
	if c.CaptureTimeout < time.Second {
		ve.add("camera.capture_timeout must be at least 1s, got %s", c.CaptureTimeout)
	}
	if c.QueueSize < 1 {
		ve.add("camera.queue_size must be at least 1")
	}
	if c.Width < 16 || c.Height < 16 {
		ve.add("camera frame size %dx%d too small", c.Width, c.Height)
	}
}

func validateStore(s *StoreSettings, ve *ValidationError) {
	if s.SQLitePath == "" {
		ve.add("store.sqlite_path is required")
	}
	if s.PhotoDir == "" {
		ve.add("store.photo_dir is required")
	}
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		ve.add("store.jpeg_quality must be between 1 and 100, got %d", s.JPEGQuality)
	}
	if s.HistoryTTL <= 0 {
		ve.add("store.history_ttl must be positive")
	}
}

func validateVocabulary(v *VocabularySettings, ve *ValidationError) {
	check := func(name string, values []string) {
		if len(values) == 0 {
			ve.add("vocabulary.%s must not be empty", name)
			return
		}
		seen := make(map[string]bool, len(values))
		for _, val := range values {
			key := strings.ToLower(strings.TrimSpace(val))
			if key == "" {
				ve.add("vocabulary.%s contains an empty value", name)
				continue
			}
			if seen[key] {
				ve.add("vocabulary.%s lists %q twice", name, val)
			}
			seen[key] = true
		}
	}
	check("procedures", v.Procedures)
	check("stages", v.Stages)
	check("angles", v.Angles)
}

func validateLogging(s *Settings, ve *ValidationError) {
	if lvl := strings.ToLower(s.Logging.DefaultLevel); lvl != "" && !slices.Contains(logLevels, lvl) {
		ve.add("logging.default_level %q is not a log level", s.Logging.DefaultLevel)
	}
	if s.Debug {
		s.Logging.DefaultLevel = "debug"
	}
}

func validateMQTT(m *MQTTSettings, ve *ValidationError) {
	u, err := url.Parse(m.Broker)
	if err != nil || u.Host == "" {
		ve.add("mqtt.broker %q is not a broker URL", m.Broker)
	} else if !slices.Contains([]string{"tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts"}, u.Scheme) {
		ve.add("mqtt.broker scheme %q not supported", u.Scheme)
	}
	if m.Topic == "" {
		ve.add("mqtt.topic is required")
	}
	if m.QoS > 2 {
		ve.add("mqtt.qos must be 0, 1 or 2")
	}
}
