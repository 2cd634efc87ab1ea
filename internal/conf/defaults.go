package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default vocabularies.
var (
	DefaultProcedures = []string{"Class 1", "Class 2", "Class 3", "Class 4", "Class 5", "Crown Prep", "Endo Access"}
	DefaultStages     = []string{"Pre-op", "Isolation", "Preparation", "Restoration", "Post-op"}
	DefaultAngles     = []string{"Occlusal", "Buccal", "Lingual", "Mesial", "Distal", "Facial"}
)

// setDefaults sets default values for every key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("camera.position", "back")
	v.SetDefault("camera.access", "prompt")
	v.SetDefault("camera.lock_timeout", 2*time.Second)
	v.SetDefault("camera.capture_timeout", 10*time.Second)
	v.SetDefault("camera.default_flash", "auto")
	v.SetDefault("camera.queue_size", 32)
	v.SetDefault("camera.width", 1280)
	v.SetDefault("camera.height", 960)

	v.SetDefault("store.sqlite_path", "data/chairside.db")
	v.SetDefault("store.photo_dir", "data/photos")
	v.SetDefault("store.jpeg_quality", 92)
	v.SetDefault("store.history_ttl", 5*time.Minute)

	v.SetDefault("vocabulary.procedures", DefaultProcedures)
	v.SetDefault("vocabulary.stages", DefaultStages)
	v.SetDefault("vocabulary.angles", DefaultAngles)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/chairside.log")
	v.SetDefault("logging.file_output.level", "debug")

	v.SetDefault("telemetry.sentry_enabled", false)
	v.SetDefault("telemetry.sentry_dsn", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:8090")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "chairside/commits")
	v.SetDefault("mqtt.client_id", "chairside")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", false)
}
