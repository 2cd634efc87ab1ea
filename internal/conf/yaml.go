package conf

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/chairside/chairside/internal/errors"
)

const redacted = "********"

// Redacted returns a copy with secrets masked.
func (s *Settings) Redacted() *Settings {
	c := *s
	if c.MQTT.Password != "" {
		c.MQTT.Password = redacted
	}
	if c.Telemetry.SentryDSN != "" {
		c.Telemetry.SentryDSN = redacted
	}
	return &c
}

// Dump renders settings as YAML.
func Dump(s *Settings) ([]byte, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal").
			Build()
	}
	return out, nil
}

// WriteDefault writes a config file holding the defaults to path. An
// existing file is left alone and reported as an error.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file %s already exists", path).
			Component("conf").
			Category(errors.CategoryConflict).
			Build()
	}

	s, err := Defaults()
	if err != nil {
		return err
	}
	data, err := Dump(s)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "config-*.yaml")
	if err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	if err := tmp.Close(); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	return nil
}
