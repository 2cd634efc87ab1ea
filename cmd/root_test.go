package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chairside/chairside/internal/buildinfo"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCommand(buildinfo.NewContext("0.9.0", "2026-01-01", "test"))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := strings.Join([]string{
		"camera:",
		"  access: authorized",
		"  width: 160",
		"  height: 120",
		"store:",
		"  sqlite_path: " + filepath.Join(dir, "chairside.db"),
		"  photo_dir: " + filepath.Join(dir, "photos"),
		"logging:",
		"  default_level: error",
		extra,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "chairside 0.9.0 (built 2026-01-01)\n", out)
}

func TestConfigInitAndDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = execute(t, "config", "init", path)
	require.Error(t, err, "existing files are not overwritten")

	out, err = execute(t, "--config", path, "config", "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "position: back")
	assert.Contains(t, out, "jpeg_quality: 92")
}

func TestConfigDumpMasksSecrets(t *testing.T) {
	path := writeConfig(t, "mqtt:\n  password: hunter2\n")

	out, err := execute(t, "--config", path, "config", "dump")
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "********")
}

func TestSessionCommand(t *testing.T) {
	path := writeConfig(t, "")

	out, err := execute(t, "--config", path, "session",
		"--procedure", "Class 1", "--tooth", "14", "--stage", "Preparation", "--angle", "Occlusal",
		"--shots", "2", "--flash", "off")
	require.NoError(t, err)
	assert.Contains(t, out, "2 captured, 0 failed, 2 saved")
	assert.Contains(t, out, "Class 1")
	assert.Contains(t, out, "shot 2/2 ok")
}

func TestSessionCommandDenied(t *testing.T) {
	denied := writeConfig(t, "")
	body, err := os.ReadFile(denied)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(denied, bytes.Replace(body, []byte("access: authorized"), []byte("access: denied"), 1), 0o600))

	out, err := execute(t, "--config", denied, "session")
	require.Error(t, err)
	assert.Contains(t, out, "camera.access")
}

func TestSessionCommandRejectsBadFlags(t *testing.T) {
	path := writeConfig(t, "")

	_, err := execute(t, "--config", path, "session", "--shots", "0")
	require.Error(t, err)

	_, err = execute(t, "--config", path, "session", "--flash", "strobe")
	require.Error(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "session")
	require.Error(t, err)
}
