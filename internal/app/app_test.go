package app

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chairside/chairside/internal/buildinfo"
	"github.com/chairside/chairside/internal/camera/device"
	"github.com/chairside/chairside/internal/camera/permission"
	"github.com/chairside/chairside/internal/camera/session"
	"github.com/chairside/chairside/internal/camera/simulator"
	"github.com/chairside/chairside/internal/conf"
	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/flow"
	"github.com/chairside/chairside/internal/logger"
	"github.com/chairside/chairside/internal/mqtt"
)

type recordingClient struct {
	mu       sync.Mutex
	payloads []string
}

func (c *recordingClient) Connect(context.Context) error { return nil }
func (c *recordingClient) IsConnected() bool             { return true }
func (c *recordingClient) Disconnect()                   {}

func (c *recordingClient) Publish(_ context.Context, _ string, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *recordingClient) published() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.payloads...)
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s, err := conf.Defaults()
	require.NoError(t, err)
	dir := t.TempDir()
	s.Store.SQLitePath = filepath.Join(dir, "chairside.db")
	s.Store.PhotoDir = filepath.Join(dir, "photos")
	s.Camera.Access = "authorized"
	s.Camera.CaptureTimeout = 2 * time.Second
	return s
}

func newTestApp(t *testing.T, s *conf.Settings, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{
		WithLogger(logger.NewSlogLogger(nil, logger.LogLevelDebug, time.UTC)),
		WithHardware(simulator.New(simulator.Options{Width: 64, Height: 48})),
	}, opts...)
	a, err := New(s, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, a.Close(ctx))
	})
	return a
}

func ptr[T any](v T) *T { return &v }

func TestRunSessionCommitsToStore(t *testing.T) {
	s := testSettings(t)
	s.MQTT.Enabled = true
	client := &recordingClient{}
	a := newTestApp(t, s, WithMQTTClient(client))

	res, err := a.RunSession(t.Context(), Script{
		Prefill: flow.Prefill{
			Procedure:   ptr("Class 2"),
			ToothNumber: ptr(30),
			Stage:       ptr("Preparation"),
			Angle:       ptr("Occlusal"),
		},
		Shots: 3,
		Flash: device.FlashOff,
		Zoom:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Captured)
	assert.Zero(t, res.Failed)
	assert.Len(t, res.Assets, 3)
	assert.Contains(t, res.String(), "3 saved")

	n, err := a.Store.Count(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	history, err := a.Metadata.ToothHistory(t.Context(), "Class 2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 30, history[0].Number)
	assert.Equal(t, 3, history[0].Photos)

	assert.Equal(t, session.StateReady, a.Session.Snapshot().State)
	assert.InDelta(t, 2.0, a.Session.Snapshot().Zoom, 1e-9)

	require.Eventually(t, func() bool { return len(client.published()) == 1 }, 2*time.Second, 10*time.Millisecond)
	var summary mqtt.CommitSummary
	require.NoError(t, json.Unmarshal([]byte(client.published()[0]), &summary))
	assert.Equal(t, res.FlowID, summary.FlowID)
	assert.Equal(t, 3, summary.Count)
}

func TestRunSessionWithoutProcedureSkipsSetup(t *testing.T) {
	a := newTestApp(t, testSettings(t))

	res, err := a.RunSession(t.Context(), Script{Shots: 1})
	require.NoError(t, err)
	assert.Len(t, res.Assets, 1)
}

func TestRunSessionDiscard(t *testing.T) {
	a := newTestApp(t, testSettings(t))

	res, err := a.RunSession(t.Context(), Script{
		Prefill: flow.Prefill{Procedure: ptr("Class 1")},
		Shots:   2,
		Discard: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Captured)
	assert.Empty(t, res.Assets)

	n, err := a.Store.Count(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunSessionAccessDenied(t *testing.T) {
	s := testSettings(t)
	s.Camera.Access = "denied"
	a := newTestApp(t, s)

	_, err := a.RunSession(t.Context(), Script{Shots: 1})
	require.ErrorIs(t, err, ErrAccessNotGranted)
	assert.True(t, errors.IsCategory(err, errors.CategoryPermissionDenied))
	assert.Equal(t, session.StateUnconfigured, a.Session.Snapshot().State)
}

func TestRunSessionNothingCaptured(t *testing.T) {
	hw := simulator.New(simulator.Options{Width: 64, Height: 48})
	a := newTestApp(t, testSettings(t), WithHardware(hw))

	_, err := a.Session.RequestPermission(t.Context())
	require.NoError(t, err)
	require.NoError(t, a.Session.StartAndWait(t.Context()))
	dev := hw.Device("sim-back")
	require.NotNil(t, dev)
	dev.QueueBehavior(simulator.CaptureCorrupt, simulator.CaptureCorrupt)

	res, err := a.RunSession(t.Context(), Script{Shots: 2})
	require.ErrorIs(t, err, ErrNothingCaptured)
	assert.Equal(t, 2, res.Failed)
	assert.Zero(t, res.Captured)
	assert.Equal(t, session.StateReady, a.Session.Snapshot().State)
}

func TestStatusServer(t *testing.T) {
	s := testSettings(t)
	s.Metrics.Enabled = true
	s.Metrics.Listen = "127.0.0.1:0"
	a := newTestApp(t, s, WithBuildInfo(buildinfo.NewContext("2.0.0", "", "test")))
	require.NotNil(t, a.HTTP)
	require.NoError(t, a.Serve())

	_, err := a.NewFlow(&flow.Prefill{Procedure: ptr("Class 3")})
	require.NoError(t, err)

	client := &http.Client{Timeout: 2 * time.Second}
	defer client.CloseIdleConnections()
	resp, err := client.Get("http://" + a.HTTP.Addr().String() + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Version string         `json:"version"`
		Flow    map[string]any `json:"flow"`
		Session map[string]any `json:"session"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "2.0.0", body.Version)
	assert.Equal(t, "camera", body.Flow["state"])
	assert.Equal(t, "unconfigured", body.Session["state"])

	metricsResp, err := client.Get("http://" + a.HTTP.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestNewRejectsBadCameraSettings(t *testing.T) {
	s := testSettings(t)
	s.Camera.Position = "ceiling"

	_, err := New(s,
		WithLogger(logger.NewSlogLogger(nil, logger.LogLevelDebug, time.UTC)),
		WithHardware(simulator.New(simulator.Options{})))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestPermissionProvider(t *testing.T) {
	tests := map[string]session.AuthorizationState{
		"authorized": session.AuthAuthorized,
		"denied":     session.AuthDenied,
		"restricted": session.AuthRestricted,
	}
	for access, want := range tests {
		p, ok := PermissionProvider(access).(*permission.Static)
		require.True(t, ok, access)
		assert.Equal(t, want, p.State)
	}
	_, ok := PermissionProvider("prompt").(*permission.Prompt)
	assert.True(t, ok)
}
