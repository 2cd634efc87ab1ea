package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/events"
	"github.com/chairside/chairside/internal/logger"
)

type message struct {
	topic   string
	payload string
}

// fakeClient records publishes without a broker.
type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	connects   int
	connectErr error
	publishErr error
	messages   []message
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Publish(_ context.Context, topic, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.messages = append(f.messages, message{topic: topic, payload: payload})
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeClient) published() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.messages...)
}

func committed() events.PhotosCommitted {
	return events.PhotosCommitted{
		FlowID:     "flow-1",
		AssetIDs:   []string{"a1", "a2"},
		TagSummary: "Class 1 · #14 · Preparation · Occlusal",
		Timestamp:  time.Date(2026, 3, 2, 9, 30, 0, 0, time.FixedZone("CET", 3600)),
	}
}

func TestNotifierPublishesSummary(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{connected: true}
	n := NewNotifier(fc, DefaultConfig())

	require.NoError(t, n.ProcessEvent(committed()))

	msgs := fc.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "chairside/commits", msgs[0].topic)

	var got CommitSummary
	require.NoError(t, json.Unmarshal([]byte(msgs[0].payload), &got))
	assert.Equal(t, "flow-1", got.FlowID)
	assert.Equal(t, []string{"a1", "a2"}, got.AssetIDs)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, "Class 1 · #14 · Preparation · Occlusal", got.Tags)
	assert.Equal(t, time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC), got.Timestamp)
	assert.Zero(t, fc.connects, "already connected clients are not reconnected")
}

func TestNotifierPayloadFieldNames(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Summarize(events.PhotosCommitted{FlowID: "f"}))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	for _, key := range []string{"flowId", "assetIds", "count", "tags", "timestamp"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, []any{}, raw["assetIds"], "empty commits encode an empty list")
}

func TestNotifierConnectsLazily(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	n := NewNotifier(fc, DefaultConfig())

	require.NoError(t, n.ProcessEvent(committed()))
	assert.Equal(t, 1, fc.connects)
	assert.Len(t, fc.published(), 1)
}

func TestNotifierConnectFailure(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{connectErr: errors.NewStd("connection refused")}
	n := NewNotifier(fc, DefaultConfig())

	require.Error(t, n.ProcessEvent(committed()))
	assert.Empty(t, fc.published())
}

func TestNotifierIgnoresOtherEvents(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{connected: true}
	n := NewNotifier(fc, DefaultConfig())

	require.NoError(t, n.ProcessEvent(events.BatchDiscarded{FlowID: "f", Count: 3}))
	assert.Empty(t, fc.published())
	assert.Equal(t, []string{events.TopicPhotosCommitted}, n.Topics())
}

func TestNotifierOnBus(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{connected: true}
	bus := events.NewEventBus(events.DefaultConfig(), logger.NewSlogLogger(nil, logger.LogLevelDebug, time.UTC))
	require.NoError(t, bus.RegisterConsumer(NewNotifier(fc, DefaultConfig())))

	require.True(t, bus.Publish(committed()))
	require.True(t, bus.Publish(events.BatchDiscarded{FlowID: "other"}))

	assert.Eventually(t, func() bool { return len(fc.published()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Shutdown(time.Second))
	assert.Len(t, fc.published(), 1)
}
