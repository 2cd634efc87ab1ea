package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chairside/chairside/internal/errors"
	"github.com/chairside/chairside/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingConsumer struct {
	name   string
	topics []string
	mu     sync.Mutex
	got    []Event
	fail   bool
	panics bool
}

func (c *recordingConsumer) Name() string     { return c.name }
func (c *recordingConsumer) Topics() []string { return c.topics }

func (c *recordingConsumer) ProcessEvent(e Event) error {
	if c.panics {
		panic("boom")
	}
	c.mu.Lock()
	c.got = append(c.got, e)
	c.mu.Unlock()
	if c.fail {
		return fmt.Errorf("consumer failed")
	}
	return nil
}

func (c *recordingConsumer) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.got...)
}

func newTestBus(t *testing.T, size int) *EventBus {
	t.Helper()
	return NewEventBus(Config{BufferSize: size}, logger.NewSlogLogger(nil, logger.LogLevelDebug, time.UTC))
}

func TestPublishWithoutConsumersIsDropped(t *testing.T) {
	bus := newTestBus(t, 4)
	defer func() { _ = bus.Shutdown(time.Second) }()

	assert.False(t, bus.Publish(CaptureFailed{Token: "t"}))
	assert.Zero(t, bus.GetStats().EventsReceived)
}

func TestDeliveryRespectsTopicFilter(t *testing.T) {
	bus := newTestBus(t, 16)

	all := &recordingConsumer{name: "all"}
	commits := &recordingConsumer{name: "commits", topics: []string{TopicPhotosCommitted}}
	require.NoError(t, bus.RegisterConsumer(all))
	require.NoError(t, bus.RegisterConsumer(commits))

	require.True(t, bus.Publish(CaptureCompleted{Token: "a"}))
	require.True(t, bus.Publish(PhotosCommitted{FlowID: "f", AssetIDs: []string{"1"}}))
	require.NoError(t, bus.Shutdown(time.Second))

	assert.Len(t, all.events(), 2)
	require.Len(t, commits.events(), 1)
	assert.Equal(t, TopicPhotosCommitted, commits.events()[0].Topic())
}

func TestDuplicateConsumerRejected(t *testing.T) {
	bus := newTestBus(t, 4)
	defer func() { _ = bus.Shutdown(time.Second) }()

	require.NoError(t, bus.RegisterConsumer(&recordingConsumer{name: "x"}))
	assert.Error(t, bus.RegisterConsumer(&recordingConsumer{name: "x"}))
}

func TestConsumerFailuresAreCounted(t *testing.T) {
	bus := newTestBus(t, 4)

	require.NoError(t, bus.RegisterConsumer(&recordingConsumer{name: "fails", fail: true}))
	require.NoError(t, bus.RegisterConsumer(&recordingConsumer{name: "panics", panics: true}))

	require.True(t, bus.Publish(BatchDiscarded{Count: 2}))
	require.NoError(t, bus.Shutdown(time.Second))

	stats := bus.GetStats()
	assert.Equal(t, uint64(1), stats.EventsReceived)
	assert.Equal(t, uint64(2), stats.ConsumerErrors)
}

func TestTryPublishWrapsEnhancedErrors(t *testing.T) {
	bus := newTestBus(t, 4)
	c := &recordingConsumer{name: "errs", topics: []string{TopicError}}
	require.NoError(t, bus.RegisterConsumer(c))

	ee := errors.Newf("sensor gone").
		Component("camera.session").
		Category(errors.CategoryDeviceUnavailable).
		Build()
	assert.True(t, bus.TryPublish(ee))
	assert.False(t, bus.TryPublish("not an event"))
	require.NoError(t, bus.Shutdown(time.Second))

	got := c.events()
	require.Len(t, got, 1)
	occurred, ok := got[0].(ErrorOccurred)
	require.True(t, ok)
	assert.Equal(t, "camera.session", occurred.Err.GetComponent())
	assert.Equal(t, string(errors.CategoryDeviceUnavailable), occurred.Err.GetCategory())
}

func TestPublishAfterShutdown(t *testing.T) {
	bus := newTestBus(t, 4)
	require.NoError(t, bus.RegisterConsumer(&recordingConsumer{name: "c"}))
	require.NoError(t, bus.Shutdown(time.Second))

	assert.False(t, bus.Publish(CaptureFailed{}))
	assert.NoError(t, bus.Shutdown(time.Second))
}
