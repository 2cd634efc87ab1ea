package events

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chairside/chairside/internal/logger"
)

// EventBus provides asynchronous event processing with non-blocking publishing
type EventBus struct {
	eventChan chan Event

	bufferSize int
	workers    int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	mu      sync.Mutex

	consumers []EventConsumer

	received  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	errored   atomic.Uint64

	logger logger.Logger
}

// Config holds event bus configuration
type Config struct {
	BufferSize int
	Workers    int
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() Config {
	return Config{
		BufferSize: 1024,
		Workers:    1,
	}
}

// NewEventBus creates a bus. Workers start with the first consumer.
// A single worker keeps delivery in publish order.
func NewEventBus(config Config, log logger.Logger) *EventBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if log == nil {
		log = logger.Global().Module("events")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		eventChan:  make(chan Event, config.BufferSize),
		bufferSize: config.BufferSize,
		workers:    config.Workers,
		ctx:        ctx,
		cancel:     cancel,
		logger:     log,
	}
}

// RegisterConsumer adds a new event consumer
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) error {
	if eb == nil {
		return fmt.Errorf("event bus not initialized")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return fmt.Errorf("consumer %s already registered", consumer.Name())
		}
	}

	eb.consumers = append(eb.consumers, consumer)
	eb.logger.Info("registered event consumer",
		logger.String("consumer", consumer.Name()),
		logger.Any("topics", consumer.Topics()))

	if !eb.running.Load() {
		eb.start()
	}
	return nil
}

// Publish publishes a typed event without blocking.
// Returns true if the event was accepted, false if dropped.
func (eb *EventBus) Publish(event Event) bool {
	if eb == nil || event == nil || !eb.running.Load() {
		return false
	}

	select {
	case eb.eventChan <- event:
		eb.received.Add(1)
		return true
	default:
		eb.dropped.Add(1)
		eb.logger.Debug("event dropped due to full buffer", logger.String("topic", event.Topic()))
		return false
	}
}

// TryPublish accepts events from packages that cannot import this one.
// Enhanced errors arrive here through errors.SetEventPublisher.
func (eb *EventBus) TryPublish(event any) bool {
	switch e := event.(type) {
	case Event:
		return eb.Publish(e)
	case ErrorEvent:
		return eb.Publish(ErrorOccurred{Err: e})
	default:
		return false
	}
}

func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return
	}
	for i := range eb.workers {
		eb.wg.Add(1)
		go eb.worker(i)
	}
}

func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()

	log := eb.logger.With(logger.Int("worker_id", id))
	log.Debug("worker started")

	for {
		select {
		case <-eb.ctx.Done():
			eb.drain()
			return
		case event := <-eb.eventChan:
			eb.processEvent(event, log)
		}
	}
}

// drain delivers whatever was accepted before shutdown.
func (eb *EventBus) drain() {
	for {
		select {
		case event := <-eb.eventChan:
			eb.processEvent(event, eb.logger)
		default:
			return
		}
	}
}

func (eb *EventBus) processEvent(event Event, log logger.Logger) {
	eb.mu.Lock()
	consumers := slices.Clone(eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		if topics := consumer.Topics(); len(topics) > 0 && !slices.Contains(topics, event.Topic()) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.errored.Add(1)
					log.Error("consumer panicked",
						logger.String("consumer", consumer.Name()),
						logger.String("topic", event.Topic()),
						logger.Any("panic", r))
				}
			}()

			if err := consumer.ProcessEvent(event); err != nil {
				eb.errored.Add(1)
				log.Warn("consumer error",
					logger.String("consumer", consumer.Name()),
					logger.String("topic", event.Topic()),
					logger.Error(err))
				return
			}
			eb.processed.Add(1)
		}()
	}
}

// Shutdown stops accepting events, drains the buffer and waits for workers
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb == nil {
		return nil
	}

	wasRunning := eb.running.Swap(false)
	eb.cancel()
	if !wasRunning {
		return nil
	}

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Debug("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		eb.logger.Warn("event bus shutdown timeout exceeded", logger.Duration("timeout", timeout))
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// GetStats returns current event bus statistics
func (eb *EventBus) GetStats() EventBusStats {
	if eb == nil {
		return EventBusStats{}
	}
	return EventBusStats{
		EventsReceived:  eb.received.Load(),
		EventsProcessed: eb.processed.Load(),
		EventsDropped:   eb.dropped.Load(),
		ConsumerErrors:  eb.errored.Load(),
	}
}

// ConsumerFunc adapts a function to EventConsumer.
type ConsumerFunc struct {
	ConsumerName string
	TopicFilter  []string
	Fn           func(Event) error
}

func (c ConsumerFunc) Name() string                   { return c.ConsumerName }
func (c ConsumerFunc) Topics() []string               { return c.TopicFilter }
func (c ConsumerFunc) ProcessEvent(event Event) error { return c.Fn(event) }
