// Package errors - event bus integration
package errors

import (
	"sync/atomic"
)

// EventPublisher is an interface for publishing error events.
// It lets this package publish without importing the events package.
type EventPublisher interface {
	TryPublish(event any) bool
}

var globalEventPublisher atomic.Pointer[EventPublisher]

// SetEventPublisher sets the global event publisher. Passing nil detaches it.
func SetEventPublisher(publisher EventPublisher) {
	if publisher == nil {
		globalEventPublisher.Store(nil)
	} else {
		globalEventPublisher.Store(&publisher)
	}
	refreshActiveReporting()
}

// publishToEventBus publishes an error to the event bus if available
func publishToEventBus(ee *EnhancedError) {
	publisherPtr := globalEventPublisher.Load()
	if publisherPtr == nil || *publisherPtr == nil {
		return
	}
	(*publisherPtr).TryPublish(ee)
}
