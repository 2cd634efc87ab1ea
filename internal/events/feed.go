package events

import (
	"sync"
)

// Feed fans out immutable snapshots to subscribers. Each subscriber channel
// holds one value; a slow reader sees the newest snapshot and misses the
// ones in between. Publish never blocks.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[chan T]struct{}
	last   T
	hasVal bool
	closed bool
}

// NewFeed creates an empty feed.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[chan T]struct{})}
}

// Subscribe returns a channel that first receives the current value, if any,
// and then every later one that the reader keeps up with. The cancel func
// closes the channel.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		close(ch)
		return ch, func() {}
	}
	if f.hasVal {
		ch <- f.last
	}
	f.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[ch]; ok {
				delete(f.subs, ch)
				close(ch)
			}
		})
	}
}

// Publish records v as the current value and offers it to every subscriber.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.last = v
	f.hasVal = true

	for ch := range f.subs {
		select {
		case ch <- v:
		default:
			// replace the stale value
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Current returns the last published value.
func (f *Feed[T]) Current() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.hasVal
}

// Close closes every subscriber channel. Later publishes are ignored.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}
