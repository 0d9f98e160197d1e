// Copyright (c) The taskbench authors 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package events

import (
	"sync"
)

// DefaultSubscriptionBuffer is the channel buffer used by Subscribe when no
// explicit size is given. A larger buffer reduces the chance of dropped
// events for slow consumers.
const DefaultSubscriptionBuffer = 64

// Bus fans events out to any number of subscribers. Each subscriber holds an
// explicit handle that must be closed to unsubscribe; this keeps repeated
// executions from leaking listeners.
//
// Publishing is non-blocking: events for a subscriber whose buffer is full
// are dropped rather than delaying delivery to other subscribers. Events are
// delivered to each subscriber in publish order.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBus creates a new event bus with no subscribers.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[uint64]*Subscription),
	}
}

// Subscription is a handle to a single subscriber's event stream.
type Subscription struct {
	id  uint64
	bus *Bus
	ch  chan Event

	closeOnce sync.Once
}

// Events returns the channel on which the subscriber receives events.
// The channel is closed when the subscription or the bus is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unsubscribes from the bus and closes the event channel.
// It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s.id)
		close(s.ch)
	})
}

// Subscribe registers a new subscriber with the given channel buffer size.
// A bufferSize <= 0 uses DefaultSubscriptionBuffer.
func (b *Bus) Subscribe(bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriptionBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id:  b.nextID,
		bus: b,
		ch:  make(chan Event, bufferSize),
	}

	if b.closed {
		// Late subscribers on a closed bus get an already-closed channel.
		sub.closeOnce.Do(func() { close(sub.ch) })
		return sub
	}

	b.subs[b.nextID] = sub
	b.nextID++

	return sub
}

// Publish implements Publisher. It delivers the event to every current
// subscriber without blocking; a subscriber with a full buffer misses the
// event.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			// Subscriber is not keeping up, drop the event.
		}
	}
}

// Close shuts down the bus and closes all subscriber channels.
// Subsequent publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return
	}

	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.closeOnce.Do(func() { close(sub.ch) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

var _ Publisher = (*Bus)(nil)
