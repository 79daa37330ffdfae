// Copyright ©2020 Steve Merrony

// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.

// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package events implements the hub's in-process typed publish/subscribe bus.
package events

import (
	"log"
	"sync"
)

const queuedEventsBuffer = 1000

// Event is the unit of traffic on the Bus. Type names the event kind
// ("DeviceStateEvent", "DeviceAvailabilityEvent", ...); Payload is handler-defined.
type Event struct {
	Type    string
	Payload interface{}
}

// Handler processes one Event.
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus is an in-process typed publish/subscribe bus with synchronous and
// queued delivery. The zero value is not usable; construct with New.
type Bus struct {
	mu          sync.RWMutex
	nextID      int
	byType      map[string][]subscription
	global      []subscription
	queue       chan Event
	logPublishs bool
}

// New constructs a ready-to-use Bus. If logEvents is true every publish
// is logged at DEBUG level for event tracing.
func New(logEvents bool) *Bus {
	return &Bus{
		byType:      make(map[string][]subscription),
		queue:       make(chan Event, queuedEventsBuffer),
		logPublishs: logEvents,
	}
}

// Subscribe registers handler for events of the given type and returns a
// subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.byType[eventType] = append(b.byType[eventType], subscription{id: id, handler: handler})
	return id
}

// SubscribeAll registers handler for every event published on the bus.
// Global handlers fire after type-specific handlers for a given event.
func (b *Bus) SubscribeAll(handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.global = append(b.global, subscription{id: id, handler: handler})
	return id
}

// Unsubscribe cancels a subscription. It is idempotent: unsubscribing an
// unknown or already-removed id is a no-op.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, subs := range b.byType {
		b.byType[t] = removeSub(subs, id)
	}
	b.global = removeSub(b.global, id)
}

func removeSub(subs []subscription, id int) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers ev synchronously to every matching subscriber, in
// subscription order, outside of the bus's internal lock. Handlers added
// during a Publish are not invoked for that Publish.
func (b *Bus) Publish(ev Event) {
	if b.logPublishs {
		log.Printf("DEBUG: EventBus publishing %s event with %v\n", ev.Type, ev.Payload)
	}
	b.mu.RLock()
	typed := append([]subscription(nil), b.byType[ev.Type]...)
	global := append([]subscription(nil), b.global...)
	b.mu.RUnlock()

	for _, s := range typed {
		s.handler(ev)
	}
	for _, s := range global {
		s.handler(ev)
	}
}

// PublishAsync enqueues ev for delivery by a later call to Drain. It never blocks
// the caller beyond the channel send (the queue is generously buffered).
func (b *Bus) PublishAsync(ev Event) {
	b.queue <- ev
}

// Drain delivers every currently queued event synchronously, then returns.
// It does not block waiting for further events to arrive.
func (b *Bus) Drain() {
	for {
		select {
		case ev := <-b.queue:
			b.Publish(ev)
		default:
			return
		}
	}
}
