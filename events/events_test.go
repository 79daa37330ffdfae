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

package events

import (
	"testing"
	"time"
)

func TestSubscribeAndPublish(t *testing.T) {
	b := New(false)
	got := make(chan Event, 1)
	b.Subscribe("Thing", func(ev Event) { got <- ev })
	b.Publish(Event{Type: "Thing", Payload: 42})

	select {
	case ev := <-got:
		if ev.Payload != 42 {
			t.Errorf("got payload %v, want 42", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestSubscribeAllFiresAfterTyped(t *testing.T) {
	b := New(false)
	var order []string
	done := make(chan struct{}, 2)
	b.Subscribe("Thing", func(ev Event) { order = append(order, "typed"); done <- struct{}{} })
	b.SubscribeAll(func(ev Event) { order = append(order, "global"); done <- struct{}{} })
	b.Publish(Event{Type: "Thing"})
	<-done
	<-done
	if len(order) != 2 || order[0] != "typed" || order[1] != "global" {
		t.Errorf("got delivery order %v, want [typed global]", order)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(false)
	calls := 0
	id := b.Subscribe("Thing", func(ev Event) { calls++ })
	b.Unsubscribe(id)
	b.Unsubscribe(id) // second call must not panic or error
	b.Publish(Event{Type: "Thing"})
	if calls != 0 {
		t.Errorf("got %d calls after unsubscribe, want 0", calls)
	}
}

func TestPublishAsyncDrain(t *testing.T) {
	b := New(false)
	calls := 0
	b.Subscribe("Thing", func(ev Event) { calls++ })
	b.PublishAsync(Event{Type: "Thing"})
	b.PublishAsync(Event{Type: "Thing"})
	if calls != 0 {
		t.Fatal("PublishAsync must not deliver synchronously")
	}
	b.Drain()
	if calls != 2 {
		t.Errorf("got %d calls after Drain, want 2", calls)
	}
}

func TestHandlerAddedDuringPublishNotInvoked(t *testing.T) {
	b := New(false)
	calls := 0
	b.Subscribe("Thing", func(ev Event) {
		calls++
		b.Subscribe("Thing", func(Event) { calls++ })
	})
	b.Publish(Event{Type: "Thing"})
	if calls != 1 {
		t.Errorf("got %d calls in first publish, want 1", calls)
	}
	b.Publish(Event{Type: "Thing"})
	if calls != 3 {
		t.Errorf("got %d calls after second publish, want 3", calls)
	}
}
