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

package devicemodel

import (
	"sync"
	"time"
)

// StateCallback is invoked once per setState call, even when the new value
// equals the old one.
type StateCallback func(property string, value interface{})

// Device is the hub's protocol-agnostic representation of a physical thing.
// Identity and Type are immutable after construction; capabilities,
// properties and availability are mutable and guarded by an internal lock.
type Device struct {
	mu sync.RWMutex

	id       string
	name     string
	typ      Type
	protocol string
	address  string
	room     string

	availability Availability
	capabilities map[Capability]bool
	properties   map[string]interface{}
	lastSeen     time.Time

	stateCallback StateCallback
}

// New constructs a Device. capabilities defaults to the set implied by typ;
// pass extra to add capabilities beyond that default (sub-types may be a
// superset, never a subset).
func New(id, name string, typ Type, protocol, address string, extra ...Capability) *Device {
	d := &Device{
		id:           id,
		name:         name,
		typ:          typ,
		protocol:     protocol,
		address:      address,
		availability: AvailabilityUnknown,
		capabilities: make(map[Capability]bool),
		properties:   make(map[string]interface{}),
	}
	for _, c := range defaultCapabilities(typ) {
		d.capabilities[c] = true
	}
	for _, c := range extra {
		d.capabilities[c] = true
	}
	return d
}

// ID returns the device's globally unique identity.
func (d *Device) ID() string { return d.id }

// Name returns the human-readable name.
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

// SetName updates the human-readable name.
func (d *Device) SetName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.name = name
}

// Type returns the device's closed-set class.
func (d *Device) Type() Type { return d.typ }

// Protocol returns the owning protocol handler's name tag.
func (d *Device) Protocol() string { return d.protocol }

// Address returns the protocol-specific address, opaque to the core.
func (d *Device) Address() string { return d.address }

// Room returns the room label, if any.
func (d *Device) Room() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.room
}

// SetRoom updates the room label.
func (d *Device) SetRoom(room string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.room = room
}

// HasCapability reports whether the device's capability set includes c.
func (d *Device) HasCapability(c Capability) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.capabilities[c]
}

// AddCapability extends the device's capability set.
func (d *Device) AddCapability(c Capability) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capabilities[c] = true
}

// Capabilities returns the current capability set.
func (d *Device) Capabilities() []Capability {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Capability, 0, len(d.capabilities))
	for c := range d.capabilities {
		out = append(out, c)
	}
	return out
}

// Availability returns the last-known online/offline status.
func (d *Device) Availability() Availability {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.availability
}

// SetAvailability updates the online/offline status.
func (d *Device) SetAvailability(a Availability) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.availability = a
}

// LastSeen returns the timestamp of the most recent observed activity.
func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// Touch stamps LastSeen with the current time.
func (d *Device) Touch(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSeen = t
}

// SetStateCallback registers the single callback invoked by SetState.
// A later call replaces any previous registration.
func (d *Device) SetStateCallback(cb StateCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateCallback = cb
}

// SetState updates property in the store and fires the registered state
// callback with (property, value). It always fires the callback, even if
// the stored value is unchanged: SetState is idempotent on the store, not
// on notification.
func (d *Device) SetState(property string, value interface{}) {
	d.mu.Lock()
	d.properties[property] = value
	cb := d.stateCallback
	d.mu.Unlock()
	if cb != nil {
		cb(property, value)
	}
}

// GetProperty returns the current value of property and whether it is set.
func (d *Device) GetProperty(property string) (interface{}, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.properties[property]
	return v, ok
}

// Properties returns a snapshot copy of the full property store.
func (d *Device) Properties() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]interface{}, len(d.properties))
	for k, v := range d.properties {
		out[k] = v
	}
	return out
}
