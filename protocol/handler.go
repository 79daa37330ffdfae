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

// Package protocol defines the contract every radio/IP backend (Zigbee,
// Tuya, MQTT/WiFi, Shelly) implements, plus the factory registry the
// Device Manager uses to instantiate them by name.
package protocol

import (
	"fmt"
	"sync"

	"github.com/SMerrony/homehub/devicemodel"
	"github.com/SMerrony/homehub/events"
)

// State is a Handler's connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Error
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Error:
		return "Error"
	default:
		return "Disconnected"
	}
}

// DeviceDiscoveredFunc is called once per distinct device id; subsequent
// discovery updates for the same id should reuse the existing Device.
type DeviceDiscoveredFunc func(dev *devicemodel.Device)

// DeviceStateFunc reports a single property change observed on the wire.
type DeviceStateFunc func(deviceID, property string, value interface{})

// DeviceAvailabilityFunc reports an online/offline transition.
type DeviceAvailabilityFunc func(deviceID string, availability devicemodel.Availability)

// Handler is the contract every protocol backend implements. Owners (the
// Device Manager) set the three callbacks before calling Initialize.
type Handler interface {
	Name() string
	Version() string
	Description() string

	Initialize() error
	Shutdown()
	// Poll is a cooperative tick; a no-op for push-driven backends.
	Poll()

	State() State
	IsConnected() bool
	LastError() error

	SupportsDiscovery() bool
	StartDiscovery() error
	StopDiscovery() error
	IsDiscovering() bool

	SendCommand(deviceAddress, command string, params map[string]interface{}) error

	GetStatus() map[string]interface{}
	GetKnownDeviceAddresses() []string

	SetOnDeviceDiscovered(DeviceDiscoveredFunc)
	SetOnDeviceState(DeviceStateFunc)
	SetOnDeviceAvailability(DeviceAvailabilityFunc)
}

// Factory builds a Handler given the shared event bus and the Integration's
// parsed configuration.
type Factory func(bus *events.Bus, config map[string]interface{}) (Handler, error)

// Registration is the (name, version, description, factory) tuple a
// protocol backend contributes to a Registry.
type Registration struct {
	Name        string
	Version     string
	Description string
	Factory     Factory
}

// Registry maps handler name to factory. Names must be unique within a
// process; an explicit Registry value is injected into the Device Manager
// rather than relying on a package-level global.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Registration
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Registration)}
}

// Register adds reg to the Registry. It returns an error if the name is
// already taken.
func (r *Registry) Register(reg Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[reg.Name]; exists {
		return fmt.Errorf("protocol: handler %q already registered", reg.Name)
	}
	r.byKey[reg.Name] = reg
	return nil
}

// Build instantiates the named handler via its factory.
func (r *Registry) Build(name string, bus *events.Bus, config map[string]interface{}) (Handler, error) {
	r.mu.RLock()
	reg, exists := r.byKey[name]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("protocol: no handler registered as %q", name)
	}
	return reg.Factory(bus, config)
}

// Names returns every registered handler name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		out = append(out, k)
	}
	return out
}
