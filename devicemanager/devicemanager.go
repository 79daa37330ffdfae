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

// Package devicemanager owns the set of protocol handlers and the set of
// Devices, wires handler callbacks to the Device Model, dispatches commands
// by device protocol, and republishes observed changes on the event bus.
// It depends on persistence and logging only through the narrow sink
// interfaces below; it never owns a database connection or a log file.
package devicemanager

import (
	"sync"
	"time"

	"github.com/SMerrony/homehub/cerrors"
	"github.com/SMerrony/homehub/devicemodel"
	"github.com/SMerrony/homehub/events"
	"github.com/SMerrony/homehub/protocol"
)

// EventDeviceDiscovered, EventDeviceState and EventDeviceAvailability are the
// event-bus type names the Manager republishes handler callbacks under.
const (
	EventDeviceDiscovered   = "DeviceDiscoveredEvent"
	EventDeviceState        = "DeviceStateEvent"
	EventDeviceAvailability = "DeviceAvailabilityEvent"
)

// PersistedDevice is one row as returned by PersistenceSink.LoadDevices.
type PersistedDevice struct {
	ID, Name            string
	Type                devicemodel.Type
	Protocol            string
	Address             string
	Room                string
	StateJSON           []byte
}

// PersistenceSink is the narrow, consumed-not-owned storage interface the
// Manager calls on shutdown and periodically. Its durability and schema are
// the collaborator's concern, not the core's.
type PersistenceSink interface {
	PersistDevice(id, name string, typ devicemodel.Type, protocolName, address, room string, configJSON []byte) error
	PersistState(id, property string, value interface{}, timestamp time.Time) error
	LoadDevices() ([]PersistedDevice, error)
}

// LogSink is the narrow logging interface the Manager calls at four levels.
type LogSink interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// Manager owns every live protocol.Handler and every devicemodel.Device.
type Manager struct {
	bus      *events.Bus
	registry *protocol.Registry
	persist  PersistenceSink
	log      LogSink

	mu       sync.RWMutex
	handlers map[string]protocol.Handler // keyed by handler name
	devices  map[string]*devicemodel.Device
}

// New constructs a Manager. persist and log may be nil; a nil persist makes
// SaveAllDevices and LoadPersistedDevices no-ops, and a nil log silences the
// Manager's own diagnostic output.
func New(bus *events.Bus, registry *protocol.Registry, persist PersistenceSink, log LogSink) *Manager {
	return &Manager{
		bus:      bus,
		registry: registry,
		persist:  persist,
		log:      log,
		handlers: make(map[string]protocol.Handler),
		devices:  make(map[string]*devicemodel.Device),
	}
}

// LoadProtocol instantiates the named handler via the registry, wires its
// three callbacks to the Manager, initializes it, and registers it. It
// returns an error if a handler of that name is already loaded or if
// Initialize fails.
func (m *Manager) LoadProtocol(name string, config map[string]interface{}) error {
	m.mu.Lock()
	if _, exists := m.handlers[name]; exists {
		m.mu.Unlock()
		return cerrors.New(cerrors.KindInternal, "devicemanager.LoadProtocol", "handler "+name+" already loaded")
	}
	m.mu.Unlock()

	h, err := m.registry.Build(name, m.bus, config)
	if err != nil {
		return cerrors.Wrap(cerrors.KindNotFound, "devicemanager.LoadProtocol", "building handler "+name, err)
	}

	h.SetOnDeviceDiscovered(m.handleDeviceDiscovered)
	h.SetOnDeviceState(m.handleDeviceState)
	h.SetOnDeviceAvailability(m.handleDeviceAvailability)

	if err := h.Initialize(); err != nil {
		return cerrors.Wrap(cerrors.KindIoError, "devicemanager.LoadProtocol", "initializing handler "+name, err)
	}

	m.mu.Lock()
	m.handlers[name] = h
	m.mu.Unlock()
	m.logf(LevelInfo, "devicemanager: loaded protocol %s", name)
	return nil
}

// UnloadProtocol shuts down and removes a previously loaded handler.
func (m *Manager) UnloadProtocol(name string) error {
	m.mu.Lock()
	h, exists := m.handlers[name]
	if !exists {
		m.mu.Unlock()
		return cerrors.New(cerrors.KindNotFound, "devicemanager.UnloadProtocol", "no such handler "+name)
	}
	delete(m.handlers, name)
	m.mu.Unlock()

	h.Shutdown()
	return nil
}

// AddDevice registers dev directly, bypassing handler discovery (used for
// devices restored from persistence, or purely local/virtual devices with no
// live handler) and wires its state callback to the Manager. Duplicate ids
// are rejected.
func (m *Manager) AddDevice(dev *devicemodel.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.devices[dev.ID()]; exists {
		return cerrors.New(cerrors.KindInternal, "devicemanager.AddDevice", "duplicate device id "+dev.ID())
	}
	dev.SetStateCallback(func(property string, value interface{}) {
		m.onDeviceModelState(dev.ID(), property, value)
	})
	m.devices[dev.ID()] = dev
	return nil
}

// Device looks up a device by id.
func (m *Manager) Device(id string) (*devicemodel.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok
}

// Devices returns a snapshot of every known device.
func (m *Manager) Devices() []*devicemodel.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*devicemodel.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

// SetDeviceState looks up device_id, finds its owning handler by
// device.Protocol(), and issues send_command(device.address, "set",
// {property: value}). Devices with no live handler (local/virtual) have
// their state set directly.
func (m *Manager) SetDeviceState(deviceID, property string, value interface{}) error {
	m.mu.RLock()
	dev, ok := m.devices[deviceID]
	var h protocol.Handler
	if ok {
		h, ok = m.handlers[dev.Protocol()]
	}
	m.mu.RUnlock()

	if dev == nil {
		return cerrors.New(cerrors.KindNotFound, "devicemanager.SetDeviceState", "unknown device "+deviceID)
	}

	if !ok || h == nil {
		dev.SetState(property, value) // fires onDeviceModelState, which persists and publishes
		return nil
	}

	return h.SendCommand(dev.Address(), "set", map[string]interface{}{property: value})
}

func (m *Manager) handleDeviceDiscovered(dev *devicemodel.Device) {
	m.mu.Lock()
	_, existed := m.devices[dev.ID()]
	if !existed {
		m.devices[dev.ID()] = dev
	}
	m.mu.Unlock()

	if existed {
		return
	}

	dev.SetStateCallback(func(property string, value interface{}) {
		m.onDeviceModelState(dev.ID(), property, value)
	})

	if m.persist != nil {
		if err := m.persist.PersistDevice(dev.ID(), dev.Name(), dev.Type(), dev.Protocol(), dev.Address(), dev.Room(), nil); err != nil {
			m.logf(LevelWarning, "devicemanager: persisting new device %s: %v", dev.ID(), err)
		}
	}
	m.bus.Publish(events.Event{Type: EventDeviceDiscovered, Payload: dev})
	m.logf(LevelDebug, "devicemanager: discovered device %s (%s)", dev.ID(), dev.Type())
}

// handleDeviceState is the callback a protocol.Handler invokes when it
// observes a property change on the wire.
func (m *Manager) handleDeviceState(deviceID, property string, value interface{}) {
	m.mu.RLock()
	dev, ok := m.devices[deviceID]
	m.mu.RUnlock()
	if !ok {
		m.logf(LevelWarning, "devicemanager: state for unknown device %s ignored", deviceID)
		return
	}
	dev.Touch(timeNow())
	dev.SetState(property, value) // fires onDeviceModelState, which publishes
}

// onDeviceModelState is the Device's own StateCallback, invoked by SetState
// regardless of whether the call originated from a handler or from
// SetDeviceState's direct-set path.
func (m *Manager) onDeviceModelState(deviceID, property string, value interface{}) {
	if m.persist != nil {
		if err := m.persist.PersistState(deviceID, property, value, timeNow()); err != nil {
			m.logf(LevelWarning, "devicemanager: persisting state for %s: %v", deviceID, err)
		}
	}
	m.publishState(deviceID, property, value)
}

func (m *Manager) publishState(deviceID, property string, value interface{}) {
	m.bus.Publish(events.Event{
		Type: EventDeviceState,
		Payload: DeviceStatePayload{
			DeviceID: deviceID,
			Property: property,
			Value:    value,
		},
	})
}

func (m *Manager) handleDeviceAvailability(deviceID string, availability devicemodel.Availability) {
	m.mu.RLock()
	dev, ok := m.devices[deviceID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	dev.SetAvailability(availability)
	m.bus.Publish(events.Event{
		Type: EventDeviceAvailability,
		Payload: DeviceAvailabilityPayload{
			DeviceID:     deviceID,
			Availability: availability,
		},
	})
}

// DeviceStatePayload is the Payload carried by EventDeviceState events.
type DeviceStatePayload struct {
	DeviceID string
	Property string
	Value    interface{}
}

// DeviceAvailabilityPayload is the Payload carried by EventDeviceAvailability events.
type DeviceAvailabilityPayload struct {
	DeviceID     string
	Availability devicemodel.Availability
}

// LoadPersistedDevices populates the Manager's device set from the
// persistence sink at startup, before any handler is loaded. Restored
// devices have no live handler until a subsequent discovery re-associates
// them; SetDeviceState falls back to direct-set for them until then.
func (m *Manager) LoadPersistedDevices() error {
	if m.persist == nil {
		return nil
	}
	rows, err := m.persist.LoadDevices()
	if err != nil {
		return cerrors.Wrap(cerrors.KindIoError, "devicemanager.LoadPersistedDevices", "loading devices", err)
	}
	for _, r := range rows {
		dev := devicemodel.New(r.ID, r.Name, r.Type, r.Protocol, r.Address)
		dev.SetRoom(r.Room)
		dev.SetStateCallback(func(property string, value interface{}) {
			m.onDeviceModelState(dev.ID(), property, value)
		})
		if err := m.AddDevice(dev); err != nil {
			m.logf(LevelWarning, "devicemanager: restoring device %s: %v", r.ID, err)
		}
	}
	return nil
}

// SaveAllDevices delegates to the injected persistence sink for every known
// device and its current property snapshot; the core does not specify a
// schema for the sink's storage.
func (m *Manager) SaveAllDevices() error {
	if m.persist == nil {
		return nil
	}
	now := timeNow()
	for _, dev := range m.Devices() {
		if err := m.persist.PersistDevice(dev.ID(), dev.Name(), dev.Type(), dev.Protocol(), dev.Address(), dev.Room(), nil); err != nil {
			return cerrors.Wrap(cerrors.KindIoError, "devicemanager.SaveAllDevices", "persisting device "+dev.ID(), err)
		}
		for property, value := range dev.Properties() {
			if err := m.persist.PersistState(dev.ID(), property, value, now); err != nil {
				return cerrors.Wrap(cerrors.KindIoError, "devicemanager.SaveAllDevices", "persisting state for "+dev.ID(), err)
			}
		}
	}
	return nil
}

// Poll ticks every loaded handler's cooperative Poll method.
func (m *Manager) Poll() {
	m.mu.RLock()
	handlers := make([]protocol.Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()
	for _, h := range handlers {
		h.Poll()
	}
}

// Shutdown stops discovery and tears down every loaded handler, marks all
// devices offline, and saves state one final time.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	handlers := make([]protocol.Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		_ = h.StopDiscovery()
		h.Shutdown()
	}

	for _, dev := range m.Devices() {
		dev.SetAvailability(devicemodel.Offline)
	}

	if err := m.SaveAllDevices(); err != nil {
		m.logf(LevelWarning, "devicemanager: saving devices on shutdown: %v", err)
	}
}

// Level names the four LogSink severities, matching the DEBUG/INFO/
// WARNING/ERROR prefixes used throughout the hub's logging.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

func (m *Manager) logf(level Level, format string, args ...interface{}) {
	if m.log == nil {
		return
	}
	switch level {
	case LevelDebug:
		m.log.Debug(format, args...)
	case LevelInfo:
		m.log.Info(format, args...)
	case LevelWarning:
		m.log.Warning(format, args...)
	default:
		m.log.Error(format, args...)
	}
}

// timeNow is a thin indirection point kept separate from time.Now so that
// tests can substitute a fixed clock without reaching into Manager internals.
var timeNow = time.Now
