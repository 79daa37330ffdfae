// Copyright ©2020 Steve Merrony

package devicemanager

import (
	"testing"
	"time"

	"github.com/SMerrony/homehub/devicemodel"
	"github.com/SMerrony/homehub/events"
	"github.com/SMerrony/homehub/protocol"
)

type fakePersistence struct {
	devices []string
	states  []DeviceStatePayload
}

func (f *fakePersistence) PersistDevice(id, name string, typ devicemodel.Type, protocolName, address, room string, configJSON []byte) error {
	f.devices = append(f.devices, id)
	return nil
}

func (f *fakePersistence) PersistState(id, property string, value interface{}, timestamp time.Time) error {
	f.states = append(f.states, DeviceStatePayload{DeviceID: id, Property: property, Value: value})
	return nil
}

func (f *fakePersistence) LoadDevices() ([]PersistedDevice, error) { return nil, nil }

func newTestManager() (*Manager, *fakePersistence) {
	bus := events.New(false)
	registry := protocol.NewRegistry()
	persist := &fakePersistence{}
	return New(bus, registry, persist, nil), persist
}

func TestAddDeviceRejectsDuplicate(t *testing.T) {
	m, _ := newTestManager()
	dev := devicemodel.New("d1", "Device 1", devicemodel.Switch, "wifi", "1.2.3.4")
	if err := m.AddDevice(dev); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if err := m.AddDevice(dev); err == nil {
		t.Fatal("AddDevice should reject a duplicate id")
	}
}

func TestSetDeviceStateDirectSetWithNoHandler(t *testing.T) {
	m, persist := newTestManager()
	dev := devicemodel.New("d1", "Device 1", devicemodel.Switch, "wifi", "1.2.3.4")
	if err := m.AddDevice(dev); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	if err := m.SetDeviceState("d1", "on", true); err != nil {
		t.Fatalf("SetDeviceState: %v", err)
	}

	v, ok := dev.GetProperty("on")
	if !ok || v != true {
		t.Fatalf("device property not set directly: %v, %v", v, ok)
	}
	if len(persist.states) != 1 || persist.states[0].Property != "on" {
		t.Fatalf("persisted states = %+v, want one \"on\" entry", persist.states)
	}
}

type fakeHandler struct {
	protocol.Handler // panic on anything not overridden below

	gotAddress string
	gotCommand string
	gotParams  map[string]interface{}
}

func (f *fakeHandler) Initialize() error { return nil }
func (f *fakeHandler) Shutdown()         {}
func (f *fakeHandler) StopDiscovery() error { return nil }
func (f *fakeHandler) SetOnDeviceDiscovered(protocol.DeviceDiscoveredFunc)     {}
func (f *fakeHandler) SetOnDeviceState(protocol.DeviceStateFunc)               {}
func (f *fakeHandler) SetOnDeviceAvailability(protocol.DeviceAvailabilityFunc) {}

func (f *fakeHandler) SendCommand(address, command string, params map[string]interface{}) error {
	f.gotAddress, f.gotCommand, f.gotParams = address, command, params
	return nil
}

func TestSetDeviceStateRoutesToOwningHandler(t *testing.T) {
	m, _ := newTestManager()
	fake := &fakeHandler{}
	if err := m.registry.Register(protocol.Registration{
		Name:    "fake",
		Factory: func(*events.Bus, map[string]interface{}) (protocol.Handler, error) { return fake, nil },
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.LoadProtocol("fake", nil); err != nil {
		t.Fatalf("LoadProtocol: %v", err)
	}

	dev := devicemodel.New("d1", "Device 1", devicemodel.Switch, "fake", "addr-1")
	if err := m.AddDevice(dev); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	if err := m.SetDeviceState("d1", "on", true); err != nil {
		t.Fatalf("SetDeviceState: %v", err)
	}
	if fake.gotAddress != "addr-1" || fake.gotCommand != "set" {
		t.Fatalf("handler got (%q, %q), want (\"addr-1\", \"set\")", fake.gotAddress, fake.gotCommand)
	}
	if v, ok := fake.gotParams["on"]; !ok || v != true {
		t.Fatalf("handler params = %v, want {\"on\": true}", fake.gotParams)
	}
}

func TestSetDeviceStateUnknownDevice(t *testing.T) {
	m, _ := newTestManager()
	if err := m.SetDeviceState("nope", "on", true); err == nil {
		t.Fatal("SetDeviceState should fail for an unknown device")
	}
}

func TestHandleDeviceDiscoveredPublishesOnce(t *testing.T) {
	m, persist := newTestManager()

	var publishCount int
	m.bus.SubscribeAll(func(events.Event) { publishCount++ })

	dev := devicemodel.New("d1", "Device 1", devicemodel.Switch, "wifi", "1.2.3.4")
	m.handleDeviceDiscovered(dev)
	m.handleDeviceDiscovered(dev) // re-discovery of the same id must not re-publish

	if publishCount != 1 {
		t.Fatalf("publishCount = %d, want 1", publishCount)
	}
	if len(persist.devices) != 1 {
		t.Fatalf("persist.devices = %v, want one entry", persist.devices)
	}
}

func TestHandleDeviceStateIgnoresUnknownDevice(t *testing.T) {
	m, _ := newTestManager()
	var publishCount int
	m.bus.SubscribeAll(func(events.Event) { publishCount++ })

	m.handleDeviceState("nope", "on", true)

	if publishCount != 0 {
		t.Fatalf("publishCount = %d, want 0 for an unregistered device", publishCount)
	}
}

func TestHandleDeviceAvailabilityUpdatesDevice(t *testing.T) {
	m, _ := newTestManager()
	dev := devicemodel.New("d1", "Device 1", devicemodel.Switch, "wifi", "1.2.3.4")
	if err := m.AddDevice(dev); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	m.handleDeviceAvailability("d1", devicemodel.Offline)

	if dev.Availability() != devicemodel.Offline {
		t.Fatalf("Availability() = %v, want Offline", dev.Availability())
	}
}

func TestSaveAllDevicesDelegatesToSink(t *testing.T) {
	m, persist := newTestManager()
	dev := devicemodel.New("d1", "Device 1", devicemodel.Switch, "wifi", "1.2.3.4")
	dev.SetState("on", true)
	if err := m.AddDevice(dev); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	if err := m.SaveAllDevices(); err != nil {
		t.Fatalf("SaveAllDevices: %v", err)
	}
	if len(persist.devices) != 1 {
		t.Fatalf("persist.devices = %v, want one entry", persist.devices)
	}
}
