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

package handler

import (
	"testing"

	"github.com/SMerrony/homehub/cerrors"
	"github.com/SMerrony/homehub/devicemodel"
	"github.com/SMerrony/homehub/zigbee/coordinator"
	"github.com/SMerrony/homehub/zigbee/transport"
)

func newTestHandler() *Handler {
	return &Handler{
		ieeeToDevice: make(map[uint64]string),
		deviceToIEEE: make(map[string]uint64),
		endpoints:    make(map[uint64]byte),
		coord:        coordinator.New(transport.New("", 0)),
	}
}

func TestIeeeToDeviceID(t *testing.T) {
	got := ieeeToDeviceID(0x00124b0012345678)
	want := "zigbee-00124b0012345678"
	if got != want {
		t.Errorf("ieeeToDeviceID() = %q, want %q", got, want)
	}
}

func TestInferDeviceTypeManufModelTableHit(t *testing.T) {
	h := newTestHandler()
	h.deviceClasses = []manufModelEntry{
		{Manufacturer: "IKEA", Model: "TRADFRI bulb E27", Type: devicemodel.ColorLight},
	}
	info := coordinator.DeviceInfo{Manufacturer: "IKEA", Model: "TRADFRI bulb E27"}
	if got := h.inferDeviceType(info); got != devicemodel.ColorLight {
		t.Errorf("inferDeviceType() = %v, want ColorLight", got)
	}
}

func TestInferDeviceTypeClusterFallback(t *testing.T) {
	h := newTestHandler()
	cases := []struct {
		name     string
		clusters []uint16
		want     devicemodel.Type
	}{
		{"colorLight", []uint16{0x0006, 0x0008, 0x0300}, devicemodel.ColorLight},
		{"dimmer", []uint16{0x0006, 0x0008}, devicemodel.Dimmer},
		{"switch", []uint16{0x0006}, devicemodel.Switch},
		{"temperature", []uint16{0x0402}, devicemodel.TemperatureSensor},
		{"multiSensor", []uint16{0x0402, 0x0405}, devicemodel.MultiSensor},
		{"motionIAS", []uint16{0x0500}, devicemodel.MotionSensor},
		{"motionOccupancy", []uint16{0x0406}, devicemodel.MotionSensor},
		{"unknown", []uint16{0x0001}, devicemodel.Unknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			info := coordinator.DeviceInfo{InClusters: map[byte][]uint16{1: c.clusters}}
			if got := h.inferDeviceType(info); got != c.want {
				t.Errorf("inferDeviceType(%v) = %v, want %v", c.clusters, got, c.want)
			}
		})
	}
}

func TestSendCommandUnknownDevice(t *testing.T) {
	h := newTestHandler()
	err := h.SendCommand("zigbee-deadbeef", "on", nil)
	if !cerrors.Is(err, cerrors.KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", err)
	}
}

func TestSendCommandDeviceNotInCoordinatorDB(t *testing.T) {
	h := newTestHandler()
	h.deviceToIEEE["zigbee-1"] = 0x1
	h.endpoints[0x1] = 1
	err := h.SendCommand("zigbee-1", "on", nil)
	if !cerrors.Is(err, cerrors.KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", err)
	}
}

func TestOnDeviceLeftPurgesMapsAndFiresAvailability(t *testing.T) {
	h := newTestHandler()
	const ieee = uint64(0xAABBCCDD)
	const deviceID = "zigbee-00000000aabbccdd"
	h.ieeeToDevice[ieee] = deviceID
	h.deviceToIEEE[deviceID] = ieee
	h.endpoints[ieee] = 1

	var gotID string
	var gotAvail devicemodel.Availability
	h.SetOnDeviceAvailability(func(id string, a devicemodel.Availability) {
		gotID = id
		gotAvail = a
	})

	h.onDeviceLeft(ieee)

	if gotID != deviceID || gotAvail != devicemodel.Offline {
		t.Errorf("availability callback fired with (%q, %v), want (%q, Offline)", gotID, gotAvail, deviceID)
	}
	if _, ok := h.ieeeToDevice[ieee]; ok {
		t.Error("ieeeToDevice entry was not purged")
	}
	if _, ok := h.deviceToIEEE[deviceID]; ok {
		t.Error("deviceToIEEE entry was not purged")
	}
	if _, ok := h.endpoints[ieee]; ok {
		t.Error("endpoints entry was not purged")
	}
}

func TestOnDeviceLeftUnknownDeviceIsNoop(t *testing.T) {
	h := newTestHandler()
	called := false
	h.SetOnDeviceAvailability(func(string, devicemodel.Availability) { called = true })
	h.onDeviceLeft(0xFFFFFFFF)
	if called {
		t.Error("availability callback fired for a device that was never known")
	}
}

func TestPublishAvailabilityWithoutCallbackIsNoop(t *testing.T) {
	h := newTestHandler()
	h.publishAvailability("zigbee-1", devicemodel.Online) // must not panic
}
