// Copyright ©2020 Steve Merrony

package cloud

import "testing"

func newTestHandler() *Handler {
	return New(Config{
		Region: RegionEU,
		APIID:  "id",
		APIKey: "key",
		Lamps: []LampConfig{
			{DeviceID: "dev1", Label: "lounge", Dimmable: true, Colour: true, Temperature: true},
			{DeviceID: "dev2", Label: "hall"},
		},
	})
}

func TestSendCommandUnknownLamp(t *testing.T) {
	h := newTestHandler()
	h.devMu.Lock()
	h.lampsByName["lounge"] = h.cfg.Lamps[0]
	h.devMu.Unlock()

	if err := h.SendCommand("nope", "on", nil); err == nil {
		t.Fatal("SendCommand should fail for an unregistered lamp label")
	}
}

func TestSendCommandRejectsUnsupportedCapability(t *testing.T) {
	h := newTestHandler()
	h.devMu.Lock()
	h.lampsByName["hall"] = h.cfg.Lamps[1] // not dimmable, not colour, not temperature
	h.devMu.Unlock()

	if err := h.SendCommand("hall", "brightness", map[string]interface{}{"brightness": 50.0}); err == nil {
		t.Fatal("SendCommand should reject brightness on a non-dimmable lamp")
	}
	if err := h.SendCommand("hall", "color_temp", map[string]interface{}{"mireds": 300.0}); err == nil {
		t.Fatal("SendCommand should reject color_temp on a lamp without a temperature channel")
	}
}

func TestSendCommandUnknownCommand(t *testing.T) {
	h := newTestHandler()
	h.devMu.Lock()
	h.lampsByName["lounge"] = h.cfg.Lamps[0]
	h.devMu.Unlock()

	if err := h.SendCommand("lounge", "frobnicate", nil); err == nil {
		t.Fatal("SendCommand should reject an unsupported command")
	}
}

func TestGetKnownDeviceAddressesReflectsLamps(t *testing.T) {
	h := newTestHandler()
	h.devMu.Lock()
	h.lampsByName["lounge"] = h.cfg.Lamps[0]
	h.lampsByName["hall"] = h.cfg.Lamps[1]
	h.devMu.Unlock()

	addrs := h.GetKnownDeviceAddresses()
	if len(addrs) != 2 {
		t.Fatalf("GetKnownDeviceAddresses = %v, want 2 entries", addrs)
	}
}

func TestRegionServerURL(t *testing.T) {
	if RegionUnknown.serverURL() != "" {
		t.Error("RegionUnknown should resolve to an empty server URL")
	}
	if RegionEU.serverURL() == "" {
		t.Error("RegionEU should resolve to a non-empty server URL")
	}
}
