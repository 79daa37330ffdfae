// Copyright ©2020 Steve Merrony

package wifi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SMerrony/homehub/devicemodel"
	"github.com/SMerrony/homehub/mqttdiscovery"
	"github.com/SMerrony/homehub/shelly"
)

func newTestHandler() *Handler {
	return New(Config{DiscoveryPrefix: "homeassistant"})
}

func TestDeviceTypeForComponent(t *testing.T) {
	cases := []struct {
		component string
		want      devicemodel.Type
	}{
		{"switch", devicemodel.Switch},
		{"light", devicemodel.Light},
		{"sensor", devicemodel.Sensor},
		{"binary_sensor", devicemodel.MotionSensor},
		{"climate", devicemodel.Unknown},
	}
	for _, tc := range cases {
		if got := deviceTypeForComponent(tc.component); got != tc.want {
			t.Errorf("deviceTypeForComponent(%q) = %v, want %v", tc.component, got, tc.want)
		}
	}
}

func TestSendCommandUnknownDevice(t *testing.T) {
	h := newTestHandler()
	if err := h.SendCommand("no-such-device", "on", nil); err == nil {
		t.Fatal("SendCommand should fail for an unregistered device")
	}
}

func TestOnMQTTDiscoveryRegistersDeviceOnce(t *testing.T) {
	h := newTestHandler()

	var discoveredCount int
	h.SetOnDeviceDiscovered(func(dev *devicemodel.Device) { discoveredCount++ })

	cfg := mqttdiscovery.Config{UniqueID: "sw1", Name: "Switch 1", Component: "switch", CommandTopic: "sw1/set"}
	h.onMQTTDiscovery(cfg)
	h.onMQTTDiscovery(cfg) // re-announcement must not fire discovery twice

	if discoveredCount != 1 {
		t.Fatalf("discoveredCount = %d, want 1", discoveredCount)
	}

	h.devMu.RLock()
	_, ok := h.devices["sw1"]
	h.devMu.RUnlock()
	if !ok {
		t.Fatal("device sw1 should be registered after discovery")
	}
}

func TestSendMQTTCommandUnsupportedWithoutBroker(t *testing.T) {
	h := newTestHandler()
	cfg := mqttdiscovery.Config{UniqueID: "sw1", CommandTopic: "sw1/set", PayloadOn: "ON", PayloadOff: "OFF"}
	h.onMQTTDiscovery(cfg)

	// broker is nil in this unit test; publishing will panic without one,
	// so exercise the unsupported-command branch instead, which returns
	// before touching h.broker.
	if err := h.SendCommand("sw1", "frobnicate", nil); err == nil {
		t.Fatal("SendCommand should reject an unsupported MQTT command")
	}
}

func TestSendShellyCommandDispatchesToRelay(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Path + "?" + r.URL.RawQuery
	}))
	t.Cleanup(srv.Close)

	h := newTestHandler()
	h.shellyCli = shelly.NewWithClient(srv.Client())
	h.devMu.Lock()
	h.devices["shelly1"] = &deviceEntry{
		backend:       backendShelly,
		shellyInfo:    shelly.Info{IPAddress: srv.Listener.Addr().String(), Generation: shelly.Gen1},
		shellyChannel: 0,
	}
	h.devMu.Unlock()

	if err := h.SendCommand("shelly1", "on", nil); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if gotQuery != "/relay/0?turn=on" {
		t.Fatalf("relay request = %q, want /relay/0?turn=on", gotQuery)
	}
}

func TestSendCommandSetTranslatesProperties(t *testing.T) {
	var gotQueries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQueries = append(gotQueries, r.URL.Path+"?"+r.URL.RawQuery)
	}))
	t.Cleanup(srv.Close)

	h := newTestHandler()
	h.shellyCli = shelly.NewWithClient(srv.Client())
	h.devMu.Lock()
	h.devices["shelly1"] = &deviceEntry{
		backend:    backendShelly,
		shellyInfo: shelly.Info{IPAddress: srv.Listener.Addr().String(), Generation: shelly.Gen1},
	}
	h.devMu.Unlock()

	if err := h.SendCommand("shelly1", "set", map[string]interface{}{"on": true}); err != nil {
		t.Fatalf("SendCommand(set on): %v", err)
	}
	if err := h.SendCommand("shelly1", "set", map[string]interface{}{"brightness": 40}); err != nil {
		t.Fatalf("SendCommand(set brightness): %v", err)
	}
	want := []string{"/relay/0?turn=on", "/light/0?brightness=40"}
	if len(gotQueries) != 2 || gotQueries[0] != want[0] || gotQueries[1] != want[1] {
		t.Fatalf("set requests = %v, want %v", gotQueries, want)
	}
}

func TestSendCommandSetUnknownProperty(t *testing.T) {
	h := newTestHandler()
	h.devMu.Lock()
	h.devices["shelly1"] = &deviceEntry{backend: backendShelly}
	h.devMu.Unlock()

	if err := h.SendCommand("shelly1", "set", map[string]interface{}{"frobnicate": 1}); err == nil {
		t.Fatal("SendCommand(set) should reject an unknown property")
	}
}

func TestSendTuyaCommandUnsupported(t *testing.T) {
	h := newTestHandler()
	h.devMu.Lock()
	h.devices["tuya1"] = &deviceEntry{backend: backendTuya}
	h.devMu.Unlock()

	if err := h.sendTuyaCommand(h.devices["tuya1"], "frobnicate", nil); err == nil {
		t.Fatal("sendTuyaCommand should reject an unsupported command")
	}
}
