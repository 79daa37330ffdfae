// Copyright ©2020 Steve Merrony

package mqttdiscovery

import "testing"

func TestIsDiscoveryTopic(t *testing.T) {
	cases := []struct {
		topic string
		want  bool
	}{
		{"homeassistant/switch/bedroom/config", true},
		{"homeassistant/switch/bedroom/relay1/config", true},
		{"homeassistant/switch/bedroom/state", false},
		{"other/switch/bedroom/config", false},
	}
	for _, tc := range cases {
		if got := IsDiscoveryTopic("homeassistant", tc.topic); got != tc.want {
			t.Errorf("IsDiscoveryTopic(%q) = %v, want %v", tc.topic, got, tc.want)
		}
	}
}

func TestParseLongForm(t *testing.T) {
	payload := []byte(`{
		"unique_id": "bedroom_switch_1",
		"name": "Bedroom Switch",
		"state_topic": "bedroom/switch1/state",
		"command_topic": "bedroom/switch1/set",
		"availability_topic": "bedroom/switch1/avail",
		"payload_on": "ON",
		"payload_off": "OFF",
		"device": {"manufacturer": "Shelly", "model": "1PM", "sw_version": "20230913-114008"}
	}`)
	cfg, ok := Parse("homeassistant/switch/bedroom/switch1/config", payload)
	if !ok {
		t.Fatalf("Parse returned ok=false for a valid payload")
	}
	if cfg.UniqueID != "bedroom_switch_1" || cfg.Component != "switch" || cfg.NodeID != "bedroom" || cfg.ObjectID != "switch1" {
		t.Fatalf("Parse topic-derived fields wrong: %+v", cfg)
	}
	if cfg.StateTopic != "bedroom/switch1/state" || cfg.CommandTopic != "bedroom/switch1/set" {
		t.Fatalf("Parse state/command topics wrong: %+v", cfg)
	}
	if cfg.Device.Manufacturer != "Shelly" || cfg.Device.Model != "1PM" {
		t.Fatalf("Parse device block wrong: %+v", cfg.Device)
	}
}

func TestParseShortFormAliases(t *testing.T) {
	payload := []byte(`{
		"uniq_id": "tasmota_ABC123",
		"stat_t": "tele/plug1/STATE",
		"cmd_t": "cmnd/plug1/POWER",
		"avty_t": "tele/plug1/LWT",
		"pl_on": "ON",
		"pl_off": "OFF"
	}`)
	cfg, ok := Parse("homeassistant/switch/plug1/config", payload)
	if !ok {
		t.Fatalf("Parse returned ok=false for short-form aliases")
	}
	if cfg.UniqueID != "tasmota_ABC123" || cfg.StateTopic != "tele/plug1/STATE" || cfg.CommandTopic != "cmnd/plug1/POWER" {
		t.Fatalf("Parse short-form aliases not resolved: %+v", cfg)
	}
	if cfg.Source != SourceTasmota {
		t.Fatalf("detectSource = %v, want SourceTasmota (tele/ state topic)", cfg.Source)
	}
}

func TestParseRemovalSentinelsBothForms(t *testing.T) {
	if _, ok := Parse("homeassistant/switch/bedroom/config", []byte("")); ok {
		t.Errorf("Parse(empty string) should be ok=false")
	}
	if _, ok := Parse("homeassistant/switch/bedroom/config", []byte("{}")); ok {
		t.Errorf("Parse({}) should be ok=false")
	}
	if _, ok := Parse("homeassistant/switch/bedroom/config", []byte("  ")); ok {
		t.Errorf("Parse(whitespace) should be ok=false")
	}
}

func TestDetectSourceESPHome(t *testing.T) {
	cfg := Config{Device: DeviceInfo{SWVersion: "2023.10.0 (ESPHome)"}}
	if got := detectSource(map[string]interface{}{}, cfg); got != SourceESPHome {
		t.Errorf("detectSource = %v, want SourceESPHome", got)
	}
}

func TestManagerDiscoveryThenStateRouting(t *testing.T) {
	m := New("homeassistant")

	var discovered Config
	var stateProp string
	var stateVal interface{}
	var availBool bool

	m.SetOnDiscovery(func(cfg Config) { discovered = cfg })
	m.SetOnState(func(uniqueID, property string, value interface{}) { stateProp, stateVal = property, value })
	m.SetOnAvailability(func(uniqueID string, available bool) { availBool = available })

	discoveryPayload := []byte(`{
		"unique_id": "sw1",
		"state_topic": "sw1/state",
		"availability_topic": "sw1/avail",
		"payload_on": "ON",
		"payload_off": "OFF",
		"payload_available": "online",
		"payload_not_available": "offline"
	}`)
	m.ProcessMessage("homeassistant/switch/sw1/config", discoveryPayload)

	if discovered.UniqueID != "sw1" {
		t.Fatalf("discovery callback not fired correctly: %+v", discovered)
	}

	m.ProcessMessage("sw1/state", []byte("ON"))
	if stateProp != "state" || stateVal != true {
		t.Fatalf("state routing = (%q, %v), want (\"state\", true)", stateProp, stateVal)
	}

	m.ProcessMessage("sw1/avail", []byte("online"))
	if !availBool {
		t.Fatalf("availability routing did not report online")
	}

	m.ProcessMessage("sw1/avail", []byte("offline"))
	if availBool {
		t.Fatalf("availability routing did not report offline")
	}
}

func TestManagerRemovalByEmptyPayload(t *testing.T) {
	m := New("homeassistant")
	var removedID string
	m.SetOnRemove(func(uniqueID string) { removedID = uniqueID })

	m.ProcessMessage("homeassistant/switch/sw1/config", []byte(`{"unique_id":"sw1","state_topic":"sw1/state"}`))
	m.ProcessMessage("homeassistant/switch/sw1/config", []byte(""))

	if removedID != "sw1" {
		t.Fatalf("removal callback got %q, want \"sw1\"", removedID)
	}
	if _, ok := m.Device("sw1"); ok {
		t.Fatalf("device sw1 should no longer be tracked after removal")
	}
}

func TestManagerRemovalByConfigTopicEvenWhenIDDiffers(t *testing.T) {
	m := New("homeassistant")
	var removedID string
	m.SetOnRemove(func(uniqueID string) { removedID = uniqueID })

	// unique_id differs from the topic's node_id; removal must still resolve
	// it via the config-topic table.
	m.ProcessMessage("homeassistant/switch/node9/config", []byte(`{"unique_id":"plug_A1","state_topic":"plug/state"}`))
	m.ProcessMessage("homeassistant/switch/node9/config", []byte("{}"))

	if removedID != "plug_A1" {
		t.Fatalf("removal callback got %q, want \"plug_A1\"", removedID)
	}
	m.mu.RLock()
	_, stateStillIndexed := m.stateTopics["plug/state"]
	m.mu.RUnlock()
	if stateStillIndexed {
		t.Fatal("state topic table entry should be dropped on removal")
	}
}

func TestManagerRemovalOnUnparseablePayload(t *testing.T) {
	m := New("homeassistant")
	var removedID string
	m.SetOnRemove(func(uniqueID string) { removedID = uniqueID })

	m.ProcessMessage("homeassistant/switch/sw2/config", []byte(`{"unique_id":"sw2"}`))
	m.ProcessMessage("homeassistant/switch/sw2/config", []byte("not json at all"))

	if removedID != "sw2" {
		t.Fatalf("removal callback got %q, want \"sw2\" on parse failure", removedID)
	}
}
