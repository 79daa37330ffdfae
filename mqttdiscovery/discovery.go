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

// Package mqttdiscovery parses Home-Assistant-style MQTT discovery payloads
// (as used by Tasmota, ESPHome and Zigbee2MQTT) and tracks the resulting
// devices' state/availability topic tables. It is a stateless parser plus a
// stateful Manager; it does not itself speak to a broker.
package mqttdiscovery

import (
	"encoding/json"
	"strings"
	"sync"
)

// Source tags which firmware family a discovered device is announcing from.
type Source int

const (
	SourceUnknown Source = iota
	SourceTasmota
	SourceESPHome
	SourceZigbee2MQTT
	SourceOther
)

// DeviceInfo is the nested "device" object Home-Assistant discovery payloads
// carry for grouping entities under one physical device.
type DeviceInfo struct {
	Identifiers  string
	Manufacturer string
	Model        string
	Name         string
	SWVersion    string
}

// Config is a parsed discovery payload: the canonical fields plus the raw
// JSON for forward-compatibility with fields this parser doesn't model.
type Config struct {
	UniqueID  string
	Name      string
	Component string // switch, light, sensor, ...

	StateTopic        string
	CommandTopic      string
	AvailabilityTopic string

	PayloadOn            string
	PayloadOff           string
	PayloadAvailable     string
	PayloadNotAvailable  string

	BrightnessStateTopic   string
	BrightnessCommandTopic string
	ColorTempStateTopic    string
	ColorTempCommandTopic  string
	RGBStateTopic          string
	RGBCommandTopic        string

	UnitOfMeasurement string
	Device            DeviceInfo
	Source            Source
	NodeID            string
	ObjectID          string

	Raw map[string]interface{}
}

// isRemovalSentinel reports whether payload is the empty-body removal
// marker: either a zero-length string or an empty JSON object. Both forms
// are seen in the wild.
func isRemovalSentinel(payload []byte) bool {
	trimmed := strings.TrimSpace(string(payload))
	return trimmed == "" || trimmed == "{}"
}

// IsDiscoveryTopic reports whether topic matches
// <prefix>/<component>/<node_id>[/<object_id>]/config.
func IsDiscoveryTopic(prefix, topic string) bool {
	if !strings.HasPrefix(topic, prefix+"/") {
		return false
	}
	parts := strings.Split(topic, "/")
	return len(parts) >= 4 && parts[len(parts)-1] == "config"
}

// Parse decodes a discovery payload received on topic. ok is false when the
// payload is the removal sentinel or isn't valid discovery JSON.
func Parse(topic string, payload []byte) (cfg Config, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[len(parts)-1] != "config" {
		return Config{}, false
	}
	if isRemovalSentinel(payload) {
		return Config{}, false
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Config{}, false
	}

	cfg.Raw = raw
	cfg.Component = parts[1]
	cfg.NodeID = parts[2]
	if len(parts) == 5 {
		cfg.ObjectID = parts[3]
	}

	str := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := raw[k].(string); ok && v != "" {
				return v
			}
		}
		return ""
	}

	cfg.UniqueID = str("unique_id", "uniq_id")
	if cfg.UniqueID == "" {
		cfg.UniqueID = cfg.NodeID + "_" + cfg.ObjectID
	}
	cfg.Name = str("name")
	if cfg.Name == "" {
		cfg.Name = cfg.UniqueID
	}

	cfg.StateTopic = str("state_topic", "stat_t")
	cfg.CommandTopic = str("command_topic", "cmd_t")
	cfg.AvailabilityTopic = str("availability_topic", "avty_t")
	if avail, ok := raw["availability"].([]interface{}); ok {
		for _, entry := range avail {
			if m, ok := entry.(map[string]interface{}); ok {
				if t, ok := m["topic"].(string); ok && t != "" {
					cfg.AvailabilityTopic = t
					break
				}
			}
		}
	}

	cfg.PayloadOn = firstNonEmpty(str("payload_on", "pl_on"), "ON")
	cfg.PayloadOff = firstNonEmpty(str("payload_off", "pl_off"), "OFF")
	cfg.PayloadAvailable = firstNonEmpty(str("payload_available", "pl_avail"), "online")
	cfg.PayloadNotAvailable = firstNonEmpty(str("payload_not_available", "pl_not_avail"), "offline")

	cfg.UnitOfMeasurement = str("unit_of_measurement", "unit_of_meas")

	cfg.BrightnessCommandTopic = str("brightness_command_topic", "bri_cmd_t")
	cfg.BrightnessStateTopic = str("brightness_state_topic", "bri_stat_t")
	cfg.ColorTempCommandTopic = str("color_temp_command_topic", "clr_temp_cmd_t")
	cfg.ColorTempStateTopic = str("color_temp_state_topic", "clr_temp_stat_t")
	cfg.RGBCommandTopic = str("rgb_command_topic", "rgb_cmd_t")
	cfg.RGBStateTopic = str("rgb_state_topic", "rgb_stat_t")

	if dev, ok := raw["device"].(map[string]interface{}); ok {
		devStr := func(keys ...string) string {
			for _, k := range keys {
				if v, ok := dev[k].(string); ok && v != "" {
					return v
				}
			}
			return ""
		}
		cfg.Device = DeviceInfo{
			Identifiers:  devStr("identifiers", "ids"),
			Manufacturer: devStr("manufacturer", "mf"),
			Model:        devStr("model", "mdl"),
			Name:         devStr("name"),
			SWVersion:    devStr("sw_version", "sw"),
		}
	}

	cfg.Source = detectSource(raw, cfg)
	return cfg, true
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func detectSource(raw map[string]interface{}, cfg Config) Source {
	sw := strings.ToLower(cfg.Device.SWVersion)
	if strings.Contains(sw, "tasmota") {
		return SourceTasmota
	}
	if strings.Contains(strings.ToLower(cfg.StateTopic), "tele/") || strings.Contains(strings.ToLower(cfg.StateTopic), "stat/") {
		return SourceTasmota
	}
	if strings.Contains(sw, "esphome") {
		return SourceESPHome
	}
	if cfg.Device.Manufacturer != "" {
		if via, ok := raw["via_device"].(string); ok && strings.Contains(via, "zigbee2mqtt") {
			return SourceZigbee2MQTT
		}
	}
	if cfg.Device.Manufacturer != "" || cfg.Device.Model != "" {
		return SourceOther
	}
	return SourceUnknown
}

// DiscoveryFunc is invoked for every successfully parsed discovery payload.
type DiscoveryFunc func(cfg Config)

// RemoveFunc is invoked when a device is removed, by empty-payload
// discovery sentinel.
type RemoveFunc func(uniqueID string)

// StateFunc reports a single property update for uniqueID.
type StateFunc func(uniqueID, property string, value interface{})

// AvailabilityFunc reports an online/offline transition for uniqueID.
type AvailabilityFunc func(uniqueID string, available bool)

// Manager tracks discovered devices and routes incoming MQTT messages to
// the right callback by topic via the discovery/state/availability
// lookup tables.
type Manager struct {
	prefix string

	mu                sync.RWMutex
	devices           map[string]Config // uniqueId -> config
	configTopics      map[string]string // discovery topic -> uniqueId
	stateTopics       map[string]string // topic -> uniqueId
	availabilityTopic map[string]string // topic -> uniqueId

	onDiscovery    DiscoveryFunc
	onRemove       RemoveFunc
	onState        StateFunc
	onAvailability AvailabilityFunc
}

// New constructs a Manager for the given discovery prefix (default
// "homeassistant").
func New(prefix string) *Manager {
	if prefix == "" {
		prefix = "homeassistant"
	}
	return &Manager{
		prefix:            prefix,
		devices:           make(map[string]Config),
		configTopics:      make(map[string]string),
		stateTopics:       make(map[string]string),
		availabilityTopic: make(map[string]string),
	}
}

func (m *Manager) SetOnDiscovery(fn DiscoveryFunc)       { m.onDiscovery = fn }
func (m *Manager) SetOnRemove(fn RemoveFunc)             { m.onRemove = fn }
func (m *Manager) SetOnState(fn StateFunc)               { m.onState = fn }
func (m *Manager) SetOnAvailability(fn AvailabilityFunc) { m.onAvailability = fn }

// SubscriptionTopic is the wildcard topic the owner should subscribe to
// (the discovery prefix's entire tree) to receive both discovery
// announcements and device state/availability updates.
func (m *Manager) SubscriptionTopic() string { return m.prefix + "/#" }

// ProcessMessage dispatches a single incoming MQTT message: a
// discovery-shaped topic is parsed, a known state topic yields a property
// update, a known availability topic yields an online/offline transition,
// and anything else is ignored.
func (m *Manager) ProcessMessage(topic string, payload []byte) {
	if IsDiscoveryTopic(m.prefix, topic) {
		m.handleDiscovery(topic, payload)
		return
	}
	m.mu.RLock()
	uniqueID, isState := m.stateTopics[topic]
	availID, isAvail := m.availabilityTopic[topic]
	m.mu.RUnlock()

	if isState {
		m.handleState(topic, uniqueID, payload)
		return
	}
	if isAvail {
		m.handleAvailability(availID, payload)
	}
}

func (m *Manager) handleDiscovery(topic string, payload []byte) {
	cfg, ok := Parse(topic, payload)
	if !ok {
		m.handleRemoval(topic, payload)
		return
	}

	m.mu.Lock()
	m.dropTopicsFor(cfg.UniqueID)
	m.devices[cfg.UniqueID] = cfg
	m.configTopics[topic] = cfg.UniqueID
	for _, t := range []string{cfg.StateTopic, cfg.BrightnessStateTopic, cfg.ColorTempStateTopic, cfg.RGBStateTopic} {
		if t != "" {
			m.stateTopics[t] = cfg.UniqueID
		}
	}
	if cfg.AvailabilityTopic != "" {
		m.availabilityTopic[cfg.AvailabilityTopic] = cfg.UniqueID
	}
	m.mu.Unlock()

	if m.onDiscovery != nil {
		m.onDiscovery(cfg)
	}
}

// handleRemoval is reached when a discovery-shaped topic carries the empty
// removal sentinel or a payload that failed to parse; both mean the device
// is gone. The uniqueId comes from the config-topic table when this topic
// announced a device before, falling back to the topic shape since no JSON
// body exists to read it from.
func (m *Manager) handleRemoval(topic string, payload []byte) {
	m.mu.RLock()
	known, ok := m.configTopics[topic]
	m.mu.RUnlock()
	if ok {
		m.removeDevice(known)
		return
	}
	parts := strings.Split(topic, "/")
	if len(parts) < 4 {
		return
	}
	possibleID := parts[2]
	if len(parts) >= 5 {
		possibleID = parts[2] + "_" + parts[3]
	}
	m.removeDevice(possibleID)
}

func (m *Manager) removeDevice(uniqueID string) {
	m.mu.Lock()
	_, existed := m.devices[uniqueID]
	delete(m.devices, uniqueID)
	m.dropTopicsFor(uniqueID)
	m.mu.Unlock()
	if existed && m.onRemove != nil {
		m.onRemove(uniqueID)
	}
}

// dropTopicsFor must be called with mu held.
func (m *Manager) dropTopicsFor(uniqueID string) {
	for t, id := range m.stateTopics {
		if id == uniqueID {
			delete(m.stateTopics, t)
		}
	}
	for t, id := range m.availabilityTopic {
		if id == uniqueID {
			delete(m.availabilityTopic, t)
		}
	}
	for t, id := range m.configTopics {
		if id == uniqueID {
			delete(m.configTopics, t)
		}
	}
}

func (m *Manager) handleState(topic, uniqueID string, payload []byte) {
	m.mu.RLock()
	cfg, ok := m.devices[uniqueID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	property := "state"
	var value interface{} = string(payload)

	switch topic {
	case cfg.StateTopic:
		property = "state"
		switch string(payload) {
		case cfg.PayloadOn:
			value = true
		case cfg.PayloadOff:
			value = false
		}
	case cfg.BrightnessStateTopic:
		property = "brightness"
	case cfg.ColorTempStateTopic:
		property = "colorTemp"
	case cfg.RGBStateTopic:
		property = "rgb"
	}

	if m.onState != nil {
		m.onState(uniqueID, property, value)
	}
}

func (m *Manager) handleAvailability(uniqueID string, payload []byte) {
	m.mu.RLock()
	cfg, ok := m.devices[uniqueID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if m.onAvailability != nil {
		m.onAvailability(uniqueID, string(payload) == cfg.PayloadAvailable)
	}
}

// Device returns the discovery config for uniqueID, if known.
func (m *Manager) Device(uniqueID string) (Config, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.devices[uniqueID]
	return cfg, ok
}

// DeviceIDs returns every currently tracked unique id.
func (m *Manager) DeviceIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.devices))
	for id := range m.devices {
		out = append(out, id)
	}
	return out
}
