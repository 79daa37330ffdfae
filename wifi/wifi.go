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

// Package wifi implements protocol.Handler by composing MQTT Home-Assistant
// discovery, per-device Tuya local connections, and Shelly Gen1/Gen2
// REST/RPC control behind one device map keyed by unique_id.
package wifi

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/SMerrony/homehub/cerrors"
	"github.com/SMerrony/homehub/devicemodel"
	"github.com/SMerrony/homehub/mqttbroker"
	"github.com/SMerrony/homehub/mqttdiscovery"
	"github.com/SMerrony/homehub/protocol"
	"github.com/SMerrony/homehub/shelly"
	tuyadevice "github.com/SMerrony/homehub/tuya/device"
	"github.com/google/uuid"
)

// backend tags which transport owns a device entry.
type backend int

const (
	backendMQTT backend = iota
	backendShelly
	backendTuya
)

type deviceEntry struct {
	backend backend
	typ     devicemodel.Type

	// backendMQTT
	mqttConfig mqttdiscovery.Config

	// backendShelly
	shellyInfo    shelly.Info
	shellyChannel int

	// backendTuya
	tuya *tuyadevice.Device
}

// TuyaDeviceConfig is one statically configured local Tuya device.
type TuyaDeviceConfig = tuyadevice.Config

// Config configures the WiFi composite handler.
type Config struct {
	MQTTBroker        string
	MQTTPort          int
	MQTTClientID      string
	DiscoveryPrefix   string // default "homeassistant"
	ShellyAddresses   []string
	TuyaDevices       []TuyaDeviceConfig
}

// Handler implements protocol.Handler over MQTT discovery, Tuya local
// connections, and Shelly polling.
type Handler struct {
	cfg Config

	mu          sync.RWMutex
	state       protocol.State
	lastErr     error
	discovering bool

	broker    *mqttbroker.Broker
	discovery *mqttdiscovery.Manager
	shellyCli *shelly.Client
	tuyaUDP   *tuyadevice.DiscoveryListener

	devMu   sync.RWMutex
	devices map[string]*deviceEntry

	lastShellyPoll time.Time

	cbMu           sync.RWMutex
	onDiscovered   protocol.DeviceDiscoveredFunc
	onState        protocol.DeviceStateFunc
	onAvailability protocol.DeviceAvailabilityFunc
}

// New constructs a Handler; call Initialize to connect.
func New(cfg Config) *Handler {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	h := &Handler{
		cfg:       cfg,
		discovery: mqttdiscovery.New(cfg.DiscoveryPrefix),
		shellyCli: shelly.New(),
		devices:   make(map[string]*deviceEntry),
	}
	h.discovery.SetOnDiscovery(h.onMQTTDiscovery)
	h.discovery.SetOnRemove(h.onMQTTRemove)
	h.discovery.SetOnState(h.onMQTTState)
	h.discovery.SetOnAvailability(h.onMQTTAvailability)
	return h
}

func (h *Handler) Name() string        { return "wifi" }
func (h *Handler) Version() string     { return "1.0.0" }
func (h *Handler) Description() string {
	return "WiFi device handler (MQTT discovery / Tasmota / ESPHome / Shelly / Tuya local)"
}

func (h *Handler) Initialize() error {
	h.setState(protocol.Connecting)

	broker, err := mqttbroker.New(h.cfg.MQTTBroker, h.cfg.MQTTPort, h.cfg.MQTTClientID)
	if err != nil {
		h.fail(err)
		return cerrors.Wrap(cerrors.KindIoError, "wifi.Initialize", "connecting to MQTT broker", err)
	}
	h.broker = broker
	if err := h.broker.Subscribe(h.discovery.SubscriptionTopic(), 0, h.discovery.ProcessMessage); err != nil {
		h.fail(err)
		return cerrors.Wrap(cerrors.KindIoError, "wifi.Initialize", "subscribing to discovery topic", err)
	}

	for _, addr := range h.cfg.ShellyAddresses {
		h.addShellyByAddress(addr)
	}
	for _, tc := range h.cfg.TuyaDevices {
		h.addTuyaDevice(tc)
	}

	if len(h.cfg.TuyaDevices) > 0 {
		if dl, err := tuyadevice.ListenDiscovery(); err != nil {
			log.Printf("WARNING: wifi handler: tuya UDP discovery listener unavailable: %v\n", err)
		} else {
			h.tuyaUDP = dl
		}
	}

	h.setState(protocol.Connected)
	return nil
}

func (h *Handler) Shutdown() {
	h.devMu.Lock()
	for _, e := range h.devices {
		if e.backend == backendTuya && e.tuya != nil {
			e.tuya.Disconnect()
		}
	}
	h.devMu.Unlock()
	if h.tuyaUDP != nil {
		h.tuyaUDP.Close()
	}
	if h.broker != nil {
		h.broker.Disconnect(250)
	}
	h.setState(protocol.Disconnected)
}

// Poll drives Shelly polling at shelly.PollInterval. MQTT is push-driven;
// no action is needed for it here beyond what the broker's own client loop
// already does.
func (h *Handler) Poll() {
	if time.Since(h.lastShellyPoll) < shelly.PollInterval {
		return
	}
	h.lastShellyPoll = time.Now()
	h.pollShelly()
}

func (h *Handler) pollShelly() {
	h.devMu.RLock()
	type job struct {
		id   string
		info shelly.Info
	}
	var jobs []job
	for id, e := range h.devices {
		if e.backend == backendShelly {
			jobs = append(jobs, job{id, e.shellyInfo})
		}
	}
	h.devMu.RUnlock()

	for _, j := range jobs {
		states, err := h.shellyCli.PollStatus(j.info)
		if err != nil {
			log.Printf("WARNING: wifi handler: polling shelly %s failed: %v\n", j.id, err)
			h.publishAvailability(j.id, devicemodel.Offline)
			continue
		}
		h.publishAvailability(j.id, devicemodel.Online)
		for _, s := range states {
			h.publishState(j.id, "on", s.On)
			if s.Brightness >= 0 {
				h.publishState(j.id, "brightness", s.Brightness)
			}
			if s.PowerW != 0 {
				h.publishState(j.id, "power", s.PowerW)
			}
			h.publishState(j.id, "energy", s.EnergyKWh)
		}
	}
}

func (h *Handler) State() protocol.State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Handler) IsConnected() bool { return h.State() == protocol.Connected }

func (h *Handler) LastError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

func (h *Handler) SupportsDiscovery() bool { return true }

func (h *Handler) StartDiscovery() error {
	h.mu.Lock()
	h.discovering = true
	h.mu.Unlock()
	return nil
}

func (h *Handler) StopDiscovery() error {
	h.mu.Lock()
	h.discovering = false
	h.mu.Unlock()
	return nil
}

func (h *Handler) IsDiscovering() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.discovering
}

func (h *Handler) SetOnDeviceDiscovered(fn protocol.DeviceDiscoveredFunc) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onDiscovered = fn
}

func (h *Handler) SetOnDeviceState(fn protocol.DeviceStateFunc) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onState = fn
}

func (h *Handler) SetOnDeviceAvailability(fn protocol.DeviceAvailabilityFunc) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onAvailability = fn
}

func (h *Handler) GetStatus() map[string]interface{} {
	h.devMu.RLock()
	count := len(h.devices)
	h.devMu.RUnlock()
	return map[string]interface{}{
		"state":       h.State().String(),
		"deviceCount": count,
		"discovering": h.IsDiscovering(),
	}
}

func (h *Handler) GetKnownDeviceAddresses() []string {
	h.devMu.RLock()
	defer h.devMu.RUnlock()
	out := make([]string, 0, len(h.devices))
	for id := range h.devices {
		out = append(out, id)
	}
	return out
}

// SendCommand dispatches by the stored backend tag; Shelly commands are
// further dispatched by runtime generation (Gen1 vs Gen2) inside the
// shelly.Client itself. The generic "set" command carries {property: value}
// pairs and is translated property by property before dispatch.
func (h *Handler) SendCommand(deviceAddress, command string, params map[string]interface{}) error {
	h.devMu.RLock()
	e, ok := h.devices[deviceAddress]
	h.devMu.RUnlock()
	if !ok {
		return cerrors.New(cerrors.KindNotFound, "wifi.SendCommand", "unknown device "+deviceAddress)
	}

	if command == "set" {
		for property, value := range params {
			if err := h.sendSet(e, property, value); err != nil {
				return err
			}
		}
		return nil
	}
	return h.dispatchCommand(e, command, params)
}

func (h *Handler) dispatchCommand(e *deviceEntry, command string, params map[string]interface{}) error {
	switch e.backend {
	case backendMQTT:
		return h.sendMQTTCommand(e, command, params)
	case backendShelly:
		return h.sendShellyCommand(e, command, params)
	case backendTuya:
		return h.sendTuyaCommand(e, command, params)
	default:
		return cerrors.New(cerrors.KindInternal, "wifi.SendCommand", "device has no backend")
	}
}

func (h *Handler) sendSet(e *deviceEntry, property string, value interface{}) error {
	switch property {
	case "on":
		cmd := "off"
		if on, _ := value.(bool); on {
			cmd = "on"
		}
		return h.dispatchCommand(e, cmd, nil)
	case "brightness":
		return h.dispatchCommand(e, "brightness", map[string]interface{}{"brightness": asFloat(value)})
	case "color_temp":
		return h.dispatchCommand(e, "color_temp", map[string]interface{}{"mireds": asFloat(value)})
	default:
		return cerrors.New(cerrors.KindUnsupported, "wifi.sendSet", "unknown property "+property)
	}
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func (h *Handler) sendMQTTCommand(e *deviceEntry, command string, params map[string]interface{}) error {
	cfg := e.mqttConfig
	switch command {
	case "on", "off":
		payload := cfg.PayloadOff
		if command == "on" {
			payload = cfg.PayloadOn
		}
		return h.broker.Publish(cfg.CommandTopic, 0, false, payload)
	case "brightness":
		pct, _ := params["brightness"].(float64)
		return h.broker.Publish(cfg.BrightnessCommandTopic, 0, false, fmt.Sprintf("%d", int(pct)))
	case "color_temp":
		mireds, _ := params["mireds"].(float64)
		return h.broker.Publish(cfg.ColorTempCommandTopic, 0, false, fmt.Sprintf("%d", int(mireds)))
	default:
		return cerrors.New(cerrors.KindUnsupported, "wifi.sendMQTTCommand", "unknown command "+command)
	}
}

func (h *Handler) sendShellyCommand(e *deviceEntry, command string, params map[string]interface{}) error {
	switch command {
	case "on":
		return h.shellyCli.SetRelay(e.shellyInfo, e.shellyChannel, true)
	case "off":
		return h.shellyCli.SetRelay(e.shellyInfo, e.shellyChannel, false)
	case "toggle":
		return h.shellyCli.ToggleRelay(e.shellyInfo, e.shellyChannel)
	case "brightness":
		pct, _ := params["brightness"].(float64)
		return h.shellyCli.SetBrightness(e.shellyInfo, e.shellyChannel, int(pct))
	default:
		return cerrors.New(cerrors.KindUnsupported, "wifi.sendShellyCommand", "unknown command "+command)
	}
}

func (h *Handler) sendTuyaCommand(e *deviceEntry, command string, params map[string]interface{}) error {
	switch command {
	case "on":
		return e.tuya.SetState("on", true)
	case "off":
		return e.tuya.SetState("on", false)
	case "brightness":
		pct, _ := params["brightness"].(float64)
		return e.tuya.SetState("brightness", pct)
	case "color_temp":
		mireds, _ := params["mireds"].(float64)
		return e.tuya.SetState("color_temp", mireds)
	default:
		return cerrors.New(cerrors.KindUnsupported, "wifi.sendTuyaCommand", "unknown command "+command)
	}
}

func (h *Handler) addShellyByAddress(ip string) {
	info, err := h.shellyCli.Probe(ip)
	if err != nil {
		log.Printf("WARNING: wifi handler: shelly probe of %s failed: %v\n", ip, err)
		return
	}
	id := info.ID
	if id == "" {
		// Neither Gen1 nor Gen2 /status reported a MAC-derived id; fall back
		// to a random one rather than keying on an IP that may change under DHCP.
		id = "shelly-" + uuid.NewString()
	}
	typ := devicemodel.Switch
	if info.NumOutputs > 1 {
		typ = devicemodel.Dimmer
	}

	h.devMu.Lock()
	h.devices[id] = &deviceEntry{backend: backendShelly, typ: typ, shellyInfo: info}
	h.devMu.Unlock()

	dev := devicemodel.New(id, id, typ, h.Name(), ip)
	h.discoverDevice(dev)
}

func (h *Handler) addTuyaDevice(cfg TuyaDeviceConfig) {
	dev, err := tuyadevice.New(cfg)
	if err != nil {
		log.Printf("WARNING: wifi handler: tuya device %s config invalid: %v\n", cfg.DeviceID, err)
		return
	}
	id := "tuya_" + cfg.DeviceID
	dev.SetStateCallback(func(property string, value interface{}) {
		h.publishState(id, property, value)
	})
	dev.SetAvailabilityCallback(func(online bool) {
		avail := devicemodel.Offline
		if online {
			avail = devicemodel.Online
		}
		h.publishAvailability(id, avail)
	})

	h.devMu.Lock()
	h.devices[id] = &deviceEntry{backend: backendTuya, typ: devicemodel.Switch, tuya: dev}
	h.devMu.Unlock()

	model := devicemodel.New(id, id, devicemodel.Switch, h.Name(), cfg.IP)
	h.discoverDevice(model)

	if err := dev.Connect(); err != nil {
		log.Printf("WARNING: wifi handler: tuya device %s connect failed: %v\n", cfg.DeviceID, err)
		h.publishAvailability(id, devicemodel.Offline)
	}
}

func (h *Handler) onMQTTDiscovery(cfg mqttdiscovery.Config) {
	typ := deviceTypeForComponent(cfg.Component)

	h.devMu.Lock()
	_, existed := h.devices[cfg.UniqueID]
	h.devices[cfg.UniqueID] = &deviceEntry{backend: backendMQTT, typ: typ, mqttConfig: cfg}
	h.devMu.Unlock()

	if existed {
		return // re-announcement of a known device: topics refreshed above, no rediscovery
	}

	dev := devicemodel.New(cfg.UniqueID, cfg.Name, typ, h.Name(), cfg.UniqueID)
	h.discoverDevice(dev)

	if cfg.StateTopic != "" {
		h.broker.Subscribe(cfg.StateTopic, 0, h.discovery.ProcessMessage)
	}
	if cfg.BrightnessStateTopic != "" {
		h.broker.Subscribe(cfg.BrightnessStateTopic, 0, h.discovery.ProcessMessage)
	}
	if cfg.AvailabilityTopic != "" {
		h.broker.Subscribe(cfg.AvailabilityTopic, 0, h.discovery.ProcessMessage)
	}
}

func deviceTypeForComponent(component string) devicemodel.Type {
	switch component {
	case "switch":
		return devicemodel.Switch
	case "light":
		return devicemodel.Light
	case "sensor":
		return devicemodel.Sensor
	case "binary_sensor":
		return devicemodel.MotionSensor
	default:
		return devicemodel.Unknown
	}
}

func (h *Handler) onMQTTRemove(uniqueID string) {
	h.devMu.Lock()
	delete(h.devices, uniqueID)
	h.devMu.Unlock()
	h.publishAvailability(uniqueID, devicemodel.Offline)
}

func (h *Handler) onMQTTState(uniqueID, property string, value interface{}) {
	h.publishState(uniqueID, property, value)
}

func (h *Handler) onMQTTAvailability(uniqueID string, available bool) {
	avail := devicemodel.Offline
	if available {
		avail = devicemodel.Online
	}
	h.publishAvailability(uniqueID, avail)
}

func (h *Handler) discoverDevice(dev *devicemodel.Device) {
	h.cbMu.RLock()
	cb := h.onDiscovered
	h.cbMu.RUnlock()
	if cb != nil {
		cb(dev)
	}
}

func (h *Handler) publishState(deviceID, property string, value interface{}) {
	h.cbMu.RLock()
	cb := h.onState
	h.cbMu.RUnlock()
	if cb != nil {
		cb(deviceID, property, value)
	}
}

func (h *Handler) publishAvailability(deviceID string, a devicemodel.Availability) {
	h.cbMu.RLock()
	cb := h.onAvailability
	h.cbMu.RUnlock()
	if cb != nil {
		cb(deviceID, a)
	}
}

func (h *Handler) setState(s protocol.State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handler) fail(err error) {
	h.mu.Lock()
	h.state = protocol.Error
	h.lastErr = err
	h.mu.Unlock()
}
