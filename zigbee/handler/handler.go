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

// Package handler bridges the Zigbee coordinator to the shared device
// model: device-class inference, reporting setup, and string-command
// dispatch, implementing the protocol.Handler contract.
package handler

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/SMerrony/homehub/cerrors"
	"github.com/SMerrony/homehub/devicemodel"
	"github.com/SMerrony/homehub/protocol"
	"github.com/SMerrony/homehub/zigbee/coordinator"
	"github.com/SMerrony/homehub/zigbee/transport"
)

// manufModelEntry is a row in the JSON-loaded device-class database.
type manufModelEntry struct {
	Manufacturer string           `json:"manufacturer"`
	Model        string           `json:"model"`
	Type         devicemodel.Type `json:"type"`
}

// Handler implements protocol.Handler over a Zigbee coordinator.
type Handler struct {
	tr    *transport.Transport
	coord *coordinator.Coordinator

	mu            sync.RWMutex
	state         protocol.State
	lastErr       error
	discovering   bool
	deviceClasses []manufModelEntry // (manufacturer, model) -> Type, JSON-loaded

	devMu        sync.RWMutex
	ieeeToDevice map[uint64]string // deviceID
	deviceToIEEE map[string]uint64
	endpoints    map[uint64]byte

	cbMu           sync.RWMutex
	onDiscovered   protocol.DeviceDiscoveredFunc
	onState        protocol.DeviceStateFunc
	onAvailability protocol.DeviceAvailabilityFunc
}

// New constructs a Handler over the given serial port and baud rate.
func New(port string, baudRate int) *Handler {
	tr := transport.New(port, baudRate)
	h := &Handler{
		tr:           tr,
		coord:        coordinator.New(tr),
		ieeeToDevice: make(map[uint64]string),
		deviceToIEEE: make(map[string]uint64),
		endpoints:    make(map[uint64]byte),
	}
	h.coord.SetOnDeviceAnnounced(h.onDeviceAnnounced)
	h.coord.SetOnDeviceLeft(h.onDeviceLeft)
	h.coord.SetOnAttributeReport(h.onAttributeReport)
	h.coord.SetOnCommandReceived(h.onCommandReceived)
	return h
}

// LoadDeviceClasses reads the (manufacturer, model) -> device type database
// from a JSON file. Missing file is not an error: inference falls back to
// cluster inspection alone.
func (h *Handler) LoadDeviceClasses(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cerrors.Wrap(cerrors.KindIoError, "handler.LoadDeviceClasses", "reading "+path, err)
	}
	var entries []manufModelEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return cerrors.Wrap(cerrors.KindParseError, "handler.LoadDeviceClasses", "decoding "+path, err)
	}
	h.mu.Lock()
	h.deviceClasses = entries
	h.mu.Unlock()
	log.Printf("INFO: zigbee handler: loaded %d device class entries from %s\n", len(entries), path)
	return nil
}

func (h *Handler) Name() string        { return "zigbee" }
func (h *Handler) Version() string     { return "1.0.0" }
func (h *Handler) Description() string { return "Zigbee protocol handler via CC2652P coordinator" }

func (h *Handler) Initialize() error {
	h.setState(protocol.Connecting)
	if err := h.coord.Initialize(); err != nil {
		h.fail(err)
		return err
	}
	h.setState(protocol.Connected)
	return nil
}

func (h *Handler) Shutdown() {
	h.coord.Shutdown()
	h.setState(protocol.Disconnected)
}

func (h *Handler) Poll() {} // push-driven: indications arrive via the reader task

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
	return h.coord.PermitJoin(60)
}

func (h *Handler) StopDiscovery() error {
	h.mu.Lock()
	h.discovering = false
	h.mu.Unlock()
	return h.coord.PermitJoin(0)
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
	return map[string]interface{}{
		"state":       h.State().String(),
		"deviceCount": h.coord.DeviceCount(),
		"discovering": h.IsDiscovering(),
		"networkUp":   h.coord.IsNetworkUp(),
	}
}

func (h *Handler) GetKnownDeviceAddresses() []string {
	h.devMu.RLock()
	defer h.devMu.RUnlock()
	out := make([]string, 0, len(h.ieeeToDevice))
	for _, id := range h.ieeeToDevice {
		out = append(out, id)
	}
	return out
}

// SendCommand maps a string command to a coordinator convenience
// operation. The generic "set" command carries {property: value} pairs and
// is translated property by property.
func (h *Handler) SendCommand(deviceAddress, command string, params map[string]interface{}) error {
	ieee, ep, ok := h.resolve(deviceAddress)
	if !ok {
		return cerrors.New(cerrors.KindNotFound, "handler.SendCommand", "unknown device "+deviceAddress)
	}
	info, ok := h.coord.GetDevice(ieee)
	if !ok {
		return cerrors.New(cerrors.KindNotFound, "handler.SendCommand", "device not in coordinator database")
	}
	nwk := info.NetworkAddress

	switch command {
	case "set":
		for property, value := range params {
			if err := h.setProperty(nwk, ep, property, value); err != nil {
				return err
			}
		}
		return nil
	case "on":
		return h.coord.SetOnOff(nwk, ep, true)
	case "off":
		return h.coord.SetOnOff(nwk, ep, false)
	case "brightness":
		pct := asFloat(params["brightness"])
		level := byte(pct * 254 / 100)
		return h.coord.SetLevel(nwk, ep, level, 10)
	case "color_temp":
		mireds := asFloat(params["mireds"])
		return h.coord.SetColorTemp(nwk, ep, uint16(mireds), 10)
	case "hue_sat":
		hue := asFloat(params["hue"])
		sat := asFloat(params["saturation"])
		return h.coord.SetHueSat(nwk, ep, byte(hue*254/360), byte(sat*254/100), 10)
	default:
		return cerrors.New(cerrors.KindUnsupported, "handler.SendCommand", "unknown command "+command)
	}
}

func (h *Handler) setProperty(nwk uint16, ep byte, property string, value interface{}) error {
	switch property {
	case "on":
		on, _ := value.(bool)
		return h.coord.SetOnOff(nwk, ep, on)
	case "brightness":
		level := byte(asFloat(value) * 254 / 100)
		return h.coord.SetLevel(nwk, ep, level, 10)
	case "color_temp":
		return h.coord.SetColorTemp(nwk, ep, uint16(asFloat(value)), 10)
	default:
		return cerrors.New(cerrors.KindUnsupported, "handler.setProperty", "unknown property "+property)
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

func (h *Handler) resolve(deviceID string) (ieee uint64, endpoint byte, ok bool) {
	h.devMu.RLock()
	defer h.devMu.RUnlock()
	ieee, ok = h.deviceToIEEE[deviceID]
	if !ok {
		return 0, 0, false
	}
	return ieee, h.endpoints[ieee], true
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

func ieeeToDeviceID(ieee uint64) string {
	return fmt.Sprintf("zigbee-%016x", ieee)
}

// inferDeviceType maps (manufacturer, model) via the JSON-loaded database;
// on miss it falls back to cluster inspection.
func (h *Handler) inferDeviceType(info coordinator.DeviceInfo) devicemodel.Type {
	h.mu.RLock()
	for _, e := range h.deviceClasses {
		if e.Manufacturer == info.Manufacturer && e.Model == info.Model {
			h.mu.RUnlock()
			return e.Type
		}
	}
	h.mu.RUnlock()

	hasCluster := func(cluster uint16) bool {
		for _, clusters := range info.InClusters {
			for _, c := range clusters {
				if c == cluster {
					return true
				}
			}
		}
		return false
	}

	switch {
	case hasCluster(0x0300):
		return devicemodel.ColorLight
	case hasCluster(0x0008):
		return devicemodel.Dimmer
	case hasCluster(0x0006):
		return devicemodel.Switch
	case hasCluster(0x0402):
		if hasCluster(0x0405) {
			return devicemodel.MultiSensor
		}
		return devicemodel.TemperatureSensor
	case hasCluster(0x0406):
		return devicemodel.MotionSensor
	case hasCluster(0x0500):
		return devicemodel.MotionSensor
	default:
		return devicemodel.Unknown
	}
}

func (h *Handler) onDeviceAnnounced(nwkAddr uint16, ieeeAddr uint64) {
	deviceID := ieeeToDeviceID(ieeeAddr)
	h.devMu.Lock()
	_, existed := h.ieeeToDevice[ieeeAddr]
	if !existed {
		h.ieeeToDevice[ieeeAddr] = deviceID
		h.deviceToIEEE[deviceID] = ieeeAddr
		h.endpoints[ieeeAddr] = 1
	}
	h.devMu.Unlock()

	if existed {
		h.publishAvailability(deviceID, devicemodel.Online)
		return
	}

	info, _ := h.coord.GetDevice(ieeeAddr)
	typ := h.inferDeviceType(info)
	dev := devicemodel.New(deviceID, deviceID, typ, h.Name(), fmt.Sprintf("%04x", nwkAddr))

	h.cbMu.RLock()
	discovered := h.onDiscovered
	h.cbMu.RUnlock()
	if discovered != nil {
		discovered(dev)
	}
	h.setupReporting(nwkAddr, 1, typ)
	h.publishAvailability(deviceID, devicemodel.Online)
	log.Printf("INFO: zigbee handler: discovered device %s (type %s)\n", deviceID, typ)
}

// setupReporting configures attribute reporting for the attributes
// relevant to typ, with minimum interval 1s and maximum 3600s.
func (h *Handler) setupReporting(nwkAddr uint16, endpoint byte, typ devicemodel.Type) {
	const minInterval, maxInterval = 1, 3600
	switch typ {
	case devicemodel.Switch, devicemodel.Dimmer, devicemodel.ColorLight:
		if err := h.coord.ConfigureReporting(nwkAddr, endpoint, 0x0006, 0x0000, 0x10, minInterval, maxInterval, []byte{}); err != nil {
			log.Printf("WARNING: zigbee handler: configure on/off reporting failed: %v\n", err)
		}
	}
	switch typ {
	case devicemodel.Dimmer, devicemodel.ColorLight:
		if err := h.coord.ConfigureReporting(nwkAddr, endpoint, 0x0008, 0x0000, 0x20, minInterval, maxInterval, []byte{0x01}); err != nil {
			log.Printf("WARNING: zigbee handler: configure level reporting failed: %v\n", err)
		}
	}
	if typ == devicemodel.TemperatureSensor || typ == devicemodel.MultiSensor {
		if err := h.coord.ConfigureReporting(nwkAddr, endpoint, 0x0402, 0x0000, 0x29, minInterval, maxInterval, []byte{0x64, 0x00}); err != nil {
			log.Printf("WARNING: zigbee handler: configure temperature reporting failed: %v\n", err)
		}
	}
}

func (h *Handler) onDeviceLeft(ieeeAddr uint64) {
	h.devMu.Lock()
	deviceID, ok := h.ieeeToDevice[ieeeAddr]
	if ok {
		delete(h.ieeeToDevice, ieeeAddr)
		delete(h.deviceToIEEE, deviceID)
		delete(h.endpoints, ieeeAddr)
	}
	h.devMu.Unlock()
	if ok {
		h.publishAvailability(deviceID, devicemodel.Offline)
	}
}

// clusterAttr is a (cluster, attribute) key into the fixed property mapping.
type clusterAttr struct {
	cluster uint16
	attr    uint16
}

func (h *Handler) onAttributeReport(nwkAddr uint16, attr coordinator.AttributeValue) {
	info, ok := h.coord.GetDeviceByNwkAddr(nwkAddr)
	if !ok {
		return
	}
	deviceID := ieeeToDeviceID(info.IEEEAddress)

	h.cbMu.RLock()
	stateCb := h.onState
	h.cbMu.RUnlock()
	if stateCb == nil {
		return
	}

	ca := clusterAttr{attr.ClusterID, attr.AttributeID}
	switch ca {
	case clusterAttr{0x0006, 0x0000}:
		stateCb(deviceID, "on", attr.AsBool())
	case clusterAttr{0x0008, 0x0000}:
		pct := int(attr.AsUint8()) * 100 / 254
		stateCb(deviceID, "brightness", pct)
	case clusterAttr{0x0402, 0x0000}:
		stateCb(deviceID, "temperature", float64(attr.AsInt16())/100.0)
	case clusterAttr{0x0405, 0x0000}:
		stateCb(deviceID, "humidity", float64(attr.AsUint16())/100.0)
	case clusterAttr{0x0300, 0x0007}:
		stateCb(deviceID, "color_temp", int(attr.AsUint16()))
	default:
		log.Printf("DEBUG: zigbee handler: unmapped attribute report cluster=%#04x attr=%#04x\n", attr.ClusterID, attr.AttributeID)
	}
}

func (h *Handler) onCommandReceived(nwkAddr uint16, endpoint byte, cluster uint16, command byte, payload []byte) {
	if info, ok := h.coord.GetDeviceByNwkAddr(nwkAddr); ok {
		log.Printf("DEBUG: zigbee handler: command %#x on cluster %#04x from %s\n", command, cluster, ieeeToDeviceID(info.IEEEAddress))
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
