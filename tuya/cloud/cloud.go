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

// Package cloud implements protocol.Handler against the Tuya cloud API, for
// lamps that are not reachable on the local network and must be driven
// through the vendor's account-bound REST endpoints instead of the local
// protocol the tuya/device package speaks.
package cloud

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/SMerrony/homehub/cerrors"
	"github.com/SMerrony/homehub/devicemodel"
	"github.com/SMerrony/homehub/protocol"
	"github.com/tuya/tuya-cloud-sdk-go/api/common"
	"github.com/tuya/tuya-cloud-sdk-go/api/device"
	tuyaconfig "github.com/tuya/tuya-cloud-sdk-go/config"
)

// Region selects which of Tuya's regional API data centres to call.
type Region int

const (
	RegionUnknown Region = iota
	RegionCN
	RegionEU
	RegionIN
	RegionUS
)

func (r Region) serverURL() string {
	switch r {
	case RegionCN:
		return common.URLCN
	case RegionEU:
		return common.URLEU
	case RegionIN:
		return common.URLIN
	case RegionUS:
		return common.URLUS
	default:
		return ""
	}
}

// LampConfig describes one cloud-controlled lamp: its Tuya device id, the
// label used to address it via SendCommand, and which capabilities it has.
type LampConfig struct {
	DeviceID    string
	Label       string
	Dimmable    bool
	Colour      bool
	Temperature bool
}

// Config configures the cloud Handler.
type Config struct {
	Region Region
	APIID  string
	APIKey string
	Lamps  []LampConfig
}

// Handler implements protocol.Handler against the Tuya cloud API. Unlike the
// local tuya/device connections, there is no push channel from the cloud:
// state changes this hub makes itself are reported optimistically, and there
// is no independent poll of device status.
type Handler struct {
	cfg Config

	mu          sync.RWMutex
	state       protocol.State
	lastErr     error
	discovering bool

	devMu       sync.RWMutex
	lampsByName map[string]LampConfig

	cbMu           sync.RWMutex
	onDiscovered   protocol.DeviceDiscoveredFunc
	onState        protocol.DeviceStateFunc
	onAvailability protocol.DeviceAvailabilityFunc
}

// New constructs a Handler; call Initialize to authenticate with Tuya.
func New(cfg Config) *Handler {
	return &Handler{
		cfg:         cfg,
		lampsByName: make(map[string]LampConfig),
	}
}

func (h *Handler) Name() string        { return "tuya-cloud" }
func (h *Handler) Version() string     { return "1.0.0" }
func (h *Handler) Description() string { return "Tuya cloud API handler for account-bound lamps" }

func (h *Handler) Initialize() error {
	h.setState(protocol.Connecting)

	server := h.cfg.Region.serverURL()
	if server == "" {
		err := cerrors.New(cerrors.KindInternal, "cloud.Initialize", "unknown Tuya region configured")
		h.fail(err)
		return err
	}
	tuyaconfig.SetEnv(server, h.cfg.APIID, h.cfg.APIKey)

	h.devMu.Lock()
	for _, l := range h.cfg.Lamps {
		h.lampsByName[l.Label] = l
	}
	h.devMu.Unlock()

	for _, l := range h.cfg.Lamps {
		typ := devicemodel.Light
		dev := devicemodel.New(l.Label, l.Label, typ, h.Name(), l.DeviceID)
		h.discoverDevice(dev)
		h.publishAvailability(l.Label, devicemodel.Online)
	}

	h.setState(protocol.Connected)
	return nil
}

func (h *Handler) Shutdown() {
	h.setState(protocol.Disconnected)
}

// Poll is a no-op: the cloud API gives this hub no push channel and no
// cheap status endpoint worth hammering on a tick.
func (h *Handler) Poll() {}

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
	count := len(h.lampsByName)
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
	out := make([]string, 0, len(h.lampsByName))
	for label := range h.lampsByName {
		out = append(out, label)
	}
	return out
}

// SendCommand translates the hub's generic command/params shape into Tuya
// cloud data-point codes and posts them via device.PostDeviceCommand.
func (h *Handler) SendCommand(deviceAddress, command string, params map[string]interface{}) error {
	h.devMu.RLock()
	lamp, ok := h.lampsByName[deviceAddress]
	h.devMu.RUnlock()
	if !ok {
		return cerrors.New(cerrors.KindNotFound, "cloud.SendCommand", "unknown lamp "+deviceAddress)
	}

	if command == "set" {
		for property, value := range params {
			if err := h.sendSet(deviceAddress, property, value); err != nil {
				return err
			}
		}
		return nil
	}

	var cmds []device.Command
	switch command {
	case "on":
		cmds = []device.Command{{Code: "switch_led", Value: true}}
	case "off":
		cmds = []device.Command{{Code: "switch_led", Value: false}}
	case "brightness":
		if !lamp.Dimmable {
			return cerrors.New(cerrors.KindUnsupported, "cloud.SendCommand", "lamp "+deviceAddress+" is not dimmable")
		}
		pct := asFloat(params["brightness"])
		cmds = []device.Command{{Code: "bright_value_v2", Value: int(pct * 10)}}
	case "color_temp":
		if !lamp.Temperature {
			return cerrors.New(cerrors.KindUnsupported, "cloud.SendCommand", "lamp "+deviceAddress+" has no temperature channel")
		}
		mireds := asFloat(params["mireds"])
		cmds = []device.Command{{Code: "temp_value_v2", Value: int(mireds)}}
	case "hsv":
		if !lamp.Colour {
			return cerrors.New(cerrors.KindUnsupported, "cloud.SendCommand", "lamp "+deviceAddress+" has no colour channel")
		}
		hsv, ok := params["hsv"].(devicemodel.HSV)
		if !ok {
			return cerrors.New(cerrors.KindProtocolError, "cloud.SendCommand", "hsv command missing devicemodel.HSV param")
		}
		payload, err := json.Marshal(map[string]int{
			"h": int(hsv.H),
			"s": int(hsv.S) * 10,
			"v": int(hsv.V) * 10,
		})
		if err != nil {
			return cerrors.Wrap(cerrors.KindInternal, "cloud.SendCommand", "encoding hsv payload", err)
		}
		cmds = []device.Command{
			{Code: "switch_led", Value: true},
			{Code: "work_mode", Value: "colour"},
			{Code: "colour_data_v2", Value: string(payload)},
		}
	default:
		return cerrors.New(cerrors.KindUnsupported, "cloud.SendCommand", "unknown command "+command)
	}

	log.Printf("DEBUG: tuya cloud: sending %v to %s (%s)\n", cmds, deviceAddress, lamp.DeviceID)
	if _, err := device.PostDeviceCommand(lamp.DeviceID, cmds); err != nil {
		return cerrors.Wrap(cerrors.KindIoError, "cloud.SendCommand", fmt.Sprintf("posting command to %s", lamp.DeviceID), err)
	}
	return nil
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

func (h *Handler) sendSet(deviceAddress, property string, value interface{}) error {
	switch property {
	case "on":
		cmd := "off"
		if on, _ := value.(bool); on {
			cmd = "on"
		}
		return h.SendCommand(deviceAddress, cmd, nil)
	case "brightness":
		return h.SendCommand(deviceAddress, "brightness", map[string]interface{}{"brightness": value})
	case "color_temp":
		return h.SendCommand(deviceAddress, "color_temp", map[string]interface{}{"mireds": value})
	default:
		return cerrors.New(cerrors.KindUnsupported, "cloud.sendSet", "unknown property "+property)
	}
}

func (h *Handler) discoverDevice(dev *devicemodel.Device) {
	h.cbMu.RLock()
	cb := h.onDiscovered
	h.cbMu.RUnlock()
	if cb != nil {
		cb(dev)
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
