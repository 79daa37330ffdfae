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

// Package device owns a single Tuya local-protocol TCP connection: dialing,
// session negotiation, the dedicated read/heartbeat task, and the data-point
// protocol used to push and pull device state.
package device

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/SMerrony/homehub/cerrors"
	"github.com/SMerrony/homehub/tuya/crypto"
)

const (
	connectTimeout = 5 * time.Second
	pollQuantum    = time.Second
)

// DataPointType is the Tuya wire type tag for a single data point value.
type DataPointType int

const (
	DPRaw DataPointType = iota
	DPBool
	DPInt
	DPString
	DPEnum
)

// DataPoint is a single (id, typed value) entry from a Tuya STATUS/DP_QUERY
// payload's "dps" object.
type DataPoint struct {
	ID    uint8
	Type  DataPointType
	Value interface{}
}

// StateFunc is invoked once per observed property change, in property terms
// already mapped from the raw data-point id (see propertyForDP).
type StateFunc func(property string, value interface{})

// AvailabilityFunc reports an Online/Offline transition.
type AvailabilityFunc func(online bool)

// Config describes how to reach and speak to one Tuya local device.
type Config struct {
	DeviceID string // Tuya's 20-char device id
	IP       string
	Port     int // default 6668
	LocalKey string
	Version  string // "3.1", "3.3", "3.4" or "3.5"
}

// Device owns one Tuya TCP connection and its dedicated connection task.
type Device struct {
	cfg    Config
	cipher *crypto.Cipher

	sendMu sync.Mutex // serializes writes; the connection task is the sole reader
	connMu sync.Mutex
	conn   net.Conn
	seq    uint32

	dpMu sync.RWMutex
	dps  map[uint8]DataPoint

	running  chan bool // closed to signal the connection task to stop
	stopOnce sync.Once
	doneWg   sync.WaitGroup

	cbMu    sync.RWMutex
	onState StateFunc
	onAvail AvailabilityFunc
}

// New constructs a Device ready to Connect.
func New(cfg Config) (*Device, error) {
	if cfg.Port == 0 {
		cfg.Port = 6668
	}
	cipher, err := crypto.New(cfg.LocalKey, cfg.Version)
	if err != nil {
		return nil, err
	}
	return &Device{cfg: cfg, cipher: cipher, dps: make(map[uint8]DataPoint)}, nil
}

// SetStateCallback registers the callback fired for each data-point update.
func (d *Device) SetStateCallback(fn StateFunc) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.onState = fn
}

// SetAvailabilityCallback registers the callback fired on connect/disconnect.
func (d *Device) SetAvailabilityCallback(fn AvailabilityFunc) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.onAvail = fn
}

// Connect dials the device, negotiates a session if the protocol version
// requires it, and starts the dedicated connection task.
func (d *Device) Connect() error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", d.cfg.IP, d.cfg.Port), connectTimeout)
	if err != nil {
		return cerrors.Wrap(cerrors.KindTimeout, "device.Connect", "dialing Tuya device", err)
	}
	d.connMu.Lock()
	d.conn = conn
	d.connMu.Unlock()

	if d.cipher.NeedsSessionNegotiation() {
		if err := d.negotiateSession(); err != nil {
			conn.Close()
			return cerrors.Wrap(cerrors.KindAuthError, "device.Connect", "session negotiation failed", err)
		}
	}

	d.running = make(chan bool)
	d.doneWg.Add(1)
	go d.connectionTask()
	d.fireAvailability(true)
	return nil
}

// Disconnect stops the connection task and closes the socket, waiting for
// the task to exit.
func (d *Device) Disconnect() {
	d.stopOnce.Do(func() {
		if d.running != nil {
			close(d.running)
		}
	})
	d.connMu.Lock()
	if d.conn != nil {
		d.conn.Close()
	}
	d.connMu.Unlock()
	d.doneWg.Wait()
	d.fireAvailability(false)
}

func (d *Device) negotiateSession() error {
	nonce, err := d.cipher.LocalNonce()
	if err != nil {
		return err
	}
	if err := d.sendFrame(crypto.CmdSessKeyNegStart, nonce); err != nil {
		return err
	}
	resp, err := d.readFrame(connectTimeout)
	if err != nil {
		return err
	}
	if resp.Command != crypto.CmdSessKeyNegResp {
		return cerrors.New(cerrors.KindProtocolError, "device.negotiateSession", "unexpected reply to session negotiation")
	}
	remoteNonce := resp.Payload
	if len(remoteNonce) > 16 {
		remoteNonce = remoteNonce[:16]
	}
	if err := d.cipher.CompleteSessionNegotiation(remoteNonce); err != nil {
		return err
	}
	return d.sendFrame(crypto.CmdSessKeyNegFinish, nil)
}

// sendFrame encodes and writes a single Tuya message, serialized by sendMu.
func (d *Device) sendFrame(cmd crypto.Command, payload []byte) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	d.seq++
	wire, err := crypto.Encode(crypto.Message{Command: cmd, Sequence: d.seq, Payload: payload}, d.cipher, d.cfg.Version)
	if err != nil {
		return err
	}
	d.connMu.Lock()
	conn := d.conn
	d.connMu.Unlock()
	if conn == nil {
		return cerrors.New(cerrors.KindTransportClosed, "device.sendFrame", "not connected")
	}
	if _, err := conn.Write(wire); err != nil {
		return cerrors.Wrap(cerrors.KindIoError, "device.sendFrame", "writing frame", err)
	}
	return nil
}

// readFrame blocks for a single complete frame, used only during session
// negotiation before the connection task starts reading.
func (d *Device) readFrame(timeout time.Duration) (crypto.Message, error) {
	d.connMu.Lock()
	conn := d.conn
	d.connMu.Unlock()
	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 2048)
	var accum []byte
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return crypto.Message{}, cerrors.Wrap(cerrors.KindTimeout, "device.readFrame", "reading session response", err)
		}
		accum = append(accum, buf[:n]...)
		if off, length, ok := crypto.FindMessage(accum); ok {
			return crypto.Decode(accum[off:off+length], d.cipher, d.cfg.Version)
		}
	}
}

// connectionTask is the sole reader of the socket: it polls for readable
// data on a 1s quantum, sends a heartbeat on each idle tick, and dispatches
// every complete frame it decodes.
func (d *Device) connectionTask() {
	defer d.doneWg.Done()
	d.connMu.Lock()
	conn := d.conn
	d.connMu.Unlock()

	var rxBuf []byte
	readBuf := make([]byte, 2048)

	for {
		select {
		case <-d.running:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(pollQuantum))
		n, err := conn.Read(readBuf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				d.sendFrame(crypto.CmdHeartbeat, nil)
				continue
			}
			log.Printf("WARNING: tuya device %s: read error: %v\n", d.cfg.DeviceID, err)
			d.fireAvailability(false)
			return
		}
		rxBuf = append(rxBuf, readBuf[:n]...)
		for {
			off, length, ok := crypto.FindMessage(rxBuf)
			if !ok {
				if off > 0 {
					rxBuf = rxBuf[off:]
				}
				break
			}
			msg, err := crypto.Decode(rxBuf[off:off+length], d.cipher, d.cfg.Version)
			rxBuf = rxBuf[off+length:]
			if err != nil {
				log.Printf("WARNING: tuya device %s: frame decode error: %v\n", d.cfg.DeviceID, err)
				continue
			}
			d.handleMessage(msg)
		}
	}
}

func (d *Device) handleMessage(msg crypto.Message) {
	switch msg.Command {
	case crypto.CmdHeartbeat:
		// liveness only
	case crypto.CmdStatus, crypto.CmdDPQuery, crypto.CmdDPQueryNew:
		d.handleStatusPayload(msg.Payload)
	default:
		log.Printf("DEBUG: tuya device %s: unhandled command %d\n", d.cfg.DeviceID, msg.Command)
	}
}

func (d *Device) handleStatusPayload(payload []byte) {
	if len(payload) == 0 {
		return
	}
	var body struct {
		DPS map[string]interface{} `json:"dps"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		log.Printf("WARNING: tuya device %s: non-JSON status payload: %v\n", d.cfg.DeviceID, err)
		return
	}
	for key, raw := range body.DPS {
		id, err := strconv.Atoi(key)
		if err != nil || id < 0 || id > 255 {
			continue
		}
		dp := DataPoint{ID: uint8(id), Value: raw, Type: dpType(raw)}
		d.dpMu.Lock()
		d.dps[dp.ID] = dp
		d.dpMu.Unlock()

		property, value := propertyForDP(dp)
		d.cbMu.RLock()
		cb := d.onState
		d.cbMu.RUnlock()
		if cb != nil {
			cb(property, value)
		}
	}
}

func dpType(v interface{}) DataPointType {
	switch v.(type) {
	case bool:
		return DPBool
	case float64:
		return DPInt
	case string:
		return DPString
	default:
		return DPRaw
	}
}

// propertyForDP maps the common Tuya data-point ids to the core's property
// names: dp 1 -> "on" (bool), dp 2 -> "brightness" (linear 0-1000 -> 0-100),
// dp 3 -> "color_temp" (passthrough). Unmapped ids pass through as "dp<N>".
func propertyForDP(dp DataPoint) (string, interface{}) {
	switch dp.ID {
	case 1:
		b, _ := dp.Value.(bool)
		return "on", b
	case 2:
		n, _ := dp.Value.(float64)
		return "brightness", int(n * 100 / 1000)
	case 3:
		return "color_temp", dp.Value
	default:
		return fmt.Sprintf("dp%d", dp.ID), dp.Value
	}
}

// dpForProperty inverts propertyForDP for SetState.
func dpForProperty(property string, value interface{}) (uint8, interface{}, error) {
	switch property {
	case "on":
		b, ok := value.(bool)
		if !ok {
			return 0, nil, cerrors.New(cerrors.KindProtocolError, "device.dpForProperty", "\"on\" requires a bool")
		}
		return 1, b, nil
	case "brightness":
		pct, err := toFloat(value)
		if err != nil {
			return 0, nil, err
		}
		return 2, int(pct * 1000 / 100), nil
	case "color_temp":
		return 3, value, nil
	default:
		return 0, nil, cerrors.New(cerrors.KindUnsupported, "device.dpForProperty", "unknown property "+property)
	}
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, cerrors.New(cerrors.KindProtocolError, "device.toFloat", "value is not numeric")
	}
}

// SetState performs the inverse data-point mapping and sends a CONTROL (or
// CONTROL_NEW on 3.4/3.5) frame carrying the single data point.
func (d *Device) SetState(property string, value interface{}) error {
	id, dpValue, err := dpForProperty(property, value)
	if err != nil {
		return err
	}
	cmd := crypto.CmdControl
	if d.cfg.Version == "3.4" || d.cfg.Version == "3.5" {
		cmd = crypto.CmdControlNew
	}
	body := map[string]interface{}{
		"devId": d.cfg.DeviceID,
		"uid":   "",
		"t":     strconv.FormatInt(time.Now().Unix(), 10),
		"dps":   map[string]interface{}{strconv.Itoa(int(id)): dpValue},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return cerrors.Wrap(cerrors.KindInternal, "device.SetState", "marshalling control payload", err)
	}
	return d.sendFrame(cmd, payload)
}

// DataPoints returns a snapshot of the device's currently known data points.
func (d *Device) DataPoints() map[uint8]DataPoint {
	d.dpMu.RLock()
	defer d.dpMu.RUnlock()
	out := make(map[uint8]DataPoint, len(d.dps))
	for k, v := range d.dps {
		out[k] = v
	}
	return out
}

func (d *Device) fireAvailability(online bool) {
	d.cbMu.RLock()
	cb := d.onAvail
	d.cbMu.RUnlock()
	if cb != nil {
		cb(online)
	}
}
