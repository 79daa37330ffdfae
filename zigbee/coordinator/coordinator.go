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

// Package coordinator drives the Zigbee network: formation, the device
// database keyed by IEEE address, and ZCL read/write/command/reporting
// operations over the ZNP transport.
package coordinator

import (
	"log"
	"sync"
	"time"

	"github.com/SMerrony/homehub/cerrors"
	"github.com/SMerrony/homehub/zigbee/transport"
	"github.com/SMerrony/homehub/zigbee/zcl"
	"github.com/SMerrony/homehub/zigbee/znp"
)

// SYS, AF and ZDO command IDs not already named in the zcl package; these
// are ZNP subsystem commands, not ZCL cluster vocabulary.
const (
	sysPing             = 0x01
	sysVersion          = 0x02
	sysResetReq         = 0x00
	afRegister          = 0x00
	afDataRequest       = 0x01
	afDataConfirm       = 0x80
	afIncomingMsg       = 0x81
	zdoStartupFromApp   = 0x40
	zdoMgmtPermitJoin   = 0x36
	zdoStateChangeInd   = 0xC0
	zdoEndDeviceAnnceInd = 0xC1
	zdoLeaveInd         = 0xC9
	zdoTCDevInd         = 0xCA
	zdoActiveEPReq      = 0x05
	zdoActiveEPRsp      = 0x85
	zdoSimpleDescReq    = 0x04
	zdoSimpleDescRsp    = 0x84
)

const defaultRequestTimeout = 5 * time.Second
const networkFormationTimeout = 30 * time.Second

// DeviceInfo describes a known Zigbee end device or router.
type DeviceInfo struct {
	NetworkAddress uint16
	IEEEAddress    uint64
	DeviceType     byte // 0=Coordinator, 1=Router, 2=EndDevice
	Manufacturer   string
	Model          string
	DateCode       string
	Endpoints      []byte
	LastSeen       time.Time
	Available      bool

	InClusters  map[byte][]uint16
	OutClusters map[byte][]uint16
}

// AttributeValue is a single ZCL attribute report or read response.
type AttributeValue struct {
	ClusterID   uint16
	Endpoint    byte
	AttributeID uint16
	DataType    byte
	Data        []byte
}

// AsBool interprets Data as a ZCL boolean.
func (a AttributeValue) AsBool() bool { return len(a.Data) > 0 && a.Data[0] != 0 }

// AsUint8 interprets Data as an 8-bit unsigned integer.
func (a AttributeValue) AsUint8() uint8 {
	if len(a.Data) < 1 {
		return 0
	}
	return a.Data[0]
}

// AsUint16 interprets Data as a little-endian 16-bit unsigned integer.
func (a AttributeValue) AsUint16() uint16 {
	if len(a.Data) < 2 {
		return 0
	}
	return uint16(a.Data[0]) | uint16(a.Data[1])<<8
}

// AsInt16 interprets Data as a little-endian signed 16-bit integer.
func (a AttributeValue) AsInt16() int16 { return int16(a.AsUint16()) }

// Callbacks delivered to the Coordinator's owner.
type (
	DeviceJoinedFunc    func(DeviceInfo)
	DeviceLeftFunc      func(ieeeAddr uint64)
	DeviceAnnouncedFunc func(nwkAddr uint16, ieeeAddr uint64)
	AttributeReportFunc func(nwkAddr uint16, attr AttributeValue)
	CommandReceivedFunc func(nwkAddr uint16, endpoint byte, cluster uint16, command byte, payload []byte)
)

// Coordinator is the network-level Zigbee controller: state machine,
// device database and ZCL operations, built on a transport.Transport.
type Coordinator struct {
	tr *transport.Transport

	stateMu    sync.RWMutex
	state      znp.DeviceState
	networkUp  bool
	panID      uint16
	ieeeAddr   uint64
	channel    byte

	devMu     sync.RWMutex
	devices   map[uint64]*DeviceInfo
	nwkToIEEE map[uint16]uint64

	seqMu sync.Mutex
	seq   byte

	cbMu              sync.RWMutex
	onDeviceJoined    DeviceJoinedFunc
	onDeviceLeft      DeviceLeftFunc
	onDeviceAnnounced DeviceAnnouncedFunc
	onAttributeReport AttributeReportFunc
	onCommandReceived CommandReceivedFunc

	stateChangeCh chan znp.DeviceState
}

// New constructs a Coordinator over an already-constructed transport. The
// caller retains ownership of opening/closing the transport's serial port.
func New(tr *transport.Transport) *Coordinator {
	c := &Coordinator{
		tr:            tr,
		devices:       make(map[uint64]*DeviceInfo),
		nwkToIEEE:     make(map[uint16]uint64),
		stateChangeCh: make(chan znp.DeviceState, 16),
	}
	tr.SetIndicationCallback(c.handleIndication)
	return c
}

// SetOnDeviceJoined registers the device-joined callback.
func (c *Coordinator) SetOnDeviceJoined(fn DeviceJoinedFunc) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onDeviceJoined = fn
}

// SetOnDeviceLeft registers the device-left callback.
func (c *Coordinator) SetOnDeviceLeft(fn DeviceLeftFunc) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onDeviceLeft = fn
}

// SetOnDeviceAnnounced registers the device-announced callback.
func (c *Coordinator) SetOnDeviceAnnounced(fn DeviceAnnouncedFunc) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onDeviceAnnounced = fn
}

// SetOnAttributeReport registers the attribute-report callback.
func (c *Coordinator) SetOnAttributeReport(fn AttributeReportFunc) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onAttributeReport = fn
}

// SetOnCommandReceived registers the command-received callback.
func (c *Coordinator) SetOnCommandReceived(fn CommandReceivedFunc) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onCommandReceived = fn
}

// IsNetworkUp reports whether the coordinator has reached ZB_COORD.
func (c *Coordinator) IsNetworkUp() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.networkUp
}

// State returns the coordinator's current network state.
func (c *Coordinator) State() znp.DeviceState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Initialize opens the transport, pings the coordinator, reads its version,
// and drives network startup, succeeding once the state machine reaches
// ZB_COORD within networkFormationTimeout.
func (c *Coordinator) Initialize() error {
	if err := c.tr.Open(); err != nil {
		return err
	}
	if err := c.ping(); err != nil {
		return err
	}
	if _, err := c.version(); err != nil {
		return err
	}
	if err := c.startupFromApp(); err != nil {
		return err
	}
	return c.waitForNetworkUp(networkFormationTimeout)
}

// Shutdown closes the underlying transport.
func (c *Coordinator) Shutdown() {
	c.tr.Close()
}

func (c *Coordinator) ping() error {
	frame := znp.New(znp.SREQ, znp.SYS, sysPing)
	_, err := c.tr.Request(frame, defaultRequestTimeout)
	return err
}

func (c *Coordinator) version() (*znp.Frame, error) {
	frame := znp.New(znp.SREQ, znp.SYS, sysVersion)
	return c.tr.Request(frame, defaultRequestTimeout)
}

func (c *Coordinator) startupFromApp() error {
	frame := znp.New(znp.SREQ, znp.ZDO, zdoStartupFromApp)
	frame.AppendByte(0) // startDelay
	_, err := c.tr.Request(frame, defaultRequestTimeout)
	return err
}

func (c *Coordinator) waitForNetworkUp(timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		select {
		case state := <-c.stateChangeCh:
			if state == znp.StateZBCoord {
				c.stateMu.Lock()
				c.networkUp = true
				c.stateMu.Unlock()
				return nil
			}
		case <-deadline:
			return cerrors.New(cerrors.KindTimeout, "coordinator.Initialize", "NetworkFormationTimeout")
		}
	}
}

// PermitJoin enables or disables device pairing for duration seconds
// (0=disable, 255=permanent).
func (c *Coordinator) PermitJoin(duration byte) error {
	frame := znp.New(znp.SREQ, znp.ZDO, zdoMgmtPermitJoin)
	frame.AppendWord(0xFFFC) // broadcast to all routers and coordinator
	frame.AppendByte(duration)
	frame.AppendByte(0) // TC significance
	_, err := c.tr.Request(frame, defaultRequestTimeout)
	return err
}

func (c *Coordinator) nextTransactionSeq() byte {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seq++
	return c.seq
}

// sendZCLFrame wraps a ZCL frame (frame control, transaction sequence,
// command, payload) in an AF_DATA_REQUEST and waits for its SRSP; any
// ZCL reply arrives later as an AF_INCOMING_MSG indication.
func (c *Coordinator) sendZCLFrame(nwkAddr uint16, endpoint byte, cluster uint16, frameControl, zclCommand byte, zclPayload []byte) error {
	req := znp.New(znp.SREQ, znp.AF, afDataRequest)
	req.AppendWord(nwkAddr)
	req.AppendByte(endpoint) // dst endpoint
	req.AppendByte(1)        // src endpoint
	req.AppendWord(cluster)
	req.AppendByte(c.nextTransactionSeq()) // AF transaction
	req.AppendByte(0)        // options
	req.AppendByte(30)       // radius

	zclFrame := append([]byte{frameControl, c.nextTransactionSeq(), zclCommand}, zclPayload...)
	req.AppendByte(byte(len(zclFrame)))
	req.AppendBytes(zclFrame)

	_, err := c.tr.Request(req, defaultRequestTimeout)
	return err
}

// ReadAttribute sends a ZCL Read Attributes command for a single attribute.
func (c *Coordinator) ReadAttribute(nwkAddr uint16, endpoint byte, cluster, attr uint16) error {
	payload := []byte{byte(attr), byte(attr >> 8)}
	return c.sendZCLFrame(nwkAddr, endpoint, cluster, 0x00, 0x00 /* READ_ATTRIBUTES */, payload)
}

// WriteAttribute sends a ZCL Write Attributes command for a single attribute.
func (c *Coordinator) WriteAttribute(nwkAddr uint16, endpoint byte, cluster, attr uint16, dataType byte, value []byte) error {
	payload := append([]byte{byte(attr), byte(attr >> 8), dataType}, value...)
	return c.sendZCLFrame(nwkAddr, endpoint, cluster, 0x00, 0x02 /* WRITE_ATTRIBUTES */, payload)
}

// SendCommand issues a cluster-specific ZCL command, honoring
// disableDefaultRsp (defaulting to true).
func (c *Coordinator) SendCommand(nwkAddr uint16, endpoint byte, cluster uint16, command byte, payload []byte, disableDefaultRsp bool) error {
	frameControl := byte(0x01) // cluster-specific
	if disableDefaultRsp {
		frameControl |= 0x10
	}
	return c.sendZCLFrame(nwkAddr, endpoint, cluster, frameControl, command, payload)
}

// ConfigureReporting sends a ZCL Configure Reporting command for a single
// attribute with the given interval bounds (seconds) and reportable
// change threshold.
func (c *Coordinator) ConfigureReporting(nwkAddr uint16, endpoint byte, cluster, attr uint16, dataType byte, minInterval, maxInterval uint16, reportableChange []byte) error {
	payload := []byte{0x00, byte(attr), byte(attr >> 8), dataType,
		byte(minInterval), byte(minInterval >> 8),
		byte(maxInterval), byte(maxInterval >> 8)}
	payload = append(payload, reportableChange...)
	return c.sendZCLFrame(nwkAddr, endpoint, cluster, 0x00, 0x06 /* CONFIGURE_REPORTING */, payload)
}

// --- Convenience operations ---

// SetOnOff turns a device on or off via the On/Off cluster (0x0006).
func (c *Coordinator) SetOnOff(nwkAddr uint16, endpoint byte, on bool) error {
	cmd := byte(0x00) // Off
	if on {
		cmd = 0x01 // On
	}
	return c.SendCommand(nwkAddr, endpoint, 0x0006, cmd, nil, true)
}

// SetLevel sets brightness (0-254) via the Level Control cluster (0x0008),
// with a 16-bit transition time in 1/10 s units.
func (c *Coordinator) SetLevel(nwkAddr uint16, endpoint byte, level byte, transitionTime uint16) error {
	payload := []byte{level, byte(transitionTime), byte(transitionTime >> 8)}
	return c.SendCommand(nwkAddr, endpoint, 0x0008, 0x04 /* MOVE_TO_LEVEL_ONOFF */, payload, true)
}

// SetColorTemp sets colour temperature in mireds via the Color Control
// cluster (0x0300).
func (c *Coordinator) SetColorTemp(nwkAddr uint16, endpoint byte, mireds uint16, transitionTime uint16) error {
	payload := []byte{byte(mireds), byte(mireds >> 8), byte(transitionTime), byte(transitionTime >> 8)}
	return c.SendCommand(nwkAddr, endpoint, 0x0300, 0x0A /* MOVE_TO_COLOR_TEMP */, payload, true)
}

// SetHueSat sets hue and saturation (0-254 each) via the Color Control
// cluster (0x0300).
func (c *Coordinator) SetHueSat(nwkAddr uint16, endpoint byte, hue, sat byte, transitionTime uint16) error {
	payload := []byte{hue, sat, byte(transitionTime), byte(transitionTime >> 8)}
	return c.SendCommand(nwkAddr, endpoint, 0x0300, 0x06 /* MOVE_TO_HUE_SAT */, payload, true)
}

// --- Device database ---

// GetDevice returns the known device with the given IEEE address.
func (c *Coordinator) GetDevice(ieeeAddr uint64) (DeviceInfo, bool) {
	c.devMu.RLock()
	defer c.devMu.RUnlock()
	d, ok := c.devices[ieeeAddr]
	if !ok {
		return DeviceInfo{}, false
	}
	return *d, true
}

// GetDeviceByNwkAddr returns the known device with the given network address.
func (c *Coordinator) GetDeviceByNwkAddr(nwkAddr uint16) (DeviceInfo, bool) {
	c.devMu.RLock()
	defer c.devMu.RUnlock()
	ieee, ok := c.nwkToIEEE[nwkAddr]
	if !ok {
		return DeviceInfo{}, false
	}
	d := c.devices[ieee]
	if d == nil {
		return DeviceInfo{}, false
	}
	return *d, true
}

// AllDevices returns a snapshot of every known device.
func (c *Coordinator) AllDevices() []DeviceInfo {
	c.devMu.RLock()
	defer c.devMu.RUnlock()
	out := make([]DeviceInfo, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, *d)
	}
	return out
}

// DeviceCount returns the number of known devices.
func (c *Coordinator) DeviceCount() int {
	c.devMu.RLock()
	defer c.devMu.RUnlock()
	return len(c.devices)
}

// --- Indication handling ---

func (c *Coordinator) handleIndication(frame *znp.Frame) {
	switch {
	case frame.Subsystem == znp.ZDO && frame.Command == zdoStateChangeInd:
		c.handleStateChange(frame)
	case frame.Subsystem == znp.ZDO && frame.Command == zdoEndDeviceAnnceInd:
		c.handleDeviceAnnounce(frame)
	case frame.Subsystem == znp.ZDO && frame.Command == zdoLeaveInd:
		c.handleDeviceLeave(frame)
	case frame.Subsystem == znp.ZDO && frame.Command == zdoTCDevInd:
		c.handleTCDeviceInd(frame)
	case frame.Subsystem == znp.AF && frame.Command == afIncomingMsg:
		c.handleIncomingMessage(frame)
	default:
		log.Printf("DEBUG: coordinator: unhandled indication %s/%#x\n", frame.Subsystem, frame.Command)
	}
}

func (c *Coordinator) handleStateChange(frame *znp.Frame) {
	state := znp.DeviceState(frame.GetByte(0))
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
	select {
	case c.stateChangeCh <- state:
	default:
	}
	log.Printf("DEBUG: coordinator: ZDO state change -> %s\n", state)
}

func (c *Coordinator) handleDeviceAnnounce(frame *znp.Frame) {
	nwkAddr := frame.GetWord(0)
	ieeeAddr := frame.GetQWord(2)

	c.devMu.Lock()
	d, existed := c.devices[ieeeAddr]
	if !existed {
		d = &DeviceInfo{
			IEEEAddress: ieeeAddr,
			InClusters:  make(map[byte][]uint16),
			OutClusters: make(map[byte][]uint16),
		}
		c.devices[ieeeAddr] = d
	}
	d.NetworkAddress = nwkAddr
	d.LastSeen = time.Now()
	d.Available = true
	c.nwkToIEEE[nwkAddr] = ieeeAddr
	c.devMu.Unlock()

	c.cbMu.RLock()
	announced := c.onDeviceAnnounced
	joined := c.onDeviceJoined
	c.cbMu.RUnlock()
	if announced != nil {
		announced(nwkAddr, ieeeAddr)
	}

	// Request active endpoints, then fire onDeviceJoined once that request
	// has returned, whether or not it succeeded. No node or simple
	// descriptor requests are made, and the active-endpoint response
	// indication is not handled, so Endpoints and the cluster maps stay empty.
	go func() {
		if err := c.requestActiveEndpoints(nwkAddr); err != nil {
			log.Printf("WARNING: coordinator: active endpoint request for %04X failed: %v\n", nwkAddr, err)
		}
		if joined != nil {
			if info, ok := c.GetDevice(ieeeAddr); ok {
				joined(info)
			}
		}
	}()
}

func (c *Coordinator) requestActiveEndpoints(nwkAddr uint16) error {
	frame := znp.New(znp.SREQ, znp.ZDO, zdoActiveEPReq)
	frame.AppendWord(nwkAddr)
	frame.AppendWord(nwkAddr)
	_, err := c.tr.Request(frame, defaultRequestTimeout)
	return err
}

func (c *Coordinator) handleDeviceLeave(frame *znp.Frame) {
	ieeeAddr := frame.GetQWord(0)
	c.purgeDevice(ieeeAddr)
}

func (c *Coordinator) handleTCDeviceInd(frame *znp.Frame) {
	// TC_DEV_IND carries nwk/IEEE of a device that just joined via the
	// trust centre; treated as informational only unless accompanied by
	// a leave status, which ZDO_LEAVE_IND already covers.
	log.Printf("DEBUG: coordinator: TC_DEV_IND for nwk=%#04x\n", frame.GetWord(0))
}

func (c *Coordinator) purgeDevice(ieeeAddr uint64) {
	c.devMu.Lock()
	d, existed := c.devices[ieeeAddr]
	if existed {
		delete(c.nwkToIEEE, d.NetworkAddress)
		delete(c.devices, ieeeAddr)
	}
	c.devMu.Unlock()

	if !existed {
		return
	}
	c.cbMu.RLock()
	left := c.onDeviceLeft
	c.cbMu.RUnlock()
	if left != nil {
		left(ieeeAddr)
	}
}

func (c *Coordinator) handleIncomingMessage(frame *znp.Frame) {
	// AF_INCOMING_MSG payload: groupId(2) clusterId(2) srcAddr(2) srcEp(1)
	// dstEp(1) wasBroadcast(1) linkQuality(1) securityUse(1) timestamp(4)
	// transSeqNum(1) len(1) data(len)
	cluster := frame.GetWord(2)
	srcAddr := frame.GetWord(4)
	srcEp := frame.GetByte(6)
	dataLen := int(frame.GetByte(16))
	data := frame.GetBytes(17, dataLen)
	if len(data) < 3 {
		return
	}
	frameControl := data[0]
	zclCommand := data[2]
	zclPayload := data[3:]

	isGlobal := frameControl&0x01 == 0
	if isGlobal && zclCommand == 0x0A /* REPORT_ATTRIBUTES */ {
		c.handleAttributeReport(srcAddr, srcEp, cluster, zclPayload, false)
		return
	}
	if isGlobal && zclCommand == 0x01 /* READ_ATTRIBUTES_RSP */ {
		c.handleAttributeReport(srcAddr, srcEp, cluster, zclPayload, true)
		return
	}

	c.cbMu.RLock()
	cmdCb := c.onCommandReceived
	c.cbMu.RUnlock()
	if cmdCb != nil {
		cmdCb(srcAddr, srcEp, cluster, zclCommand, zclPayload)
	}
}

func (c *Coordinator) handleAttributeReport(nwkAddr uint16, endpoint byte, cluster uint16, payload []byte, hasStatus bool) {
	c.cbMu.RLock()
	cb := c.onAttributeReport
	c.cbMu.RUnlock()
	if cb == nil {
		return
	}
	// Each record: attrId(2) [status(1) for READ_ATTRIBUTES_RSP] dataType(1) data(var).
	// A non-SUCCESS status record carries no dataType/data at all.
	offset := 0
	for offset+3 <= len(payload) {
		attrID := uint16(payload[offset]) | uint16(payload[offset+1])<<8
		offset += 2
		if hasStatus {
			status := payload[offset]
			offset++
			if status != zcl.StatusSuccess {
				continue
			}
			if offset >= len(payload) {
				break
			}
		}
		dataType := payload[offset]
		offset++
		size := zclDataTypeSize(dataType, payload[offset:])
		if offset+size > len(payload) {
			break
		}
		data := payload[offset : offset+size]
		cb(nwkAddr, AttributeValue{
			ClusterID:   cluster,
			Endpoint:    endpoint,
			AttributeID: attrID,
			DataType:    dataType,
			Data:        append([]byte(nil), data...),
		})
		offset += size
	}
}

// zclDataTypeSize resolves a fixed size via the zcl package, falling back
// to consuming the rest of the buffer for variable-length types.
func zclDataTypeSize(dataType byte, rest []byte) int {
	size := zcl.DataTypeSize(dataType)
	if size > 0 {
		return size
	}
	return len(rest)
}
