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

// Package znp implements the TI Z-Stack ZNP (Zigbee Network Processor)
// serial frame format used to talk to CC2652-class coordinator radios.
//
// Frame layout:
//
//	+------+--------+------+------+---------+-----+
//	| SOF  | Length | Cmd0 | Cmd1 | Payload | FCS |
//	| 0xFE | 1 byte | 1    | 1    | N bytes | 1   |
//	+------+--------+------+------+---------+-----+
//
// Cmd0 packs Type (bits 7-5) and Subsystem (bits 4-0); Cmd1 is the
// command ID within that subsystem.
package znp

import (
	"fmt"

	"github.com/SMerrony/homehub/cerrors"
)

// Type is the ZNP message type, encoded in bits 7-5 of Cmd0.
type Type byte

const (
	Poll Type = 0x00
	SREQ Type = 0x20
	AREQ Type = 0x40
	SRSP Type = 0x60
)

func (t Type) String() string {
	switch t {
	case Poll:
		return "POLL"
	case SREQ:
		return "SREQ"
	case AREQ:
		return "AREQ"
	case SRSP:
		return "SRSP"
	default:
		return "UNKNOWN"
	}
}

// Subsystem is the ZNP subsystem, encoded in bits 4-0 of Cmd0.
type Subsystem byte

const (
	RPCError   Subsystem = 0x00
	SYS        Subsystem = 0x01
	MAC        Subsystem = 0x02
	NWK        Subsystem = 0x03
	AF         Subsystem = 0x04
	ZDO        Subsystem = 0x05
	SAPI       Subsystem = 0x06
	UTIL       Subsystem = 0x07
	DEBUG      Subsystem = 0x08
	APP        Subsystem = 0x09
	APPCnf     Subsystem = 0x0F
	GreenPower Subsystem = 0x15
)

func (s Subsystem) String() string {
	switch s {
	case RPCError:
		return "RPC_ERROR"
	case SYS:
		return "SYS"
	case MAC:
		return "MAC"
	case NWK:
		return "NWK"
	case AF:
		return "AF"
	case ZDO:
		return "ZDO"
	case SAPI:
		return "SAPI"
	case UTIL:
		return "UTIL"
	case DEBUG:
		return "DEBUG"
	case APP:
		return "APP"
	case APPCnf:
		return "APP_CNF"
	case GreenPower:
		return "GREENPOWER"
	default:
		return "UNKNOWN"
	}
}

// DeviceState is the coordinator state reported in ZDO_STATE_CHANGE_IND.
type DeviceState byte

const (
	StateHold              DeviceState = 0x00
	StateInit              DeviceState = 0x01
	StateNwkDisc           DeviceState = 0x02
	StateNwkJoining        DeviceState = 0x03
	StateNwkRejoin         DeviceState = 0x04
	StateEndDeviceUnauth   DeviceState = 0x05
	StateEndDevice         DeviceState = 0x06
	StateRouter            DeviceState = 0x07
	StateCoordStarting     DeviceState = 0x08
	StateZBCoord           DeviceState = 0x09
	StateNwkOrphan         DeviceState = 0x0A
)

func (s DeviceState) String() string {
	switch s {
	case StateHold:
		return "HOLD"
	case StateInit:
		return "INIT"
	case StateNwkDisc:
		return "NWK_DISC"
	case StateNwkJoining:
		return "NWK_JOINING"
	case StateNwkRejoin:
		return "NWK_REJOIN"
	case StateEndDeviceUnauth:
		return "END_DEVICE_UNAUTH"
	case StateEndDevice:
		return "END_DEVICE"
	case StateRouter:
		return "ROUTER"
	case StateCoordStarting:
		return "COORD_STARTING"
	case StateZBCoord:
		return "ZB_COORD"
	case StateNwkOrphan:
		return "NWK_ORPHAN"
	default:
		return "UNKNOWN"
	}
}

const (
	sof            = 0xFE
	minFrameSize   = 5 // SOF + Len + Cmd0 + Cmd1 + FCS
	maxPayloadSize = 250
)

// Frame is a single parsed or to-be-serialized ZNP frame.
type Frame struct {
	Type      Type
	Subsystem Subsystem
	Command   byte
	Payload   []byte
}

// New starts a Frame with no payload; use the Append* methods to build it
// up before Serialize.
func New(t Type, s Subsystem, command byte) *Frame {
	return &Frame{Type: t, Subsystem: s, Command: command}
}

// AppendByte appends a single byte to the payload.
func (f *Frame) AppendByte(b byte) *Frame {
	f.Payload = append(f.Payload, b)
	return f
}

// AppendWord appends a little-endian uint16.
func (f *Frame) AppendWord(w uint16) *Frame {
	f.Payload = append(f.Payload, byte(w), byte(w>>8))
	return f
}

// AppendDWord appends a little-endian uint32.
func (f *Frame) AppendDWord(d uint32) *Frame {
	f.Payload = append(f.Payload, byte(d), byte(d>>8), byte(d>>16), byte(d>>24))
	return f
}

// AppendQWord appends a little-endian uint64 (used for IEEE addresses).
func (f *Frame) AppendQWord(q uint64) *Frame {
	for i := 0; i < 8; i++ {
		f.Payload = append(f.Payload, byte(q>>(i*8)))
	}
	return f
}

// AppendBytes appends raw bytes to the payload.
func (f *Frame) AppendBytes(b []byte) *Frame {
	f.Payload = append(f.Payload, b...)
	return f
}

// Cmd0 returns the packed type|subsystem byte.
func (f *Frame) Cmd0() byte { return byte(f.Type) | byte(f.Subsystem) }

// IsRequest reports whether this is a synchronous request (SREQ).
func (f *Frame) IsRequest() bool { return f.Type == SREQ }

// IsResponse reports whether this is a synchronous response (SRSP).
func (f *Frame) IsResponse() bool { return f.Type == SRSP }

// IsIndication reports whether this is an asynchronous indication (AREQ).
func (f *Frame) IsIndication() bool { return f.Type == AREQ }

func calculateFCS(data []byte) byte {
	var fcs byte
	for _, b := range data {
		fcs ^= b
	}
	return fcs
}

// Serialize encodes the frame to its wire representation including SOF and
// FCS. It returns a ParseError-kind error if the payload exceeds
// maxPayloadSize.
func (f *Frame) Serialize() ([]byte, error) {
	if len(f.Payload) > maxPayloadSize {
		return nil, cerrors.New(cerrors.KindParseError, "znp.serialize", fmt.Sprintf("payload of %d bytes exceeds max %d", len(f.Payload), maxPayloadSize))
	}
	out := make([]byte, 0, minFrameSize+len(f.Payload))
	out = append(out, sof, byte(len(f.Payload)), f.Cmd0(), f.Command)
	out = append(out, f.Payload...)
	out = append(out, calculateFCS(out[1:]))
	return out, nil
}

// FindFrame scans buf for a complete, FCS-valid frame starting at a SOF
// byte. It returns the frame's start offset and total length. ok is false
// if no complete valid frame is present yet (the caller should read more
// bytes and retry) — this never distinguishes "no SOF yet" from "SOF but
// truncated"; both simply mean "not yet".
func FindFrame(buf []byte) (start, length int, ok bool) {
	for i := 0; i < len(buf); i++ {
		if buf[i] != sof {
			continue
		}
		if i+minFrameSize > len(buf) {
			return 0, 0, false
		}
		payloadLen := int(buf[i+1])
		if payloadLen > maxPayloadSize {
			continue // not a real SOF, keep scanning
		}
		total := minFrameSize + payloadLen
		if i+total > len(buf) {
			return 0, 0, false
		}
		expected := calculateFCS(buf[i+1 : i+total-1])
		actual := buf[i+total-1]
		if expected == actual {
			return i, total, true
		}
		// FCS mismatch: keep scanning past this SOF.
	}
	return 0, 0, false
}

// Parse extracts a Frame from a buffer already known (via FindFrame) to
// hold exactly one complete, FCS-valid frame.
func Parse(buf []byte) (*Frame, error) {
	start, length, ok := FindFrame(buf)
	if !ok {
		return nil, cerrors.New(cerrors.KindParseError, "znp.parse", "incomplete or invalid frame")
	}
	frame := buf[start : start+length]
	payloadLen := frame[1]
	cmd0 := frame[2]
	cmd1 := frame[3]

	f := &Frame{
		Type:      Type(cmd0 & 0xE0),
		Subsystem: Subsystem(cmd0 & 0x1F),
		Command:   cmd1,
	}
	if payloadLen > 0 {
		f.Payload = append([]byte(nil), frame[4:4+payloadLen]...)
	}
	return f, nil
}

// GetByte returns the payload byte at offset, or 0 if out of range.
func (f *Frame) GetByte(offset int) byte {
	if offset < 0 || offset >= len(f.Payload) {
		return 0
	}
	return f.Payload[offset]
}

// GetWord returns a little-endian uint16 from the payload at offset, or 0
// if out of range.
func (f *Frame) GetWord(offset int) uint16 {
	if offset < 0 || offset+1 >= len(f.Payload) {
		return 0
	}
	return uint16(f.Payload[offset]) | uint16(f.Payload[offset+1])<<8
}

// GetDWord returns a little-endian uint32 from the payload at offset, or 0
// if out of range.
func (f *Frame) GetDWord(offset int) uint32 {
	if offset < 0 || offset+3 >= len(f.Payload) {
		return 0
	}
	return uint32(f.Payload[offset]) | uint32(f.Payload[offset+1])<<8 |
		uint32(f.Payload[offset+2])<<16 | uint32(f.Payload[offset+3])<<24
}

// GetQWord returns a little-endian uint64 from the payload at offset, or 0
// if out of range (e.g. an IEEE address).
func (f *Frame) GetQWord(offset int) uint64 {
	if offset < 0 || offset+7 >= len(f.Payload) {
		return 0
	}
	var result uint64
	for i := 0; i < 8; i++ {
		result |= uint64(f.Payload[offset+i]) << (i * 8)
	}
	return result
}

// GetBytes returns up to len bytes of payload starting at offset, truncated
// to what's available.
func (f *Frame) GetBytes(offset, length int) []byte {
	if offset < 0 || offset >= len(f.Payload) {
		return nil
	}
	end := offset + length
	if end > len(f.Payload) {
		end = len(f.Payload)
	}
	return append([]byte(nil), f.Payload[offset:end]...)
}

// String renders the frame for debug logging.
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{type=%s, subsystem=%s, cmd=0x%02X, payload=% X}",
		f.Type, f.Subsystem, f.Command, f.Payload)
}
