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

package crypto

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/SMerrony/homehub/cerrors"
)

// Command is the Tuya local-protocol command type carried by a Message.
type Command uint32

const (
	CmdUDPDiscovery     Command = 0x00
	CmdSessKeyNegStart  Command = 0x03
	CmdSessKeyNegResp   Command = 0x04
	CmdSessKeyNegFinish Command = 0x05
	CmdControl          Command = 0x07
	CmdStatus           Command = 0x08
	CmdHeartbeat        Command = 0x09
	CmdDPQuery          Command = 0x0A
	CmdControlNew       Command = 0x0D
	CmdDPQueryNew       Command = 0x10
)

const (
	prefix = 0x000055AA
	suffix = 0x0000AA55
	// fixed header: prefix(4) + seq(4) + cmd(4) + length(4)
	headerLen = 16
	// length accounts for everything after it: banner, ciphertext, CRC
	// and suffix. versionHeaderLen is the banner (absent on 3.1).
	versionHeaderLen = 15
)

// Message is a single Tuya local-protocol frame: a command, a per-connection
// sequence number, and a payload (plaintext once decoded).
type Message struct {
	Command  Command
	Sequence uint32
	Payload  []byte
}

// FindMessage scans buf for a complete Tuya frame starting at the prefix.
// It returns the frame's (offset, total length) or ok=false if buf holds
// no complete frame yet. Garbage before the prefix is implicitly skipped
// by the caller re-slicing to offset.
func FindMessage(buf []byte) (offset, length int, ok bool) {
	for i := 0; i+headerLen <= len(buf); i++ {
		if binary.BigEndian.Uint32(buf[i:]) != prefix {
			continue
		}
		declaredLen := binary.BigEndian.Uint32(buf[i+12:])
		total := headerLen + int(declaredLen)
		if i+total > len(buf) {
			continue // a truncated frame or a false prefix match; keep scanning
		}
		if total < 8 {
			continue // declared length too small to hold even the suffix
		}
		suffixAt := i + total - 4
		if binary.BigEndian.Uint32(buf[suffixAt:]) != suffix {
			continue // not a real prefix match, keep scanning
		}
		return i, total, true
	}
	return 0, 0, false
}

// Encode serializes m for transmission: prefix, sequence, command, length,
// an optional 15-byte version banner (every version except 3.1), the
// ciphertext, a CRC32 over everything preceding it, and the suffix.
func Encode(m Message, c *Cipher, version string) ([]byte, error) {
	cipherText, err := c.Encrypt(m.Payload)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindInternal, "crypto.Encode", "encrypting payload", err)
	}

	body := cipherText
	if version != "3.1" {
		banner := make([]byte, versionHeaderLen)
		copy(banner, version)
		body = append(append([]byte{}, banner...), cipherText...)
	}

	out := make([]byte, 0, headerLen+len(body)+8)
	out = appendBE32(out, prefix)
	out = appendBE32(out, m.Sequence)
	out = appendBE32(out, uint32(m.Command))
	out = appendBE32(out, uint32(len(body)+8)) // body + crc(4) + suffix(4)
	out = append(out, body...)
	crc := crc32.ChecksumIEEE(out)
	out = appendBE32(out, crc)
	out = appendBE32(out, suffix)
	return out, nil
}

// Decode inverts Encode. On versions other than 3.1 the first 15 bytes of
// the body are a version banner and are excluded from decryption.
func Decode(raw []byte, c *Cipher, version string) (Message, error) {
	if len(raw) < headerLen+8 {
		return Message{}, cerrors.New(cerrors.KindParseError, "crypto.Decode", "frame too short")
	}
	if binary.BigEndian.Uint32(raw) != prefix {
		return Message{}, cerrors.New(cerrors.KindParseError, "crypto.Decode", "missing prefix")
	}
	if binary.BigEndian.Uint32(raw[len(raw)-4:]) != suffix {
		return Message{}, cerrors.New(cerrors.KindParseError, "crypto.Decode", "missing suffix")
	}
	seq := binary.BigEndian.Uint32(raw[4:])
	cmd := binary.BigEndian.Uint32(raw[8:])

	wantCRC := binary.BigEndian.Uint32(raw[len(raw)-8:])
	if got := crc32.ChecksumIEEE(raw[:len(raw)-8]); got != wantCRC {
		return Message{}, cerrors.New(cerrors.KindParseError, "crypto.Decode", "CRC mismatch")
	}

	body := raw[headerLen : len(raw)-8]
	if version != "3.1" && len(body) >= versionHeaderLen {
		body = body[versionHeaderLen:]
	}
	if len(body) == 0 {
		// heartbeat replies and bare acks carry no ciphertext at all
		return Message{Command: Command(cmd), Sequence: seq}, nil
	}

	plain, err := c.Decrypt(body)
	if err != nil {
		return Message{}, cerrors.Wrap(cerrors.KindProtocolError, "crypto.Decode", "decrypting payload", err)
	}
	return Message{Command: Command(cmd), Sequence: seq, Payload: plain}, nil
}

func appendBE32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}
