// Copyright ©2020 Steve Merrony

package crypto

import (
	"bytes"
	"testing"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := New("0123456789abcdef0123456789abcdef"[:32], "3.3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		version string
		payload []byte
	}{
		{"v3.1 no banner", "3.1", []byte(`{"dps":{"1":true}}`)},
		{"v3.3 with banner", "3.3", []byte(`{"dps":{"1":false,"2":42}}`)},
		{"empty payload", "3.3", []byte{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := testCipher(t)
			msg := Message{Command: CmdDPQuery, Sequence: 7, Payload: tc.payload}

			raw, err := Encode(msg, c, tc.version)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			got, err := Decode(raw, c, tc.version)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Command != msg.Command || got.Sequence != msg.Sequence {
				t.Fatalf("header mismatch: got %+v, want %+v", got, msg)
			}
			if !bytes.Equal(got.Payload, tc.payload) {
				t.Fatalf("payload mismatch: got %q, want %q", got.Payload, tc.payload)
			}
		})
	}
}

func TestFindMessageIncomplete(t *testing.T) {
	c := testCipher(t)
	raw, err := Encode(Message{Command: CmdStatus, Sequence: 1, Payload: []byte("{}")}, c, "3.3")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, _, ok := FindMessage(raw[:len(raw)-1]); ok {
		t.Fatalf("FindMessage should report incomplete for a truncated frame")
	}

	offset, length, ok := FindMessage(raw)
	if !ok || offset != 0 || length != len(raw) {
		t.Fatalf("FindMessage(complete) = (%d, %d, %v), want (0, %d, true)", offset, length, ok, len(raw))
	}
}

func TestFindMessageSkipsGarbagePrefix(t *testing.T) {
	c := testCipher(t)
	raw, err := Encode(Message{Command: CmdHeartbeat, Sequence: 2, Payload: []byte("x")}, c, "3.3")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	garbage := append([]byte{0x00, 0x00, 0x55, 0xAA, 0xFF, 0xFF}, raw...)
	offset, length, ok := FindMessage(garbage)
	if !ok {
		t.Fatalf("FindMessage should skip the false prefix match and find the real frame")
	}
	if offset != 6 || length != len(raw) {
		t.Fatalf("FindMessage = (%d, %d), want (6, %d)", offset, length, len(raw))
	}
}

func TestDecodeRejectsBadCRC(t *testing.T) {
	c := testCipher(t)
	raw, err := Encode(Message{Command: CmdStatus, Sequence: 3, Payload: []byte(`{"dps":{}}`)}, c, "3.3")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw[len(raw)-5] ^= 0xFF // corrupt the CRC, leave the suffix intact

	if _, err := Decode(raw, c, "3.3"); err == nil {
		t.Fatalf("Decode should reject a frame whose CRC does not verify")
	}
}

func TestDecodeRejectsBadSuffix(t *testing.T) {
	c := testCipher(t)
	raw, err := Encode(Message{Command: CmdStatus, Sequence: 1, Payload: []byte("{}")}, c, "3.3")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF

	if _, err := Decode(raw, c, "3.3"); err == nil {
		t.Fatalf("Decode should reject a corrupted suffix")
	}
}
