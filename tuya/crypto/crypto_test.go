// Copyright ©2020 Steve Merrony

package crypto

import (
	"bytes"
	"testing"
)

func TestNewAcceptsRawAndHexKeys(t *testing.T) {
	if _, err := New("0123456789abcdef", "3.3"); err != nil {
		t.Errorf("New(16-char raw key): %v", err)
	}
	if _, err := New("30313233343536373839616263646566", "3.3"); err != nil {
		t.Errorf("New(32-char hex key): %v", err)
	}
	if _, err := New("tooshort", "3.3"); err == nil {
		t.Error("New should reject a key that is neither 16 raw nor 32 hex chars")
	}
	if _, err := New("zz23456789abcdefzz23456789abcdef", "3.3"); err == nil {
		t.Error("New should reject a 32-char key that is not valid hex")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New("0123456789abcdef", "3.3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	plain := []byte(`{"dps":{"1":true,"2":800}}`)
	cipherText, err := c.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(cipherText)%16 != 0 {
		t.Fatalf("ciphertext length %d is not block-aligned", len(cipherText))
	}
	got, err := c.Decrypt(cipherText)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip = %q, want %q", got, plain)
	}
}

func TestSessionNegotiationDerivesSharedKey(t *testing.T) {
	local, err := New("0123456789abcdef", "3.4")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !local.NeedsSessionNegotiation() {
		t.Fatal("v3.4 cipher should require session negotiation")
	}

	remoteNonce := bytes.Repeat([]byte{0xA5}, 16)
	if err := local.CompleteSessionNegotiation(remoteNonce); err != nil {
		t.Fatalf("CompleteSessionNegotiation: %v", err)
	}
	if local.NeedsSessionNegotiation() {
		t.Error("negotiation should be complete after CompleteSessionNegotiation")
	}

	// Frames encrypted under the session key must no longer decrypt under
	// a fresh cipher that only has the local key.
	cipherText, err := local.Encrypt([]byte(`{"dps":{"1":true}}`))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	fresh, _ := New("0123456789abcdef", "3.4")
	if plain, err := fresh.Decrypt(cipherText); err == nil && bytes.Contains(plain, []byte("dps")) {
		t.Error("session-keyed ciphertext decrypted under the bare local key")
	}
}

func TestCompleteSessionNegotiationRejectsShortNonce(t *testing.T) {
	c, _ := New("0123456789abcdef", "3.5")
	if err := c.CompleteSessionNegotiation([]byte{1, 2, 3}); err == nil {
		t.Error("CompleteSessionNegotiation should reject a short remote nonce")
	}
}

func TestV33NeedsNoSessionNegotiation(t *testing.T) {
	c, _ := New("0123456789abcdef", "3.3")
	if c.NeedsSessionNegotiation() {
		t.Error("v3.3 must not require session negotiation")
	}
}
