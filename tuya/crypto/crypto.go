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

// Package crypto implements the Tuya local-protocol AES-128-ECB payload
// cipher and the v3.4/3.5 session-key negotiation.
package crypto

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/hex"

	"github.com/SMerrony/homehub/cerrors"
)

const blockSize = 16

// Cipher holds the local key, version and (once negotiated) session key
// used to encrypt and decrypt a single Tuya device's payloads.
type Cipher struct {
	localKey   []byte
	sessionKey []byte
	localNonce []byte
	version    string
	sessionOK  bool
}

// New builds a Cipher from a device local key and protocol version string
// ("3.1", "3.3", "3.4" or "3.5"). Tuya issues local keys as 16 ASCII
// characters used directly as the AES key; a 32-character value is accepted
// as the hex encoding of the same 16 bytes.
func New(localKey, version string) (*Cipher, error) {
	var key []byte
	switch len(localKey) {
	case blockSize:
		key = []byte(localKey)
	case blockSize * 2:
		decoded, err := hex.DecodeString(localKey)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindProtocolError, "tuyacrypto.New", "32-char local key is not valid hex", err)
		}
		key = decoded
	default:
		return nil, cerrors.New(cerrors.KindProtocolError, "tuyacrypto.New", "local key must be 16 bytes (raw or hex)")
	}
	return &Cipher{localKey: key, version: version}, nil
}

// NeedsSessionNegotiation reports whether this version requires a session
// key exchange before frames can be exchanged.
func (c *Cipher) NeedsSessionNegotiation() bool {
	return (c.version == "3.4" || c.version == "3.5") && !c.sessionOK
}

// LocalNonce returns (generating on first call) the 16 random bytes this
// side contributes to session-key derivation.
func (c *Cipher) LocalNonce() ([]byte, error) {
	if c.localNonce == nil {
		nonce := make([]byte, blockSize)
		if _, err := rand.Read(nonce); err != nil {
			return nil, cerrors.Wrap(cerrors.KindInternal, "tuyacrypto.LocalNonce", "random source failed", err)
		}
		c.localNonce = nonce
	}
	return c.localNonce, nil
}

// CompleteSessionNegotiation derives the session key from the local and
// remote nonces once SESS_KEY_NEG_RESP has been received.
func (c *Cipher) CompleteSessionNegotiation(remoteNonce []byte) error {
	if len(remoteNonce) != blockSize {
		return cerrors.New(cerrors.KindProtocolError, "tuyacrypto.CompleteSessionNegotiation", "remote nonce must be 16 bytes")
	}
	local, err := c.LocalNonce()
	if err != nil {
		return err
	}
	combined := make([]byte, blockSize)
	for i := range combined {
		combined[i] = local[i] ^ remoteNonce[i]
	}
	block, err := aes.NewCipher(c.localKey)
	if err != nil {
		return cerrors.Wrap(cerrors.KindInternal, "tuyacrypto.CompleteSessionNegotiation", "bad local key", err)
	}
	sessionKey := make([]byte, blockSize)
	block.Encrypt(sessionKey, combined)
	c.sessionKey = sessionKey
	c.sessionOK = true
	return nil
}

func (c *Cipher) activeKey() []byte {
	if c.sessionOK {
		return c.sessionKey
	}
	return c.localKey
}

// Encrypt pads data to a block boundary with PKCS#7 and encrypts it with
// the active key under AES-128-ECB.
func (c *Cipher) Encrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.activeKey())
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindInternal, "tuyacrypto.Encrypt", "bad key", err)
	}
	padded := pkcs7Pad(data, blockSize)
	out := make([]byte, len(padded))
	for off := 0; off < len(padded); off += blockSize {
		block.Encrypt(out[off:off+blockSize], padded[off:off+blockSize])
	}
	return out, nil
}

// Decrypt inverts Encrypt: AES-128-ECB decrypt under the active key, then
// strip PKCS#7 padding.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, cerrors.New(cerrors.KindParseError, "tuyacrypto.Decrypt", "ciphertext is not a multiple of the block size")
	}
	block, err := aes.NewCipher(c.activeKey())
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindInternal, "tuyacrypto.Decrypt", "bad key", err)
	}
	out := make([]byte, len(data))
	for off := 0; off < len(data); off += blockSize {
		block.Decrypt(out[off:off+blockSize], data[off:off+blockSize])
	}
	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, size int) []byte {
	pad := size - len(data)%size
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, cerrors.New(cerrors.KindParseError, "tuyacrypto.pkcs7Unpad", "empty plaintext")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, cerrors.New(cerrors.KindParseError, "tuyacrypto.pkcs7Unpad", "invalid PKCS#7 padding")
	}
	return data[:len(data)-pad], nil
}
