// Package voice implements the Discord voice media plane: AEAD packet
// encryption, the UDP transport and IP discovery, the RTP framer, and
// the voice WebSocket handshake/heartbeat state machine.
package voice

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Mode names exactly as advertised by the voice server in SELECT_PROTOCOL
// negotiation and returned in the SESSION_DESCRIPTION payload.
const (
	ModeAES256GCMRTPSize        = "aead_aes256_gcm_rtpsize"
	ModeXChaCha20Poly1305RTPSize = "aead_xchacha20_poly1305_rtpsize"

	keyLen = 32
)

// Cipher encrypts an RTP payload under a monotonic 32-bit counter nonce,
// appending the counter (big-endian) to the returned ciphertext.
type Cipher interface {
	// Encrypt returns ciphertext‖tag‖counter_be32, with rtpHeader bound
	// in as additional authenticated data.
	Encrypt(rtpHeader, plaintext []byte, counter uint32) ([]byte, error)
	// Decrypt reverses Encrypt, validating the AAD and stripping the
	// trailing counter. Used by tests to verify the round-trip law.
	Decrypt(rtpHeader, sealed []byte) ([]byte, error)
}

// NewCipher constructs a Cipher for the given negotiated mode string and
// 32-byte secret key. Any other mode string, or a key of the wrong
// length, is a fatal configuration error.
func NewCipher(mode string, key []byte) (Cipher, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("voice cipher: key must be %d bytes, got %d", keyLen, len(key))
	}

	switch mode {
	case ModeAES256GCMRTPSize:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("voice cipher: aes key setup: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("voice cipher: gcm setup: %w", err)
		}
		return &aeadCipher{aead: aead, nonceLen: aead.NonceSize()}, nil
	case ModeXChaCha20Poly1305RTPSize:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("voice cipher: xchacha20poly1305 setup: %w", err)
		}
		return &aeadCipher{aead: aead, nonceLen: aead.NonceSize()}, nil
	default:
		return nil, fmt.Errorf("voice cipher: unsupported mode %q", mode)
	}
}

// aeadCipher wraps a stdlib/x-crypto cipher.AEAD; the two supported
// modes differ only in nonce length (12 vs 24 bytes), both built the
// same way: counter_be32 ‖ zero padding.
type aeadCipher struct {
	aead     cipher.AEAD
	nonceLen int
}

func (c *aeadCipher) nonce(counter uint32) []byte {
	n := make([]byte, c.nonceLen)
	binary.BigEndian.PutUint32(n[:4], counter)
	return n
}

func (c *aeadCipher) Encrypt(rtpHeader, plaintext []byte, counter uint32) ([]byte, error) {
	nonce := c.nonce(counter)
	sealed := c.aead.Seal(nil, nonce, plaintext, rtpHeader)
	out := make([]byte, len(sealed)+4)
	copy(out, sealed)
	binary.BigEndian.PutUint32(out[len(sealed):], counter)
	return out, nil
}

func (c *aeadCipher) Decrypt(rtpHeader, sealed []byte) ([]byte, error) {
	if len(sealed) < 4 {
		return nil, fmt.Errorf("voice cipher: sealed payload too short to contain counter")
	}
	body := sealed[:len(sealed)-4]
	counter := binary.BigEndian.Uint32(sealed[len(sealed)-4:])
	nonce := c.nonce(counter)
	plain, err := c.aead.Open(nil, nonce, body, rtpHeader)
	if err != nil {
		return nil, fmt.Errorf("voice cipher: open failed: %w", err)
	}
	return plain, nil
}
