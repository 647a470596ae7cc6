package voice

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	key := make([]byte, keyLen)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestNewCipher_RejectsBadKeyLength(t *testing.T) {
	_, err := NewCipher(ModeAES256GCMRTPSize, []byte("too-short"))
	require.Error(t, err)
}

func TestNewCipher_RejectsUnknownMode(t *testing.T) {
	_, err := NewCipher("aead_unknown_mode", testKey())
	require.Error(t, err)
}

func TestCipher_RoundTrip(t *testing.T) {
	for _, mode := range []string{ModeAES256GCMRTPSize, ModeXChaCha20Poly1305RTPSize} {
		t.Run(mode, func(t *testing.T) {
			c, err := NewCipher(mode, testKey())
			require.NoError(t, err)

			header := []byte{0x80, 0x78, 0x00, 0x01, 0, 0, 0x03, 0xC0, 0, 0, 0, 42}
			plaintext := []byte("opus payload goes here")

			sealed, err := c.Encrypt(header, plaintext, 7)
			require.NoError(t, err)

			decrypted, err := c.Decrypt(header, sealed)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(plaintext, decrypted))
		})
	}
}

func TestCipher_TamperedAADFailsToDecrypt(t *testing.T) {
	c, err := NewCipher(ModeAES256GCMRTPSize, testKey())
	require.NoError(t, err)

	header := []byte{0x80, 0x78, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1}
	sealed, err := c.Encrypt(header, []byte("payload"), 1)
	require.NoError(t, err)

	tamperedHeader := append([]byte{}, header...)
	tamperedHeader[2] = 0xFF

	_, err = c.Decrypt(tamperedHeader, sealed)
	assert.Error(t, err)
}

func TestCipher_CounterSequenceHasNoRepeats(t *testing.T) {
	c, err := NewCipher(ModeXChaCha20Poly1305RTPSize, testKey())
	require.NoError(t, err)

	header := []byte{0x80, 0x78, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	seen := make(map[uint32]bool)
	for counter := uint32(1); counter <= 50; counter++ {
		sealed, err := c.Encrypt(header, []byte("x"), counter)
		require.NoError(t, err)
		trailing := sealed[len(sealed)-4:]
		got := uint32(trailing[0])<<24 | uint32(trailing[1])<<16 | uint32(trailing[2])<<8 | uint32(trailing[3])
		assert.Equal(t, counter, got)
		assert.False(t, seen[got], "counter %d repeated", got)
		seen[got] = true
	}
}
