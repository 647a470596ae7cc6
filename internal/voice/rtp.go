package voice

import (
	"fmt"
	"sync/atomic"

	"github.com/pion/rtp"
)

const (
	// rtpPayloadType is an arbitrary dynamic payload type; the far end
	// identifies Opus by the SELECT_PROTOCOL negotiation, not this byte.
	rtpPayloadType = 0x78

	// SamplesPerFrame is the stereo sample count in one 20ms frame at
	// 48kHz: the RTP timestamp advances by this amount per packet.
	SamplesPerFrame = 960
)

// Framer builds and ships one RTP packet per call to Send, advancing
// sequence/timestamp and the AEAD counter exactly once per packet. A
// Framer is single-writer: one Consumer owns it.
type Framer struct {
	transport *Transport
	cipher    Cipher
	ssrc      uint32
	counter   *uint32 // shared with VoiceConnection, atomically incremented

	seq uint16
	ts  uint32
}

// NewFramer builds a Framer over the given transport/cipher/ssrc. seq
// and ts seed the initial sequence/timestamp, letting playback resume
// an existing RTP stream rather than reset to zero: the player stores
// the final values when a playback session ends.
func NewFramer(transport *Transport, c Cipher, ssrc uint32, counter *uint32, seq uint16, ts uint32) *Framer {
	return &Framer{
		transport: transport,
		cipher:    c,
		ssrc:      ssrc,
		counter:   counter,
		seq:       seq,
		ts:        ts,
	}
}

// Send builds the 12-byte RTP header for the current seq/timestamp,
// encrypts opusPayload under it, transmits the combined packet, and
// advances seq (+1, wrapping), timestamp (+960, wrapping), and the
// shared AEAD counter (+1, atomically).
func (f *Framer) Send(opusPayload []byte) error {
	rtpHeader := rtp.Header{
		Version:        2,
		PayloadType:    rtpPayloadType,
		SequenceNumber: f.seq,
		Timestamp:      f.ts,
		SSRC:           f.ssrc,
	}
	header, err := rtpHeader.Marshal()
	if err != nil {
		return fmt.Errorf("rtp framer: marshal header: %w", err)
	}

	counter := atomic.AddUint32(f.counter, 1)
	sealed, err := f.cipher.Encrypt(header, opusPayload, counter)
	if err != nil {
		return fmt.Errorf("rtp framer: encrypt: %w", err)
	}

	packet := make([]byte, 0, len(header)+len(sealed))
	packet = append(packet, header...)
	packet = append(packet, sealed...)

	if err := f.transport.Send(packet); err != nil {
		return fmt.Errorf("rtp framer: send: %w", err)
	}

	f.seq++
	f.ts += SamplesPerFrame
	return nil
}

// SeqTimestamp returns the current (not-yet-used) sequence and
// timestamp, for the player to store (under its mutex) when the
// consumer terminates.
func (f *Framer) SeqTimestamp() (uint16, uint32) {
	return f.seq, f.ts
}
