package voice

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// loopbackTransport wires a Framer's Transport to a local UDP socket
// pair so packets can be captured and inspected.
func loopbackTransport(t *testing.T) (*Transport, *net.UDPConn) {
	t.Helper()
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })

	tr, err := DialTransport(server.LocalAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })

	return tr, server
}

func TestFramer_HeaderLayoutAndMonotonicSeqTimestamp(t *testing.T) {
	tr, server := loopbackTransport(t)

	c, err := NewCipher(ModeAES256GCMRTPSize, testKey())
	require.NoError(t, err)

	var counter uint32
	framer := NewFramer(tr, c, 0xAABBCCDD, &counter, 1000, 5000)

	buf := make([]byte, 2048)
	for i := 0; i < 3; i++ {
		require.NoError(t, framer.Send([]byte("opus-frame")))

		n, _, err := server.ReadFromUDP(buf)
		require.NoError(t, err)
		packet := buf[:n]
		require.GreaterOrEqual(t, len(packet), 12)

		require.Equal(t, byte(0x80), packet[0])
		require.Equal(t, byte(0x78), packet[1])

		gotSeq := binary.BigEndian.Uint16(packet[2:4])
		gotTS := binary.BigEndian.Uint32(packet[4:8])
		gotSSRC := binary.BigEndian.Uint32(packet[8:12])

		require.Equal(t, uint16(1000+i), gotSeq)
		require.Equal(t, uint32(5000+i*SamplesPerFrame), gotTS)
		require.Equal(t, uint32(0xAABBCCDD), gotSSRC)
	}

	require.Equal(t, uint32(3), counter)
}

func TestFramer_SeqAndTimestampWrap(t *testing.T) {
	tr, server := loopbackTransport(t)
	_ = server

	c, err := NewCipher(ModeAES256GCMRTPSize, testKey())
	require.NoError(t, err)

	var counter uint32
	framer := NewFramer(tr, c, 1, &counter, 65535, 4294966336) // 2^32 - 960

	require.NoError(t, framer.Send([]byte("a")))
	seq, ts := framer.SeqTimestamp()
	require.Equal(t, uint16(0), seq) // wrapped from 65535
	require.Equal(t, uint32(0), ts)  // wrapped from 2^32-960 + 960
}
