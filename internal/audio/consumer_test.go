package audio

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metalfistbot/metalfist/internal/logging"
	"github.com/metalfistbot/metalfist/internal/voice"
)

func TestConsumer_PacesAndSendsMonotonicRTP(t *testing.T) {
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer server.Close()

	transport, err := voice.DialTransport(server.LocalAddr().String())
	require.NoError(t, err)
	defer transport.Close()

	cipher, err := voice.NewCipher(voice.ModeAES256GCMRTPSize, testVoiceKey())
	require.NoError(t, err)

	var counter uint32
	framer := voice.NewFramer(transport, cipher, 99, &counter, 0, 0)

	state := NewFilterState()
	chain := NewChain(SampleRate)

	framesIn := make(chan Frame, 8)
	cmdIn := make(chan Command, 1)

	const numFrames = 5
	for i := 0; i < numFrames; i++ {
		framesIn <- make(Frame, SamplesPerFrame*Channels)
	}
	close(framesIn)

	consumer, err := NewConsumer(logging.NewNop(), framer, state, chain, framesIn, cmdIn)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- consumer.Run(context.Background()) }()

	buf := make([]byte, 2048)
	var lastSeq int = -1
	for i := 0; i < numFrames; i++ {
		server.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := server.ReadFromUDP(buf)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 12)
		seq := int(binary.BigEndian.Uint16(buf[2:4]))
		if lastSeq >= 0 {
			require.Equal(t, lastSeq+1, seq)
		}
		lastSeq = seq
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not terminate after channel close")
	}

	finalSeq, _ := consumer.FinalSeqTimestamp()
	require.Equal(t, uint16(numFrames), finalSeq)
}

func testVoiceKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}
