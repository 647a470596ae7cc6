package voice

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeVoiceServer answers exactly one IP discovery probe the way the
// real voice server would: probe in, (address, port) out.
func fakeVoiceServer(t *testing.T, externalAddr string, externalPort uint16) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 2048)
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil || n != ipDiscoveryPacketLen {
			return
		}

		reply := make([]byte, ipDiscoveryPacketLen)
		copy(reply[ipDiscoveryAddrOff:], []byte(externalAddr))
		binary.BigEndian.PutUint16(reply[ipDiscoveryPortOff:], externalPort)
		conn.WriteToUDP(reply, raddr)
	}()

	return conn
}

func TestTransport_DiscoverIP_RoundTrip(t *testing.T) {
	server := fakeVoiceServer(t, "203.0.113.42", 54321)
	defer server.Close()

	tr, err := DialTransport(server.LocalAddr().String())
	require.NoError(t, err)
	defer tr.Close()

	addr, port, err := tr.DiscoverIP(0x12345678)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.42", addr)
	require.Equal(t, uint16(54321), port)
}

func TestTransport_DiscoverIP_ShortReplyIsError(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	go func() {
		buf := make([]byte, 2048)
		_, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		conn.WriteToUDP([]byte("too short"), raddr)
	}()

	tr, err := DialTransport(conn.LocalAddr().String())
	require.NoError(t, err)
	defer tr.Close()

	_, _, err = tr.DiscoverIP(1)
	require.Error(t, err)
}
