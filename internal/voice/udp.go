package voice

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

const (
	udpSendRecvBufferBytes = 512 * 1024

	ipDiscoveryPacketLen = 74
	ipDiscoveryType      = uint16(0x0001)
	ipDiscoveryLength    = uint16(70)
	ipDiscoveryAddrOff   = 8
	ipDiscoveryAddrLen   = 64
	ipDiscoveryPortOff   = 72

	ipDiscoveryTimeout = 5 * time.Second
)

// Transport is the bound, connected UDP socket used for one voice
// connection's lifetime: one server-assisted IP discovery exchange up
// front, then a stream of outbound RTP packets.
type Transport struct {
	conn *net.UDPConn
}

// DialTransport binds a UDP socket to an ephemeral local port, raises
// its send/receive buffers to 512KiB, and connects it to the voice
// server's advertised address. There is no third-party UDP-tuning
// library in play here — net.UDPConn.SetReadBuffer/SetWriteBuffer are
// the stdlib's own knobs for exactly this, so no wrapper is warranted.
func DialTransport(serverAddr string) (*Transport, error) {
	raddr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("voice transport: resolve %q: %w", serverAddr, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("voice transport: dial %q: %w", serverAddr, err)
	}
	if err := conn.SetReadBuffer(udpSendRecvBufferBytes); err != nil {
		conn.Close()
		return nil, fmt.Errorf("voice transport: set read buffer: %w", err)
	}
	if err := conn.SetWriteBuffer(udpSendRecvBufferBytes); err != nil {
		conn.Close()
		return nil, fmt.Errorf("voice transport: set write buffer: %w", err)
	}

	return &Transport{conn: conn}, nil
}

// Send writes one UDP datagram to the connected peer.
func (t *Transport) Send(packet []byte) error {
	_, err := t.conn.Write(packet)
	return err
}

// Close releases the underlying socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// DiscoverIP performs the server-assisted NAT traversal exchange: send
// a 74-byte probe carrying ssrc, parse the 74-byte reply for the
// externally visible address/port.
func (t *Transport) DiscoverIP(ssrc uint32) (externalAddr string, externalPort uint16, err error) {
	probe := make([]byte, ipDiscoveryPacketLen)
	binary.BigEndian.PutUint16(probe[0:2], ipDiscoveryType)
	binary.BigEndian.PutUint16(probe[2:4], ipDiscoveryLength)
	binary.BigEndian.PutUint32(probe[4:8], ssrc)
	// remaining 66 bytes are already zero.

	if err := t.conn.SetDeadline(time.Now().Add(ipDiscoveryTimeout)); err != nil {
		return "", 0, fmt.Errorf("voice transport: set discovery deadline: %w", err)
	}
	defer t.conn.SetDeadline(time.Time{})

	if _, err := t.conn.Write(probe); err != nil {
		return "", 0, fmt.Errorf("voice transport: send discovery probe: %w", err)
	}

	reply := make([]byte, 1500)
	n, err := t.conn.Read(reply)
	if err != nil {
		return "", 0, fmt.Errorf("voice transport: read discovery reply: %w", err)
	}
	if n < ipDiscoveryPacketLen {
		return "", 0, fmt.Errorf("voice transport: discovery reply too short: %d bytes", n)
	}

	addrBytes := reply[ipDiscoveryAddrOff : ipDiscoveryAddrOff+ipDiscoveryAddrLen]
	if nul := bytes.IndexByte(addrBytes, 0); nul >= 0 {
		addrBytes = addrBytes[:nul]
	}
	port := binary.BigEndian.Uint16(reply[ipDiscoveryPortOff : ipDiscoveryPortOff+2])

	return string(addrBytes), port, nil
}
