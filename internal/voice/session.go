package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/metalfistbot/metalfist/internal/logging"
)

// Voice gateway opcodes exchanged during the handshake and afterward.
const (
	opIdentify          = 0
	opSelectProtocol    = 1
	opReady             = 2
	opHeartbeat         = 3
	opSessionDescription = 4
	opSpeaking          = 5
	opHeartbeatAck      = 6
	opHello             = 8
)

const (
	voiceDialTimeout   = 10 * time.Second
	voiceReadLimitBytes = 1 << 20
	voiceAwaitTimeout  = 30 * time.Second
)

// message is the generic JSON envelope exchanged on the voice
// WebSocket: an opcode plus an opaque payload.
type message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
}

// Session is the control end of one voice connection: the voice
// WebSocket, its heartbeat loop, and the negotiated cipher/ssrc/
// transport handed off to the consumer for RTP emission.
type Session struct {
	logger logging.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	ssrc      uint32
	Transport *Transport
	Cipher    Cipher
	Counter   uint32 // atomic; shared AEAD nonce counter

	heartbeatInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// Connect runs the full voice handshake: identify, await hello, await
// ready, IP discovery, select protocol, await session description.
// Any failure at any step is fatal and the partial session is torn
// down before returning.
func Connect(ctx context.Context, logger logging.Logger, endpoint, serverID, userID, sessionID, token string) (*Session, error) {
	u := url.URL{Scheme: "wss", Host: endpoint, Path: "/", RawQuery: "v=8"}

	dialer := websocket.Dialer{HandshakeTimeout: voiceDialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("voice session: dial %s: %w", u.String(), err)
	}
	conn.SetReadLimit(voiceReadLimitBytes)

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		logger: logger,
		conn:   conn,
		ctx:    sessCtx,
		cancel: cancel,
	}

	if err := s.handshake(ctx, serverID, userID, sessionID, token); err != nil {
		s.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.readDrain()

	return s, nil
}

func (s *Session) handshake(ctx context.Context, serverID, userID, sessionID, token string) error {
	if err := s.sendOp(opIdentify, map[string]string{
		"server_id":  serverID,
		"user_id":    userID,
		"session_id": sessionID,
		"token":      token,
	}); err != nil {
		return fmt.Errorf("voice session: identify: %w", err)
	}

	var hello struct {
		HeartbeatInterval float64 `json:"heartbeat_interval"`
	}
	if err := s.awaitOp(opHello, &hello); err != nil {
		return fmt.Errorf("voice session: await hello: %w", err)
	}
	s.heartbeatInterval = time.Duration(hello.HeartbeatInterval) * time.Millisecond
	s.wg.Add(1)
	go s.runHeartbeat()

	var ready struct {
		SSRC  uint32   `json:"ssrc"`
		IP    string   `json:"ip"`
		Port  uint16   `json:"port"`
		Modes []string `json:"modes"`
	}
	if err := s.awaitOp(opReady, &ready); err != nil {
		return fmt.Errorf("voice session: await ready: %w", err)
	}
	s.ssrc = ready.SSRC

	transport, err := DialTransport(fmt.Sprintf("%s:%d", ready.IP, ready.Port))
	if err != nil {
		return fmt.Errorf("voice session: udp dial: %w", err)
	}
	s.Transport = transport

	extAddr, extPort, err := transport.DiscoverIP(ready.SSRC)
	if err != nil {
		return fmt.Errorf("voice session: ip discovery: %w", err)
	}

	if err := s.sendOp(opSelectProtocol, map[string]any{
		"protocol": "udp",
		"data": map[string]any{
			"address": extAddr,
			"port":    extPort,
			"mode":    ModeXChaCha20Poly1305RTPSize,
		},
	}); err != nil {
		return fmt.Errorf("voice session: select protocol: %w", err)
	}

	var sessDesc struct {
		SecretKey []byte `json:"secret_key"`
		Mode      string `json:"mode"`
	}
	if err := s.awaitOp(opSessionDescription, &sessDesc); err != nil {
		return fmt.Errorf("voice session: await session description: %w", err)
	}

	cipher, err := NewCipher(sessDesc.Mode, sessDesc.SecretKey)
	if err != nil {
		return fmt.Errorf("voice session: cipher: %w", err)
	}
	s.Cipher = cipher

	return nil
}

// SendSpeaking sends the SPEAKING update (op 5). speaking=5 (mic |
// priority) marks the start of emission; speaking=0 clears it, sent on
// leave and at the end of a queue.
func (s *Session) SendSpeaking(speaking int) error {
	return s.sendOp(opSpeaking, map[string]any{
		"speaking": speaking,
		"delay":    0,
		"ssrc":     s.ssrc,
	})
}

// SSRC returns the negotiated synchronization source identifier.
func (s *Session) SSRC() uint32 { return s.ssrc }

func (s *Session) runHeartbeat() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.sendOp(opHeartbeat, time.Now().UnixMilli()); err != nil {
				s.logger.Warnw("voice heartbeat send failed", "error", err)
				return
			}
		}
	}
}

// readDrain consumes and discards post-handshake frames (mainly
// HEARTBEAT_ACK); it exists so the read side keeps the connection
// alive and notices closure promptly.
func (s *Session) readDrain() {
	defer s.wg.Done()
	// Clear the read deadline left by the handshake's last awaitOp.
	_ = s.conn.SetReadDeadline(time.Time{})
	for {
		_, _, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugw("voice session read loop ended", "error", err)
			}
			return
		}
		select {
		case <-s.ctx.Done():
			return
		default:
		}
	}
}

func (s *Session) sendOp(op int, d any) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal op %d payload: %w", op, err)
	}
	msg := message{Op: op, D: payload}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

// awaitOp blocks reading frames until one with the requested opcode
// arrives, unmarshalling its payload into out.
func (s *Session) awaitOp(op int, out any) error {
	deadline := time.Now().Add(voiceAwaitTimeout)
	for {
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("unmarshal envelope: %w", err)
		}
		if msg.Op != op {
			continue
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(msg.D, out); err != nil {
			return fmt.Errorf("unmarshal op %d payload: %w", op, err)
		}
		return nil
	}
}

// Close tears down the heartbeat/read-drain goroutines, the voice
// WebSocket, and the UDP transport. Idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
		if s.Transport != nil {
			_ = s.Transport.Close()
		}
		s.wg.Wait()
	})
	return err
}

// NextCounter atomically increments and returns the AEAD nonce
// counter; exposed for components that construct their own Framer
// sharing this session's cipher.
func (s *Session) NextCounter() uint32 {
	return atomic.AddUint32(&s.Counter, 1)
}
