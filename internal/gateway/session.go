// Package gateway implements the control-plane WebSocket session:
// identify/resume/heartbeat, an event stream, and the voice-join
// request/response dance.
package gateway

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

const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10

	// Intents bitmask 641 = GUILDS (1<<0) | GUILD_VOICE_STATES (1<<7) |
	// GUILD_MESSAGES (1<<9).
	identifyIntents = 641

	defaultEndpoint = "gateway.discord.gg"
	reconnectDelay  = 5 * time.Second
	dialTimeout     = 10 * time.Second
	eventChannelCap = 256
)

// envelope is the generic gateway payload: opcode, optional sequence,
// optional dispatch event name, and opaque data.
type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  *string         `json:"t,omitempty"`
}

// Event is one forwarded DISPATCH payload.
type Event struct {
	Type string
	Data json.RawMessage
}

// Session is the resuming, heartbeating control-plane WebSocket.
type Session struct {
	logger logging.Logger
	token  string

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu                sync.Mutex
	sessionID         string
	resumeGatewayURL  string
	lastSeq           int64
	heartbeatInterval time.Duration
	userID            string

	events chan Event

	readyOnce sync.Once
	readyCh   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession constructs a Session that has not yet connected; call Run
// to start the identify/heartbeat/reconnect loop.
func NewSession(logger logging.Logger, token string) *Session {
	return &Session{
		logger:  logger,
		token:   token,
		events:  make(chan Event, eventChannelCap),
		readyCh: make(chan struct{}),
	}
}

// Events returns the forwarded DISPATCH event stream.
func (s *Session) Events() <-chan Event { return s.events }

// Run drives the connect/identify-or-resume/heartbeat cycle, retrying
// every 5s on any cycle error, until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	for {
		err := s.runOnce(s.ctx)
		if s.ctx.Err() != nil {
			return nil
		}
		s.logger.Warnw("gateway cycle ended, reconnecting", "error", err)
		select {
		case <-time.After(reconnectDelay):
		case <-s.ctx.Done():
			return nil
		}
	}
}

// resumeHost extracts the bare host:port to dial from a
// resume_gateway_url value. Discord sends this as a full URL
// (scheme included); if raw parses with a scheme, its Host is used,
// otherwise raw is assumed to already be a bare host.
func resumeHost(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}

func (s *Session) canResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID != "" && s.resumeGatewayURL != "" && s.lastSeq != 0
}

func (s *Session) runOnce(ctx context.Context) error {
	resuming := s.canResume()

	host := defaultEndpoint
	if resuming {
		s.mu.Lock()
		host = resumeHost(s.resumeGatewayURL)
		s.mu.Unlock()
	}
	u := url.URL{Scheme: "wss", Host: host, Path: "/", RawQuery: "v=10&encoding=json"}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("gateway: dial %s: %w", u.String(), err)
	}
	defer conn.Close()
	s.conn = conn

	var hello struct {
		HeartbeatInterval float64 `json:"heartbeat_interval"`
	}
	if err := s.readInto(opHello, &hello); err != nil {
		return fmt.Errorf("gateway: await hello: %w", err)
	}
	s.mu.Lock()
	s.heartbeatInterval = time.Duration(hello.HeartbeatInterval) * time.Millisecond
	s.mu.Unlock()

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go s.runHeartbeat(hbCtx)

	if resuming {
		s.mu.Lock()
		payload := map[string]any{
			"token":      s.token,
			"session_id": s.sessionID,
			"seq":        s.lastSeq,
		}
		s.mu.Unlock()
		if err := s.sendOp(opResume, payload); err != nil {
			return fmt.Errorf("gateway: resume: %w", err)
		}
	} else {
		if err := s.sendOp(opIdentify, map[string]any{
			"token":   s.token,
			"intents": identifyIntents,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "metalfist",
				"device":  "metalfist",
			},
		}); err != nil {
			return fmt.Errorf("gateway: identify: %w", err)
		}
	}

	return s.readLoop(ctx)
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		var env envelope
		if err := readJSON(s.conn, &env); err != nil {
			return fmt.Errorf("gateway: read: %w", err)
		}

		switch env.Op {
		case opDispatch:
			if env.S != nil {
				s.mu.Lock()
				s.lastSeq = *env.S
				s.mu.Unlock()
			}
			if env.T != nil {
				s.handleDispatch(*env.T, env.D)
			}
		case opReconnect:
			return fmt.Errorf("gateway: server requested reconnect")
		case opInvalidSession:
			var resumable bool
			_ = json.Unmarshal(env.D, &resumable)
			if !resumable {
				s.mu.Lock()
				s.sessionID = ""
				s.mu.Unlock()
			}
			return fmt.Errorf("gateway: invalid session (resumable=%v)", resumable)
		case opHeartbeat:
			// Server-requested immediate heartbeat ack; the heartbeat
			// goroutine's next tick will cover it, nothing to do here.
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Session) handleDispatch(t string, d json.RawMessage) {
	switch t {
	case "READY":
		var ready struct {
			SessionID        string `json:"session_id"`
			ResumeGatewayURL string `json:"resume_gateway_url"`
			User             struct {
				ID string `json:"id"`
			} `json:"user"`
		}
		if err := json.Unmarshal(d, &ready); err == nil {
			s.mu.Lock()
			s.sessionID = ready.SessionID
			s.resumeGatewayURL = ready.ResumeGatewayURL
			s.userID = ready.User.ID
			s.mu.Unlock()
			s.readyOnce.Do(func() { close(s.readyCh) })
		}
	case "RESUMED":
		s.logger.Infow("gateway resume replay complete")
	}

	select {
	case s.events <- Event{Type: t, Data: d}:
	case <-s.ctx.Done():
	}
}

func (s *Session) runHeartbeat(ctx context.Context) {
	s.mu.Lock()
	interval := s.heartbeatInterval
	s.mu.Unlock()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			seq := s.lastSeq
			s.mu.Unlock()
			if err := s.sendOp(opHeartbeat, seq); err != nil {
				s.logger.Warnw("gateway heartbeat send failed", "error", err)
				return
			}
		}
	}
}

// WaitUntilReady blocks until the first READY dispatch has been
// observed, returning the bot's user id.
func (s *Session) WaitUntilReady(ctx context.Context) (string, error) {
	select {
	case <-s.readyCh:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.userID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// WaitForVoiceInfo drains the event stream until both a
// VOICE_STATE_UPDATE and a VOICE_SERVER_UPDATE for guildID have been
// observed, returning the session id, voice token, and endpoint.
func (s *Session) WaitForVoiceInfo(ctx context.Context, guildID string) (sessionID, token, endpoint string, err error) {
	var haveState, haveServer bool
	for !haveState || !haveServer {
		select {
		case ev := <-s.events:
			switch ev.Type {
			case "VOICE_STATE_UPDATE":
				var payload struct {
					GuildID   string `json:"guild_id"`
					SessionID string `json:"session_id"`
				}
				if json.Unmarshal(ev.Data, &payload) == nil && payload.GuildID == guildID {
					sessionID = payload.SessionID
					haveState = true
				}
			case "VOICE_SERVER_UPDATE":
				var payload struct {
					GuildID  string `json:"guild_id"`
					Token    string `json:"token"`
					Endpoint string `json:"endpoint"`
				}
				if json.Unmarshal(ev.Data, &payload) == nil && payload.GuildID == guildID {
					token = payload.Token
					endpoint = payload.Endpoint
					haveServer = true
				}
			}
		case <-ctx.Done():
			return "", "", "", ctx.Err()
		}
	}
	return sessionID, token, endpoint, nil
}

// SendJSON marshals and sends an arbitrary gateway payload (e.g. op 4
// VOICE_STATE_UPDATE), serialized by the single writer lock.
func (s *Session) SendJSON(op int, d any) error {
	return s.sendOp(op, d)
}

func (s *Session) sendOp(op int, d any) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal op %d payload: %w", op, err)
	}
	env := envelope{Op: op, D: payload}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("gateway: not connected")
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) readInto(wantOp int, out any) error {
	for {
		var env envelope
		if err := readJSON(s.conn, &env); err != nil {
			return err
		}
		if env.Op != wantOp {
			continue
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(env.D, out)
	}
}

// readJSON reads one text frame and unmarshals it into v.
func readJSON(conn *websocket.Conn, v any) error {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Close cancels the session's reconnect/heartbeat loops and closes the
// underlying connection, if any.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
