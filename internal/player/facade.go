package player

import (
	"context"
	"fmt"
	"sync"

	"github.com/metalfistbot/metalfist/internal/gateway"
	"github.com/metalfistbot/metalfist/internal/logging"
	"github.com/metalfistbot/metalfist/internal/voice"
)

// guildSession bundles the control/media-plane handles a façade entry
// needs to implement Leave, alongside the player itself.
type guildSession struct {
	player  *AudioPlayer
	gateway *gateway.Session
	voice   *voice.Session
}

// Facade maps guild_id to AudioPlayer and orchestrates the join
// sequence: opening a Gateway, requesting a voice join, running the
// voice handshake, and constructing the player.
type Facade struct {
	logger logging.Logger
	cfg    PlaybackConfig

	mu       sync.Mutex
	sessions map[string]*guildSession
}

// NewFacade builds an empty façade; cfg is applied to every player it
// constructs.
func NewFacade(logger logging.Logger, cfg PlaybackConfig) *Facade {
	return &Facade{
		logger:   logger,
		cfg:      cfg,
		sessions: make(map[string]*guildSession),
	}
}

// Join returns the existing player for guildID if one is already
// connected; otherwise it runs the full join sequence and returns the
// newly constructed player.
func (f *Facade) Join(ctx context.Context, token, guildID, channelID string) (*AudioPlayer, error) {
	f.mu.Lock()
	if existing, ok := f.sessions[guildID]; ok {
		f.mu.Unlock()
		return existing.player, nil
	}
	f.mu.Unlock()

	gw := gateway.NewSession(f.logger, token)
	gwDone := make(chan error, 1)
	go func() { gwDone <- gw.Run(ctx) }()

	userID, err := gw.WaitUntilReady(ctx)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("facade: join guild %s: wait until ready: %w", guildID, err)
	}

	if err := gw.SendJSON(4, map[string]any{
		"guild_id":   guildID,
		"channel_id": channelID,
		"self_mute":  false,
		"self_deaf":  false,
	}); err != nil {
		gw.Close()
		return nil, fmt.Errorf("facade: join guild %s: send voice state update: %w", guildID, err)
	}

	voiceSessionID, voiceToken, endpoint, err := gw.WaitForVoiceInfo(ctx, guildID)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("facade: join guild %s: wait for voice info: %w", guildID, err)
	}

	vs, err := voice.Connect(ctx, f.logger, endpoint, guildID, userID, voiceSessionID, voiceToken)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("facade: join guild %s: voice handshake: %w", guildID, err)
	}

	p := NewAudioPlayer(f.logger, guildID, vs, f.cfg)

	if err := vs.SendSpeaking(5); err != nil {
		f.logger.Warnw("facade: initial speaking update failed", "guild_id", guildID, "error", err)
	}

	f.mu.Lock()
	f.sessions[guildID] = &guildSession{player: p, gateway: gw, voice: vs}
	f.mu.Unlock()

	go func() {
		if err := <-gwDone; err != nil {
			f.logger.Warnw("facade: gateway run loop exited", "guild_id", guildID, "error", err)
		}
	}()

	return p, nil
}

// Get returns the player for guildID, if one exists.
func (f *Facade) Get(guildID string) (*AudioPlayer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[guildID]
	if !ok {
		return nil, false
	}
	return sess.player, true
}

// Leave stops any in-flight playback session, clears SPEAKING, sends a
// VOICE_STATE_UPDATE with a null channel, closes the voice WebSocket/
// UDP transport, closes the gateway, and drops the player from the
// map.
func (f *Facade) Leave(guildID string) error {
	f.mu.Lock()
	sess, ok := f.sessions[guildID]
	if ok {
		delete(f.sessions, guildID)
	}
	f.mu.Unlock()

	if !ok {
		return fmt.Errorf("facade: leave guild %s: not connected", guildID)
	}

	sess.player.Stop()

	if err := sess.voice.SendSpeaking(0); err != nil {
		f.logger.Warnw("facade: clear speaking on leave failed", "guild_id", guildID, "error", err)
	}

	if err := sess.gateway.SendJSON(4, map[string]any{
		"guild_id":   guildID,
		"channel_id": nil,
		"self_mute":  false,
		"self_deaf":  false,
	}); err != nil {
		f.logger.Warnw("facade: send leave voice state update failed", "guild_id", guildID, "error", err)
	}

	if err := sess.voice.Close(); err != nil {
		f.logger.Warnw("facade: close voice session failed", "guild_id", guildID, "error", err)
	}
	if err := sess.gateway.Close(); err != nil {
		f.logger.Warnw("facade: close gateway failed", "guild_id", guildID, "error", err)
	}

	return nil
}
