// Package player implements the per-guild playback owner and the
// façade that maps guilds to players and drives the voice join
// sequence.
package player

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/metalfistbot/metalfist/internal/audio"
	"github.com/metalfistbot/metalfist/internal/logging"
	"github.com/metalfistbot/metalfist/internal/voice"
)

// PlaybackConfig carries the decoder/fetch tunables an AudioPlayer
// needs to spawn decoder subprocesses, sourced from internal/config.
type PlaybackConfig struct {
	DecoderBinary     string
	FetchChunkBytes   int
	FetchChannelDepth int
	FrameChannelDepth int
}

// AudioPlayer owns one guild's playback state: the voice connection,
// the track queue, the wrapping-seq/timestamp RTP continuation point,
// and the filter/playback command channels. It is created once per
// guild by the façade and retained for the process lifetime or until
// an explicit leave.
//
// The command channels are plain fields rather than single-owner
// handles: isPlaying is what guarantees only one producer/consumer
// pair reads them at a time, so they can be shared freely across
// playback sessions without any handoff bookkeeping.
type AudioPlayer struct {
	logger  logging.Logger
	guildID string

	voiceSession *voice.Session
	queue        *audio.TrackQueue
	cfg          PlaybackConfig

	mu        sync.Mutex
	isPlaying bool
	seq       uint16
	timestamp uint32
	stop      context.CancelFunc

	filterState   *audio.FilterState
	filterCmdCh   chan audio.Command
	playbackCmdCh chan audio.PlaybackCommand
}

// NewAudioPlayer builds an idle player bound to an already-established
// voice session.
func NewAudioPlayer(logger logging.Logger, guildID string, vs *voice.Session, cfg PlaybackConfig) *AudioPlayer {
	return &AudioPlayer{
		logger:        logger,
		guildID:       guildID,
		voiceSession:  vs,
		queue:         audio.NewTrackQueue(),
		cfg:           cfg,
		filterState:   audio.NewFilterState(),
		filterCmdCh:   make(chan audio.Command, 8),
		playbackCmdCh: make(chan audio.PlaybackCommand, 8),
	}
}

// Enqueue appends track to the queue, starting a playback session if
// one is not already running.
func (p *AudioPlayer) Enqueue(track audio.Track) {
	p.queue.Push(track)

	p.mu.Lock()
	if p.isPlaying {
		p.mu.Unlock()
		return
	}
	p.isPlaying = true
	p.mu.Unlock()

	go p.processQueue()
}

// Pause, Resume, Skip, ToggleBassBoost, and SetVolume send live
// commands into the running playback session. Sends are non-blocking:
// a full command channel drops the command with a log warning rather
// than block the caller.
func (p *AudioPlayer) Pause() { p.sendPlayback(audio.PlaybackCommand{Kind: audio.PlaybackPause}) }
func (p *AudioPlayer) Resume() { p.sendPlayback(audio.PlaybackCommand{Kind: audio.PlaybackResume}) }
func (p *AudioPlayer) Skip()  { p.sendPlayback(audio.PlaybackCommand{Kind: audio.PlaybackSkip}) }

func (p *AudioPlayer) ToggleBassBoost() {
	p.sendFilter(audio.Command{Kind: audio.ToggleBassBoost})
}

func (p *AudioPlayer) SetVolume(v float64) {
	p.sendFilter(audio.Command{Kind: audio.SetVolume, Volume: v})
}

func (p *AudioPlayer) sendPlayback(cmd audio.PlaybackCommand) {
	select {
	case p.playbackCmdCh <- cmd:
	default:
		p.logger.Warnw("player: playback command channel full, dropping command", "guild_id", p.guildID)
	}
}

func (p *AudioPlayer) sendFilter(cmd audio.Command) {
	select {
	case p.filterCmdCh <- cmd:
	default:
		p.logger.Warnw("player: filter command channel full, dropping command", "guild_id", p.guildID)
	}
}

// IsPlaying reports whether a playback session is currently running.
func (p *AudioPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isPlaying
}

// Queue exposes the track queue for display/command-surface use.
func (p *AudioPlayer) Queue() *audio.TrackQueue { return p.queue }

// processQueue spawns the producer and consumer joined by an errgroup,
// runs them to completion, persists the final RTP seq/timestamp so a
// later playback continues the same stream, and clears SPEAKING on
// end-of-queue. The session's cancel func is stashed on the player so
// Stop can tear it down early (e.g. when the guild is left mid-track).
func (p *AudioPlayer) processQueue() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.mu.Lock()
	p.stop = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.stop = nil
		p.mu.Unlock()
	}()

	if err := p.voiceSession.SendSpeaking(5); err != nil {
		p.logger.Warnw("player: send speaking(5) failed", "guild_id", p.guildID, "error", err)
	}

	p.mu.Lock()
	seq, ts := p.seq, p.timestamp
	p.mu.Unlock()

	framer := voice.NewFramer(p.voiceSession.Transport, p.voiceSession.Cipher, p.voiceSession.SSRC(), &p.voiceSession.Counter, seq, ts)
	chain := audio.NewChain(audio.SampleRate)

	framesCh := make(chan audio.Frame, p.cfg.FrameChannelDepth)

	consumer, err := audio.NewConsumer(p.logger, framer, p.filterState, chain, framesCh, p.filterCmdCh)
	if err != nil {
		p.logger.Errorw("player: failed to build consumer", "guild_id", p.guildID, "error", err)
		p.finishPlayback(seq, ts)
		return
	}

	spawn := func(sctx context.Context, url string) (audio.Source, error) {
		return audio.SpawnDecoder(sctx, p.logger, p.cfg.DecoderBinary, url, p.cfg.FetchChunkBytes, p.cfg.FetchChannelDepth)
	}
	producer := audio.NewProducer(p.logger, p.queue, spawn, framesCh, p.playbackCmdCh)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := producer.Run(gctx)
		close(framesCh)
		return err
	})
	g.Go(func() error {
		return consumer.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		p.logger.Warnw("player: playback session ended with error", "guild_id", p.guildID, "error", err)
	}

	finalSeq, finalTS := consumer.FinalSeqTimestamp()

	if err := p.voiceSession.SendSpeaking(0); err != nil {
		p.logger.Warnw("player: send speaking(0) failed", "guild_id", p.guildID, "error", err)
	}

	p.finishPlayback(finalSeq, finalTS)
}

// Stop cancels any in-flight playback session's producer/consumer
// pair. It is a no-op if nothing is currently playing. Callers that
// want to block until the session has actually wound down should pair
// this with IsPlaying polling or an external done signal; Stop itself
// only requests cancellation.
func (p *AudioPlayer) Stop() {
	p.mu.Lock()
	stop := p.stop
	p.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (p *AudioPlayer) finishPlayback(seq uint16, ts uint32) {
	p.mu.Lock()
	p.seq, p.timestamp = seq, ts
	p.isPlaying = false
	p.mu.Unlock()
}

// Close tears down the underlying voice session's network resources.
func (p *AudioPlayer) Close() error {
	return p.voiceSession.Close()
}
