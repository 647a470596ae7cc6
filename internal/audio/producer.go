package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/metalfistbot/metalfist/internal/logging"
)

// PlaybackCommandKind enumerates the live commands the producer honors.
type PlaybackCommandKind int

const (
	PlaybackPause PlaybackCommandKind = iota
	PlaybackResume
	PlaybackSkip
)

// PlaybackCommand is one user-issued playback control command.
type PlaybackCommand struct {
	Kind PlaybackCommandKind
}

// Source is the producer's view of a decoder subprocess: a byte
// stream plus liveness/cancellation, satisfied by *Decoder in
// production and by fakes in tests.
type Source interface {
	io.Reader
	Alive() bool
	Kill()
}

// DecoderSpawner abstracts subprocess creation so tests can substitute
// a stub without spawning a real transcoder.
type DecoderSpawner func(ctx context.Context, mediaURL string) (Source, error)

type activeSource struct {
	decoder Source
	track   Track
	reader  *bufio.Reader
}

// Producer is the driving half of the pipeline: it pops tracks from
// the queue, spawns decoders, performs gapless crossfade mixing, and
// honors pause/resume/skip, handing completed 3840-byte frames to the
// consumer over out.
type Producer struct {
	logger  logging.Logger
	queue   *TrackQueue
	spawn   DecoderSpawner
	out     chan<- Frame
	cmdIn   <-chan PlaybackCommand

	paused       bool
	current      *activeSource
	playedSeconds float64

	fading bool
	next   *activeSource
}

// NewProducer builds a Producer over queue, driven by spawn for new
// decoders, emitting frames on out, and accepting live playback
// commands on cmdIn.
func NewProducer(logger logging.Logger, queue *TrackQueue, spawn DecoderSpawner, out chan<- Frame, cmdIn <-chan PlaybackCommand) *Producer {
	return &Producer{
		logger: logger,
		queue:  queue,
		spawn:  spawn,
		out:    out,
		cmdIn:  cmdIn,
	}
}

// Run drives frames to out until the queue is exhausted or the
// receiver is gone. It returns nil on either clean termination.
func (p *Producer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			p.teardown()
			return nil
		}

		p.drainCommands()
		if p.paused {
			time.Sleep(20 * time.Millisecond)
			continue
		}

		if p.current == nil {
			t, ok := p.queue.Pop()
			if !ok {
				p.queue.ClearCurrent()
				return nil
			}
			src, err := p.openSource(ctx, t)
			if err != nil {
				p.logger.Warnw("producer: track has no usable source, skipping", "track", t.ID, "error", err)
				continue
			}
			p.current = src
			p.queue.SetCurrent(t)
			p.playedSeconds = 0
		}

		curBuf := make([]byte, FrameSize)
		n, trackEnded, err := readFrameBytes(p.current.reader, p.current.decoder, curBuf)
		if err != nil && !trackEnded {
			p.logger.Debugw("producer: read retry", "error", err)
			time.Sleep(IdleBackoff)
			continue
		}
		if n == 0 && trackEnded && !p.fading {
			p.advanceAfterTrackEnd()
			continue
		}

		// buf is zero-initialized and io.ReadFull only advances past
		// bytes actually filled, so a short/ended read leaves the tail
		// silent rather than garbage — use the full frame regardless.
		// While fading, the current decoder ending early just leaves
		// silence on its side of the mix; the next decoder carries on.
		curFrame := bytesToInt16(curBuf)
		p.playedSeconds += float64(SamplesPerFrame) / SampleRate

		p.maybeStartCrossfade(ctx)

		outFrame := curFrame
		if p.fading {
			outFrame = p.mixCrossfade(curFrame)
		}

		select {
		case p.out <- outFrame:
		case <-ctx.Done():
			p.teardown()
			return nil
		}

		if trackEnded && !p.fading {
			p.advanceAfterTrackEnd()
		}
	}
}

func (p *Producer) drainCommands() {
	for {
		select {
		case cmd := <-p.cmdIn:
			switch cmd.Kind {
			case PlaybackPause:
				p.paused = true
			case PlaybackResume:
				p.paused = false
			case PlaybackSkip:
				if p.current != nil {
					p.current.decoder.Kill()
					p.current = nil
				}
			}
		default:
			return
		}
	}
}

func (p *Producer) openSource(ctx context.Context, t Track) (*activeSource, error) {
	if t.URL == nil {
		return nil, errors.New("track missing media url")
	}
	d, err := p.spawn(ctx, *t.URL)
	if err != nil {
		return nil, err
	}
	return &activeSource{decoder: d, track: t, reader: bufio.NewReaderSize(d, FrameSize*2)}, nil
}

// maybeStartCrossfade initiates a crossfade when the current track's
// known duration puts us within FadeSeconds of its end.
func (p *Producer) maybeStartCrossfade(ctx context.Context) {
	if p.fading || p.current == nil || !p.current.track.HasDuration() {
		return
	}
	remaining := *p.current.track.Duration - p.playedSeconds
	if remaining > FadeSeconds {
		return
	}

	t, ok := p.queue.Pop()
	if !ok {
		return
	}
	src, err := p.openSource(ctx, t)
	if err != nil {
		p.logger.Warnw("producer: crossfade target has no usable source, skipping", "track", t.ID, "error", err)
		return
	}
	p.next = src
	p.fading = true
}

// mixCrossfade reads one frame from the upcoming track and linearly
// mixes it against curFrame by the current fade position, promoting
// next to current once the fade position reaches 1.
func (p *Producer) mixCrossfade(curFrame Frame) Frame {
	duration := *p.current.track.Duration
	fadePos := (FadeSeconds - (duration - p.playedSeconds)) / FadeSeconds
	if fadePos < 0 {
		fadePos = 0
	}
	if fadePos > 1 {
		fadePos = 1
	}

	nextBuf := make([]byte, FrameSize)
	n, trackEnded, err := readFrameBytes(p.next.reader, p.next.decoder, nextBuf)

	var nextFrame Frame
	switch {
	case err != nil && !trackEnded:
		// Boundary policy: next-decoder read failed mid-fade, emit
		// current unmixed for this frame.
		return curFrame
	case n == 0 && trackEnded:
		// Next decoder has ended; its side of the mix is silence for
		// the rest of the fade.
		nextFrame = make(Frame, len(curFrame))
	default:
		// nextBuf is zero-initialized; a short read leaves its tail
		// silent, so the full buffer is always safe to decode.
		nextFrame = bytesToInt16(nextBuf)
	}

	mixed := make(Frame, len(curFrame))
	for i := range mixed {
		var nv int16
		if i < len(nextFrame) {
			nv = nextFrame[i]
		}
		v := float64(curFrame[i])*(1-fadePos) + float64(nv)*fadePos
		mixed[i] = saturateInt16(v)
	}

	if fadePos >= 1.0 {
		p.current.decoder.Kill()
		p.current = p.next
		p.next = nil
		p.fading = false
		// Reset to 0, not FadeSeconds. The counter restarts at the
		// promotion frame: the frames of this track already mixed in
		// during the fade are not counted, so its own crossfade into
		// the following track is timed from this point.
		p.playedSeconds = 0
		p.queue.SetCurrent(p.current.track)
	}

	return mixed
}

func (p *Producer) advanceAfterTrackEnd() {
	if p.current != nil {
		p.current.decoder.Kill()
	}
	p.current = nil
	p.queue.ClearCurrent()
}

func (p *Producer) teardown() {
	if p.current != nil {
		p.current.decoder.Kill()
	}
	if p.next != nil {
		p.next.decoder.Kill()
	}
}

// readFrameBytes fills buf as full as the source allows. It returns
// the number of bytes filled and whether the source is considered
// ended (decoder exited and no more bytes are coming).
func readFrameBytes(r *bufio.Reader, d Source, buf []byte) (n int, trackEnded bool, err error) {
	filled, readErr := io.ReadFull(r, buf)
	switch {
	case readErr == nil:
		return filled, false, nil
	case errors.Is(readErr, io.EOF):
		return filled, true, nil
	case errors.Is(readErr, io.ErrUnexpectedEOF):
		// Decoder ended mid-frame; treat the short frame as track-ended
		// once drained.
		return filled, true, nil
	default:
		if !d.Alive() {
			return filled, true, nil
		}
		return filled, false, readErr
	}
}

func bytesToInt16(b []byte) Frame {
	out := make(Frame, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return out
}
