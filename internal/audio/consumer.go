package audio

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/hraban/opus.v2"

	"github.com/metalfistbot/metalfist/internal/logging"
	"github.com/metalfistbot/metalfist/internal/voice"
)

const (
	tickInterval   = 20 * time.Millisecond
	opusBufferCap  = 1000
)

// Consumer is the emission half of the pipeline: it paces outbound
// packets at exactly 20ms, applies the live DSP chain when bass-boost
// is on, Opus-encodes, and drives the RTP framer.
type Consumer struct {
	logger  logging.Logger
	framer  *voice.Framer
	state   *FilterState
	chain   *Chain
	encoder *opus.Encoder

	framesIn <-chan Frame
	cmdIn    <-chan Command
}

// NewConsumer builds a Consumer over framer, applying filterState/
// chain and reading frames from framesIn and live commands from cmdIn.
func NewConsumer(logger logging.Logger, framer *voice.Framer, state *FilterState, chain *Chain, framesIn <-chan Frame, cmdIn <-chan Command) (*Consumer, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("consumer: new opus encoder: %w", err)
	}
	return &Consumer{
		logger:   logger,
		framer:   framer,
		state:    state,
		chain:    chain,
		encoder:  enc,
		framesIn: framesIn,
		cmdIn:    cmdIn,
	}, nil
}

// Run paces emission on a 20ms ticker with skip-missed-tick semantics
// (a delayed consumer never replays backlog), terminating cleanly when
// the producer closes framesIn.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	opusBuf := make([]byte, opusBufferCap)

	for {
		var frame Frame
		select {
		case f, ok := <-c.framesIn:
			if !ok {
				return nil
			}
			frame = f
		case <-ctx.Done():
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}

		c.drainCommands()

		bassBoost, _, _, volume := c.state.Snapshot()
		if bassBoost {
			c.chain.Apply(frame)
		}
		applyVolume(frame, volume)

		n, err := c.encoder.Encode(frame, opusBuf)
		if err != nil {
			c.logger.Warnw("consumer: opus encode failed, dropping frame", "error", err)
			continue
		}

		if err := c.framer.Send(opusBuf[:n]); err != nil {
			c.logger.Warnw("consumer: send failed, dropping frame", "error", err)
			continue
		}
	}
}

func (c *Consumer) drainCommands() {
	for {
		select {
		case cmd := <-c.cmdIn:
			c.state.Apply(cmd)
		default:
			return
		}
	}
}

// FinalSeqTimestamp returns the RTP sequence/timestamp the consumer
// last advanced to, for the player to store (under its mutex) so a
// later playback session continues the same stream.
func (c *Consumer) FinalSeqTimestamp() (uint16, uint32) {
	return c.framer.SeqTimestamp()
}

func applyVolume(frame Frame, volume float64) {
	if volume == 1.0 {
		return
	}
	for i, s := range frame {
		frame[i] = saturateInt16(float64(s) * volume)
	}
}
