package player

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAudioPlayer_StopCancelsStoredPlaybackContext(t *testing.T) {
	p := &AudioPlayer{}
	ctx, cancel := context.WithCancel(context.Background())
	p.stop = cancel

	p.Stop()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("Stop did not cancel the stored playback context")
	}
}

func TestAudioPlayer_StopIsNoopWhenNothingPlaying(t *testing.T) {
	p := &AudioPlayer{}
	require.NotPanics(t, func() { p.Stop() })
}
