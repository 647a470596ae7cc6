package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metalfistbot/metalfist/internal/logging"
)

// fakeSource is an in-memory Source: it serves fixed PCM bytes and
// reports itself dead once exhausted, without spawning any process.
type fakeSource struct {
	buf   *bytes.Reader
	dead  bool
	kills int
}

func newFakeSource(toneHz float64, seconds float64) *fakeSource {
	n := int(SampleRate * seconds)
	data := make([]byte, 0, n*Channels*2)
	for i := 0; i < n; i++ {
		v := int16(1000)
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v))
		for ch := 0; ch < Channels; ch++ {
			data = append(data, b...)
		}
	}
	return &fakeSource{buf: bytes.NewReader(data)}
}

func (f *fakeSource) Read(p []byte) (int, error) {
	n, err := f.buf.Read(p)
	if n == 0 {
		f.dead = true
	}
	return n, err
}
func (f *fakeSource) Alive() bool { return !f.dead }
func (f *fakeSource) Kill()       { f.dead = true; f.kills++ }

func makeTrack(id string, durationSec float64, hasURL bool) Track {
	d := durationSec
	tr := Track{ID: id, Title: id, Duration: &d}
	if hasURL {
		u := "https://example.invalid/" + id
		tr.URL = &u
	}
	return tr
}

func TestProducer_SingleTrackEmitsExactFramesAndTerminates(t *testing.T) {
	queue := NewTrackQueue()
	queue.Push(makeTrack("a", 3.0, true))

	spawn := func(ctx context.Context, url string) (Source, error) {
		return newFakeSource(440, 3.2), nil
	}

	out := make(chan Frame, 256)
	cmdIn := make(chan PlaybackCommand, 4)
	p := NewProducer(logging.NewNop(), queue, spawn, out, cmdIn)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not terminate")
	}
	close(out)

	count := 0
	for frame := range out {
		require.Len(t, frame, FrameSize/2)
		count++
	}
	require.Greater(t, count, 0)

	_, hasCurrent := queue.GetCurrent()
	require.False(t, hasCurrent)
}

func TestProducer_SkipClearsCurrentAndAdvances(t *testing.T) {
	queue := NewTrackQueue()
	queue.Push(makeTrack("a", 60.0, true))
	queue.Push(makeTrack("b", 1.0, true))

	spawned := 0
	spawn := func(ctx context.Context, url string) (Source, error) {
		spawned++
		return newFakeSource(440, 60), nil
	}

	out := make(chan Frame, 512)
	cmdIn := make(chan PlaybackCommand, 4)
	p := NewProducer(logging.NewNop(), queue, spawn, out, cmdIn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Let the producer pick up track "a" first.
	time.Sleep(50 * time.Millisecond)
	cmdIn <- PlaybackCommand{Kind: PlaybackSkip}
	// Free one slot in out so a producer blocked on a full channel gets
	// back to the top of its loop and sees the skip.
	<-out

	time.Sleep(200 * time.Millisecond)
	current, hasCurrent := queue.GetCurrent()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not terminate after cancellation")
	}

	require.GreaterOrEqual(t, spawned, 1)
	require.Equal(t, 2, spawned)
	require.True(t, hasCurrent)
	require.Equal(t, "b", current.ID)
}

// TestProducer_CurrentDecoderEOFsDuringFadeMixesSilenceInsteadOfAdvancing
// covers the case where the outgoing track's decoder runs dry before
// the crossfade into the next track finishes: the outgoing side should
// mix in as silence rather than the producer treating this as a normal
// track end and abandoning the fade (which would leak the incoming
// decoder and desync the queue).
func TestProducer_CurrentDecoderEOFsDuringFadeMixesSilenceInsteadOfAdvancing(t *testing.T) {
	queue := NewTrackQueue()
	// "a" is declared at 9s but its fake source only actually holds
	// ~8.5s of audio, so it runs dry mid-crossfade once "b" starts
	// fading in at the FadeSeconds-from-declared-end mark.
	queue.Push(makeTrack("a", 9.0, true))
	queue.Push(makeTrack("b", 5.0, true))

	var spawnedB *fakeSource
	spawn := func(ctx context.Context, url string) (Source, error) {
		if url == "https://example.invalid/b" {
			spawnedB = newFakeSource(440, 5.2)
			return spawnedB, nil
		}
		return newFakeSource(440, 8.5), nil
	}

	out := make(chan Frame, 4096)
	cmdIn := make(chan PlaybackCommand, 4)
	p := NewProducer(logging.NewNop(), queue, spawn, out, cmdIn)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not terminate")
	}
	close(out)

	count := 0
	for frame := range out {
		require.Len(t, frame, FrameSize/2)
		count++
	}
	require.Greater(t, count, 0)

	require.NotNil(t, spawnedB)
	require.Equal(t, 1, spawnedB.kills, "crossfade target decoder must be killed once, not leaked")

	_, hasCurrent := queue.GetCurrent()
	require.False(t, hasCurrent)
}

func TestProducer_MissingURLTrackIsSkipped(t *testing.T) {
	queue := NewTrackQueue()
	queue.Push(makeTrack("no-url", 3.0, false))
	queue.Push(makeTrack("has-url", 1.0, true))

	spawn := func(ctx context.Context, url string) (Source, error) {
		return newFakeSource(440, 1.2), nil
	}

	out := make(chan Frame, 256)
	cmdIn := make(chan PlaybackCommand, 4)
	p := NewProducer(logging.NewNop(), queue, spawn, out, cmdIn)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not terminate")
	}
}
