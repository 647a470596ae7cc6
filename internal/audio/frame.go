// Package audio implements the producer/consumer audio pipeline: PCM
// ingestion via decoder subprocesses, crossfading, the DSP filter
// chain, and paced Opus-encoded emission.
package audio

import "sync"

const (
	// SampleRate is the fixed PCM sample rate used throughout the
	// pipeline, 48kHz stereo.
	SampleRate = 48000
	// Channels is the fixed channel count (stereo).
	Channels = 2
	// SamplesPerFrame is the stereo sample count in one 20ms frame.
	SamplesPerFrame = 960
	// FrameSize is one 20ms frame of interleaved 16-bit stereo PCM:
	// 960 stereo samples = 1920 int16 samples = 3840 bytes.
	FrameSize = SamplesPerFrame * Channels * 2

	// FadeSeconds is the crossfade window between two tracks.
	FadeSeconds = 8.0
)

// Frame is one 20ms block of interleaved stereo PCM samples (i16,
// little-endian on the wire, but handled as native int16 here).
type Frame = []int16

// FilterState holds the live DSP toggle/volume state. bass_boost and
// volume are actively wired; nightcore/vaporwave are reserved for a
// future resampling/pitch-shift implementation and carried only as
// inert fields for now.
type FilterState struct {
	mu sync.RWMutex

	bassBoost bool
	nightcore bool
	vaporwave bool
	volume    float64
}

// NewFilterState returns the default state: every toggle off, unity
// volume.
func NewFilterState() *FilterState {
	return &FilterState{volume: 1.0}
}

// Command is a live playback DSP command applied by the consumer
// between frames.
type Command struct {
	Kind   CommandKind
	Volume float64 // only meaningful when Kind == SetVolume
}

// CommandKind enumerates the live filter commands.
type CommandKind int

const (
	ToggleBassBoost CommandKind = iota
	ToggleNightcore
	ToggleVaporwave
	SetVolume
)

// Apply mutates the filter state per cmd. Only the consumer calls
// this, under the state's write lock.
func (f *FilterState) Apply(cmd Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch cmd.Kind {
	case ToggleBassBoost:
		f.bassBoost = !f.bassBoost
	case ToggleNightcore:
		f.nightcore = !f.nightcore
	case ToggleVaporwave:
		f.vaporwave = !f.vaporwave
	case SetVolume:
		v := cmd.Volume
		if v < 0 {
			v = 0
		}
		f.volume = v
	}
}

// Snapshot returns a point-in-time copy of the state for read-only use
// during filtering, avoiding holding the lock across the DSP chain.
func (f *FilterState) Snapshot() (bassBoost, nightcore, vaporwave bool, volume float64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bassBoost, f.nightcore, f.vaporwave, f.volume
}
