package audio

import "math"

// biquad is a direct-form-I RBJ biquad with its own per-channel state,
// so the low-shelf/mid-band-cut stages carry history across frames
// rather than resetting mid-track.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64

	x1, x2, y1, y2 float64
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// newLowShelf builds an RBJ low-shelf biquad, coefficients per the
// standard RBJ cookbook formulation (normalized a0=1).
func newLowShelf(sampleRate, cutoffHz, q, gainDB float64) *biquad {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * cutoffHz / sampleRate
	cosW0 := math.Cos(w0)
	sinW0 := math.Sin(w0)
	alpha := sinW0 / (2 * q)
	sqrtA := math.Sqrt(a)

	b0 := a * ((a + 1) - (a-1)*cosW0 + 2*sqrtA*alpha)
	b1 := 2 * a * ((a - 1) - (a+1)*cosW0)
	b2 := a * ((a + 1) - (a-1)*cosW0 - 2*sqrtA*alpha)
	a0 := (a + 1) + (a-1)*cosW0 + 2*sqrtA*alpha
	a1 := -2 * ((a - 1) + (a+1)*cosW0)
	a2 := (a + 1) + (a-1)*cosW0 - 2*sqrtA*alpha

	return &biquad{
		b0: b0 / a0, b1: b1 / a0, b2: b2 / a0,
		a1: a1 / a0, a2: a2 / a0,
	}
}

// newPeakingEQ builds an RBJ peaking-EQ biquad, used here for the
// mid-band cut (negative gainDB) over a one-octave bandwidth.
func newPeakingEQ(sampleRate, centerHz, bandwidthOctaves, gainDB float64) *biquad {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * centerHz / sampleRate
	cosW0 := math.Cos(w0)
	sinW0 := math.Sin(w0)
	alpha := sinW0 * math.Sinh(math.Ln2/2*bandwidthOctaves*w0/sinW0)

	b0 := 1 + alpha*a
	b1 := -2 * cosW0
	b2 := 1 - alpha*a
	a0 := 1 + alpha/a
	a1 := -2 * cosW0
	a2 := 1 - alpha/a

	return &biquad{
		b0: b0 / a0, b1: b1 / a0, b2: b2 / a0,
		a1: a1 / a0, a2: a2 / a0,
	}
}

// compressor is a per-channel hard-knee downward compressor (gain
// reduction starts right at the threshold) with an exponential
// attack/release envelope follower, applied sample-by-sample after the
// EQ stages.
type compressor struct {
	thresholdDB float64
	ratio       float64
	attackCoeff float64
	releaseCoeff float64

	envelope float64
}

func newCompressor(sampleRate, thresholdDB, ratio, attackSec, releaseSec float64) *compressor {
	return &compressor{
		thresholdDB:  thresholdDB,
		ratio:        ratio,
		attackCoeff:  math.Exp(-1 / (attackSec * sampleRate)),
		releaseCoeff: math.Exp(-1 / (releaseSec * sampleRate)),
	}
}

func (c *compressor) processSample(x float64) float64 {
	inputDB := 20 * math.Log10(math.Max(math.Abs(x), 1e-6))
	over := inputDB - c.thresholdDB

	reductionDB := 0.0
	if over > 0 {
		reductionDB = over - over/c.ratio
	}
	target := reductionDB / 20

	if target < c.envelope {
		c.envelope = c.attackCoeff*(c.envelope-target) + target
	} else {
		c.envelope = c.releaseCoeff*(c.envelope-target) + target
	}

	return x * math.Pow(10, -c.envelope)
}

// Chain is the stateful, per-channel bass-boost DSP pipeline: a
// low-shelf boost, a mid-band cut, and a compressor, applied in order.
// Only one Chain instance should process a given channel's sample
// stream, since every stage carries history across frames.
type Chain struct {
	lowShelf   [Channels]*biquad
	midCut     [Channels]*biquad
	compressor [Channels]*compressor
}

// NewChain builds the fixed "bass boost" filter chain: low-shelf
// (100Hz, Q 0.707, +9dB), mid-band cut (300Hz, 1 octave, -6dB),
// compressor (-10dBFS threshold, 3:1 ratio, 5ms attack, 50ms release).
func NewChain(sampleRate float64) *Chain {
	c := &Chain{}
	for ch := 0; ch < Channels; ch++ {
		c.lowShelf[ch] = newLowShelf(sampleRate, 100, 0.707, 9)
		c.midCut[ch] = newPeakingEQ(sampleRate, 300, 1, -6)
		c.compressor[ch] = newCompressor(sampleRate, -10, 3, 0.005, 0.05)
	}
	return c
}

// Apply runs the chain over one interleaved-stereo frame in place.
// Conversion is i16 -> f32 (÷32768) for processing, then clamped back
// to i16 range with saturation.
func (c *Chain) Apply(frame Frame) {
	for i := 0; i < len(frame); i += Channels {
		for ch := 0; ch < Channels; ch++ {
			x := float64(frame[i+ch]) / 32768.0
			x = c.lowShelf[ch].process(x)
			x = c.midCut[ch].process(x)
			x = c.compressor[ch].processSample(x)
			frame[i+ch] = saturateInt16(x * 32768.0)
		}
	}
}

func saturateInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
