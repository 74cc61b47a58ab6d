package audio

import (
	"errors"
	"math"
	"time"
)

// Clip is a captured mono audio buffer. Samples are in [-1, 1].
// A Clip is never mutated after construction; conversions return new clips.
type Clip struct {
	Samples    []float64
	SampleRate int
}

var ErrEmptyClip = errors.New("audio clip is empty")

func NewClip(samples []float64, sampleRate int) *Clip {
	return &Clip{Samples: samples, SampleRate: sampleRate}
}

func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

func (c *Clip) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Samples)
}

// Peak returns the largest absolute sample value.
func (c *Clip) Peak() float64 {
	peak := 0.0
	for _, s := range c.Samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// Normalize removes the DC offset and scales the clip so its peak is 1.
// Clips whose peak is below floor are returned unscaled, so silence stays silence.
func (c *Clip) Normalize(floor float64) *Clip {
	out := make([]float64, len(c.Samples))
	if len(out) == 0 {
		return NewClip(out, c.SampleRate)
	}

	mean := 0.0
	for _, s := range c.Samples {
		mean += s
	}
	mean /= float64(len(c.Samples))

	peak := 0.0
	for i, s := range c.Samples {
		out[i] = s - mean
		if a := math.Abs(out[i]); a > peak {
			peak = a
		}
	}
	if peak < floor || peak == 0 {
		return NewClip(out, c.SampleRate)
	}
	for i := range out {
		out[i] /= peak
	}
	return NewClip(out, c.SampleRate)
}

// mixDown averages interleaved channels into mono floats scaled by fullScale.
func mixDown(data []int, channels int, fullScale float64) []float64 {
	if channels < 1 {
		channels = 1
	}
	frames := len(data) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for ch := 0; ch < channels; ch++ {
			sum += float64(data[i*channels+ch])
		}
		mono[i] = sum / float64(channels) / fullScale
	}
	return mono
}
