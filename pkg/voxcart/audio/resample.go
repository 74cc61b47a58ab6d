package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts the clip to rate. A clip already at rate is returned as is.
func (c *Clip) Resample(rate int) (*Clip, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("invalid target sample rate %d", rate)
	}
	if c.SampleRate == rate {
		return c, nil
	}
	if c.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid source sample rate %d", c.SampleRate)
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(c.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	out, err := r.Process(c.Samples)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	return NewClip(out, rate), nil
}
