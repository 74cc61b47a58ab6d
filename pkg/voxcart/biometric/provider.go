package biometric

import (
	"context"
	"fmt"

	"github.com/himanishpuri/VoxCart/pkg/voxcart/audio"
)

// SampleProvider supplies the voice clip for an enrollment step (1-based).
type SampleProvider interface {
	Sample(ctx context.Context, step int) (*audio.Clip, error)
}

type SampleProviderFunc func(ctx context.Context, step int) (*audio.Clip, error)

func (f SampleProviderFunc) Sample(ctx context.Context, step int) (*audio.Clip, error) {
	return f(ctx, step)
}

// Clips serves pre-captured clips in order. A missing step yields a nil clip,
// which extraction rejects like any unusable sample.
type Clips []*audio.Clip

func (c Clips) Sample(ctx context.Context, step int) (*audio.Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step < 1 || step > len(c) {
		return nil, nil
	}
	return c[step-1], nil
}

// Files loads each step from an audio file, transcoding non-WAV input with ffmpeg.
type Files struct {
	Paths      []string
	TempDir    string
	SampleRate int
}

func (f Files) Sample(ctx context.Context, step int) (*audio.Clip, error) {
	if step < 1 || step > len(f.Paths) {
		return nil, fmt.Errorf("no sample file for step %d", step)
	}
	rate := f.SampleRate
	if rate == 0 {
		rate = audio.DefaultSampleRate
	}
	return audio.LoadClip(ctx, f.Paths[step-1], f.TempDir, rate)
}
