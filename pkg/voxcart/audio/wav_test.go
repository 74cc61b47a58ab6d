package audio

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq float64, rate int, seconds float64, amp float64) []float64 {
	n := int(float64(rate) * seconds)
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	clip := NewClip(sine(440, 16000, 0.5, 0.5), 16000)

	require.NoError(t, WriteWAVFile(path, clip))

	got, err := ReadWAVFile(path)
	require.NoError(t, err)

	assert.Equal(t, 16000, got.SampleRate)
	assert.Equal(t, clip.Len(), got.Len())
	assert.Equal(t, 500*time.Millisecond, got.Duration())
	for i := 0; i < got.Len(); i += 397 {
		assert.InDelta(t, clip.Samples[i], got.Samples[i], 1e-3, "sample %d", i)
	}
}

func TestDecodeWAVBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	require.NoError(t, WriteWAVFile(path, NewClip(sine(220, 8000, 0.25, 0.8), 8000)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	clip, err := DecodeWAVBytes(data)
	require.NoError(t, err)
	assert.Equal(t, 8000, clip.SampleRate)
	assert.Equal(t, 2000, clip.Len())
	assert.InDelta(t, 0.8, clip.Peak(), 1e-3)
}

func TestEncodeWAVBytes(t *testing.T) {
	clip := NewClip(sine(300, 16000, 0.3, 0.6), 16000)

	data, err := EncodeWAVBytes(clip)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, 44+2*clip.Len(), len(data))

	got, err := DecodeWAVBytes(data)
	require.NoError(t, err)
	assert.Equal(t, clip.Len(), got.Len())
	assert.InDelta(t, 0.6, got.Peak(), 1e-3)
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	_, err := DecodeWAVBytes([]byte("definitely not a wav file"))
	assert.Error(t, err)

	_, err = DecodeWAVBytes(nil)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	samples := []float64{0.1, 0.3, 0.1, -0.1}
	norm := NewClip(samples, 16000).Normalize(1e-4)

	assert.InDelta(t, 1.0, norm.Peak(), 1e-9)
	sum := 0.0
	for _, s := range norm.Samples {
		sum += s
	}
	assert.InDelta(t, 0.0, sum, 1e-9)
	// source untouched
	assert.Equal(t, 0.3, samples[1])
}

func TestNormalizeKeepsSilence(t *testing.T) {
	norm := NewClip(make([]float64, 100), 16000).Normalize(1e-4)
	assert.Equal(t, 0.0, norm.Peak())
}

func TestResampleSameRateIsIdentity(t *testing.T) {
	clip := NewClip(sine(440, 16000, 0.1, 0.5), 16000)
	out, err := clip.Resample(16000)
	require.NoError(t, err)
	assert.Same(t, clip, out)

	_, err = clip.Resample(0)
	assert.Error(t, err)
}

func TestLoadClipReadsWAVWithoutFFmpeg(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.WAV")
	require.NoError(t, WriteWAVFile(path, NewClip(sine(300, 16000, 0.2, 0.4), 16000)))

	clip, err := LoadClip(context.Background(), path, dir, DefaultSampleRate)
	require.NoError(t, err)
	assert.Equal(t, 3200, clip.Len())
}

func TestLoadClipWithoutTranscoder(t *testing.T) {
	t.Setenv("PATH", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.webm")
	require.NoError(t, os.WriteFile(path, []byte("not audio"), 0o644))

	_, err := LoadClip(context.Background(), path, dir, DefaultSampleRate)
	assert.ErrorIs(t, err, ErrNoTranscoder)
}
