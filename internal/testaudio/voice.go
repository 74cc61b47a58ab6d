// Package testaudio synthesizes deterministic voice-like clips for tests.
package testaudio

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/himanishpuri/VoxCart/pkg/voxcart/audio"
)

const Rate = 16000

// Voice is a harmonic source: a fundamental plus weighted overtones.
type Voice struct {
	F0        float64
	Harmonics []float64
}

var (
	// Low is a low-pitched voice with a strong second harmonic.
	Low = Voice{F0: 120, Harmonics: []float64{1.0, 0.8, 0.5, 0.3, 0.2, 0.1}}
	// High is a bright, high-pitched voice with energy in upper partials.
	High = Voice{F0: 310, Harmonics: []float64{0.3, 0.4, 1.0, 0.9, 0.7, 0.6, 0.5}}
)

// Clip renders seconds of v with a little seeded noise and pitch jitter.
func (v Voice) Clip(seconds float64, seed int64) *audio.Clip {
	rng := rand.New(rand.NewSource(seed))
	f0 := v.F0 * (1 + 0.01*(rng.Float64()-0.5))
	n := int(seconds * Rate)
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / Rate
		s := 0.0
		for h, amp := range v.Harmonics {
			s += amp * math.Sin(2*math.Pi*f0*float64(h+1)*t)
		}
		out[i] = 0.2*s + 0.002*rng.NormFloat64()
	}
	return audio.NewClip(out, Rate)
}

// Silence returns a clip of zeros.
func Silence(seconds float64) *audio.Clip {
	return audio.NewClip(make([]float64, int(seconds*Rate)), Rate)
}

// WAVBytes encodes clip to WAV bytes via a temp file.
func WAVBytes(t testing.TB, clip *audio.Clip) []byte {
	t.Helper()
	data, err := audio.EncodeWAVBytes(clip)
	if err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}
	return data
}

// WriteWAV writes clip into the test's temp dir and returns the path.
func WriteWAV(t testing.TB, clip *audio.Clip) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "clip-*.wav")
	if err != nil {
		t.Fatalf("Failed to create temp WAV: %v", err)
	}
	path := f.Name()
	f.Close()
	if err := audio.WriteWAVFile(path, clip); err != nil {
		t.Fatalf("Failed to write WAV: %v", err)
	}
	return filepath.Clean(path)
}
