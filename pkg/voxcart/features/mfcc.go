// Package features turns audio clips into fixed-length MFCC voice fingerprints.
package features

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/audio"
)

// Dim is the length of every feature vector produced with the default configuration.
const Dim = 13

const logFloor = 1e-10

// Vector is a mean-pooled MFCC fingerprint of one clip.
type Vector []float64

// Config fixes every extraction parameter. It is set once per Extractor so that all
// vectors in the system are comparable.
type Config struct {
	SampleRate   int
	FrameSize    int
	HopSize      int
	NumMels      int
	NumCoeffs    int
	PreEmphasis  float64
	LowFreq      float64
	HighFreq     float64
	SilenceFloor float64 // Frames with RMS below this are dropped
}

func DefaultConfig() Config {
	return Config{
		SampleRate:   16000,
		FrameSize:    2048,
		HopSize:      512,
		NumMels:      40,
		NumCoeffs:    Dim,
		PreEmphasis:  0.97,
		LowFreq:      0,
		HighFreq:     8000,
		SilenceFloor: 1e-3,
	}
}

func (c Config) validate() error {
	switch {
	case c.SampleRate <= 0:
		return errors.New("sample rate must be positive")
	case c.FrameSize < 2 || c.HopSize <= 0:
		return errors.New("frame and hop size must be positive")
	case c.NumMels < c.NumCoeffs || c.NumCoeffs <= 0:
		return errors.New("need 0 < coefficients <= mel bands")
	case c.HighFreq <= c.LowFreq || c.HighFreq > float64(c.SampleRate)/2:
		return errors.New("invalid mel frequency range")
	}
	return nil
}

type Extractor struct {
	cfg     Config
	window  []float64
	filters [][]float64
	dct     [][]float64
}

func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid feature config: %w", err)
	}
	return &Extractor{
		cfg:     cfg,
		window:  Hamming(cfg.FrameSize),
		filters: melFilterBank(cfg.NumMels, cfg.FrameSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
		dct:     dctMatrix(cfg.NumCoeffs, cfg.NumMels),
	}, nil
}

func (e *Extractor) Dim() int { return e.cfg.NumCoeffs }

func (e *Extractor) Config() Config { return e.cfg }

func failed(reason string) error {
	return fmt.Errorf("%w: %s", models.ErrExtractionFailed, reason)
}

// Extract resamples clip to the configured rate, computes MFCCs for every voiced frame
// and averages them. Silent, short or unreadable clips yield ErrExtractionFailed.
func (e *Extractor) Extract(clip *audio.Clip) (Vector, error) {
	if clip == nil || clip.Len() == 0 {
		return nil, failed("empty clip")
	}

	clip, err := clip.Resample(e.cfg.SampleRate)
	if err != nil {
		return nil, failed(err.Error())
	}

	offsets := FrameOffsets(clip.Len(), e.cfg.FrameSize, e.cfg.HopSize)
	if len(offsets) == 0 {
		return nil, failed("clip shorter than one frame")
	}

	voiced := make([]int, 0, len(offsets))
	for _, start := range offsets {
		if FrameRMS(clip.Samples, start, e.cfg.FrameSize) >= e.cfg.SilenceFloor {
			voiced = append(voiced, start)
		}
	}
	if len(voiced) == 0 {
		return nil, failed("no voiced frames")
	}

	signal := PreEmphasis(clip.Normalize(e.cfg.SilenceFloor).Samples, e.cfg.PreEmphasis)

	sum := make([]float64, e.cfg.NumCoeffs)
	for _, start := range voiced {
		coeffs, err := e.frameCoefficients(signal[start : start+e.cfg.FrameSize])
		if err != nil {
			return nil, failed(err.Error())
		}
		floats.Add(sum, coeffs)
	}
	floats.Scale(1/float64(len(voiced)), sum)

	for _, v := range sum {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, failed("non-finite coefficient")
		}
	}
	return Vector(sum), nil
}

func (e *Extractor) frameCoefficients(frame []float64) ([]float64, error) {
	power, err := PowerSpectrum(frame, e.window)
	if err != nil {
		return nil, err
	}

	logMel := make([]float64, len(e.filters))
	for m, filter := range e.filters {
		logMel[m] = 10 * math.Log10(math.Max(floats.Dot(filter, power), logFloor))
	}

	coeffs := make([]float64, len(e.dct))
	for k, row := range e.dct {
		coeffs[k] = floats.Dot(row, logMel)
	}
	return coeffs, nil
}
