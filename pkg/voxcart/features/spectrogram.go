package features

import (
	"errors"
	"math"

	"github.com/mjibson/go-dsp/fft"
)

func Hamming(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := 0; i < n; i++ {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// PreEmphasis applies y[n] = x[n] - coeff*x[n-1] over the whole signal.
func PreEmphasis(samples []float64, coeff float64) []float64 {
	out := make([]float64, len(samples))
	if len(samples) == 0 {
		return out
	}
	out[0] = samples[0]
	for i := 1; i < len(samples); i++ {
		out[i] = samples[i] - coeff*samples[i-1]
	}
	return out
}

// FrameOffsets returns the start index of every full frame.
func FrameOffsets(n, frameSize, hopSize int) []int {
	if frameSize <= 0 || hopSize <= 0 || n < frameSize {
		return nil
	}
	offsets := make([]int, 0, (n-frameSize)/hopSize+1)
	for start := 0; start+frameSize <= n; start += hopSize {
		offsets = append(offsets, start)
	}
	return offsets
}

// FrameRMS is the root mean square of samples[start:start+size].
func FrameRMS(samples []float64, start, size int) float64 {
	sum := 0.0
	for _, s := range samples[start : start+size] {
		sum += s * s
	}
	return math.Sqrt(sum / float64(size))
}

// PowerSpectrum windows frame and returns |FFT|^2 for bins 0..N/2.
func PowerSpectrum(frame, window []float64) ([]float64, error) {
	if len(window) != len(frame) {
		return nil, errors.New("window length must equal frame length")
	}
	buf := make([]float64, len(frame))
	for i := range frame {
		buf[i] = frame[i] * window[i]
	}

	spectrum := fft.FFTReal(buf)
	half := len(frame)/2 + 1
	power := make([]float64, half)
	for i := 0; i < half; i++ {
		re, im := real(spectrum[i]), imag(spectrum[i])
		power[i] = re*re + im*im
	}
	return power, nil
}
