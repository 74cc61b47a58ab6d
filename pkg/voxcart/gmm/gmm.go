// Package gmm fits and scores diagonal-covariance Gaussian mixture models
// over fixed-length feature vectors.
package gmm

import (
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrNoData            = errors.New("gmm: no training vectors")
	ErrDimensionMismatch = errors.New("gmm: vector dimension mismatch")
	ErrDegenerate        = errors.New("gmm: fit produced a degenerate model")
)

var log2Pi = math.Log(2 * math.Pi)

type Config struct {
	Components    int
	MaxIter       int
	Tolerance     float64 // Stop when mean log-likelihood improves by less than this
	RegCovar      float64 // Added to every variance after each M-step
	VarianceFloor float64 // Lower bound for every variance
}

func DefaultConfig() Config {
	return Config{
		Components:    3,
		MaxIter:       100,
		Tolerance:     1e-3,
		RegCovar:      1e-6,
		VarianceFloor: 1.0,
	}
}

type Component struct {
	Weight   float64   `msgpack:"w"`
	Mean     []float64 `msgpack:"m"`
	Variance []float64 `msgpack:"v"`
}

// Model is a trained mixture. It is immutable after Fit and safe for concurrent scoring.
type Model struct {
	Dim        int         `msgpack:"d"`
	Components []Component `msgpack:"c"`
}

// Fit trains a mixture on samples with EM. The component count is capped at
// len(samples) so tiny enrollment sets still produce a usable model.
func Fit(samples [][]float64, cfg Config) (*Model, error) {
	if len(samples) == 0 {
		return nil, ErrNoData
	}
	dim := len(samples[0])
	if dim == 0 {
		return nil, ErrNoData
	}
	for _, s := range samples {
		if len(s) != dim {
			return nil, ErrDimensionMismatch
		}
	}

	k := cfg.Components
	if k <= 0 {
		k = 1
	}
	if k > len(samples) {
		k = len(samples)
	}

	m := initModel(samples, k, cfg)
	resp := make([][]float64, len(samples))
	for i := range resp {
		resp[i] = make([]float64, k)
	}

	prev := math.Inf(-1)
	for iter := 0; iter < cfg.MaxIter; iter++ {
		ll := m.expect(samples, resp)
		m.maximize(samples, resp, cfg)
		if math.IsNaN(ll) {
			return nil, fmt.Errorf("%w: NaN log-likelihood", ErrDegenerate)
		}
		if ll-prev < cfg.Tolerance {
			break
		}
		prev = ll
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// initModel seeds means by farthest-point selection starting from the first sample.
func initModel(samples [][]float64, k int, cfg Config) *Model {
	dim := len(samples[0])

	globalVar := make([]float64, dim)
	col := make([]float64, len(samples))
	for d := 0; d < dim; d++ {
		for i, s := range samples {
			col[i] = s[d]
		}
		v := 0.0
		if len(samples) > 1 {
			v = stat.PopVariance(col, nil)
		}
		globalVar[d] = math.Max(v+cfg.RegCovar, cfg.VarianceFloor)
	}

	chosen := []int{0}
	minDist := make([]float64, len(samples))
	for i, s := range samples {
		minDist[i] = floats.Distance(s, samples[0], 2)
	}
	for len(chosen) < k {
		next := floats.MaxIdx(minDist)
		chosen = append(chosen, next)
		for i, s := range samples {
			minDist[i] = math.Min(minDist[i], floats.Distance(s, samples[next], 2))
		}
	}

	m := &Model{Dim: dim, Components: make([]Component, k)}
	for j, idx := range chosen {
		m.Components[j] = Component{
			Weight:   1 / float64(k),
			Mean:     append([]float64(nil), samples[idx]...),
			Variance: append([]float64(nil), globalVar...),
		}
	}
	return m
}

// expect fills resp with normalized responsibilities and returns the mean log-likelihood.
func (m *Model) expect(samples [][]float64, resp [][]float64) float64 {
	total := 0.0
	for i, x := range samples {
		for j := range m.Components {
			resp[i][j] = m.Components[j].logWeighted(x)
		}
		norm := floats.LogSumExp(resp[i])
		for j := range resp[i] {
			resp[i][j] = math.Exp(resp[i][j] - norm)
		}
		total += norm
	}
	return total / float64(len(samples))
}

func (m *Model) maximize(samples [][]float64, resp [][]float64, cfg Config) {
	n := float64(len(samples))
	for j := range m.Components {
		c := &m.Components[j]

		nk := 0.0
		for i := range samples {
			nk += resp[i][j]
		}
		if nk < 1e-10 {
			// Starved component keeps its previous parameters.
			continue
		}
		c.Weight = nk / n

		for d := range c.Mean {
			c.Mean[d] = 0
		}
		for i, x := range samples {
			floats.AddScaled(c.Mean, resp[i][j], x)
		}
		floats.Scale(1/nk, c.Mean)

		for d := range c.Variance {
			v := 0.0
			for i, x := range samples {
				diff := x[d] - c.Mean[d]
				v += resp[i][j] * diff * diff
			}
			c.Variance[d] = math.Max(v/nk+cfg.RegCovar, cfg.VarianceFloor)
		}
	}

	sum := 0.0
	for _, c := range m.Components {
		sum += c.Weight
	}
	for j := range m.Components {
		m.Components[j].Weight /= sum
	}
}

func (c Component) logWeighted(x []float64) float64 {
	ll := math.Log(c.Weight)
	for d, v := range x {
		diff := v - c.Mean[d]
		ll -= 0.5 * (log2Pi + math.Log(c.Variance[d]) + diff*diff/c.Variance[d])
	}
	return ll
}

func (m *Model) validate() error {
	if m.Dim <= 0 || len(m.Components) == 0 {
		return ErrDegenerate
	}
	for _, c := range m.Components {
		if c.Weight <= 0 || math.IsNaN(c.Weight) || len(c.Mean) != m.Dim || len(c.Variance) != m.Dim {
			return ErrDegenerate
		}
		for d := 0; d < m.Dim; d++ {
			if math.IsNaN(c.Mean[d]) || math.IsInf(c.Mean[d], 0) || !(c.Variance[d] > 0) || math.IsInf(c.Variance[d], 0) {
				return ErrDegenerate
			}
		}
	}
	return nil
}

// LogLikelihood returns log p(x) under the mixture.
func (m *Model) LogLikelihood(x []float64) (float64, error) {
	if len(x) != m.Dim {
		return 0, ErrDimensionMismatch
	}
	terms := make([]float64, len(m.Components))
	for j, c := range m.Components {
		terms[j] = c.logWeighted(x)
	}
	return floats.LogSumExp(terms), nil
}

// Score is the mean per-vector log-likelihood over xs.
func (m *Model) Score(xs ...[]float64) (float64, error) {
	if len(xs) == 0 {
		return 0, ErrNoData
	}
	total := 0.0
	for _, x := range xs {
		ll, err := m.LogLikelihood(x)
		if err != nil {
			return 0, err
		}
		total += ll
	}
	return total / float64(len(xs)), nil
}

// plainModel has Model's fields without its methods, so msgpack encodes the
// struct instead of calling back into MarshalBinary.
type plainModel Model

func (m *Model) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal((*plainModel)(m))
}

func (m *Model) UnmarshalBinary(data []byte) error {
	var decoded Model
	if err := msgpack.Unmarshal(data, (*plainModel)(&decoded)); err != nil {
		return fmt.Errorf("decode model: %w", err)
	}
	if err := decoded.validate(); err != nil {
		return err
	}
	*m = decoded
	return nil
}
