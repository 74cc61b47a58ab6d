package gmm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

const dim = 13

func cluster(rng *rand.Rand, center float64, spread float64, n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		v := make([]float64, dim)
		for d := range v {
			v[d] = center + float64(d) + spread*rng.NormFloat64()
		}
		out[i] = v
	}
	return out
}

func TestFitSeparatesSpeakers(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	enroll := cluster(rng, 0, 0.5, 3)
	genuine := cluster(rng, 0, 0.5, 5)
	impostor := cluster(rng, 20, 0.5, 5)

	m, err := Fit(enroll, DefaultConfig())
	require.NoError(t, err)
	assert.Len(t, m.Components, 3)

	for i := range genuine {
		g, err := m.Score(genuine[i])
		require.NoError(t, err)
		imp, err := m.Score(impostor[i])
		require.NoError(t, err)

		assert.Greater(t, g, -50.0, "genuine scorer %d", i)
		assert.Less(t, imp, -50.0, "impostor scorer %d", i)
	}
}

func TestFitCapsComponentsAtSampleCount(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	m, err := Fit(cluster(rng, 0, 1, 2), DefaultConfig())
	require.NoError(t, err)
	assert.Len(t, m.Components, 2)

	total := 0.0
	for _, c := range m.Components {
		total += c.Weight
		for _, v := range c.Variance {
			assert.GreaterOrEqual(t, v, DefaultConfig().VarianceFloor)
		}
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestFitRecoversClusters(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	data := append(cluster(rng, 0, 1, 60), cluster(rng, 50, 1, 40)...)

	cfg := DefaultConfig()
	cfg.Components = 2
	m, err := Fit(data, cfg)
	require.NoError(t, err)

	weights := []float64{m.Components[0].Weight, m.Components[1].Weight}
	lo, hi := m.Components[0], m.Components[1]
	if lo.Mean[0] > hi.Mean[0] {
		lo, hi = hi, lo
		weights[0], weights[1] = weights[1], weights[0]
	}
	assert.InDelta(t, 0.0, lo.Mean[0], 0.5)
	assert.InDelta(t, 50.0, hi.Mean[0], 0.5)
	assert.InDelta(t, 0.6, weights[0], 0.01)
	assert.InDelta(t, 0.4, weights[1], 0.01)
}

func TestFitErrors(t *testing.T) {
	_, err := Fit(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNoData)

	_, err = Fit([][]float64{{1, 2}, {1}}, DefaultConfig())
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = Fit([][]float64{{math.NaN(), 1}, {1, 1}}, DefaultConfig())
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestScoreDimensionMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	m, err := Fit(cluster(rng, 0, 1, 3), DefaultConfig())
	require.NoError(t, err)

	_, err = m.Score([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = m.Score()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestBinaryEncodingPreservesScores(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	m, err := Fit(cluster(rng, 0, 1, 3), DefaultConfig())
	require.NoError(t, err)

	blob, err := m.MarshalBinary()
	require.NoError(t, err)

	var decoded Model
	require.NoError(t, decoded.UnmarshalBinary(blob))

	sample := cluster(rng, 0, 1, 1)[0]
	want, _ := m.Score(sample)
	got, err := decoded.Score(sample)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Error(t, decoded.UnmarshalBinary([]byte{0xc1}))
}

func TestModelRoundTripsThroughMsgpack(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	m, err := Fit(cluster(rng, 0, 1, 3), DefaultConfig())
	require.NoError(t, err)

	// msgpack dispatches to MarshalBinary and UnmarshalBinary.
	blob, err := msgpack.Marshal(m)
	require.NoError(t, err)

	var decoded Model
	require.NoError(t, msgpack.Unmarshal(blob, &decoded))
	assert.Equal(t, m.Dim, decoded.Dim)
	assert.Equal(t, m.Components, decoded.Components)
}
