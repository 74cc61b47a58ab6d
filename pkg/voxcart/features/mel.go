package features

import "math"

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterBank builds numMels triangular filters over fftSize/2+1 power bins.
// Band edges are equally spaced on the mel scale between lowFreq and highFreq.
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	bins := fftSize/2 + 1
	lowMel, highMel := hzToMel(lowFreq), hzToMel(highFreq)

	edges := make([]int, numMels+2)
	step := (highMel - lowMel) / float64(numMels+1)
	for i := range edges {
		hz := melToHz(lowMel + float64(i)*step)
		edges[i] = int(math.Floor(hz * float64(fftSize) / float64(sampleRate)))
		if edges[i] >= bins {
			edges[i] = bins - 1
		}
		if i > 0 && edges[i] <= edges[i-1] {
			edges[i] = edges[i-1] + 1
		}
	}

	bank := make([][]float64, numMels)
	for m := range bank {
		filter := make([]float64, bins)
		left, center, right := edges[m], edges[m+1], edges[m+2]
		for k := left; k < center && k < bins; k++ {
			filter[k] = float64(k-left) / float64(center-left)
		}
		for k := center; k <= right && k < bins; k++ {
			filter[k] = float64(right-k) / float64(right-center)
		}
		bank[m] = filter
	}
	return bank
}

// dctMatrix returns the first numCoeffs rows of an orthonormal DCT-II over n inputs.
func dctMatrix(numCoeffs, n int) [][]float64 {
	m := make([][]float64, numCoeffs)
	for k := range m {
		scale := math.Sqrt(2.0 / float64(n))
		if k == 0 {
			scale = math.Sqrt(1.0 / float64(n))
		}
		row := make([]float64, n)
		for i := range row {
			row[i] = scale * math.Cos(math.Pi*float64(k)*(float64(i)+0.5)/float64(n))
		}
		m[k] = row
	}
	return m
}
