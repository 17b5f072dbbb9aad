package features

import "math"

// melFilter is a triangular filter stored sparsely from its first non-zero bin.
type melFilter struct {
	first   int
	weights []float64
}

func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterBank spaces numMels triangular filters evenly on the HTK mel scale
// between lowFreq and highFreq.
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) []melFilter {
	half := fftSize/2 + 1
	lowMel, highMel := hzToMel(lowFreq), hzToMel(highFreq)
	step := (highMel - lowMel) / float64(numMels+1)

	bins := make([]int, numMels+2)
	for i := range bins {
		hz := melToHz(lowMel + float64(i)*step)
		bins[i] = min(int(math.Round(hz*float64(fftSize)/float64(sampleRate))), half-1)
		if i > 0 && bins[i] <= bins[i-1] {
			bins[i] = bins[i-1] + 1
		}
	}

	bank := make([]melFilter, numMels)
	for m := range bank {
		left, center, right := bins[m], bins[m+1], bins[m+2]
		right = min(right, half-1)
		if left >= half {
			left = half - 1
		}
		f := melFilter{first: left, weights: make([]float64, right-left+1)}
		for k := left; k <= right; k++ {
			switch {
			case k < center:
				f.weights[k-left] = float64(k-left) / float64(center-left)
			case k == center:
				f.weights[k-left] = 1
			default:
				f.weights[k-left] = float64(right-k) / float64(right-center)
			}
		}
		bank[m] = f
	}
	return bank
}
