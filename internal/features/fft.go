package features

import "math"

// fft is an in-place iterative radix-2 transform. len(re) must be a power of
// two and equal len(im).
func fft(re, im []float64) {
	n := len(re)
	if n <= 1 {
		return
	}

	for i, j := 0, 0; i < n-1; i++ {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
		k := n >> 1
		for k <= j {
			j -= k
			k >>= 1
		}
		j += k
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		theta := -2 * math.Pi / float64(size)
		wr, wi := math.Cos(theta), math.Sin(theta)
		for base := 0; base < n; base += size {
			cr, ci := 1.0, 0.0
			for k := 0; k < half; k++ {
				u, v := base+k, base+k+half
				tr := cr*re[v] - ci*im[v]
				ti := cr*im[v] + ci*re[v]
				re[v], im[v] = re[u]-tr, im[u]-ti
				re[u] += tr
				im[u] += ti
				cr, ci = cr*wr-ci*wi, cr*wi+ci*wr
			}
		}
	}
}
