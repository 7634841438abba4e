package features

import (
	"errors"
	"fmt"
)

// ErrSignalTooShort is returned when a signal is shorter than the wavelet
// filter and cannot be decomposed.
var ErrSignalTooShort = errors.New("signal shorter than wavelet filter")

// Wavelet holds the analysis (decomposition) filter pair of an orthogonal
// wavelet.
type Wavelet struct {
	Name  string
	DecLo []float64
	DecHi []float64
}

// Len returns the filter length.
func (w Wavelet) Len() int { return len(w.DecLo) }

// DB4 is the Daubechies wavelet with four vanishing moments (8 taps).
var DB4 = Wavelet{
	Name: "db4",
	DecLo: []float64{
		-0.010597401784997278,
		0.032883011666982945,
		0.030841381835986965,
		-0.18703481171888114,
		-0.02798376941698385,
		0.6308807679295904,
		0.7148465705525415,
		0.23037781330885523,
	},
	DecHi: []float64{
		-0.23037781330885523,
		0.7148465705525415,
		-0.6308807679295904,
		-0.02798376941698385,
		0.18703481171888114,
		0.030841381835986965,
		-0.032883011666982945,
		-0.010597401784997278,
	},
}

// symmetric returns x[i] under half-sample symmetric extension
// (... x1 x0 | x0 x1 ... xn-1 | xn-1 xn-2 ...), repeated with period 2n.
func symmetric(x []float64, i int) float64 {
	n := len(x)
	m := i % (2 * n)
	if m < 0 {
		m += 2 * n
	}
	if m < n {
		return x[m]
	}
	return x[2*n-1-m]
}

// DWT performs a single-level discrete wavelet transform with symmetric
// boundary extension and returns the approximation and detail bands, each
// of length floor((n+L-1)/2).
func DWT(x []float64, w Wavelet) (approx, detail []float64) {
	n, f := len(x), w.Len()
	if n == 0 || f == 0 {
		return nil, nil
	}
	out := (n + f - 1) / 2
	approx = make([]float64, out)
	detail = make([]float64, out)
	for o := 0; o < out; o++ {
		i := 2*o + 1
		var lo, hi float64
		for j := 0; j < f; j++ {
			v := symmetric(x, i-j)
			lo += w.DecLo[j] * v
			hi += w.DecHi[j] * v
		}
		approx[o] = lo
		detail[o] = hi
	}
	return approx, detail
}

// Wavedec performs a multilevel decomposition and returns the bands ordered
// [cA_level, cD_level, cD_level-1, ..., cD_1].
func Wavedec(x []float64, w Wavelet, level int) ([][]float64, error) {
	if level < 1 {
		return nil, fmt.Errorf("decomposition level must be >= 1, got %d", level)
	}
	if len(x) < w.Len() {
		return nil, fmt.Errorf("%s needs at least %d samples, got %d: %w", w.Name, w.Len(), len(x), ErrSignalTooShort)
	}
	details := make([][]float64, 0, level)
	a := x
	for l := 0; l < level; l++ {
		var d []float64
		a, d = DWT(a, w)
		details = append(details, d)
	}
	coeffs := make([][]float64, 0, level+1)
	coeffs = append(coeffs, a)
	for l := len(details) - 1; l >= 0; l-- {
		coeffs = append(coeffs, details[l])
	}
	return coeffs, nil
}
