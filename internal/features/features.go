// Package features converts a window of sensor samples into the fixed-order
// feature vector the classifier was trained on.
//
// Every degenerate input (empty or single-sample windows, zero variance, zero
// range, windows shorter than the wavelet filter) resolves to a documented
// fallback value instead of an error, so extraction never interrupts the
// stream.
package features

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// entropyEpsilon keeps log(p) finite for zero-energy coefficients.
const entropyEpsilon = 1e-12

// waveletLevel is the decomposition depth; the first detail band after the
// approximation is the one summarised.
const waveletLevel = 3

// Set selects which features make up a vector.
type Set string

const (
	// SetFull is the 20-feature time/frequency/wavelet vector.
	SetFull Set = "full"
	// SetBasic is the five time-domain statistics used by early models.
	SetBasic Set = "basic"
)

var fullNames = []string{
	"auc", "mean", "std", "rms", "max", "min", "mean_deriv", "std_deriv",
	"ps_moment1", "ps_moment2", "sparsity", "irregularity_factor", "waveform_length_ratio",
	"cov", "tkeo", "wavelet_energy", "wavelet_variance", "wavelet_std", "wavelet_wl", "wavelet_entropy",
}

var basicNames = []string{"mean", "std", "rms", "max", "min"}

// ParseSet validates a feature set name.
func ParseSet(s string) (Set, error) {
	switch Set(s) {
	case SetFull, SetBasic:
		return Set(s), nil
	case "":
		return SetFull, nil
	}
	return "", fmt.Errorf("unknown feature set %q: expected %q or %q", s, SetFull, SetBasic)
}

// Names returns the ordered feature names of the set.
func (s Set) Names() []string {
	var src []string
	if s == SetBasic {
		src = basicNames
	} else {
		src = fullNames
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Dimension returns the vector length D produced by the set.
func (s Set) Dimension() int {
	if s == SetBasic {
		return len(basicNames)
	}
	return len(fullNames)
}

// Extract computes the feature vector for the window described by values and
// timestamps.
func (s Set) Extract(values, timestamps []float64) []float64 {
	return Compute(values, timestamps).Vector(s)
}

// Features holds every named feature of a window.
type Features struct {
	AUC                 float64 `json:"auc"`
	Mean                float64 `json:"mean"`
	Std                 float64 `json:"std"`
	RMS                 float64 `json:"rms"`
	Max                 float64 `json:"max"`
	Min                 float64 `json:"min"`
	MeanDeriv           float64 `json:"mean_deriv"`
	StdDeriv            float64 `json:"std_deriv"`
	PSMoment1           float64 `json:"ps_moment1"`
	PSMoment2           float64 `json:"ps_moment2"`
	Sparsity            float64 `json:"sparsity"`
	IrregularityFactor  float64 `json:"irregularity_factor"`
	WaveformLengthRatio float64 `json:"waveform_length_ratio"`
	COV                 float64 `json:"cov"`
	TKEO                float64 `json:"tkeo"`
	WaveletEnergy       float64 `json:"wavelet_energy"`
	WaveletVariance     float64 `json:"wavelet_variance"`
	WaveletStd          float64 `json:"wavelet_std"`
	WaveletWL           float64 `json:"wavelet_wl"`
	WaveletEntropy      float64 `json:"wavelet_entropy"`
}

// Vector flattens the features into the order of set s.
func (f Features) Vector(s Set) []float64 {
	if s == SetBasic {
		return []float64{f.Mean, f.Std, f.RMS, f.Max, f.Min}
	}
	return []float64{
		f.AUC, f.Mean, f.Std, f.RMS, f.Max, f.Min, f.MeanDeriv, f.StdDeriv,
		f.PSMoment1, f.PSMoment2, f.Sparsity, f.IrregularityFactor, f.WaveformLengthRatio,
		f.COV, f.TKEO, f.WaveletEnergy, f.WaveletVariance, f.WaveletStd, f.WaveletWL, f.WaveletEntropy,
	}
}

// Compute derives all features for a window. timestamps may be nil or
// shorter than values, in which case unit sample spacing is assumed.
func Compute(values, timestamps []float64) Features {
	var f Features
	n := len(values)
	if n == 0 {
		return f
	}
	haveTime := len(timestamps) == n && n > 1
	dt := SampleInterval(timestamps, n)

	f.Mean, f.Std = stat.PopMeanStdDev(values, nil)
	f.RMS = math.Sqrt(floats.Dot(values, values) / float64(n))
	f.Max = floats.Max(values)
	f.Min = floats.Min(values)
	f.AUC = auc(values, timestamps, haveTime)

	d := diff(values)
	if len(d) > 0 {
		f.MeanDeriv, f.StdDeriv = stat.PopMeanStdDev(d, nil)
	}

	f.PSMoment1, f.PSMoment2 = spectralMoments(values, dt)
	f.Sparsity = hoyerSparsity(values)
	f.IrregularityFactor = irregularity(d, f.StdDeriv)

	amplitudeRange := f.Max - f.Min
	if amplitudeRange == 0 {
		amplitudeRange = 1
	}
	f.WaveformLengthRatio = absSum(d) / amplitudeRange

	if f.Mean != 0 {
		f.COV = f.Std / f.Mean
	}
	f.TKEO = tkeo(values)

	f.WaveletEnergy, f.WaveletVariance, f.WaveletStd, f.WaveletWL, f.WaveletEntropy = waveletFeatures(values)
	return f
}

// SampleInterval returns the mean spacing of timestamps, or 1 when there are
// fewer than two timestamps for the n values or the spacing is not a usable
// positive number.
func SampleInterval(timestamps []float64, n int) float64 {
	if len(timestamps) != n || n < 2 {
		return 1
	}
	dt := stat.Mean(diff(timestamps), nil)
	if dt <= 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return 1
	}
	return dt
}

// auc integrates values over timestamps with the trapezoidal rule, falling
// back to unit spacing when timestamps are absent or out of order.
func auc(values, timestamps []float64, haveTime bool) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	x := timestamps
	if !haveTime || !sort.Float64sAreSorted(timestamps) {
		x = make([]float64, n)
		for i := range x {
			x[i] = float64(i)
		}
	}
	return integrate.Trapezoidal(x, values)
}

// PowerSpectrum returns the non-negative frequency bins of the DFT of values
// (numpy fftfreq layout, resolution 1/(n*dt)) and their power |X|^2.
func PowerSpectrum(values []float64, dt float64) (freqs, power []float64) {
	n := len(values)
	if n == 0 {
		return nil, nil
	}
	coeffs := fourier.NewFFT(n).Coefficients(nil, values)
	bins := (n-1)/2 + 1
	freqs = make([]float64, bins)
	power = make([]float64, bins)
	for k := 0; k < bins; k++ {
		freqs[k] = float64(k) / (float64(n) * dt)
		a := cmplx.Abs(coeffs[k])
		power[k] = a * a
	}
	return freqs, power
}

// spectralMoments returns the power-weighted mean frequency (centroid) and
// the power-weighted standard deviation around it (spread).
func spectralMoments(values []float64, dt float64) (centroid, spread float64) {
	freqs, power := PowerSpectrum(values, dt)
	total := floats.Sum(power)
	if total <= 0 {
		return 0, 0
	}
	centroid = floats.Dot(freqs, power) / total
	var acc float64
	for i, f := range freqs {
		dev := f - centroid
		acc += dev * dev * power[i]
	}
	return centroid, math.Sqrt(acc / total)
}

// hoyerSparsity is (sqrt(n) - L1/L2) / (sqrt(n) - 1); 0 when n <= 1 or the
// signal has no energy.
func hoyerSparsity(values []float64) float64 {
	n := len(values)
	if n <= 1 {
		return 0
	}
	l2 := floats.Norm(values, 2)
	if l2 == 0 {
		return 0
	}
	l1 := floats.Norm(values, 1)
	sqrtN := math.Sqrt(float64(n))
	return (sqrtN - l1/l2) / (sqrtN - 1)
}

// irregularity is std(d) / mean(|d|); 0 when d is empty or flat.
func irregularity(d []float64, stdDeriv float64) float64 {
	if len(d) == 0 {
		return 0
	}
	meanAbs := absSum(d) / float64(len(d))
	if meanAbs == 0 {
		return 0
	}
	return stdDeriv / meanAbs
}

// tkeo is the mean Teager-Kaiser energy v[i]^2 - v[i-1]*v[i+1] over interior
// samples; 0 for fewer than three samples.
func tkeo(v []float64) float64 {
	n := len(v)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 1; i < n-1; i++ {
		sum += v[i]*v[i] - v[i-1]*v[i+1]
	}
	return sum / float64(n-2)
}

// waveletFeatures summarises the first detail band of a db4 level-3
// decomposition. A failed decomposition or empty band yields zeros.
func waveletFeatures(values []float64) (energy, variance, std, wl, entropy float64) {
	coeffs, err := Wavedec(values, DB4, waveletLevel)
	if err != nil || len(coeffs) < 2 || len(coeffs[1]) == 0 {
		return 0, 0, 0, 0, 0
	}
	c := coeffs[1]
	energy = floats.Dot(c, c)
	_, variance = stat.PopMeanVariance(c, nil)
	std = math.Sqrt(variance)
	wl = absSum(diff(c))
	if energy > 0 {
		for _, x := range c {
			p := x * x / energy
			entropy -= p * math.Log(p+entropyEpsilon)
		}
	}
	return energy, variance, std, wl, entropy
}

func diff(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	d := make([]float64, len(x)-1)
	for i := range d {
		d[i] = x[i+1] - x[i]
	}
	return d
}

func absSum(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += math.Abs(v)
	}
	return s
}
