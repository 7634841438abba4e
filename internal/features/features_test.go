package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tol = 1e-9

func unitTimes(n int) []float64 {
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = float64(i)
	}
	return ts
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestSet_NamesAndDimension(t *testing.T) {
	assert.Equal(t, 20, SetFull.Dimension())
	assert.Len(t, SetFull.Names(), 20)
	assert.Equal(t, "auc", SetFull.Names()[0])
	assert.Equal(t, "wavelet_entropy", SetFull.Names()[19])

	assert.Equal(t, 5, SetBasic.Dimension())
	assert.Equal(t, []string{"mean", "std", "rms", "max", "min"}, SetBasic.Names())
}

func TestParseSet(t *testing.T) {
	s, err := ParseSet("basic")
	require.NoError(t, err)
	assert.Equal(t, SetBasic, s)

	s, err = ParseSet("")
	require.NoError(t, err)
	assert.Equal(t, SetFull, s)

	_, err = ParseSet("spectral")
	assert.Error(t, err)
}

func TestExtract_VectorLengthMatchesSet(t *testing.T) {
	values := []float64{1, 4, 2, 8, 5, 7, 3, 6, 9, 0}
	ts := unitTimes(len(values))
	for _, s := range []Set{SetFull, SetBasic} {
		assert.Len(t, s.Extract(values, ts), s.Dimension(), "set %s", s)
		assert.Len(t, s.Extract(nil, nil), s.Dimension(), "empty window, set %s", s)
		assert.Len(t, s.Extract([]float64{3}, []float64{0}), s.Dimension(), "single sample, set %s", s)
	}
}

func TestCompute_TrapezoidalAUC(t *testing.T) {
	f := Compute([]float64{0, 2, 0}, []float64{0, 1, 2})
	assert.InDelta(t, 2.0, f.AUC, tol)

	// Without timestamps unit spacing is assumed.
	f = Compute([]float64{0, 2, 0}, nil)
	assert.InDelta(t, 2.0, f.AUC, tol)

	// Non-uniform timestamps are honoured.
	f = Compute([]float64{1, 1, 1}, []float64{0, 0.5, 2})
	assert.InDelta(t, 2.0, f.AUC, tol)

	// Single sample has no area.
	assert.Equal(t, 0.0, Compute([]float64{5}, []float64{1}).AUC)
}

func TestCompute_TimeDomain(t *testing.T) {
	f := Compute([]float64{1, 3}, []float64{0, 1})
	assert.InDelta(t, 2.0, f.Mean, tol)
	assert.InDelta(t, 1.0, f.Std, tol, "population std")
	assert.InDelta(t, math.Sqrt(5), f.RMS, tol)
	assert.Equal(t, 3.0, f.Max)
	assert.Equal(t, 1.0, f.Min)
	assert.InDelta(t, 2.0, f.MeanDeriv, tol)
	assert.Equal(t, 0.0, f.StdDeriv)
	assert.InDelta(t, 0.5, f.COV, tol)
}

func TestCompute_ConstantWindowFallbacks(t *testing.T) {
	values := constant(16, 5)
	f := Compute(values, unitTimes(16))

	assert.Equal(t, 0.0, f.Std)
	assert.Equal(t, 0.0, f.COV)
	assert.Equal(t, 0.0, f.IrregularityFactor)
	assert.Equal(t, 0.0, f.WaveformLengthRatio, "range 0 is replaced by 1")
	assert.False(t, math.IsNaN(f.WaveformLengthRatio) || math.IsInf(f.WaveformLengthRatio, 0))
	assert.InDelta(t, 0.0, f.Sparsity, tol)
	assert.InDelta(t, 0.0, f.PSMoment1, tol, "all power at DC")
	assert.InDelta(t, 0.0, f.PSMoment2, tol)
	assert.InDelta(t, 0.0, f.WaveletEnergy, 1e-18, "high-pass filter annihilates constants")
	assert.InDelta(t, 0.0, f.TKEO, tol)
}

func TestCompute_SparsityDegenerateCases(t *testing.T) {
	assert.Equal(t, 0.0, Compute([]float64{7}, nil).Sparsity, "n <= 1")
	assert.Equal(t, 0.0, Compute([]float64{0, 0, 0}, nil).Sparsity, "L2 == 0")
	assert.InDelta(t, 1.0, Compute([]float64{0, 0, 0, 1}, nil).Sparsity, tol, "one-hot is maximally sparse")
	assert.InDelta(t, 0.0, Compute([]float64{2, 2, 2, 2}, nil).Sparsity, tol)
}

func TestCompute_ZeroMeanCOV(t *testing.T) {
	f := Compute([]float64{-1, 1, -1, 1}, nil)
	assert.Equal(t, 0.0, f.Mean)
	assert.Equal(t, 0.0, f.COV)
}

func TestCompute_IrregularityAndWaveformLength(t *testing.T) {
	f := Compute([]float64{0, 1, 0, 1}, nil)
	// d = [1, -1, 1]: mean 1/3, population std sqrt(8/9), mean |d| = 1.
	assert.InDelta(t, math.Sqrt(8.0/9.0), f.IrregularityFactor, tol)
	assert.InDelta(t, 3.0, f.WaveformLengthRatio, tol)
}

func TestCompute_DerivativeFeaturesDegrade(t *testing.T) {
	f := Compute([]float64{4}, []float64{10})
	assert.Equal(t, 0.0, f.MeanDeriv)
	assert.Equal(t, 0.0, f.StdDeriv)
	assert.Equal(t, 0.0, f.IrregularityFactor)
	assert.Equal(t, 0.0, f.WaveformLengthRatio)
}

func TestCompute_TKEO(t *testing.T) {
	assert.Equal(t, 0.0, Compute([]float64{1, 2}, nil).TKEO, "n < 3")
	// Interior points: 2^2-1*3 = 1, 3^2-2*4 = 1.
	assert.InDelta(t, 1.0, Compute([]float64{1, 2, 3, 4}, nil).TKEO, tol)
}

func TestCompute_EmptyWindowIsZero(t *testing.T) {
	assert.Equal(t, Features{}, Compute(nil, nil))
}

func TestCompute_WaveletFallbackForShortWindow(t *testing.T) {
	// Shorter than the 8-tap db4 filter: decomposition fails silently.
	f := Compute([]float64{1, 5, 2, 8, 3, 9, 4}, unitTimes(7))
	assert.Equal(t, 0.0, f.WaveletEnergy)
	assert.Equal(t, 0.0, f.WaveletVariance)
	assert.Equal(t, 0.0, f.WaveletStd)
	assert.Equal(t, 0.0, f.WaveletWL)
	assert.Equal(t, 0.0, f.WaveletEntropy)
	// Other features are still computed.
	assert.NotZero(t, f.Std)
}

func TestCompute_WaveletFeaturesForNoisyWindow(t *testing.T) {
	values := []float64{3, 9, 1, 7, 2, 8, 0, 6, 4, 10, 5, 1, 9, 2, 8, 3}
	f := Compute(values, unitTimes(len(values)))

	assert.Greater(t, f.WaveletEnergy, 0.0)
	assert.InDelta(t, math.Sqrt(f.WaveletVariance), f.WaveletStd, tol)
	assert.Greater(t, f.WaveletWL, 0.0)
	assert.Greater(t, f.WaveletEntropy, 0.0)
	// Entropy over 8 coefficients is bounded by log(8).
	assert.LessOrEqual(t, f.WaveletEntropy, math.Log(8)+tol)
}

func TestPowerSpectrum_PureTone(t *testing.T) {
	const n = 8
	values := make([]float64, n)
	for i := range values {
		values[i] = math.Cos(2 * math.Pi * 2 * float64(i) / n)
	}
	freqs, power := PowerSpectrum(values, 1)

	// Non-negative fftfreq bins for n=8 are 0, 1/8, 2/8, 3/8.
	require.Len(t, freqs, 4)
	assert.InDelta(t, 0.25, freqs[2], tol)
	assert.InDelta(t, 16.0, power[2], 1e-9)

	f := Compute(values, unitTimes(n))
	assert.InDelta(t, 0.25, f.PSMoment1, 1e-9)
	assert.InDelta(t, 0.0, f.PSMoment2, 1e-6)
}

func TestPowerSpectrum_ResolutionUsesSampleInterval(t *testing.T) {
	values := []float64{0, 1, 0, -1, 0, 1, 0, -1, 0}
	freqs, _ := PowerSpectrum(values, 0.5)
	require.Len(t, freqs, 5) // (9-1)/2+1
	assert.InDelta(t, 1.0/(9*0.5), freqs[1], tol)
}

func TestSpectralMoments_ZeroSignal(t *testing.T) {
	f := Compute(constant(10, 0), unitTimes(10))
	assert.Equal(t, 0.0, f.PSMoment1)
	assert.Equal(t, 0.0, f.PSMoment2)
}

func TestSampleInterval(t *testing.T) {
	assert.Equal(t, 1.0, SampleInterval(nil, 5))
	assert.Equal(t, 1.0, SampleInterval([]float64{3}, 1))
	assert.InDelta(t, 0.01, SampleInterval([]float64{0, 0.01, 0.02, 0.03}, 4), tol)
	assert.Equal(t, 1.0, SampleInterval([]float64{2, 2, 2}, 3), "zero spacing falls back to unit")
}
