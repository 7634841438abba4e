// Package classifier wraps a pretrained feed-forward network exported by the
// training side and turns feature vectors into label probabilities.
//
// The artifact is a JSON document:
//
//	{
//	  "labels": ["clench", "index", "rest", "wrist"],
//	  "feature_set": "full",
//	  "input_dim": 20,
//	  "scaler": {"mean": [...], "scale": [...]},
//	  "layers": [
//	    {"weights": [[...], ...], "bias": [...], "activation": "relu"},
//	    {"weights": [[...], ...], "bias": [...], "activation": "softmax"}
//	  ]
//	}
//
// weights are stored input-major (in x out), matching a Keras Dense kernel.
// Once loaded a Classifier is immutable and safe for concurrent use.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrDimensionMismatch reports a feature vector width that does not match the
// model input.
var ErrDimensionMismatch = errors.New("feature dimension mismatch")

// maxArtifactSize guards against loading something that is clearly not a
// model export.
const maxArtifactSize = 64 * 1024 * 1024

// Activation names supported in the artifact.
const (
	ActivationLinear  = "linear"
	ActivationReLU    = "relu"
	ActivationTanh    = "tanh"
	ActivationSigmoid = "sigmoid"
	ActivationSoftmax = "softmax"
)

// Model is the serialised form of the network.
type Model struct {
	Labels     []string `json:"labels"`
	FeatureSet string   `json:"feature_set,omitempty"`
	InputDim   int      `json:"input_dim"`
	Scaler     *Scaler  `json:"scaler,omitempty"`
	Layers     []Layer  `json:"layers"`
}

// Scaler standardises inputs as (x - mean) / scale before the first layer.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Layer is a dense layer: out = activation(x·W + b).
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

type denseLayer struct {
	w          *mat.Dense
	b          *mat.VecDense
	activation string
}

// Classifier evaluates a loaded Model.
type Classifier struct {
	labels     []string
	featureSet string
	inputDim   int
	mean       []float64
	scale      []float64
	layers     []denseLayer
}

// Prediction is the decoded output for one feature vector.
type Prediction struct {
	Label         int       `json:"label"`
	Name          string    `json:"name"`
	Probabilities []float64 `json:"probabilities"`
	Confidence    float64   `json:"confidence"`
}

// Load reads the artifact at path and checks that it accepts vectors of
// expectedDim features. Any failure here is a fatal startup error.
func Load(path string, expectedDim int) (*Classifier, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("classifier artifact %q: %w", path, err)
	}
	if info.Size() > maxArtifactSize {
		return nil, fmt.Errorf("classifier artifact %q too large: %d bytes (max %d)", path, info.Size(), maxArtifactSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier artifact %q: %w", path, err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse classifier artifact %q: %w", path, err)
	}
	c, err := New(m)
	if err != nil {
		return nil, fmt.Errorf("invalid classifier artifact %q: %w", path, err)
	}
	if c.inputDim != expectedDim {
		return nil, fmt.Errorf("classifier artifact %q: expected input dimension %d, model wants %d: %w",
			path, expectedDim, c.inputDim, ErrDimensionMismatch)
	}
	return c, nil
}

// New validates m and builds a Classifier from it.
func New(m Model) (*Classifier, error) {
	if len(m.Labels) == 0 {
		return nil, errors.New("model has no labels")
	}
	if len(m.Layers) == 0 {
		return nil, errors.New("model has no layers")
	}
	if m.InputDim <= 0 {
		return nil, fmt.Errorf("input_dim must be positive, got %d", m.InputDim)
	}

	c := &Classifier{
		labels:     append([]string(nil), m.Labels...),
		featureSet: m.FeatureSet,
		inputDim:   m.InputDim,
	}

	if m.Scaler != nil {
		if len(m.Scaler.Mean) != m.InputDim || len(m.Scaler.Scale) != m.InputDim {
			return nil, fmt.Errorf("scaler has %d means and %d scales, want %d", len(m.Scaler.Mean), len(m.Scaler.Scale), m.InputDim)
		}
		c.mean = append([]float64(nil), m.Scaler.Mean...)
		c.scale = make([]float64, m.InputDim)
		for i, s := range m.Scaler.Scale {
			if s == 0 {
				s = 1
			}
			c.scale[i] = s
		}
	}

	in := m.InputDim
	for li, l := range m.Layers {
		if len(l.Weights) != in {
			return nil, fmt.Errorf("layer %d has %d weight rows, want %d", li, len(l.Weights), in)
		}
		out := len(l.Bias)
		if out == 0 {
			return nil, fmt.Errorf("layer %d has no bias/units", li)
		}
		flat := make([]float64, 0, in*out)
		for r, row := range l.Weights {
			if len(row) != out {
				return nil, fmt.Errorf("layer %d row %d has %d weights, want %d", li, r, len(row), out)
			}
			flat = append(flat, row...)
		}
		act := l.Activation
		if act == "" {
			act = ActivationLinear
		}
		switch act {
		case ActivationLinear, ActivationReLU, ActivationTanh, ActivationSigmoid, ActivationSoftmax:
		default:
			return nil, fmt.Errorf("layer %d has unsupported activation %q", li, l.Activation)
		}
		c.layers = append(c.layers, denseLayer{
			w:          mat.NewDense(in, out, flat),
			b:          mat.NewVecDense(out, append([]float64(nil), l.Bias...)),
			activation: act,
		})
		in = out
	}
	if in != len(m.Labels) {
		return nil, fmt.Errorf("model outputs %d classes but has %d labels", in, len(m.Labels))
	}
	return c, nil
}

// Labels returns the class names in output order.
func (c *Classifier) Labels() []string { return append([]string(nil), c.labels...) }

// Dimension returns the expected feature vector length D.
func (c *Classifier) Dimension() int { return c.inputDim }

// NumClasses returns K.
func (c *Classifier) NumClasses() int { return len(c.labels) }

// FeatureSet returns the feature set name recorded in the artifact, if any.
func (c *Classifier) FeatureSet() string { return c.featureSet }

// Predict returns the class probability distribution for fv. The output
// always sums to 1: a final layer that is not softmax is normalised with one.
// fv must have Dimension() entries; the width is checked once at startup, so
// a mismatch here is a programming error and panics.
func (c *Classifier) Predict(fv []float64) []float64 {
	if len(fv) != c.inputDim {
		panic(fmt.Sprintf("classifier: %v: got %d features, want %d", ErrDimensionMismatch, len(fv), c.inputDim))
	}
	x := make([]float64, len(fv))
	copy(x, fv)
	if c.mean != nil {
		for i := range x {
			x[i] = (x[i] - c.mean[i]) / c.scale[i]
		}
	}

	v := mat.NewVecDense(len(x), x)
	last := ActivationLinear
	for _, l := range c.layers {
		_, out := l.w.Dims()
		y := mat.NewVecDense(out, nil)
		y.MulVec(l.w.T(), v)
		y.AddVec(y, l.b)
		activate(y.RawVector().Data, l.activation)
		v = y
		last = l.activation
	}

	probs := make([]float64, v.Len())
	copy(probs, v.RawVector().Data)
	if last != ActivationSoftmax {
		softmax(probs)
	}
	return probs
}

// Classify predicts and decodes in one step.
func (c *Classifier) Classify(fv []float64) Prediction {
	return c.Decode(c.Predict(fv))
}

// Decode picks the most probable label. Ties go to the lowest index.
func (c *Classifier) Decode(probs []float64) Prediction {
	p := Decode(probs)
	if p.Label >= 0 && p.Label < len(c.labels) {
		p.Name = c.labels[p.Label]
	}
	return p
}

// Decode returns the argmax of probs (lowest index on ties) with its
// probability as confidence. An empty distribution decodes to label -1.
func Decode(probs []float64) Prediction {
	p := Prediction{Label: -1, Probabilities: append([]float64(nil), probs...)}
	for i, v := range probs {
		if p.Label < 0 || v > p.Confidence {
			p.Label = i
			p.Confidence = v
		}
	}
	return p
}

func activate(x []float64, activation string) {
	switch activation {
	case ActivationReLU:
		for i, v := range x {
			if v < 0 {
				x[i] = 0
			}
		}
	case ActivationTanh:
		for i, v := range x {
			x[i] = math.Tanh(v)
		}
	case ActivationSigmoid:
		for i, v := range x {
			x[i] = 1 / (1 + math.Exp(-v))
		}
	case ActivationSoftmax:
		softmax(x)
	}
}

// softmax normalises x in place, shifting by the max for stability.
func softmax(x []float64) {
	if len(x) == 0 {
		return
	}
	m := floats.Max(x)
	for i, v := range x {
		x[i] = math.Exp(v - m)
	}
	floats.Scale(1/floats.Sum(x), x)
}
