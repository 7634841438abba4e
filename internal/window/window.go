// Package window buffers timestamped sensor samples into fixed-size analysis
// windows that advance by a configurable stride.
package window

import (
	"errors"
	"fmt"
	"math"
)

// ErrWindowFull is returned by Append when the window is ready and has not
// been slid since.
var ErrWindowFull = errors.New("window full: extract features and slide before appending")

// Sample is a single scalar sensor reading.
type Sample struct {
	Timestamp float64 `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Buffer is a fixed-capacity FIFO of samples. It is not safe for concurrent
// use; the pipeline's processing stage owns it exclusively.
type Buffer struct {
	capacity int
	stride   int
	samples  []Sample
}

// Stride returns the number of samples a window of the given capacity
// advances after each extraction: floor(capacity*(1-overlap)), at least 1.
func Stride(capacity int, overlap float64) int {
	s := int(math.Floor(float64(capacity) * (1 - overlap)))
	if s < 1 {
		s = 1
	}
	if s > capacity {
		s = capacity
	}
	return s
}

// New creates a buffer holding capacity samples. overlap is the fraction of
// each window retained for the next one and must be in [0, 1).
func New(capacity int, overlap float64) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("window capacity must be positive, got %d", capacity)
	}
	if overlap < 0 || overlap >= 1 || math.IsNaN(overlap) {
		return nil, fmt.Errorf("overlap fraction must be in [0, 1), got %v", overlap)
	}
	return &Buffer{
		capacity: capacity,
		stride:   Stride(capacity, overlap),
		samples:  make([]Sample, 0, capacity),
	}, nil
}

// Append inserts s at the tail.
func (b *Buffer) Append(s Sample) error {
	if b.Ready() {
		return ErrWindowFull
	}
	b.samples = append(b.samples, s)
	return nil
}

// Ready reports whether the buffer holds exactly capacity samples.
func (b *Buffer) Ready() bool { return len(b.samples) == b.capacity }

// Len returns the number of buffered samples.
func (b *Buffer) Len() int { return len(b.samples) }

// Capacity returns the window size.
func (b *Buffer) Capacity() int { return b.capacity }

// Stride returns how many samples Slide discards.
func (b *Buffer) Stride() int { return b.stride }

// Window returns a copy of the buffered samples in arrival order.
func (b *Buffer) Window() []Sample {
	out := make([]Sample, len(b.samples))
	copy(out, b.samples)
	return out
}

// Values returns the sample values in arrival order.
func (b *Buffer) Values() []float64 {
	out := make([]float64, len(b.samples))
	for i, s := range b.samples {
		out[i] = s.Value
	}
	return out
}

// Timestamps returns the sample timestamps in arrival order.
func (b *Buffer) Timestamps() []float64 {
	out := make([]float64, len(b.samples))
	for i, s := range b.samples {
		out[i] = s.Timestamp
	}
	return out
}

// Slide discards the oldest stride samples; the remainder seeds the next
// window.
func (b *Buffer) Slide() {
	n := b.stride
	if n > len(b.samples) {
		n = len(b.samples)
	}
	kept := copy(b.samples, b.samples[n:])
	b.samples = b.samples[:kept]
}

// Reset drops every buffered sample.
func (b *Buffer) Reset() {
	b.samples = b.samples[:0]
}
