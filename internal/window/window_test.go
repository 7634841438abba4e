package window

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(t *testing.T, b *Buffer, start, n int) {
	t.Helper()
	for i := start; i < start+n; i++ {
		require.NoError(t, b.Append(Sample{Timestamp: float64(i), Value: float64(i * 10)}))
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		overlap  float64
		wantErr  bool
	}{
		{"valid no overlap", 100, 0, false},
		{"valid half overlap", 100, 0.5, false},
		{"zero capacity", 0, 0, true},
		{"negative capacity", -5, 0, true},
		{"negative overlap", 10, -0.1, true},
		{"full overlap", 10, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.capacity, tt.overlap)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStride(t *testing.T) {
	assert.Equal(t, 200, Stride(200, 0))
	assert.Equal(t, 100, Stride(200, 0.5))
	assert.Equal(t, 7, Stride(10, 0.25)) // floor(7.5)
	assert.Equal(t, 1, Stride(10, 0.99))
	assert.Equal(t, 1, Stride(1, 0))
}

func TestBuffer_ReadyAfterCapacity_FullFlush(t *testing.T) {
	const n = 8
	b, err := New(n, 0)
	require.NoError(t, err)

	fill(t, b, 0, n-1)
	assert.False(t, b.Ready())
	fill(t, b, n-1, 1)
	assert.True(t, b.Ready())
	assert.Equal(t, n, b.Len())

	b.Slide()
	assert.Equal(t, 0, b.Len())
	assert.False(t, b.Ready())

	fill(t, b, n, n-1)
	assert.False(t, b.Ready(), "needs N fresh samples after a full flush")
	fill(t, b, 2*n-1, 1)
	assert.True(t, b.Ready())
}

func TestBuffer_AppendWhenReady(t *testing.T) {
	b, err := New(3, 0)
	require.NoError(t, err)
	fill(t, b, 0, 3)
	assert.ErrorIs(t, b.Append(Sample{}), ErrWindowFull)
	assert.Equal(t, 3, b.Len(), "window never exceeds capacity")
}

func TestBuffer_SlideWithOverlap(t *testing.T) {
	b, err := New(10, 0.5)
	require.NoError(t, err)
	fill(t, b, 0, 10)

	b.Slide()
	require.Equal(t, 5, b.Len())

	want := []Sample{
		{Timestamp: 5, Value: 50},
		{Timestamp: 6, Value: 60},
		{Timestamp: 7, Value: 70},
		{Timestamp: 8, Value: 80},
		{Timestamp: 9, Value: 90},
	}
	if diff := cmp.Diff(want, b.Window()); diff != "" {
		t.Errorf("remaining samples mismatch (-want +got):\n%s", diff)
	}

	fill(t, b, 10, 5)
	assert.True(t, b.Ready())
}

func TestBuffer_ValuesAndTimestamps(t *testing.T) {
	b, err := New(3, 0)
	require.NoError(t, err)
	fill(t, b, 1, 3)

	assert.Equal(t, []float64{10, 20, 30}, b.Values())
	assert.Equal(t, []float64{1, 2, 3}, b.Timestamps())

	// Returned slices are copies.
	v := b.Values()
	v[0] = -1
	assert.Equal(t, 10.0, b.Values()[0])
}

func TestBuffer_Reset(t *testing.T) {
	b, err := New(4, 0.25)
	require.NoError(t, err)
	fill(t, b, 0, 3)
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 4, b.Capacity())
	assert.Equal(t, 3, b.Stride())
}
