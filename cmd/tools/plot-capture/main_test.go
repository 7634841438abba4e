package main

import (
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/gesture.control/internal/capture"
)

func TestPlot(t *testing.T) {
	c := &capture.Capture{
		Name:       capture.Name{Label: "clench", Timestamp: 1700000000},
		Timestamps: []float64{1700000000.0, 1700000000.5, 1700000001.0},
		Values:     []float64{100, 300, 150},
	}
	p, err := Plot(c, capture.DefaultCutoff)
	if err != nil {
		t.Fatalf("Plot: %v", err)
	}
	if p.X.Label.Text != "Time (s)" {
		t.Errorf("x label = %q", p.X.Label.Text)
	}
	if p.Y.Max < capture.DefaultCutoff {
		t.Errorf("y range %v..%v should include the cutoff", p.Y.Min, p.Y.Max)
	}

	out := filepath.Join(t.TempDir(), "clench.png")
	if err := p.Save(4*vg.Inch, 3*vg.Inch, out); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		t.Errorf("expected a non-empty png, got %v %v", info, err)
	}
}

func TestPlot_NoTimestampsNoCutoff(t *testing.T) {
	c := &capture.Capture{Values: []float64{1, 2, 3}}
	p, err := Plot(c, 0)
	if err != nil {
		t.Fatalf("Plot: %v", err)
	}
	if p.X.Label.Text != "Sample" {
		t.Errorf("x label = %q", p.X.Label.Text)
	}
	if p.Y.Max > 3 {
		t.Errorf("y max = %v, cutoff should not be drawn", p.Y.Max)
	}
}

func TestPlot_Empty(t *testing.T) {
	if _, err := Plot(&capture.Capture{}, 0); err == nil {
		t.Error("expected error for empty capture")
	}
}
