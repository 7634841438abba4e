package serialmux

import "testing"

func TestParseSample(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"512", 512, true},
		{"  498.25\r", 498.25, true},
		{"-3.5", -3.5, true},
		{"1e3", 1000, true},
		{"", 0, false},
		{"   ", 0, false},
		{"EMG ready", 0, false},
		{"51", 51, true},
		{"5 12", 0, false},
		{"NaN", 0, false},
		{"+Inf", 0, false},
		{"0x1F", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseSample(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseSample(%q) = (%v, %v), want (%v, %v)", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}
