package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/gesture.control/internal/security"
)

// Session accumulates one live recording in memory and writes it only if
// no sample crossed the safety cutoff.
type Session struct {
	dir     string
	cutoff  float64
	capture Capture
	tripped bool
	peak    float64
}

// NewSession starts a recording for label at start. A cutoff <= 0 selects
// DefaultCutoff.
func NewSession(dir, label string, start time.Time, cutoff float64) *Session {
	if cutoff <= 0 {
		cutoff = DefaultCutoff
	}
	return &Session{
		dir:    dir,
		cutoff: cutoff,
		capture: Capture{
			Name:       Name{Label: label, Timestamp: start.Unix()},
			Timestamps: []float64{},
		},
	}
}

// Add appends a sample. Once a sample exceeds the cutoff the session is
// tripped and will refuse to save.
func (s *Session) Add(ts, v float64) {
	if v > s.cutoff && !s.tripped {
		s.tripped = true
		s.peak = v
		logs.Opsf("sample %.1f exceeds cutoff %.1f; %s recording will be discarded", v, s.cutoff, s.capture.Label)
	}
	s.capture.Timestamps = append(s.capture.Timestamps, ts)
	s.capture.Values = append(s.capture.Values, v)
}

// Len returns the number of samples recorded so far.
func (s *Session) Len() int { return s.capture.Len() }

// Tripped reports whether the cutoff has been exceeded.
func (s *Session) Tripped() bool { return s.tripped }

// Path returns where Save writes the recording.
func (s *Session) Path() string {
	return filepath.Join(s.dir, s.capture.Filename())
}

// Save writes the recording to Path. A tripped session writes nothing and
// returns ErrExceedsCutoff. The label must be usable as a file name.
func (s *Session) Save() (string, error) {
	if s.tripped {
		return "", fmt.Errorf("%w: peak %.1f > %.1f", ErrExceedsCutoff, s.peak, s.cutoff)
	}
	if err := security.ValidateLabel(s.capture.Label); err != nil {
		return "", err
	}
	path := s.Path()
	if err := security.ValidatePathWithinDirectory(path, s.dir); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := Write(f, &s.capture); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	logs.Diagf("saved %d samples to %s", s.capture.Len(), path)
	return path, nil
}
