// Package monitoring owns the three diagnostic log streams shared by the
// pipeline packages.
//
//   - ops: actionable warnings, errors and lifecycle events
//   - diag: day-to-day diagnostics (connect attempts, decisions)
//   - trace: high-frequency per-sample and per-window telemetry
//
// Each package holds a Streams value carrying its own prefix; the writers
// behind every stream are configured once from main via SetLogWriters.
package monitoring

import (
	"io"
	"log"
	"os"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream. A nil writer
// disables that stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu      sync.RWMutex
	writers = LogWriters{Ops: os.Stderr, Diag: os.Stderr}
)

// SetLogWriters configures all three logging streams at once.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	writers = w
}

// CurrentWriters returns the active stream writers.
func CurrentWriters() LogWriters {
	mu.RLock()
	defer mu.RUnlock()
	return writers
}

// Streams is a prefixed handle on the shared log streams.
type Streams struct {
	prefix string
}

// NewStreams returns log streams tagged with prefix, e.g. "[dispatch] ".
func NewStreams(prefix string) Streams {
	return Streams{prefix: prefix}
}

func (s Streams) printf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		return
	}
	log.New(w, s.prefix, log.LstdFlags|log.Lmicroseconds).Printf(format, args...)
}

// Opsf logs to the ops stream.
func (s Streams) Opsf(format string, args ...interface{}) {
	s.printf(CurrentWriters().Ops, format, args...)
}

// Diagf logs to the diag stream.
func (s Streams) Diagf(format string, args ...interface{}) {
	s.printf(CurrentWriters().Diag, format, args...)
}

// Tracef logs to the trace stream.
func (s Streams) Tracef(format string, args ...interface{}) {
	s.printf(CurrentWriters().Trace, format, args...)
}
