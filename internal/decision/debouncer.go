// Package decision turns a stream of raw predictions into a stream of stable
// decisions using a confidence threshold and a per-label cooldown.
package decision

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/gesture.control/internal/classifier"
)

// Decision is a prediction that passed the debouncer.
type Decision struct {
	Label      int     `json:"label"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Time       float64 `json:"time"`
}

// State is a snapshot of the debouncer's memory.
type State struct {
	HasLast      bool    `json:"has_last"`
	LastLabel    int     `json:"last_label"`
	LastName     string  `json:"last_name"`
	LastEmitTime float64 `json:"last_emit_time"`
}

// MarshalJSON omits last_emit_time until something has been emitted, since
// the initial -Inf has no JSON encoding.
func (s State) MarshalJSON() ([]byte, error) {
	type view struct {
		HasLast      bool     `json:"has_last"`
		LastLabel    int      `json:"last_label"`
		LastName     string   `json:"last_name"`
		LastEmitTime *float64 `json:"last_emit_time,omitempty"`
	}
	v := view{HasLast: s.HasLast, LastLabel: s.LastLabel, LastName: s.LastName}
	if s.HasLast && !math.IsInf(s.LastEmitTime, 0) && !math.IsNaN(s.LastEmitTime) {
		t := s.LastEmitTime
		v.LastEmitTime = &t
	}
	return json.Marshal(v)
}

// Debouncer emits a prediction only when its confidence is strictly above
// the threshold and either the cooldown has elapsed since the last emission
// or the label differs from the last emitted one.
type Debouncer struct {
	threshold float64
	cooldown  float64

	mu    sync.Mutex
	state State
}

// New creates a Debouncer. threshold must be in (0, 1) and cooldown (in
// seconds) must be non-negative.
func New(threshold, cooldown float64) (*Debouncer, error) {
	if !(threshold > 0 && threshold < 1) {
		return nil, fmt.Errorf("confidence threshold must be in (0, 1), got %v", threshold)
	}
	if !(cooldown >= 0) || math.IsInf(cooldown, 1) {
		return nil, fmt.Errorf("cooldown must be a finite non-negative number of seconds, got %v", cooldown)
	}
	return &Debouncer{
		threshold: threshold,
		cooldown:  cooldown,
		state:     State{LastLabel: -1, LastEmitTime: math.Inf(-1)},
	}, nil
}

// Threshold returns the confidence threshold.
func (d *Debouncer) Threshold() float64 { return d.threshold }

// Cooldown returns the cooldown in seconds.
func (d *Debouncer) Cooldown() float64 { return d.cooldown }

// Evaluate applies the debounce rule to p observed at time now (seconds).
// The state update is atomic with respect to the evaluation.
func (d *Debouncer) Evaluate(p classifier.Prediction, now float64) (Decision, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !(p.Confidence > d.threshold) {
		return Decision{}, false
	}
	changed := !d.state.HasLast || p.Label != d.state.LastLabel
	if !changed && !(now-d.state.LastEmitTime > d.cooldown) {
		return Decision{}, false
	}

	d.state = State{
		HasLast:      true,
		LastLabel:    p.Label,
		LastName:     p.Name,
		LastEmitTime: now,
	}
	return Decision{Label: p.Label, Name: p.Name, Confidence: p.Confidence, Time: now}, true
}

// State returns a copy of the current state.
func (d *Debouncer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
