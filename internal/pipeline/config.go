package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/gesture.control/internal/features"
)

// ErrInvalidConfig is wrapped by every Config validation failure.
var ErrInvalidConfig = errors.New("invalid pipeline config")

// QueuePolicy decides which sample is lost when the ingest queue is full.
type QueuePolicy string

const (
	// DropOldest evicts the oldest queued sample so the newest data wins.
	DropOldest QueuePolicy = "drop-oldest"
	// DropNewest discards the incoming sample.
	DropNewest QueuePolicy = "drop-newest"
)

// Config holds the tunables of a Pipeline.
type Config struct {
	WindowSize          int
	Overlap             float64
	FeatureSet          features.Set
	ConfidenceThreshold float64
	Cooldown            time.Duration
	QueueSize           int
	QueuePolicy         QueuePolicy
}

// DefaultConfig returns the settings the stock model was trained with.
func DefaultConfig() Config {
	return Config{
		WindowSize:          200,
		Overlap:             0,
		FeatureSet:          features.SetFull,
		ConfidenceThreshold: 0.7,
		Cooldown:            500 * time.Millisecond,
		QueueSize:           4096,
		QueuePolicy:         DropOldest,
	}
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("%w: window size must be at least 1, got %d", ErrInvalidConfig, c.WindowSize)
	}
	if !(c.Overlap >= 0 && c.Overlap < 1) {
		return fmt.Errorf("%w: overlap must be in [0, 1), got %v", ErrInvalidConfig, c.Overlap)
	}
	if _, err := features.ParseSet(string(c.FeatureSet)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !(c.ConfidenceThreshold > 0 && c.ConfidenceThreshold < 1) {
		return fmt.Errorf("%w: confidence threshold must be in (0, 1), got %v", ErrInvalidConfig, c.ConfidenceThreshold)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown must not be negative, got %s", ErrInvalidConfig, c.Cooldown)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue size must be at least 1, got %d", ErrInvalidConfig, c.QueueSize)
	}
	switch c.QueuePolicy {
	case DropOldest, DropNewest:
	default:
		return fmt.Errorf("%w: unknown queue policy %q", ErrInvalidConfig, c.QueuePolicy)
	}
	return nil
}
