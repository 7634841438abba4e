package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/banshee-data/gesture.control/internal/capture"
	"github.com/banshee-data/gesture.control/internal/config"
	"github.com/banshee-data/gesture.control/internal/features"
	"github.com/banshee-data/gesture.control/internal/monitoring"
	"github.com/banshee-data/gesture.control/internal/pipeline"
)

// logWriters routes ops and diag to w; trace only when debug is set.
func logWriters(debug bool, w io.Writer) monitoring.LogWriters {
	lw := monitoring.LogWriters{Ops: w, Diag: w}
	if debug {
		lw.Trace = w
	}
	return lw
}

func validateFlags(dev bool, replay string) error {
	if dev && replay == "" {
		return errors.New("--dev requires --replay <capture.csv>")
	}
	if !dev && replay != "" {
		return errors.New("--replay is only used with --dev")
	}
	return nil
}

// loadConfig reads path (or the built-in defaults when empty) and applies
// the command-line overrides.
func loadConfig(path, portOverride, addrOverride string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if portOverride != "" {
		serial := cfg.GetSerial()
		serial.Port = portOverride
		cfg.Serial = &serial
	}
	if addrOverride != "" {
		cfg.CommandAddr = &addrOverride
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// replayLines renders capture values the way the sensor board prints them.
func replayLines(c *capture.Capture) []string {
	lines := make([]string, len(c.Values))
	for i, v := range c.Values {
		lines[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return lines
}

// samplePeriod returns override when positive, otherwise the mean spacing
// of the capture's timestamps (1ms when it has none).
func samplePeriod(c *capture.Capture, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if len(c.Timestamps) != c.Len() || c.Len() < 2 {
		return time.Millisecond
	}
	dt := features.SampleInterval(c.Timestamps, c.Len())
	return time.Duration(dt * float64(time.Second))
}

// stopReason classifies how Run ended. failed is true when the process
// should exit non-zero. A replay running out of samples is a normal end.
func stopReason(ctx context.Context, err error, dev bool) (reason string, failed bool) {
	switch {
	case err == nil && ctx.Err() != nil:
		return "signal", false
	case err == nil:
		return "stopped", false
	case dev && errors.Is(err, pipeline.ErrSourceLost) && errors.Is(err, io.EOF):
		return "replay finished", false
	case errors.Is(err, pipeline.ErrSourceLost):
		return "source lost", true
	default:
		return fmt.Sprintf("error: %v", err), true
	}
}
