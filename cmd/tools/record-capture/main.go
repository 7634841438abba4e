// Package main records labelled training captures from the sensor board.
// Samples are buffered for the whole duration and the file is written only
// if none exceeded the safety cutoff.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/gesture.control/internal/capture"
	"github.com/banshee-data/gesture.control/internal/security"
	"github.com/banshee-data/gesture.control/internal/serialmux"
	"github.com/banshee-data/gesture.control/internal/timeutil"
)

// Source is the slice of the serial mux the recorder needs.
type Source interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
	Monitor(context.Context) error
}

func main() {
	port := flag.String("port", "/dev/ttyUSB0", "Serial port of the sensor board")
	baud := flag.Int("baud", 9600, "Baud rate")
	label := flag.String("label", "", "Label for the movement being recorded (required)")
	duration := flag.Duration("duration", 30*time.Second, "Recording duration")
	outDir := flag.String("out", ".", "Directory for the capture file")
	cutoff := flag.Float64("cutoff", capture.DefaultCutoff, "Discard the recording if any sample exceeds this value")
	flag.Parse()

	if err := security.ValidateLabel(*label); err != nil {
		log.Fatalf("--label: %v", err)
	}

	mux, err := serialmux.NewRealSerialMux(*port, serialmux.PortOptions{BaudRate: *baud})
	if err != nil {
		log.Fatalf("failed to open %s: %v", *port, err)
	}
	defer mux.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}
	session := capture.NewSession(*outDir, *label, clock.Now(), *cutoff)
	log.Printf("recording %q for %s from %s", *label, *duration, *port)

	if err := Record(ctx, mux, session, clock, *duration); err != nil {
		log.Fatalf("recording failed: %v", err)
	}

	path, err := session.Save()
	if errors.Is(err, capture.ErrExceedsCutoff) {
		log.Printf("recording discarded: %v", err)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("failed to save recording: %v", err)
	}
	log.Printf("saved %d samples to %s", session.Len(), path)
}

// Record feeds parsed samples from src into session until duration has
// elapsed, ctx is cancelled, or the source ends. Unparseable lines are
// skipped.
func Record(ctx context.Context, src Source, session *capture.Session, clock timeutil.Clock, duration time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id, lines := src.Subscribe()
	defer src.Unsubscribe(id)

	monitorErr := make(chan error, 1)
	go func() { monitorErr <- src.Monitor(ctx) }()

	deadline := clock.After(duration)
	for {
		select {
		case <-deadline:
			return nil
		case <-ctx.Done():
			return nil
		case err := <-monitorErr:
			// the port closed early; keep what was read
			drain(lines, session, clock)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			add(line, session, clock)
		}
	}
}

func add(line string, session *capture.Session, clock timeutil.Clock) {
	if v, ok := serialmux.ParseSample(line); ok {
		session.Add(timeutil.Seconds(clock.Now()), v)
	}
}

// drain consumes lines already buffered in the subscription.
func drain(lines chan string, session *capture.Session, clock timeutil.Clock) {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			add(line, session, clock)
		default:
			return
		}
	}
}
