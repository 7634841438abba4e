package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gesture.control/internal/capture"
	"github.com/banshee-data/gesture.control/internal/serialmux"
	"github.com/banshee-data/gesture.control/internal/timeutil"
)

func TestRecord_UntilEOF(t *testing.T) {
	mux := serialmux.NewMockSerialMux([]string{"100", "noise", "120", "", "130"}, 0)
	defer mux.Close()

	dir := t.TempDir()
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	session := capture.NewSession(dir, "clench", clock.Now(), 0)

	require.NoError(t, Record(context.Background(), mux, session, clock, time.Hour))
	assert.Equal(t, 3, session.Len())

	path, err := session.Save()
	require.NoError(t, err)
	c, err := capture.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 120, 130}, c.Values)
	assert.Equal(t, "clench", c.Label)
}

func TestRecord_Deadline(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	port.BlockReads = true
	mux := serialmux.NewSerialMux(port)
	defer mux.Close()

	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	session := capture.NewSession(t.TempDir(), "rest", clock.Now(), 0)

	done := make(chan error, 1)
	go func() { done <- Record(context.Background(), mux, session, clock, 30*time.Second) }()

	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, time.Second, time.Millisecond)
	clock.Advance(30 * time.Second)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Record did not stop at the deadline")
	}
}

func TestRecord_CutoffDiscards(t *testing.T) {
	mux := serialmux.NewMockSerialMux([]string{"100", "901", "100"}, 0)
	defer mux.Close()

	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	session := capture.NewSession(t.TempDir(), "wrist", clock.Now(), 0)
	require.NoError(t, Record(context.Background(), mux, session, clock, time.Hour))

	_, err := session.Save()
	assert.True(t, errors.Is(err, capture.ErrExceedsCutoff))
}
