// Package dispatch delivers stable decisions to the downstream consumer as
// short ASCII command tokens over a single persistent TCP connection.
//
// Connecting is the only operation allowed to block indefinitely: Connect
// retries with a fixed backoff until it succeeds or the context ends, and
// nothing is dispatched before that. Sends are best effort with a bounded
// deadline; a failed send is logged and the caller carries on.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/gesture.control/internal/monitoring"
	"github.com/banshee-data/gesture.control/internal/timeutil"
)

var logs = monitoring.NewStreams("[dispatch] ")

var (
	// ErrNotConnected is returned by Dispatch before Connect has succeeded
	// or after Close.
	ErrNotConnected = errors.New("command channel not connected")
	// ErrSendFailed wraps write errors and timeouts.
	ErrSendFailed = errors.New("command send failed")
)

const (
	DefaultAddress     = "127.0.0.1:9999"
	DefaultBackoff     = 2 * time.Second
	DefaultDialTimeout = 2 * time.Second
	DefaultSendTimeout = 250 * time.Millisecond
)

// Dialer opens the outbound connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures a Dispatcher. Zero values take the defaults above.
type Options struct {
	Address     string
	Backoff     time.Duration
	DialTimeout time.Duration
	SendTimeout time.Duration
	Dialer      Dialer
	Clock       timeutil.Clock
}

func (o Options) withDefaults() Options {
	if o.Address == "" {
		o.Address = DefaultAddress
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{}
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Stats counts dispatcher activity.
type Stats struct {
	Address         string `json:"address"`
	Connected       bool   `json:"connected"`
	ConnectAttempts int64  `json:"connect_attempts"`
	Sent            int64  `json:"sent"`
	Failed          int64  `json:"failed"`
	Unmapped        int64  `json:"unmapped"`
}

// Dispatcher owns the outbound command connection.
type Dispatcher struct {
	table Table
	opts  Options

	mu   sync.Mutex
	conn net.Conn

	attempts atomic.Int64
	sent     atomic.Int64
	failed   atomic.Int64
	unmapped atomic.Int64
}

// New creates a Dispatcher. It does not connect; call Connect.
func New(table Table, opts Options) *Dispatcher {
	return &Dispatcher{table: table, opts: opts.withDefaults()}
}

// Table returns the label→command table.
func (d *Dispatcher) Table() Table { return d.table }

// Address returns the endpoint commands are sent to.
func (d *Dispatcher) Address() string { return d.opts.Address }

// Connect dials the endpoint, retrying every Backoff until a connection is
// established or ctx is cancelled.
func (d *Dispatcher) Connect(ctx context.Context) error {
	for {
		attempt := d.attempts.Add(1)
		dialCtx, cancel := context.WithTimeout(ctx, d.opts.DialTimeout)
		conn, err := d.opts.Dialer.DialContext(dialCtx, "tcp", d.opts.Address)
		cancel()
		if err == nil {
			d.mu.Lock()
			if d.conn != nil {
				d.conn.Close()
			}
			d.conn = conn
			d.mu.Unlock()
			logs.Opsf("connected to %s after %d attempt(s)", d.opts.Address, attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logs.Diagf("connect attempt %d to %s failed: %v; retrying in %s", attempt, d.opts.Address, err, d.opts.Backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.opts.Clock.After(d.opts.Backoff):
		}
	}
}

// Connected reports whether a connection is held.
func (d *Dispatcher) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// Dispatch maps label to a command and sends it. An unmapped label sends
// nothing and returns CommandNone with a nil error. Send failures return an
// error wrapping ErrSendFailed; the connection is kept for the next attempt.
// The write deadline is SendTimeout, or ctx's deadline if that is sooner.
func (d *Dispatcher) Dispatch(ctx context.Context, label string) (Command, error) {
	cmd, ok := d.table.Lookup(label)
	if !ok {
		d.unmapped.Add(1)
		logs.Tracef("label %q has no command", label)
		return CommandNone, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		d.failed.Add(1)
		return cmd, ErrNotConnected
	}

	if err := ctx.Err(); err != nil {
		d.failed.Add(1)
		return cmd, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	payload := []byte(string(cmd) + "\n")
	// Socket deadlines are wall-clock; the injected Clock only paces retries.
	deadline := time.Now().Add(d.opts.SendTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := d.conn.SetWriteDeadline(deadline); err != nil {
		d.failed.Add(1)
		logs.Opsf("failed to set write deadline for %q: %v", cmd, err)
		return cmd, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	n, err := d.conn.Write(payload)
	if err == nil && n != len(payload) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(payload))
	}
	if err != nil {
		d.failed.Add(1)
		logs.Opsf("failed to send %q for label %q: %v", cmd, label, err)
		return cmd, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	d.sent.Add(1)
	logs.Diagf("sent %q for label %q", cmd, label)
	return cmd, nil
}

// Close closes the connection. It is safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Address:         d.opts.Address,
		Connected:       d.Connected(),
		ConnectAttempts: d.attempts.Load(),
		Sent:            d.sent.Load(),
		Failed:          d.failed.Load(),
		Unmapped:        d.unmapped.Load(),
	}
}
