// Package pipeline wires a sensor line source through windowing, feature
// extraction, classification and debouncing to the command dispatcher.
//
// A producer goroutine parses and timestamps lines and hands samples to a
// bounded queue; a single consumer goroutine owns the window buffer and the
// debouncer, so neither needs locking on the hot path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/gesture.control/internal/classifier"
	"github.com/banshee-data/gesture.control/internal/decision"
	"github.com/banshee-data/gesture.control/internal/dispatch"
	"github.com/banshee-data/gesture.control/internal/features"
	"github.com/banshee-data/gesture.control/internal/monitoring"
	"github.com/banshee-data/gesture.control/internal/serialmux"
	"github.com/banshee-data/gesture.control/internal/timeutil"
	"github.com/banshee-data/gesture.control/internal/window"
)

var logs = monitoring.NewStreams("[pipeline] ")

// ErrSourceLost is returned by Run when the sensor stream ends or fails.
var ErrSourceLost = errors.New("sensor source lost")

var errSubscriptionClosed = errors.New("subscription closed")

// Source is a stream of raw sensor lines. serialmux.SerialMux satisfies it.
type Source interface {
	Subscribe() (string, chan string)
	Unsubscribe(id string)
	Monitor(ctx context.Context) error
}

// Classifier maps a feature vector to a prediction.
type Classifier interface {
	Dimension() int
	Classify(fv []float64) classifier.Prediction
}

// Dispatcher delivers decisions downstream.
type Dispatcher interface {
	Connect(ctx context.Context) error
	Dispatch(ctx context.Context, label string) (dispatch.Command, error)
	Close() error
}

// Event describes one classified window.
type Event struct {
	Time       float64               `json:"time"`
	Prediction classifier.Prediction `json:"prediction"`
	Emitted    bool                  `json:"emitted"`
	Command    dispatch.Command      `json:"command,omitempty"`
	SendError  string                `json:"send_error,omitempty"`
}

// Recorder persists pipeline events. Record is called from the consumer
// goroutine; a slow recorder slows classification.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Snapshot is the most recent window with its features and prediction.
type Snapshot struct {
	Time       float64               `json:"time"`
	Samples    []window.Sample       `json:"samples"`
	Features   features.Features     `json:"features"`
	Prediction classifier.Prediction `json:"prediction"`
}

// Stats counts pipeline activity.
type Stats struct {
	State          string `json:"state"`
	Samples        int64  `json:"samples"`
	Malformed      int64  `json:"malformed"`
	Dropped        int64  `json:"dropped"`
	Windows        int64  `json:"windows"`
	Decisions      int64  `json:"decisions"`
	Dispatched     int64  `json:"dispatched"`
	FailedSends    int64  `json:"failed_sends"`
	RecorderErrors int64  `json:"recorder_errors"`
	// SourceDropped counts lines the source discarded before they reached
	// the ingest queue because this pipeline's subscription was full.
	SourceDropped  int64  `json:"source_dropped"`
}

// sourceStats is implemented by sources that count their own drops, such
// as the serial mux.
type sourceStats interface {
	Stats() serialmux.Stats
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used to timestamp samples.
func WithClock(c timeutil.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithRecorder attaches a Recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithStateListener registers fn to be called on every state change.
func WithStateListener(fn func(State)) Option {
	return func(p *Pipeline) { p.listeners = append(p.listeners, fn) }
}

// Pipeline is a single-use streaming classifier. Create it with New and
// call Run once.
type Pipeline struct {
	cfg        Config
	classifier Classifier
	dispatcher Dispatcher
	clock      timeutil.Clock
	recorder   Recorder
	listeners  []func(State)

	buffer    *window.Buffer
	debouncer *decision.Debouncer

	state atomic.Int32

	samples        atomic.Int64
	malformed      atomic.Int64
	dropped        atomic.Int64
	windows        atomic.Int64
	decisions      atomic.Int64
	dispatched     atomic.Int64
	failedSends    atomic.Int64
	recorderErrors atomic.Int64

	snapMu   sync.RWMutex
	snapshot *Snapshot

	source atomic.Pointer[sourceStats]
}

// New validates cfg and checks that the classifier accepts vectors of the
// configured feature set. A dimension mismatch is fatal.
func New(cfg Config, c Classifier, d Dispatcher, opts ...Option) (*Pipeline, error) {
	set, err := features.ParseSet(string(cfg.FeatureSet))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.FeatureSet = set
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c == nil || d == nil {
		return nil, fmt.Errorf("%w: classifier and dispatcher are required", ErrInvalidConfig)
	}
	if got, want := c.Dimension(), set.Dimension(); got != want {
		return nil, fmt.Errorf("feature set %q produces %d features, classifier expects %d: %w",
			set, want, got, classifier.ErrDimensionMismatch)
	}

	buf, err := window.New(cfg.WindowSize, cfg.Overlap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	deb, err := decision.New(cfg.ConfidenceThreshold, cfg.Cooldown.Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	p := &Pipeline{
		cfg:        cfg,
		classifier: c,
		dispatcher: d,
		clock:      timeutil.RealClock{},
		buffer:     buf,
		debouncer:  deb,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the validated configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Debouncer exposes the decision state for status reporting.
func (p *Pipeline) Debouncer() *decision.Debouncer { return p.debouncer }

// Run connects the dispatcher, then consumes src until ctx is cancelled or
// the source ends. Cancellation is a clean stop and returns nil; the partial
// window is discarded. A source that ends or fails yields an error wrapping
// ErrSourceLost.
func (p *Pipeline) Run(ctx context.Context, src Source) error {
	p.setState(StateConnecting)
	if err := p.dispatcher.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			p.setState(StateStopped)
			return nil
		}
		p.setState(StateFailed)
		return fmt.Errorf("connect command channel: %w", err)
	}
	defer func() {
		if err := p.dispatcher.Close(); err != nil {
			logs.Diagf("closing command channel: %v", err)
		}
	}()

	if ss, ok := src.(sourceStats); ok {
		p.source.Store(&ss)
	}
	id, lines := src.Subscribe()
	defer src.Unsubscribe(id)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	monitorErr := make(chan error, 1)
	go func() { monitorErr <- src.Monitor(runCtx) }()

	queue := make(chan window.Sample, p.cfg.QueueSize)
	producerErr := make(chan error, 1)
	go func() { producerErr <- p.produce(runCtx, lines, monitorErr, queue) }()

	p.setState(StateRunning)
	logs.Opsf("running: window=%d stride=%d features=%s threshold=%.2f cooldown=%s",
		p.buffer.Capacity(), p.buffer.Stride(), p.cfg.FeatureSet, p.cfg.ConfidenceThreshold, p.cfg.Cooldown)

	for {
		if ctx.Err() != nil {
			return p.stop()
		}
		select {
		case <-ctx.Done():
			return p.stop()
		case s := <-queue:
			p.process(ctx, s)
		case err := <-producerErr:
			if ctx.Err() != nil {
				return p.stop()
			}
			// samples already queued before the loss still count
			p.drain(ctx, queue)
			p.buffer.Reset()
			p.setState(StateFailed)
			logs.Opsf("sensor source lost: %v", err)
			return fmt.Errorf("%w: %w", ErrSourceLost, err)
		}
	}
}

func (p *Pipeline) stop() error {
	if n := p.buffer.Len(); n > 0 {
		logs.Diagf("discarding partial window of %d samples", n)
	}
	p.buffer.Reset()
	p.setState(StateStopped)
	return nil
}

func (p *Pipeline) drain(ctx context.Context, queue chan window.Sample) {
	for {
		select {
		case s := <-queue:
			p.process(ctx, s)
		default:
			return
		}
	}
}

// produce turns lines into timestamped samples until the source ends.
func (p *Pipeline) produce(ctx context.Context, lines <-chan string, monitorErr <-chan error, queue chan window.Sample) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-monitorErr:
			if ctx.Err() != nil {
				return nil
			}
			// lines fanned out before Monitor returned are still buffered
			p.drainLines(lines, queue)
			if err == nil {
				err = io.EOF
			}
			return err
		case line, ok := <-lines:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errSubscriptionClosed
			}
			p.ingest(line, queue)
		}
	}
}

func (p *Pipeline) drainLines(lines <-chan string, queue chan window.Sample) {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			p.ingest(line, queue)
		default:
			return
		}
	}
}

func (p *Pipeline) ingest(line string, queue chan window.Sample) {
	v, ok := serialmux.ParseSample(line)
	if !ok {
		p.malformed.Add(1)
		logs.Tracef("skipping malformed line %q", line)
		return
	}
	p.samples.Add(1)
	s := window.Sample{Timestamp: timeutil.Seconds(p.clock.Now()), Value: v}
	if !enqueue(queue, s, p.cfg.QueuePolicy) {
		if n := p.dropped.Add(1); n == 1 || n%1000 == 0 {
			logs.Opsf("ingest queue full, %d samples dropped so far", n)
		}
	}
}

// enqueue offers s to queue under policy and reports whether nothing was
// lost. It assumes a single producer.
func enqueue(queue chan window.Sample, s window.Sample, policy QueuePolicy) bool {
	select {
	case queue <- s:
		return true
	default:
	}
	if policy == DropNewest {
		return false
	}
	select {
	case <-queue:
	default:
	}
	select {
	case queue <- s:
	default:
	}
	return false
}

// process is the consumer step: append, and when the window is ready
// extract, classify, debounce, dispatch and slide.
func (p *Pipeline) process(ctx context.Context, s window.Sample) {
	if err := p.buffer.Append(s); err != nil {
		// cannot happen while every ready window is slid below
		logs.Opsf("append: %v", err)
		p.buffer.Slide()
		return
	}
	if !p.buffer.Ready() {
		return
	}
	defer p.buffer.Slide()

	values := p.buffer.Values()
	timestamps := p.buffer.Timestamps()
	feats := features.Compute(values, timestamps)
	pred := p.classifier.Classify(feats.Vector(p.cfg.FeatureSet))
	now := timestamps[len(timestamps)-1]
	p.windows.Add(1)
	logs.Tracef("window @%.3f: %s (%.3f)", now, pred.Name, pred.Confidence)

	p.snapMu.Lock()
	p.snapshot = &Snapshot{Time: now, Samples: p.buffer.Window(), Features: feats, Prediction: pred}
	p.snapMu.Unlock()

	ev := Event{Time: now, Prediction: pred}
	if dec, ok := p.debouncer.Evaluate(pred, now); ok {
		ev.Emitted = true
		p.decisions.Add(1)
		logs.Diagf("decision %s (%.2f) at %.3f", dec.Name, dec.Confidence, dec.Time)

		cmd, err := p.dispatcher.Dispatch(ctx, dec.Name)
		ev.Command = cmd
		switch {
		case err != nil:
			p.failedSends.Add(1)
			ev.SendError = err.Error()
		case cmd != dispatch.CommandNone:
			p.dispatched.Add(1)
		}
	}

	if p.recorder != nil {
		if err := p.recorder.Record(ctx, ev); err != nil {
			if n := p.recorderErrors.Add(1); n == 1 || n%100 == 0 {
				logs.Opsf("recording event failed (%d so far): %v", n, err)
			}
		}
	}
}

// LastSnapshot returns the most recently classified window, if any.
func (p *Pipeline) LastSnapshot() (Snapshot, bool) {
	p.snapMu.RLock()
	defer p.snapMu.RUnlock()
	if p.snapshot == nil {
		return Snapshot{}, false
	}
	return *p.snapshot, true
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	var sourceDropped int64
	if ss := p.source.Load(); ss != nil {
		sourceDropped = (*ss).Stats().Dropped
	}
	return Stats{
		SourceDropped:  sourceDropped,
		State:          p.State().String(),
		Samples:        p.samples.Load(),
		Malformed:      p.malformed.Load(),
		Dropped:        p.dropped.Load(),
		Windows:        p.windows.Load(),
		Decisions:      p.decisions.Load(),
		Dispatched:     p.dispatched.Load(),
		FailedSends:    p.failedSends.Load(),
		RecorderErrors: p.recorderErrors.Load(),
	}
}
