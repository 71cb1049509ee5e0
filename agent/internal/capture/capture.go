package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ccotracker/tracker/agent/internal/config"
	"github.com/ccotracker/tracker/agent/internal/diag"
	"github.com/ccotracker/tracker/agent/internal/position"
	"github.com/ccotracker/tracker/agent/internal/transport"
	"github.com/ccotracker/tracker/pkg/types"
)

var (
	// ErrNoIdentity is returned when no subject is configured.
	ErrNoIdentity = errors.New("capture: no subject configured")
	// ErrNoFix is returned when no usable position fix has been seen.
	ErrNoFix = errors.New("capture: no position fix available")
)

const (
	enqueueAttempts   = 3
	enqueueRetryDelay = 500 * time.Millisecond
)

// Settings are read once per Start.
type Settings struct {
	Interval         time.Duration
	MinDistanceM     int
	AccuracyCeilingM float64
}

// SettingsFrom converts the tracking section of the agent config.
func SettingsFrom(t config.TrackingConfig) Settings {
	return Settings{
		Interval:         t.Interval,
		MinDistanceM:     t.MinDistanceM,
		AccuracyCeilingM: t.AccuracyCeilingM,
	}
}

// Floor is the shortest spacing allowed between distance-triggered captures.
func (s Settings) Floor() time.Duration { return s.Interval / 2 }

// Identity supplies the subject samples are tagged with.
type Identity interface {
	SubjectID() (int64, bool)
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func() (int64, bool)

// SubjectID implements Identity.
func (f IdentityFunc) SubjectID() (int64, bool) { return f() }

// Enqueuer is the part of the durable queue the loop writes to.
type Enqueuer interface {
	Enqueue(ctx context.Context, s types.Sample) (int64, error)
}

// Options wires a Loop to its collaborators. All fields except Log are required.
type Options struct {
	DeviceID  string
	Provider  position.Provider
	Transport transport.Deliverer
	Queue     Enqueuer
	Identity  Identity
	Log       *diag.Log
}

// Loop is the capture state machine. It is safe for concurrent use.
type Loop struct {
	opts       Options
	retryDelay time.Duration

	mu      sync.Mutex // guards cancel, done, running
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	fixMu  sync.Mutex
	latest *position.Fix
}

// New creates a stopped Loop.
func New(opts Options) *Loop {
	if opts.Log == nil {
		opts.Log = diag.NewLog(config.DefaultEventBuffer)
	}
	return &Loop{opts: opts, retryDelay: enqueueRetryDelay}
}

// Start begins a cadence with s, replacing any cadence already running.
func (l *Loop) Start(ctx context.Context, s Settings) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	fixes, err := l.opts.Provider.Fixes(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("capture: open position source: %w", err)
	}

	done := make(chan struct{})
	l.cancel, l.done, l.running = cancel, done, true
	go l.run(runCtx, s, fixes, done)
	return nil
}

// Stop cancels the cadence and waits for it to exit. A delivery already in
// flight finishes first, including its queue write attempts, which no
// longer pause between retries once stopped.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

func (l *Loop) stopLocked() {
	if !l.running {
		return
	}
	l.cancel()
	<-l.done
	l.cancel, l.done, l.running = nil, nil, false
}

// Running reports whether a cadence is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) run(ctx context.Context, s Settings, fixes <-chan position.Fix, done chan<- struct{}) {
	defer close(done)
	g := newGate(s)
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-fixes:
			if !ok {
				l.opts.Log.Add(diag.KindInfo, "position source closed")
				return
			}
			l.handle(ctx, g, f)
		}
	}
}

func (l *Loop) handle(ctx context.Context, g *gate, f position.Fix) {
	if ctx.Err() != nil {
		return
	}
	if !g.acceptable(f) {
		l.opts.Log.Addf(diag.KindDiscarded, "fix discarded: accuracy %.0fm above %.0fm ceiling",
			*f.Accuracy, g.s.AccuracyCeilingM)
		return
	}
	l.setLatest(f)
	if !g.due(f) {
		return
	}

	s, err := l.build(f)
	if err != nil {
		l.opts.Log.Addf(diag.KindError, "fix not captured: %v", err)
		return
	}
	l.deliver(ctx, s) //nolint:errcheck // reported on the diagnostic log
}

// SendNow captures the most recent usable fix immediately, outside the
// cadence. Precondition failures are returned and nothing is queued. An
// unreachable collector queues the sample like a scheduled capture.
func (l *Loop) SendNow(ctx context.Context) (transport.Result, error) {
	f, ok := l.Latest()
	if !ok {
		return transport.Result{}, ErrNoFix
	}
	s, err := l.build(f)
	if err != nil {
		return transport.Result{}, err
	}
	return l.deliver(ctx, s)
}

// Latest returns the most recent fix that passed the quality gate.
func (l *Loop) Latest() (position.Fix, bool) {
	l.fixMu.Lock()
	defer l.fixMu.Unlock()
	if l.latest == nil {
		return position.Fix{}, false
	}
	return *l.latest, true
}

func (l *Loop) setLatest(f position.Fix) {
	l.fixMu.Lock()
	l.latest = &f
	l.fixMu.Unlock()
}

// build stamps f with the current subject and device.
func (l *Loop) build(f position.Fix) (types.Sample, error) {
	subject, ok := l.opts.Identity.SubjectID()
	if !ok || subject <= 0 {
		return types.Sample{}, ErrNoIdentity
	}
	return types.Sample{
		SubjectID: subject,
		DeviceID:  l.opts.DeviceID,
		Latitude:  f.Lat,
		Longitude: f.Lon,
		Timestamp: types.FormatTimestamp(f.Time),
		Speed:     f.Speed,
		Bearing:   f.Bearing,
		Altitude:  f.Altitude,
		Accuracy:  f.Accuracy,
	}, nil
}

// deliver attempts s once and routes the outcome. The returned error is
// non-nil only when an unreachable sample could not be queued.
func (l *Loop) deliver(ctx context.Context, s types.Sample) (transport.Result, error) {
	res := l.opts.Transport.Deliver(ctx, s)
	switch res.Outcome {
	case transport.Delivered:
		l.opts.Log.Addf(diag.KindSent, "sent %.5f,%.5f", s.Latitude, s.Longitude)
	case transport.Rejected:
		l.opts.Log.Addf(diag.KindError, "collector rejected sample (%d): %v", res.Status, res.Err)
	default:
		seq, err := l.enqueue(ctx, s)
		if err != nil {
			l.opts.Log.Addf(diag.KindError, "sample lost: queue write failed: %v", err)
			return res, err
		}
		l.opts.Log.Addf(diag.KindQueued, "queued #%d (%s)", seq, res)
	}
	return res, nil
}

// enqueue writes s to the queue, retrying storage failures. A cancelled
// ctx does not abort the write, since the sample was already captured, but
// it skips the pauses between the remaining attempts.
func (l *Loop) enqueue(ctx context.Context, s types.Sample) (int64, error) {
	writeCtx := context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= enqueueAttempts; attempt++ {
		var seq int64
		if seq, err = l.opts.Queue.Enqueue(writeCtx, s); err == nil {
			return seq, nil
		}
		if attempt == enqueueAttempts {
			break
		}
		t := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
	return 0, fmt.Errorf("capture: enqueue after %d attempts: %w", enqueueAttempts, err)
}
