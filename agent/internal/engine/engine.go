package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ccotracker/tracker/agent/internal/capture"
	"github.com/ccotracker/tracker/agent/internal/connectivity"
	"github.com/ccotracker/tracker/agent/internal/diag"
	"github.com/ccotracker/tracker/agent/internal/flush"
	"github.com/ccotracker/tracker/agent/internal/metrics"
	"github.com/ccotracker/tracker/agent/internal/position"
	"github.com/ccotracker/tracker/agent/internal/queue"
	"github.com/ccotracker/tracker/agent/internal/transport"
)

// ErrNotRunning is returned by operations that need a started engine.
var ErrNotRunning = errors.New("engine: not running")

const (
	defaultFlushRetryDelay = 30 * time.Second
	minEvictEvery          = time.Minute
	maxEvictEvery          = time.Hour
)

// Options wires an Engine. Queue, Transport and Provider are required.
type Options struct {
	DeviceID  string
	SubjectID int64
	Settings  capture.Settings

	Queue     queue.Queue
	Transport transport.Deliverer
	Provider  position.Provider
	// Connectivity feeds the watcher. Nil leaves it fed only by
	// NotifyConnectivity.
	Connectivity connectivity.Source

	Log     *diag.Log
	Metrics *metrics.Metrics

	// Retention evicts queued samples older than this. Zero keeps them
	// until delivered.
	Retention time.Duration
	// FlushRetryDelay is the pause before retrying a drain that failed on
	// storage.
	FlushRetryDelay time.Duration
}

// Engine is safe for concurrent use.
type Engine struct {
	opts    Options
	log     *diag.Log
	capture *capture.Loop
	flusher *flush.Coordinator
	watcher *connectivity.Watcher
	subject atomic.Int64

	// lifecycle serializes Start, Stop and UpdateSettings.
	lifecycle sync.Mutex

	mu       sync.Mutex // guards the fields below
	settings capture.Settings
	running  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// New builds a stopped Engine.
func New(opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = diag.NewLog(100)
	}
	if opts.FlushRetryDelay <= 0 {
		opts.FlushRetryDelay = defaultFlushRetryDelay
	}
	e := &Engine{opts: opts, log: opts.Log, settings: opts.Settings}
	e.subject.Store(opts.SubjectID)

	e.capture = capture.New(capture.Options{
		DeviceID:  opts.DeviceID,
		Provider:  opts.Provider,
		Transport: opts.Transport,
		Queue:     opts.Queue,
		Identity: capture.IdentityFunc(func() (int64, bool) {
			id := e.subject.Load()
			return id, id > 0
		}),
		Log: opts.Log,
	})
	e.flusher = flush.New(opts.Queue, opts.Transport, opts.Log)
	if opts.Metrics != nil {
		opts.Log.Hook(opts.Metrics.Observe)
		e.flusher.OnDrain(func(r flush.Report, d time.Duration) {
			opts.Metrics.ObserveFlush(d, r.Delivered, r.Rejected)
		})
	}
	e.watcher = connectivity.NewWatcher(func() { e.goFlush("connectivity restored") })
	e.watcher.OnState(func(s connectivity.State) {
		e.log.Addf(diag.KindInfo, "network %s", s)
	})
	return e
}

// Start begins capturing. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := e.capture.Start(runCtx, e.settings); err != nil {
		cancel()
		return fmt.Errorf("engine: start capture: %w", err)
	}
	e.runCtx, e.cancel, e.group = runCtx, cancel, &errgroup.Group{}
	e.running = true

	e.flusher.Bind(runCtx)
	e.watcher.Start(runCtx, e.opts.Connectivity)
	e.goFlushLocked("startup")
	if e.opts.Retention > 0 {
		e.group.Go(func() error { return e.evictLoop(runCtx) })
	}
	e.log.Add(diag.KindState, "tracking started")
	slog.Info("engine: started", "device_id", e.opts.DeviceID, "interval", e.settings.Interval)
	return nil
}

// Stop halts capture synchronously, unsubscribes from connectivity and
// waits for background work. Stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, group := e.cancel, e.group
	e.mu.Unlock()

	e.capture.Stop()
	e.watcher.Stop()
	cancel()
	if err := group.Wait(); err != nil {
		slog.Error("engine: background task failed", "err", err)
	}
	e.log.Add(diag.KindState, "tracking stopped")
	slog.Info("engine: stopped")
}

// Running reports whether the engine is started.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Log returns the diagnostic event log.
func (e *Engine) Log() *diag.Log { return e.log }

// DeviceID returns the installation's device identifier.
func (e *Engine) DeviceID() string { return e.opts.DeviceID }

// UpdateSettings replaces the tracking settings and subject. A running
// capture is restarted so the new settings take effect immediately.
func (e *Engine) UpdateSettings(s capture.Settings, subjectID int64) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := s != e.settings || subjectID != e.subject.Load()
	e.settings = s
	e.subject.Store(subjectID)
	if !changed {
		return nil
	}
	e.log.Addf(diag.KindInfo, "settings updated: interval %s, min distance %dm, subject %d",
		s.Interval, s.MinDistanceM, subjectID)
	if !e.running {
		return nil
	}
	if err := e.capture.Start(e.runCtx, s); err != nil {
		return fmt.Errorf("engine: restart capture: %w", err)
	}
	return nil
}

// SendNow captures and delivers the latest fix immediately.
func (e *Engine) SendNow(ctx context.Context) (transport.Result, error) {
	return e.capture.SendNow(ctx)
}

// Flush drains the queue now and waits for the result.
func (e *Engine) Flush(ctx context.Context) (flush.Report, error) {
	if !e.Running() {
		return flush.Report{}, ErrNotRunning
	}
	return e.flusher.Flush(ctx)
}

// NotifyConnectivity feeds an availability observation from the platform.
func (e *Engine) NotifyConnectivity(available bool) {
	e.watcher.Notify(available)
}

// Status is a point-in-time view for observers.
type Status struct {
	Running          bool    `json:"running"`
	DeviceID         string  `json:"device_id"`
	SubjectID        int64   `json:"subject_id"`
	QueueDepth       int     `json:"queue_depth"`
	Network          string  `json:"network"`
	IntervalSeconds  float64 `json:"interval_seconds"`
	MinDistanceM     int     `json:"min_distance_m"`
	AccuracyCeilingM float64 `json:"accuracy_ceiling_m"`
}

// Status reports the current state. A queue error is returned alongside
// the rest of the snapshot.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	e.mu.Lock()
	st := Status{
		Running:          e.running,
		DeviceID:         e.opts.DeviceID,
		SubjectID:        e.subject.Load(),
		Network:          e.watcher.State().String(),
		IntervalSeconds:  e.settings.Interval.Seconds(),
		MinDistanceM:     e.settings.MinDistanceM,
		AccuracyCeilingM: e.settings.AccuracyCeilingM,
	}
	e.mu.Unlock()

	n, err := e.opts.Queue.Len(ctx)
	if err != nil {
		return st, fmt.Errorf("engine: queue depth: %w", err)
	}
	st.QueueDepth = n
	return st, nil
}

// goFlush schedules a background drain unless the engine is stopped.
func (e *Engine) goFlush(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.goFlushLocked(reason)
}

func (e *Engine) goFlushLocked(reason string) {
	ctx := e.runCtx
	e.group.Go(func() error {
		e.flushWithRetry(ctx, reason)
		return nil
	})
}

// flushWithRetry drains once and, on a storage failure, once more after
// FlushRetryDelay. A joined drain that was cut short by an earlier
// session's stop is followed by a fresh one. Stop waits for the item in
// flight; the drain itself ends between items once ctx is cancelled.
func (e *Engine) flushWithRetry(ctx context.Context, reason string) {
	wait := context.WithoutCancel(ctx)
	for failures := 0; ; {
		rep, err := e.flusher.Flush(wait)
		if err == nil {
			if rep.Truncated() && ctx.Err() == nil {
				continue
			}
			return
		}
		e.log.Addf(diag.KindError, "flush (%s) failed: %v", reason, err)
		if failures++; failures == 2 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.opts.FlushRetryDelay):
		}
	}
}

func (e *Engine) evictLoop(ctx context.Context) error {
	every := e.opts.Retention / 2
	switch {
	case every < minEvictEvery:
		every = minEvictEvery
	case every > maxEvictEvery:
		every = maxEvictEvery
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		e.evict(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Engine) evict(ctx context.Context) {
	n, err := e.opts.Queue.Evict(ctx, time.Now().Add(-e.opts.Retention))
	switch {
	case err != nil && ctx.Err() == nil:
		e.log.Addf(diag.KindError, "queue eviction failed: %v", err)
	case n > 0:
		e.log.Addf(diag.KindDiscarded, "evicted %d queued sample(s) older than %s", n, e.opts.Retention)
	}
}
