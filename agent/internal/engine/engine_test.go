package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ccotracker/tracker/agent/internal/capture"
	"github.com/ccotracker/tracker/agent/internal/diag"
	"github.com/ccotracker/tracker/agent/internal/metrics"
	"github.com/ccotracker/tracker/agent/internal/position"
	"github.com/ccotracker/tracker/agent/internal/queue"
	"github.com/ccotracker/tracker/agent/internal/transport"
	"github.com/ccotracker/tracker/pkg/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// switchable answers every attempt with the current outcome.
type switchable struct {
	outcome  atomic.Int32
	mu       sync.Mutex
	received []types.Sample
}

func newSwitchable(o transport.Outcome) *switchable {
	s := &switchable{}
	s.set(o)
	return s
}

func (s *switchable) set(o transport.Outcome) { s.outcome.Store(int32(o)) }

func (s *switchable) Deliver(_ context.Context, smp types.Sample) transport.Result {
	o := transport.Outcome(s.outcome.Load())
	if o == transport.Delivered {
		s.mu.Lock()
		s.received = append(s.received, smp)
		s.mu.Unlock()
	}
	return transport.Result{Outcome: o, Status: 201}
}

func (s *switchable) delivered() []types.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Sample(nil), s.received...)
}

type fixture struct {
	eng   *Engine
	q     queue.Queue
	tr    *switchable
	fixes *position.Chan
	log   *diag.Log
}

func defaultSettings() capture.Settings {
	return capture.Settings{Interval: 30 * time.Second, MinDistanceM: 10, AccuracyCeilingM: 40}
}

func newFixture(t *testing.T, o transport.Outcome, mutate func(*Options)) *fixture {
	t.Helper()
	q, err := queue.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	f := &fixture{q: q, tr: newSwitchable(o), fixes: position.NewChan(16), log: diag.NewLog(200)}
	opts := Options{
		DeviceID:        "dev-1",
		SubjectID:       7,
		Settings:        defaultSettings(),
		Queue:           q,
		Transport:       f.tr,
		Provider:        f.fixes,
		Log:             f.log,
		FlushRetryDelay: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.eng = New(opts)
	t.Cleanup(func() {
		f.eng.Stop()
		q.Close()
	})
	return f
}

func (f *fixture) depth(t *testing.T) int {
	t.Helper()
	n, err := f.q.Len(context.Background())
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	return n
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) has(kind diag.Kind) bool {
	for _, e := range f.log.Entries() {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// interval=30s, distance=10m, ceiling=40m: fix A is queued while offline,
// drained when the network returns, and fix B is discarded outright.
func TestScenario(t *testing.T) {
	f := newFixture(t, transport.Unreachable, nil)
	if err := f.eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.fixes.Push(position.Fix{Time: t0, Lat: 19.4, Lon: -99.1, Accuracy: types.Float(20)})
	eventually(t, "fix A queued", func() bool { return f.depth(t) == 1 })
	pending, _ := f.q.ListPending(context.Background())
	if pending[0].Seq != 1 {
		t.Errorf("fix A queued as seq %d, want 1", pending[0].Seq)
	}

	// t=5s: connectivity recovers.
	f.tr.set(transport.Delivered)
	f.eng.NotifyConnectivity(true)
	eventually(t, "queue drained", func() bool { return f.depth(t) == 0 })
	if got := f.tr.delivered(); len(got) != 1 || got[0].Timestamp != "2026-03-01T12:00:00Z" {
		t.Fatalf("delivered after recovery: %+v", got)
	}

	// t=40s: fix B is too inaccurate.
	f.fixes.Push(position.Fix{Time: t0.Add(40 * time.Second), Lat: 19.41, Lon: -99.1, Accuracy: types.Float(55)})
	eventually(t, "fix B discarded", func() bool { return f.has(diag.KindDiscarded) })
	if n := len(f.tr.delivered()); n != 1 {
		t.Errorf("fix B was sent")
	}
	if f.depth(t) != 0 {
		t.Errorf("fix B was queued")
	}
}

func TestStart_DrainsPreviousSession(t *testing.T) {
	f := newFixture(t, transport.Delivered, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.q.Enqueue(ctx, types.Sample{SubjectID: 7, DeviceID: "dev-1", Timestamp: "2026-01-01T00:00:00Z"}) //nolint:errcheck
	}
	if err := f.eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "startup drain", func() bool { return f.depth(t) == 0 })
	eventually(t, "flushed event", func() bool { return f.has(diag.KindFlushed) })
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t, transport.Delivered, nil)
	ctx := context.Background()

	if f.eng.Running() {
		t.Fatal("running before Start")
	}
	if _, err := f.eng.Flush(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Flush while stopped: got %v, want ErrNotRunning", err)
	}

	if err := f.eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.eng.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !f.eng.Running() {
		t.Fatal("not running after Start")
	}
	if _, err := f.eng.Flush(ctx); err != nil {
		t.Errorf("Flush: %v", err)
	}

	f.eng.Stop()
	f.eng.Stop()
	if f.eng.Running() {
		t.Fatal("running after Stop")
	}

	// No production after Stop.
	f.fixes.Push(position.Fix{Time: t0, Lat: 1, Lon: 1})
	time.Sleep(50 * time.Millisecond)
	if n := len(f.tr.delivered()); n != 0 {
		t.Errorf("%d deliveries after Stop", n)
	}

	var states []string
	for _, e := range f.log.Entries() {
		if e.Kind == diag.KindState {
			states = append(states, e.Text)
		}
	}
	if len(states) != 2 || states[0] != "tracking stopped" || states[1] != "tracking started" {
		t.Errorf("state events (most recent first): %v", states)
	}

	// Restartable.
	if err := f.eng.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	eventually(t, "fix after restart", func() bool { return len(f.tr.delivered()) == 1 })
}

func TestConnectivityAfterStopIgnored(t *testing.T) {
	f := newFixture(t, transport.Delivered, nil)
	ctx := context.Background()
	if err := f.eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.eng.Stop()

	f.q.Enqueue(ctx, types.Sample{SubjectID: 7, DeviceID: "dev-1", Timestamp: "2026-01-01T00:00:00Z"}) //nolint:errcheck
	f.eng.NotifyConnectivity(true)
	time.Sleep(50 * time.Millisecond)
	if f.depth(t) != 1 {
		t.Error("flush ran after Stop")
	}
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t, transport.Delivered, func(o *Options) { o.SubjectID = 0 })
	ctx := context.Background()
	if err := f.eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.fixes.Push(position.Fix{Time: t0, Lat: 1, Lon: 1})
	eventually(t, "missing subject error", func() bool { return f.has(diag.KindError) })

	s := capture.Settings{Interval: 10 * time.Second, MinDistanceM: 0, AccuracyCeilingM: 40}
	if err := f.eng.UpdateSettings(s, 9); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	// The restarted cadence admits its first fix immediately.
	f.fixes.Push(position.Fix{Time: t0.Add(time.Second), Lat: 1, Lon: 1})
	eventually(t, "delivery with new subject", func() bool { return len(f.tr.delivered()) == 1 })
	if got := f.tr.delivered()[0].SubjectID; got != 9 {
		t.Errorf("subject: got %d, want 9", got)
	}

	st, err := f.eng.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.IntervalSeconds != 10 || st.SubjectID != 9 || !st.Running || st.DeviceID != "dev-1" {
		t.Errorf("status: %+v", st)
	}
}

func TestSendNow(t *testing.T) {
	f := newFixture(t, transport.Unreachable, nil)
	ctx := context.Background()
	if _, err := f.eng.SendNow(ctx); !errors.Is(err, capture.ErrNoFix) {
		t.Fatalf("SendNow without fix: got %v", err)
	}
	if err := f.eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.fixes.Push(position.Fix{Time: t0, Lat: 1, Lon: 1})
	eventually(t, "first capture queued", func() bool { return f.depth(t) == 1 })

	res, err := f.eng.SendNow(ctx)
	if err != nil || res.Outcome != transport.Unreachable {
		t.Fatalf("SendNow: (%v, %v)", res, err)
	}
	if f.depth(t) != 2 {
		t.Errorf("manual unreachable send not queued: depth %d", f.depth(t))
	}
}

// failingList fails ListPending a fixed number of times.
type failingList struct {
	queue.Queue
	failures atomic.Int32
}

func (q *failingList) ListPending(ctx context.Context) ([]types.QueuedSample, error) {
	if q.failures.Add(-1) >= 0 {
		return nil, errors.New("database is locked")
	}
	return q.Queue.ListPending(ctx)
}

func TestFlushStorageFailureRetried(t *testing.T) {
	var fl *failingList
	f := newFixture(t, transport.Delivered, func(o *Options) {
		fl = &failingList{Queue: o.Queue}
		fl.failures.Store(1)
		o.Queue = fl
	})
	ctx := context.Background()
	f.q.Enqueue(ctx, types.Sample{SubjectID: 7, DeviceID: "dev-1", Timestamp: "2026-01-01T00:00:00Z"}) //nolint:errcheck

	if err := f.eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "retry drained queue", func() bool { return f.depth(t) == 0 })
	if !f.has(diag.KindError) {
		t.Error("storage failure not reported")
	}
}

// evictRecorder records eviction cutoffs.
type evictRecorder struct {
	queue.Queue
	mu      sync.Mutex
	cutoffs []time.Time
}

func (q *evictRecorder) Evict(ctx context.Context, cutoff time.Time) (int, error) {
	q.mu.Lock()
	q.cutoffs = append(q.cutoffs, cutoff)
	q.mu.Unlock()
	return 2, nil
}

func TestRetentionEviction(t *testing.T) {
	var rec *evictRecorder
	f := newFixture(t, transport.Delivered, func(o *Options) {
		rec = &evictRecorder{Queue: o.Queue}
		o.Queue = rec
		o.Retention = 24 * time.Hour
	})
	if err := f.eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "eviction", func() bool { return f.has(diag.KindDiscarded) })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := time.Now().Add(-24 * time.Hour)
	if d := want.Sub(rec.cutoffs[0]); d < 0 || d > time.Minute {
		t.Errorf("cutoff %v, want about %v", rec.cutoffs[0], want)
	}
}

func TestMetricsWiring(t *testing.T) {
	var m *metrics.Metrics
	f := newFixture(t, transport.Delivered, func(o *Options) {
		m = metrics.New(prometheus.NewRegistry(), o.Queue.Len)
		o.Metrics = m
	})
	if err := f.eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.fixes.Push(position.Fix{Time: t0, Lat: 1, Lon: 1})
	eventually(t, "sent", func() bool { return f.has(diag.KindSent) })

	snap, err := metrics.Snapshot(m.Gatherer())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap["tracker_events_total{kind=sent}"] != 1 {
		t.Errorf("sent counter: %v", snap)
	}
}

// held blocks every attempt while hold is set, until release is closed.
type held struct {
	inner   transport.Deliverer
	hold    atomic.Bool
	started chan struct{}
	release chan struct{}
}

func (h *held) Deliver(ctx context.Context, smp types.Sample) transport.Result {
	if h.hold.Load() {
		select {
		case h.started <- struct{}{}:
		default:
		}
		<-h.release
	}
	return h.inner.Deliver(ctx, smp)
}

// A flush request whose client goes away must not cut short the drain a
// connectivity recovery joined.
func TestFlushRequestCancelledMidDrain(t *testing.T) {
	h := &held{started: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, transport.Delivered, func(o *Options) {
		h.inner = o.Transport
		o.Transport = h
	})
	if err := f.eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Wait out the startup drain of the empty queue.
	if _, err := f.eng.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := f.q.Enqueue(context.Background(), types.Sample{
			SubjectID: 7, DeviceID: "dev-1", Latitude: 19.4, Longitude: -99.1,
			Timestamp: types.FormatTimestamp(t0.Add(time.Duration(i) * time.Minute)),
		}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	h.hold.Store(true)

	reqCtx, cancelReq := context.WithCancel(context.Background())
	reqDone := make(chan error, 1)
	go func() {
		_, err := f.eng.Flush(reqCtx)
		reqDone <- err
	}()
	<-h.started // item 1 in flight

	f.eng.NotifyConnectivity(true)
	time.Sleep(20 * time.Millisecond) // let the recovery flush join

	cancelReq()
	select {
	case err := <-reqDone:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled Flush: got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled Flush still waiting")
	}
	close(h.release)

	eventually(t, "backlog drained", func() bool { return f.depth(t) == 0 })
	if got := len(f.tr.delivered()); got != 3 {
		t.Errorf("delivered: got %d, want 3", got)
	}
}
