package metrics

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ccotracker/tracker/agent/internal/diag"
)

func newTestMetrics(depth int, depthErr error) *Metrics {
	return New(prometheus.NewRegistry(), func(context.Context) (int, error) { return depth, depthErr })
}

func TestObserve_CountsByKind(t *testing.T) {
	m := newTestMetrics(4, nil)
	log := diag.NewLog(10)
	log.Hook(m.Observe)

	log.Add(diag.KindSent, "sent")
	log.Add(diag.KindSent, "sent")
	log.Add(diag.KindQueued, "queued #1")
	log.Add(diag.KindDiscarded, "discarded")

	snap, err := Snapshot(m.Gatherer())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	want := map[string]float64{
		"tracker_events_total{kind=sent}":      2,
		"tracker_events_total{kind=queued}":    1,
		"tracker_events_total{kind=discarded}": 1,
		"tracker_queue_depth":                  4,
	}
	for k, v := range want {
		if snap[k] != v {
			t.Errorf("%s: got %v, want %v", k, snap[k], v)
		}
	}
	for k := range snap {
		if strings.HasPrefix(k, "go_") || strings.HasPrefix(k, "process_") {
			t.Errorf("Snapshot leaked runtime series %s", k)
		}
	}
}

func TestQueueDepth_Error(t *testing.T) {
	m := newTestMetrics(0, errors.New("closed"))
	snap, _ := Snapshot(m.Gatherer())
	if snap["tracker_queue_depth"] != -1 {
		t.Errorf("queue depth on error: got %v, want -1", snap["tracker_queue_depth"])
	}
}

func TestObserveFlush(t *testing.T) {
	m := newTestMetrics(0, nil)
	m.ObserveFlush(120*time.Millisecond, 3, 1)
	snap, _ := Snapshot(m.Gatherer())
	if snap["tracker_flush_items_total{result=delivered}"] != 3 || snap["tracker_flush_items_total{result=rejected}"] != 1 {
		t.Errorf("flush items: %v", snap)
	}
}

func TestDump(t *testing.T) {
	m := newTestMetrics(2, nil)
	m.Observe(diag.Entry{Kind: diag.KindError})

	var buf bytes.Buffer
	if err := Dump(&buf, m.Gatherer()); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# TYPE tracker_events_total counter",
		`tracker_events_total{kind="error"} 1`,
		"tracker_queue_depth 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q", want)
		}
	}
}

func TestHandler(t *testing.T) {
	m := newTestMetrics(0, nil)
	m.Observe(diag.Entry{Kind: diag.KindFlushed})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `tracker_events_total{kind="flushed"} 1`) {
		t.Error("handler output missing flushed counter")
	}
}
