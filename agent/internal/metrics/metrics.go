package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/ccotracker/tracker/agent/internal/diag"
)

const namespace = "tracker"

// depthTimeout bounds the queue length query made on each scrape.
const depthTimeout = 2 * time.Second

// Metrics holds the agent's collectors.
type Metrics struct {
	reg *prometheus.Registry

	events        *prometheus.CounterVec
	flushDuration prometheus.Histogram
	flushItems    *prometheus.CounterVec
}

// New registers the agent collectors on reg. depth reports the current queue
// length; a nil depth omits the gauge.
func New(reg *prometheus.Registry, depth func(ctx context.Context) (int, error)) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		reg: reg,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Diagnostic events emitted, by kind.",
		}, []string{"kind"}),
		flushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Wall time of queue drains.",
			Buckets:   prometheus.DefBuckets,
		}),
		flushItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_items_total",
			Help:      "Queued samples processed by drains, by result.",
		}, []string{"result"}),
	}
	if depth != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Samples waiting in the durable queue.",
		}, func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), depthTimeout)
			defer cancel()
			n, err := depth(ctx)
			if err != nil {
				return -1
			}
			return float64(n)
		})
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe counts one diagnostic entry. Register it with diag.Log.Hook.
func (m *Metrics) Observe(e diag.Entry) {
	m.events.WithLabelValues(string(e.Kind)).Inc()
}

// ObserveFlush records one drain.
func (m *Metrics) ObserveFlush(d time.Duration, delivered, rejected int) {
	m.flushDuration.Observe(d.Seconds())
	m.flushItems.WithLabelValues("delivered").Add(float64(delivered))
	m.flushItems.WithLabelValues("rejected").Add(float64(rejected))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Gatherer returns the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.reg }

// Dump writes every family gathered from g in the text exposition format.
func Dump(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gather: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Snapshot flattens the tracker_* counter and gauge families gathered from g
// into "name{label=value}" keys.
func Snapshot(g prometheus.Gatherer) (map[string]float64, error) {
	mfs, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("metrics: gather: %w", err)
	}
	out := make(map[string]float64)
	for _, mf := range mfs {
		if !strings.HasPrefix(mf.GetName(), namespace+"_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			v, ok := value(m)
			if !ok {
				continue
			}
			out[seriesKey(mf.GetName(), m.GetLabel())] = v
		}
	}
	return out, nil
}

func value(m *dto.Metric) (float64, bool) {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue(), true
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	}
	return 0, false
}

func seriesKey(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for _, l := range labels {
		pairs = append(pairs, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}
