package flush

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ccotracker/tracker/agent/internal/diag"
	"github.com/ccotracker/tracker/agent/internal/transport"
	"github.com/ccotracker/tracker/pkg/types"
)

// Store is the part of the durable queue a drain needs.
type Store interface {
	ListPending(ctx context.Context) ([]types.QueuedSample, error)
	Remove(ctx context.Context, seq int64) error
}

// Report summarizes one drain.
type Report struct {
	Pending   int  `json:"pending"`
	Delivered int  `json:"delivered"`
	Rejected  int  `json:"rejected"`
	Remaining int  `json:"remaining"`
	Halted    bool `json:"halted"`
	// Shared is set when more than one caller received this report.
	Shared bool `json:"shared"`
}

// Coordinator serializes drains of one queue.
type Coordinator struct {
	store     Store
	transport transport.Deliverer
	log       *diag.Log
	group     singleflight.Group
	onDrain   func(Report, time.Duration)

	mu       sync.Mutex
	lifetime context.Context
}

// New creates a Coordinator. log may be nil.
func New(store Store, tr transport.Deliverer, log *diag.Log) *Coordinator {
	if log == nil {
		log = diag.NewLog(1)
	}
	return &Coordinator{store: store, transport: tr, log: log, lifetime: context.Background()}
}

// Bind sets the context later drains run under. Cancelling it stops a
// drain between items. A drain already running keeps the context it
// started with.
func (c *Coordinator) Bind(ctx context.Context) {
	c.mu.Lock()
	c.lifetime = ctx
	c.mu.Unlock()
}

// OnDrain registers fn to observe every completed drain once, however many
// callers shared it. Must be called before the first Flush.
func (c *Coordinator) OnDrain(fn func(Report, time.Duration)) {
	c.onDrain = fn
}

// Flush drains the queue, or joins the drain already running, and waits
// for it. ctx bounds only this caller's wait: the drain runs under the
// bound lifetime, so a caller giving up never cuts the drain short for the
// others. Storage errors abort the drain and are returned together with
// the progress made so far.
func (c *Coordinator) Flush(ctx context.Context) (Report, error) {
	c.mu.Lock()
	lifetime := c.lifetime
	c.mu.Unlock()

	ch := c.group.DoChan("flush", func() (any, error) {
		start := time.Now()
		rep, err := c.drain(lifetime)
		if c.onDrain != nil {
			c.onDrain(rep, time.Since(start))
		}
		return rep, err
	})
	select {
	case <-ctx.Done():
		return Report{}, ctx.Err()
	case res := <-ch:
		rep, _ := res.Val.(Report)
		rep.Shared = res.Shared
		return rep, res.Err
	}
}

// Truncated reports whether the drain stopped early because its lifetime
// ended, leaving items that were never attempted.
func (r Report) Truncated() bool {
	return r.Remaining > 0 && !r.Halted
}

func (c *Coordinator) drain(ctx context.Context) (Report, error) {
	var rep Report
	pending, err := c.store.ListPending(ctx)
	if err != nil {
		return rep, fmt.Errorf("flush: list pending: %w", err)
	}
	rep.Pending = len(pending)

	defer func() {
		if rep.Delivered+rep.Rejected > 0 {
			c.log.Addf(diag.KindFlushed, "flushed %d queued sample(s), %d dropped, %d remaining",
				rep.Delivered, rep.Rejected, rep.Remaining)
		}
	}()

	for i, qs := range pending {
		if ctx.Err() != nil {
			rep.Remaining = len(pending) - i
			return rep, nil
		}

		// The item in flight is finished even if ctx is cancelled meanwhile.
		itemCtx := context.WithoutCancel(ctx)
		res := c.transport.Deliver(itemCtx, qs.Sample)
		switch res.Outcome {
		case transport.Delivered:
			rep.Delivered++
		case transport.Rejected:
			rep.Rejected++
			c.log.Addf(diag.KindError, "dropped queued #%d: collector rejected it (%d)", qs.Seq, res.Status)
		default:
			rep.Remaining = len(pending) - i
			rep.Halted = true
			c.log.Addf(diag.KindInfo, "flush halted at #%d: %s", qs.Seq, res)
			return rep, nil
		}

		if err := c.store.Remove(itemCtx, qs.Seq); err != nil {
			rep.Remaining = len(pending) - i
			return rep, fmt.Errorf("flush: remove #%d: %w", qs.Seq, err)
		}
	}
	return rep, nil
}
