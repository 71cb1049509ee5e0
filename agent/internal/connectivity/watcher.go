package connectivity

import (
	"context"
	"log/slog"
	"sync"
)

// State is the last known reachability.
type State int

const (
	Unknown State = iota
	Down
	Up
)

func (s State) String() string {
	switch s {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// Source delivers availability notifications until ctx is cancelled.
type Source interface {
	Watch(ctx context.Context, notify func(available bool)) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, notify func(available bool)) error

// Watch implements Source.
func (f SourceFunc) Watch(ctx context.Context, notify func(bool)) error { return f(ctx, notify) }

// Watcher debounces availability notifications into recovery callbacks.
type Watcher struct {
	onUp func()

	mu      sync.Mutex
	state   State
	active  bool
	cancel  context.CancelFunc
	done    chan struct{}
	onState func(State)
}

// NewWatcher returns a stopped Watcher that calls onUp on every recovery.
func NewWatcher(onUp func()) *Watcher {
	return &Watcher{onUp: onUp}
}

// OnState registers fn to observe every state change. Must be called
// before Start.
func (w *Watcher) OnState(fn func(State)) {
	w.mu.Lock()
	w.onState = fn
	w.mu.Unlock()
}

// Start resets the state to Unknown and subscribes to src. A nil src
// leaves the watcher fed only by direct Notify calls.
func (w *Watcher) Start(ctx context.Context, src Source) {
	w.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = Unknown
	w.active = true
	if src == nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel, w.done = cancel, done
	go func() {
		defer close(done)
		if err := src.Watch(ctx, w.Notify); err != nil && ctx.Err() == nil {
			slog.Error("connectivity: source stopped", "err", err)
		}
	}()
}

// Stop unsubscribes from the source and waits for it to return.
// Notifications after Stop are ignored.
func (w *Watcher) Stop() {
	w.mu.Lock()
	w.active = false
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Notify records an availability observation.
func (w *Watcher) Notify(available bool) {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}
	next := Down
	if available {
		next = Up
	}
	prev := w.state
	w.state = next
	onState := w.onState
	w.mu.Unlock()

	if prev == next {
		return
	}
	slog.Info("connectivity: state changed", "from", prev, "to", next)
	if onState != nil {
		onState(next)
	}
	if next == Up && w.onUp != nil {
		w.onUp()
	}
}

// State returns the last observed state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}
