package diag

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Kind classifies an event. Observers may ignore it; the text is the payload.
type Kind string

const (
	KindInfo      Kind = "info"
	KindSent      Kind = "sent"
	KindQueued    Kind = "queued"
	KindDiscarded Kind = "discarded"
	KindFlushed   Kind = "flushed"
	KindError     Kind = "error"
	KindState     Kind = "state"
)

// subscriberBuf is the per-subscriber channel depth. A subscriber that falls
// further behind misses events rather than blocking publishers.
const subscriberBuf = 64

// Entry is one diagnostic event.
type Entry struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
	Kind Kind      `json:"kind"`
	Text string    `json:"text"`
}

// String renders the entry the way the device log screen shows it.
func (e Entry) String() string {
	return e.Time.Format("15:04:05") + ": " + e.Text
}

// Log is a bounded ring of diagnostic entries with subscriber fan-out.
// All methods are safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry // circular, len == capacity once full
	next    int
	seq     uint64
	subs    map[chan Entry]struct{}
	hooks   []func(Entry)
	now     func() time.Time
}

// NewLog returns a Log retaining the most recent capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = 1
	}
	return &Log{
		entries: make([]Entry, 0, capacity),
		subs:    make(map[chan Entry]struct{}),
		now:     time.Now,
	}
}

// Hook registers fn to be called synchronously for every new entry.
// Hooks must be cheap and must not call back into the Log.
func (l *Log) Hook(fn func(Entry)) {
	l.mu.Lock()
	l.hooks = append(l.hooks, fn)
	l.mu.Unlock()
}

// Add appends an event and returns it.
func (l *Log) Add(kind Kind, text string) Entry {
	l.mu.Lock()
	l.seq++
	e := Entry{Seq: l.seq, Time: l.now(), Kind: kind, Text: text}
	if len(l.entries) < cap(l.entries) {
		l.entries = append(l.entries, e)
	} else {
		l.entries[l.next] = e
	}
	l.next = (l.next + 1) % cap(l.entries)

	for _, h := range l.hooks {
		h(e)
	}
	for ch := range l.subs {
		select {
		case ch <- e:
		default:
		}
	}
	l.mu.Unlock()

	logEntry(e)
	return e
}

// Addf is Add with fmt.Sprintf formatting.
func (l *Log) Addf(kind Kind, format string, args ...any) Entry {
	return l.Add(kind, fmt.Sprintf(format, args...))
}

// Entries returns the retained entries, most recent first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries)
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, l.entries[(l.next-i+n)%n])
	}
	return out
}

// Subscribe returns a channel receiving every entry added after the call,
// and a cancel func that unsubscribes and closes the channel.
func (l *Log) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, subscriberBuf)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, ch)
			l.mu.Unlock()
			close(ch)
		})
	}
}

func logEntry(e Entry) {
	switch e.Kind {
	case KindError:
		slog.Error("diag: "+e.Text, "kind", e.Kind)
	case KindQueued, KindDiscarded:
		slog.Warn("diag: "+e.Text, "kind", e.Kind)
	default:
		slog.Info("diag: "+e.Text, "kind", e.Kind)
	}
}
