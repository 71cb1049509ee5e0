package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ccotracker/tracker/pkg/types"
)

// Record is an accepted sample together with the time it was received.
type Record struct {
	Sample     types.Sample
	ReceivedAt time.Time
}

// DeviceSummary describes one device's holdings.
type DeviceSummary struct {
	DeviceID string
	Count    int
	LastSeen time.Time
}

type key struct {
	device    string
	timestamp string
}

// Store is a thread-safe in-memory sample store.
type Store struct {
	mu        sync.RWMutex
	byDevice  map[string][]Record // arrival order
	seen      map[key]struct{}
	retention time.Duration
	now       func() time.Time
}

// New creates a Store that keeps samples for retention.
func New(retention time.Duration) *Store {
	return &Store{
		byDevice:  make(map[string][]Record),
		seen:      make(map[key]struct{}),
		retention: retention,
		now:       time.Now,
	}
}

// Put stores s. It reports false when a sample with the same device id and
// timestamp is already held.
func (s *Store) Put(sample types.Sample) bool {
	k := key{sample.DeviceID, sample.Timestamp}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[k]; dup {
		return false
	}
	s.seen[k] = struct{}{}
	s.byDevice[sample.DeviceID] = append(s.byDevice[sample.DeviceID], Record{
		Sample:     sample,
		ReceivedAt: s.now(),
	})
	return true
}

// List returns up to limit of the device's most recently received samples,
// newest first. A limit <= 0 returns all of them.
func (s *Store) List(deviceID string, limit int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.byDevice[deviceID]
	n := len(recs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, 0, n)
	for i := len(recs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, recs[i])
	}
	return out
}

// Devices summarises every device with at least one held sample, sorted by
// device id.
func (s *Store) Devices() []DeviceSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DeviceSummary, 0, len(s.byDevice))
	for id, recs := range s.byDevice {
		out = append(out, DeviceSummary{
			DeviceID: id,
			Count:    len(recs),
			LastSeen: recs[len(recs)-1].ReceivedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Count returns the total number of held samples.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// Evict removes samples received at or before now minus the retention window
// and returns how many were removed. An evicted sample may be accepted again.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.retention)
	removed := 0
	for id, recs := range s.byDevice {
		// Arrival order means expired records form a prefix.
		i := 0
		for i < len(recs) && !recs[i].ReceivedAt.After(cutoff) {
			delete(s.seen, key{id, recs[i].Sample.Timestamp})
			i++
		}
		removed += i
		switch {
		case i == len(recs):
			delete(s.byDevice, id)
		case i > 0:
			s.byDevice[id] = append([]Record(nil), recs[i:]...)
		}
	}
	return removed
}

// Run starts the background eviction loop. It ticks at half the retention
// window (minimum 1 second) and blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted expired samples", "count", n)
			}
		}
	}
}
