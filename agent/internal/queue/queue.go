package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ccotracker/tracker/agent/internal/config"
	"github.com/ccotracker/tracker/pkg/types"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue: closed")

// Queue is the durable store of samples pending delivery.
type Queue interface {
	// Enqueue persists s and returns its sequence id. A nil error means the
	// sample is durable.
	Enqueue(ctx context.Context, s types.Sample) (int64, error)

	// ListPending returns every queued sample, oldest first by sequence id.
	ListPending(ctx context.Context) ([]types.QueuedSample, error)

	// Remove deletes the entry with the given sequence id. Removing an
	// absent id is a no-op.
	Remove(ctx context.Context, seq int64) error

	// Len returns the number of pending entries.
	Len(ctx context.Context) (int, error)

	// Evict removes entries enqueued before cutoff and returns how many
	// were removed.
	Evict(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg config.AgentConfig) (Queue, error) {
	switch cfg.Queue.Backend {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.QueuePath())
	case "redis":
		return OpenRedis(ctx, RedisOptions{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
			Key:      cfg.Queue.RedisKey,
		})
	default:
		return nil, fmt.Errorf("queue: unsupported backend %q", cfg.Queue.Backend)
	}
}
