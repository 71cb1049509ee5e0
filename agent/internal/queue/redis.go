package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ccotracker/tracker/pkg/types"
)

// RedisOptions configures the redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Key prefixes the sorted set (<Key>) and the sequence counter (<Key>:seq).
	Key string
}

// Redis is a Queue kept in a redis sorted set scored by sequence id.
// Durability depends on the server's persistence settings (AOF with
// appendfsync always for the same guarantee as the SQLite backend).
type Redis struct {
	mu     sync.Mutex
	client *redis.Client
	key    string
	seqKey string
	now    func() time.Time
}

// redisRecord is the member stored in the sorted set.
type redisRecord struct {
	Seq        int64        `json:"seq"`
	EnqueuedAt int64        `json:"enqueued_at"`
	Sample     types.Sample `json:"sample"`
}

// OpenRedis connects to redis and verifies the connection.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("queue: redis ping %s: %w", opts.Addr, err)
	}
	key := opts.Key
	if key == "" {
		key = "tracker:queue"
	}
	slog.Info("queue: redis connected", "addr", opts.Addr, "key", key)
	return &Redis{client: client, key: key, seqKey: key + ":seq", now: time.Now}, nil
}

// Enqueue implements Queue.
func (q *Redis) Enqueue(ctx context.Context, s types.Sample) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq, err := q.client.Incr(ctx, q.seqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: redis next sequence: %w", err)
	}
	member, err := json.Marshal(redisRecord{Seq: seq, EnqueuedAt: q.now().UnixMilli(), Sample: s})
	if err != nil {
		return 0, fmt.Errorf("queue: encode sample: %w", err)
	}
	if err := q.client.ZAdd(ctx, q.key, redis.Z{Score: float64(seq), Member: string(member)}).Err(); err != nil {
		return 0, fmt.Errorf("queue: redis enqueue: %w", err)
	}
	return seq, nil
}

// ListPending implements Queue.
func (q *Redis) ListPending(ctx context.Context) ([]types.QueuedSample, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.list(ctx)
}

func (q *Redis) list(ctx context.Context) ([]types.QueuedSample, error) {
	members, err := q.client.ZRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: redis list pending: %w", err)
	}
	out := make([]types.QueuedSample, 0, len(members))
	for _, m := range members {
		var rec redisRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			return nil, fmt.Errorf("queue: decode queued sample: %w", err)
		}
		out = append(out, types.QueuedSample{
			Seq:        rec.Seq,
			Sample:     rec.Sample,
			EnqueuedAt: time.UnixMilli(rec.EnqueuedAt),
		})
	}
	return out, nil
}

// Remove implements Queue.
func (q *Redis) Remove(ctx context.Context, seq int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	score := strconv.FormatInt(seq, 10)
	if err := q.client.ZRemRangeByScore(ctx, q.key, score, score).Err(); err != nil {
		return fmt.Errorf("queue: redis remove %d: %w", seq, err)
	}
	return nil
}

// Len implements Queue.
func (q *Redis) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: redis count: %w", err)
	}
	return int(n), nil
}

// Evict implements Queue.
func (q *Redis) Evict(ctx context.Context, cutoff time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err := q.list(ctx)
	if err != nil {
		return 0, err
	}
	pipe := q.client.TxPipeline()
	n := 0
	for _, qs := range pending {
		if !qs.EnqueuedAt.Before(cutoff) {
			continue
		}
		score := strconv.FormatInt(qs.Seq, 10)
		pipe.ZRemRangeByScore(ctx, q.key, score, score)
		n++
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("queue: redis evict: %w", err)
	}
	return n, nil
}

// Close implements Queue.
func (q *Redis) Close() error {
	return q.client.Close()
}
