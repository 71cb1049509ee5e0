package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ccotracker/tracker/pkg/types"
)

// migration is one additive schema step. Steps only ever create tables or
// add nullable/defaulted columns so upgrading never touches existing rows.
type migration struct {
	Version    int
	Name       string
	Statements []string
}

var migrations = []migration{
	{1, "create queued_samples", []string{`
		CREATE TABLE IF NOT EXISTS queued_samples (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			tracker_user_id INTEGER NOT NULL,
			device_id       TEXT    NOT NULL,
			latitude        REAL    NOT NULL,
			longitude       REAL    NOT NULL,
			timestamp       TEXT    NOT NULL
		)`,
	}},
	{2, "optional sensor columns", []string{
		`ALTER TABLE queued_samples ADD COLUMN speed REAL`,
		`ALTER TABLE queued_samples ADD COLUMN bearing REAL`,
		`ALTER TABLE queued_samples ADD COLUMN altitude REAL`,
		`ALTER TABLE queued_samples ADD COLUMN accuracy REAL`,
	}},
	{3, "enqueue time", []string{
		`ALTER TABLE queued_samples ADD COLUMN enqueued_at INTEGER NOT NULL DEFAULT 0`,
	}},
}

// SQLite is a Queue backed by a single SQLite file.
// All exported methods are safe for concurrent use; storage access is
// serialized by an internal mutex over a single connection.
type SQLite struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
	now    func() time.Time // injectable for deterministic tests
}

// OpenSQLite opens (creating if needed) the queue database at path and
// brings its schema up to date.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("queue: create data dir: %w", err)
	}
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, db, len(migrations)); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("queue: sqlite opened", "path", path)
	return &SQLite{db: db, now: time.Now}, nil
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("queue: open %q: %w", path, err)
	}
	// One connection: pragmas apply to it and writes never interleave.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("queue: %s: %w", pragma, err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: ping: %w", err)
	}
	return db, nil
}

// migrate applies every migration up to and including target that has not
// been recorded in schema_migrations.
func migrate(ctx context.Context, db *sql.DB, target int) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("queue: create migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("queue: read migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("queue: scan migration: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("queue: read migrations: %w", err)
	}

	for _, m := range migrations {
		if m.Version > target || applied[m.Version] {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("queue: begin migration %d: %w", m.Version, err)
		}
		for _, stmt := range m.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback() //nolint:errcheck
				return fmt.Errorf("queue: migration %d (%s): %w", m.Version, m.Name, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.Version, m.Name, time.Now().Unix()); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("queue: record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("queue: commit migration %d: %w", m.Version, err)
		}
		slog.Info("queue: applied migration", "version", m.Version, "name", m.Name)
	}
	return nil
}

// Enqueue implements Queue.
func (q *SQLite) Enqueue(ctx context.Context, s types.Sample) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO queued_samples
			(tracker_user_id, device_id, latitude, longitude, timestamp,
			 speed, bearing, altitude, accuracy, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SubjectID, s.DeviceID, s.Latitude, s.Longitude, s.Timestamp,
		nullable(s.Speed), nullable(s.Bearing), nullable(s.Altitude), nullable(s.Accuracy),
		q.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("queue: enqueue: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("queue: enqueue: read sequence id: %w", err)
	}
	return seq, nil
}

// ListPending implements Queue.
func (q *SQLite) ListPending(ctx context.Context) ([]types.QueuedSample, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT seq, tracker_user_id, device_id, latitude, longitude, timestamp,
		       speed, bearing, altitude, accuracy, enqueued_at
		FROM queued_samples
		ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("queue: list pending: %w", err)
	}
	defer rows.Close()

	var out []types.QueuedSample
	for rows.Next() {
		var (
			qs                                 types.QueuedSample
			speed, bearing, altitude, accuracy sql.NullFloat64
			enqueuedAt                         int64
		)
		if err := rows.Scan(&qs.Seq, &qs.Sample.SubjectID, &qs.Sample.DeviceID,
			&qs.Sample.Latitude, &qs.Sample.Longitude, &qs.Sample.Timestamp,
			&speed, &bearing, &altitude, &accuracy, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("queue: scan pending: %w", err)
		}
		qs.Sample.Speed = ptr(speed)
		qs.Sample.Bearing = ptr(bearing)
		qs.Sample.Altitude = ptr(altitude)
		qs.Sample.Accuracy = ptr(accuracy)
		if enqueuedAt > 0 {
			qs.EnqueuedAt = time.UnixMilli(enqueuedAt)
		}
		out = append(out, qs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: list pending: %w", err)
	}
	return out, nil
}

// Remove implements Queue.
func (q *SQLite) Remove(ctx context.Context, seq int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM queued_samples WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("queue: remove %d: %w", seq, err)
	}
	return nil
}

// Len implements Queue.
func (q *SQLite) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_samples`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue: count: %w", err)
	}
	return n, nil
}

// Evict implements Queue. Rows written before enqueue times were recorded
// carry no age and are never evicted.
func (q *SQLite) Evict(ctx context.Context, cutoff time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM queued_samples WHERE enqueued_at > 0 AND enqueued_at < ?`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("queue: evict: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue: evict: %w", err)
	}
	return int(n), nil
}

// Close implements Queue. It is safe to call more than once.
func (q *SQLite) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.db.Close()
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func ptr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
