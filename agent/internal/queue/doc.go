// Package queue is the durable holding area for samples that failed
// immediate delivery.
//
// Queue is append-only from the capture side and drained oldest-first by
// sequence id from the flush side. Once Enqueue returns nil the sample
// survives process termination until Remove (confirmed delivery or
// non-retryable rejection) or Evict (explicit retention policy).
//
// Backends serialize their own storage access; callers never coordinate.
//   - SQLite (sqlite.go): default, one file under the data dir, pure-Go
//     modernc.org/sqlite driver, WAL with synchronous=FULL, versioned
//     additive migrations so schema upgrades keep existing rows.
//   - Redis (redis.go): INCR sequence plus a sorted set scored by sequence,
//     for installations that already run a persistent redis next to the agent.
package queue
