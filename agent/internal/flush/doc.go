// Package flush drains the durable queue through the transport.
//
// A drain walks the pending entries oldest first and delivers them one at
// a time. Delivered and rejected entries are removed; the first unreachable
// entry halts the drain so the backlog keeps its order for the next run.
//
// At most one drain runs at a time. A Flush call that arrives while a drain
// is in progress waits for it and receives the same Report instead of
// starting a second pass over entries the first one has already claimed.
//
// Cancelling the caller's context stops the drain between entries. The
// entry in flight is always finished, including its removal, so an entry
// is never left delivered-but-pending by a shutdown.
package flush
