// Package connectivity tracks collector reachability and reports recovery.
//
// A Watcher receives availability notifications from a Source and calls its
// recovery callback only on a transition to available: from the initial
// unknown state or from unavailable. Repeated "available" notifications
// without an intervening loss are ignored, as is anything that arrives after
// Stop.
//
// Probe is the Source used when the platform has no reachability events of
// its own. It dials the collector host on a fixed cadence and, while the
// host is down, retries on a truncated exponential backoff capped at that
// cadence.
package connectivity
