// Package engine owns the lifecycle of the capture and delivery pipeline.
//
// An Engine wires one capture loop, one flush coordinator and one
// connectivity watcher around a durable queue. Start subscribes the
// watcher, drains whatever a previous session left queued and begins
// capturing; Stop reverses that and returns only once capture has halted
// and any drain has finished its current item.
//
// Observers read the engine through two surfaces: Running and Status for
// polling, and the diagnostic log (Log) for a pushed, timestamped event
// stream. Running-state changes appear on the log as "state" events.
package engine
