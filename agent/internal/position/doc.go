// Package position supplies position fixes to the capture loop.
//
// A Provider hands out a channel of Fix values. Two real sources exist:
//
//   - GPSD: connects to a gpsd daemon over TCP, enables JSON watch mode and
//     turns TPV reports into fixes, reconnecting when the daemon goes away.
//   - Replay: reads fixes from an NDJSON file and emits them at a fixed pace,
//     for bench testing without a receiver.
//
// Chan is an in-memory provider used by tests and embedders that already
// own a location feed.
package position
