// Package capture turns position fixes into samples and delivers them.
//
// A Loop consumes fixes from a position.Provider. Each fix passes two gates
// before a sample is built:
//
//   - Quality gate: a fix whose reported accuracy is worse than the
//     configured ceiling is discarded. Fixes without an accuracy pass.
//   - Cadence gate: the first fix is admitted. After that a fix is due once
//     the configured interval has elapsed since the last admitted fix, or,
//     when a minimum distance is configured, once the device has moved at
//     least that far and half the interval has elapsed. The half-interval
//     floor keeps the distance trigger from firing faster than that.
//
// Admitted fixes are stamped with the current subject, delivered once and,
// when the collector is unreachable, written to the durable queue. Every
// outcome is reported on the diagnostic log.
//
// Start cancels any previous cadence and waits for it before starting a new
// one, so at most one cadence runs at a time. Stop is synchronous: once it
// returns no further samples are produced.
package capture
