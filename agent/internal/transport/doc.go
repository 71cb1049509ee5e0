// Package transport delivers one sample to the collector and classifies
// the outcome.
//
// Every attempt ends in exactly one of three outcomes:
//
//   - Delivered: the collector answered 2xx; the sample may be discarded.
//   - Rejected: the collector answered with any other status. Retrying the
//     same payload cannot succeed, so callers drop it.
//   - Unreachable: no response at all (connection refused, DNS failure,
//     timeout). Callers keep the sample and retry later.
//
// Attempts are bounded by the configured per-attempt timeout. Outcomes are
// values, not errors; Result.Err only carries detail for diagnostics.
package transport
