// Package metrics exposes agent activity as Prometheus metrics.
//
// Counters are derived from the diagnostic log (one series per event kind),
// so every component reports through the same channel it already uses for
// observers. Queue depth is sampled on scrape. Everything is registered on
// a registry owned by the caller, never the global default.
package metrics
