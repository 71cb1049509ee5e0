// Package types defines shared Go types used by both the agent and the
// collector. Sample is the canonical in-memory representation of one position
// reading; its JSON encoding is the wire payload POSTed to the collector.
package types
