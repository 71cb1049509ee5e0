// Package diag holds the agent's diagnostic event stream: an ordered,
// bounded history of timestamped text lines that external observers (the
// status API, the websocket hub, metrics) read or subscribe to.
//
// A Log is owned by one engine instance; there is no process-wide log.
// Every Add is also written to slog at a level matching the event kind.
package diag
