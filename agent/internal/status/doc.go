// Package status serves the agent's local HTTP surface for UI collaborators.
//
// Routes:
//
//	GET  /api/v1/status          running flag, identity, settings, queue depth
//	GET  /api/v1/events          diagnostic events, most recent first
//	POST /api/v1/send-now        capture the latest fix now; terminal result
//	POST /api/v1/flush           drain the queue now; drain report
//	POST /api/v1/tracking/start  start the engine
//	POST /api/v1/tracking/stop   stop the engine
//	GET  /metrics                Prometheus exposition
//	GET  /ws/events              websocket event stream
//
// The websocket stream opens with a "state" message and a "history" message
// holding the recent events, then pushes one "event" message per new
// diagnostic entry and a fresh "state" message whenever the running flag
// changes. An entry may appear both in the history and as a later "event";
// clients dedup by seq.
package status
