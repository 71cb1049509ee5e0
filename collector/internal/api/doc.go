// Package api implements the collector's read-only HTTP API.
//
// New(store, users, loadedAt) returns an http.Handler that serves:
//
//	GET /api/tracker-users  - configured tracker users ([]UserResponse)
//	GET /api/v1/devices     - devices with held samples ([]DeviceResponse)
//	GET /api/v1/samples     - ?device_id=&limit= recent samples, newest first
//	GET /api/v1/health      - sample and device counts
//
// All endpoints respond with Content-Type: application/json and return 405
// for non-GET methods. No external HTTP framework is used.
package api
