// Package receiver implements the collector's ingest endpoint,
// POST /api/location.
//
// The body is one JSON-encoded types.Sample, optionally gzip-compressed
// (Content-Encoding: gzip). Responses:
//
//	201 - accepted and stored
//	200 - already held (same device_id and timestamp); nothing stored
//	400 - body is not a JSON sample
//	405 - method other than POST
//	413 - body larger than MaxBody
//	422 - sample fails types.Sample.Validate
//
// Authentication is enforced upstream by the auth middleware, so the receiver
// itself only performs structural validation.
package receiver
