package api

import "github.com/ccotracker/tracker/pkg/types"

// UserResponse is one entry in GET /api/tracker-users.
type UserResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"` // RFC3339
	UpdatedAt string `json:"updated_at"` // RFC3339
}

// DeviceResponse is one entry in GET /api/v1/devices.
type DeviceResponse struct {
	DeviceID    string `json:"device_id"`
	SampleCount int    `json:"sample_count"`
	LastSeen    string `json:"last_seen"` // RFC3339
}

// SampleResponse is one entry in GET /api/v1/samples.
type SampleResponse struct {
	types.Sample
	ReceivedAt string `json:"received_at"` // RFC3339
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status      string `json:"status"`
	SampleCount int    `json:"sample_count"`
	DeviceCount int    `json:"device_count"`
}

type errorResponse struct {
	Error string `json:"error"`
}
