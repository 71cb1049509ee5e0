package types

import (
	"errors"
	"fmt"
	"time"
)

// TimestampLayout is ISO-8601 with an explicit offset ("Z" for UTC).
const TimestampLayout = time.RFC3339

// Sample is one position reading plus metadata. Field tags match the
// collector wire payload exactly; optional sensor values encode as null.
type Sample struct {
	SubjectID int64   `json:"tracker_user_id"`
	DeviceID  string  `json:"device_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`

	Speed    *float64 `json:"speed"`
	Bearing  *float64 `json:"bearing"`
	Altitude *float64 `json:"altitude"`
	Accuracy *float64 `json:"accuracy"`
}

// QueuedSample is a Sample held by the durable queue, tagged with a locally
// unique, monotonically increasing sequence id assigned at enqueue time.
type QueuedSample struct {
	Seq        int64
	Sample     Sample
	EnqueuedAt time.Time
}

// FormatTimestamp renders t in the wire timestamp format, keeping t's offset.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Time parses the sample timestamp.
func (s Sample) Time() (time.Time, error) {
	return time.Parse(TimestampLayout, s.Timestamp)
}

// Validate reports whether s is structurally acceptable to a collector.
func (s Sample) Validate() error {
	var errs []error
	if s.SubjectID <= 0 {
		errs = append(errs, errors.New("tracker_user_id must be positive"))
	}
	if s.DeviceID == "" {
		errs = append(errs, errors.New("device_id is required"))
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		errs = append(errs, fmt.Errorf("latitude %v out of range", s.Latitude))
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		errs = append(errs, fmt.Errorf("longitude %v out of range", s.Longitude))
	}
	if _, err := s.Time(); err != nil {
		errs = append(errs, fmt.Errorf("timestamp %q: not ISO-8601 with offset", s.Timestamp))
	}
	return errors.Join(errs...)
}

// Float returns a pointer to v. Handy for building optional sensor fields.
func Float(v float64) *float64 { return &v }
