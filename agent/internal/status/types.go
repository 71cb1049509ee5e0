package status

import (
	"time"

	"github.com/ccotracker/tracker/agent/internal/diag"
)

// EventResponse is one diagnostic entry. Line is the display form.
type EventResponse struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
	Kind diag.Kind `json:"kind"`
	Text string    `json:"text"`
	Line string    `json:"line"`
}

// SendNowResponse is the terminal status of a manual capture.
type SendNowResponse struct {
	Outcome string `json:"outcome"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
}

// StateResponse carries the running flag.
type StateResponse struct {
	Running bool `json:"running"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toEvent(e diag.Entry) EventResponse {
	return EventResponse{Seq: e.Seq, Time: e.Time, Kind: e.Kind, Text: e.Text, Line: e.String()}
}

func toEvents(entries []diag.Entry) []EventResponse {
	out := make([]EventResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEvent(e))
	}
	return out
}
