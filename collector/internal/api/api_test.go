package api_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ccotracker/tracker/collector/internal/api"
	"github.com/ccotracker/tracker/collector/internal/config"
	"github.com/ccotracker/tracker/collector/internal/store"
	"github.com/ccotracker/tracker/pkg/types"
)

// --- test helpers -----------------------------------------------------------

var loadedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newHandler(samples ...types.Sample) http.Handler {
	st := store.New(time.Hour)
	for _, s := range samples {
		st.Put(s)
	}
	users := []config.User{{ID: 1, Name: "Ana"}, {ID: 2, Name: "Luis"}}
	return api.New(st, users, loadedAt)
}

func sample(device string, minute int) types.Sample {
	return types.Sample{
		SubjectID: 1,
		DeviceID:  device,
		Latitude:  19.43,
		Longitude: -99.13,
		Timestamp: fmt.Sprintf("2026-01-01T10:%02d:00Z", minute),
		Accuracy:  types.Float(5),
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- tests --------------------------------------------------------------------

func TestTrackerUsers(t *testing.T) {
	rr := get(t, newHandler(), "/api/tracker-users")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var users []api.UserResponse
	decode(t, rr, &users)
	if len(users) != 2 {
		t.Fatalf("users: got %d, want 2", len(users))
	}
	if users[0].ID != 1 || users[0].Name != "Ana" {
		t.Errorf("users[0]: got %+v", users[0])
	}
	if users[0].CreatedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("created_at: got %q", users[0].CreatedAt)
	}
}

func TestSamples(t *testing.T) {
	h := newHandler(sample("dev-a", 0), sample("dev-a", 1), sample("dev-a", 2), sample("dev-b", 0))

	rr := get(t, h, "/api/v1/samples?device_id=dev-a&limit=2")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var got []api.SampleResponse
	decode(t, rr, &got)
	if len(got) != 2 {
		t.Fatalf("samples: got %d, want 2", len(got))
	}
	if got[0].Timestamp != "2026-01-01T10:02:00Z" {
		t.Errorf("newest first: got %q", got[0].Timestamp)
	}
	if got[0].Accuracy == nil || *got[0].Accuracy != 5 {
		t.Errorf("accuracy: got %v", got[0].Accuracy)
	}
	if got[0].ReceivedAt == "" {
		t.Error("received_at is empty")
	}
}

func TestSamples_BadQuery(t *testing.T) {
	h := newHandler()
	for _, path := range []string{
		"/api/v1/samples",
		"/api/v1/samples?device_id=dev-a&limit=0",
		"/api/v1/samples?device_id=dev-a&limit=many",
	} {
		if rr := get(t, h, path); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", path, rr.Code)
		}
	}
}

func TestDevicesAndHealth(t *testing.T) {
	h := newHandler(sample("dev-b", 0), sample("dev-a", 0), sample("dev-a", 1))

	var devices []api.DeviceResponse
	decode(t, get(t, h, "/api/v1/devices"), &devices)
	if len(devices) != 2 || devices[0].DeviceID != "dev-a" || devices[0].SampleCount != 2 {
		t.Errorf("devices: got %+v", devices)
	}

	var health api.HealthResponse
	decode(t, get(t, h, "/api/v1/health"), &health)
	if health.SampleCount != 3 || health.DeviceCount != 2 || health.Status != "ok" {
		t.Errorf("health: got %+v", health)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHandler()
	for _, path := range []string{"/api/tracker-users", "/api/v1/devices", "/api/v1/samples", "/api/v1/health"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: got %d, want 405", path, rr.Code)
		}
	}
}
