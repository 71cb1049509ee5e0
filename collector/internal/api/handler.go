package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ccotracker/tracker/collector/internal/config"
	"github.com/ccotracker/tracker/collector/internal/store"
)

const (
	defaultSampleLimit = 100
	maxSampleLimit     = 1000
)

// Handler is the HTTP handler for the collector query endpoints.
type Handler struct {
	store    *store.Store
	users    []config.User
	loadedAt time.Time
	mux      *http.ServeMux
}

// New creates a Handler and registers all routes. loadedAt stamps the user
// list, which lives only in configuration.
func New(st *store.Store, users []config.User, loadedAt time.Time) http.Handler {
	h := &Handler{store: st, users: users, loadedAt: loadedAt, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/tracker-users", h.listUsers)
	h.mux.HandleFunc("/api/v1/devices", h.listDevices)
	h.mux.HandleFunc("/api/v1/samples", h.listSamples)
	h.mux.HandleFunc("/api/v1/health", h.health)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stamp := h.loadedAt.UTC().Format(time.RFC3339)
	out := make([]UserResponse, 0, len(h.users))
	for _, u := range h.users {
		out = append(out, UserResponse{ID: u.ID, Name: u.Name, CreatedAt: stamp, UpdatedAt: stamp})
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	devices := h.store.Devices()
	out := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceResponse{
			DeviceID:    d.DeviceID,
			SampleCount: d.Count,
			LastSeen:    d.LastSeen.UTC().Format(time.RFC3339),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) listSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	deviceID := q.Get("device_id")
	if deviceID == "" {
		jsonErr(w, http.StatusBadRequest, "device_id is required")
		return
	}
	limit := defaultSampleLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSampleLimit)
	}

	recs := h.store.List(deviceID, limit)
	out := make([]SampleResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, SampleResponse{
			Sample:     rec.Sample,
			ReceivedAt: rec.ReceivedAt.UTC().Format(time.RFC3339),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		SampleCount: h.store.Count(),
		DeviceCount: len(h.store.Devices()),
	})
}

// --- helpers -----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
