package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ccotracker/tracker/agent/internal/capture"
	"github.com/ccotracker/tracker/agent/internal/diag"
	"github.com/ccotracker/tracker/agent/internal/engine"
	"github.com/ccotracker/tracker/agent/internal/flush"
	"github.com/ccotracker/tracker/agent/internal/transport"
)

// Engine is the part of the engine the status surface drives.
type Engine interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Status(ctx context.Context) (engine.Status, error)
	Log() *diag.Log
	SendNow(ctx context.Context) (transport.Result, error)
	Flush(ctx context.Context) (flush.Report, error)
}

// Handler serves the REST routes, the metrics endpoint and the websocket hub.
type Handler struct {
	eng     Engine
	baseCtx context.Context
	mux     *http.ServeMux
}

// New wires the routes. baseCtx bounds engines started over HTTP, so they
// outlive the request that started them. metrics may be nil.
func New(baseCtx context.Context, eng Engine, hub *Hub, metrics http.Handler) http.Handler {
	h := &Handler{eng: eng, baseCtx: baseCtx, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/status", h.status)
	h.mux.HandleFunc("/api/v1/events", h.events)
	h.mux.HandleFunc("/api/v1/send-now", h.sendNow)
	h.mux.HandleFunc("/api/v1/flush", h.flush)
	h.mux.HandleFunc("/api/v1/tracking/start", h.start)
	h.mux.HandleFunc("/api/v1/tracking/stop", h.stop)
	if hub != nil {
		h.mux.Handle("/ws/events", hub)
	}
	if metrics != nil {
		h.mux.Handle("/metrics", metrics)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// status returns GET /api/v1/status.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st, err := h.eng.Status(r.Context())
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, st)
}

// events returns GET /api/v1/events[?limit=N].
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries := h.eng.Log().Entries()
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n < len(entries) {
			entries = entries[:n]
		}
	}
	jsonResp(w, http.StatusOK, toEvents(entries))
}

// sendNow handles POST /api/v1/send-now. Precondition failures answer 409;
// a queue write failure answers 500.
func (h *Handler) sendNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	res, err := h.eng.SendNow(r.Context())
	switch {
	case errors.Is(err, capture.ErrNoIdentity), errors.Is(err, capture.ErrNoFix):
		jsonErr(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, SendNowResponse{
		Outcome: res.Outcome.String(),
		Status:  res.Status,
		Message: res.String(),
	})
}

// flush handles POST /api/v1/flush.
func (h *Handler) flush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rep, err := h.eng.Flush(r.Context())
	switch {
	case errors.Is(err, engine.ErrNotRunning):
		jsonErr(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, rep)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := h.eng.Start(h.baseCtx); err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, StateResponse{Running: h.eng.Running()})
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.eng.Stop()
	jsonResp(w, http.StatusOK, StateResponse{Running: h.eng.Running()})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
