package receiver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ccotracker/tracker/collector/internal/store"
	"github.com/ccotracker/tracker/pkg/types"
)

// MaxBody bounds the decoded request body.
const MaxBody = 64 << 10

// Response is the JSON body of every ingest reply.
type Response struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Receiver is the http.Handler for POST /api/location.
type Receiver struct {
	store   *store.Store
	results *prometheus.CounterVec
}

// New creates a Receiver that writes accepted samples to st. Outcome counters
// are registered with reg; a nil reg leaves them unregistered.
func New(st *store.Store, reg prometheus.Registerer) *Receiver {
	return &Receiver{
		store: st,
		results: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "collector_samples_total",
			Help: "Ingest requests by result.",
		}, []string{"result"}),
	}
}

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rc.reply(w, http.StatusMethodNotAllowed, "method_not_allowed", Response{Error: "method not allowed"})
		return
	}

	var body io.Reader = http.MaxBytesReader(w, r.Body, MaxBody)
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(body)
		if err != nil {
			rc.reply(w, http.StatusBadRequest, "bad_request", Response{Error: "invalid gzip body"})
			return
		}
		defer zr.Close()
		body = io.LimitReader(zr, MaxBody+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			rc.reply(w, http.StatusRequestEntityTooLarge, "too_large", Response{Error: "body too large"})
			return
		}
		rc.reply(w, http.StatusBadRequest, "bad_request", Response{Error: "read body: " + err.Error()})
		return
	}
	if len(data) > MaxBody {
		rc.reply(w, http.StatusRequestEntityTooLarge, "too_large", Response{Error: "body too large"})
		return
	}

	var s types.Sample
	if err := json.Unmarshal(data, &s); err != nil {
		rc.reply(w, http.StatusBadRequest, "bad_request", Response{Error: "invalid json: " + err.Error()})
		return
	}
	if err := s.Validate(); err != nil {
		rc.reply(w, http.StatusUnprocessableEntity, "invalid", Response{Error: err.Error()})
		return
	}

	if !rc.store.Put(s) {
		slog.Debug("receiver: duplicate sample", "device_id", s.DeviceID, "timestamp", s.Timestamp)
		rc.reply(w, http.StatusOK, "duplicate", Response{Status: "duplicate"})
		return
	}

	slog.Debug("receiver: sample stored",
		"device_id", s.DeviceID,
		"tracker_user_id", s.SubjectID,
		"timestamp", s.Timestamp,
	)
	rc.reply(w, http.StatusCreated, "created", Response{Status: "created"})
}

func (rc *Receiver) reply(w http.ResponseWriter, code int, result string, resp Response) {
	rc.results.WithLabelValues(result).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}
