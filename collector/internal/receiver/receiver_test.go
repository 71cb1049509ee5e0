package receiver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ccotracker/tracker/collector/internal/receiver"
	"github.com/ccotracker/tracker/collector/internal/store"
)

const validBody = `{"tracker_user_id":3,"device_id":"dev-1","latitude":19.4326,"longitude":-99.1332,` +
	`"timestamp":"2026-01-01T10:00:00-06:00","speed":null,"bearing":null,"altitude":null,"accuracy":8.5}`

func newReceiver(t *testing.T) (*receiver.Receiver, *store.Store, *prometheus.Registry) {
	t.Helper()
	st := store.New(time.Hour)
	reg := prometheus.NewRegistry()
	return receiver.New(st, reg), st, reg
}

func post(h http.Handler, body []byte, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/location", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) receiver.Response {
	t.Helper()
	var resp receiver.Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestReceiver_Accepts(t *testing.T) {
	rc, st, _ := newReceiver(t)

	rec := post(rc, []byte(validBody), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201 (body %s)", rec.Code, rec.Body)
	}
	if resp := decode(t, rec); resp.Status != "created" {
		t.Errorf("status field: got %q, want created", resp.Status)
	}

	recs := st.List("dev-1", 0)
	if len(recs) != 1 {
		t.Fatalf("stored: got %d, want 1", len(recs))
	}
	got := recs[0].Sample
	if got.SubjectID != 3 || got.Accuracy == nil || *got.Accuracy != 8.5 || got.Speed != nil {
		t.Errorf("stored sample: %+v", got)
	}
}

func TestReceiver_Duplicate(t *testing.T) {
	rc, st, reg := newReceiver(t)
	post(rc, []byte(validBody), nil)

	rec := post(rc, []byte(validBody), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if resp := decode(t, rec); resp.Status != "duplicate" {
		t.Errorf("status field: got %q, want duplicate", resp.Status)
	}
	if st.Count() != 1 {
		t.Errorf("Count: got %d, want 1", st.Count())
	}

	got := results(t, reg)
	if got["created"] != 1 || got["duplicate"] != 1 {
		t.Errorf("collector_samples_total: got %v, want created=1 duplicate=1", got)
	}
}

// results returns collector_samples_total by result label.
func results(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "collector_samples_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" {
					out[lp.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	return out
}

func TestReceiver_Gzip(t *testing.T) {
	rc, st, _ := newReceiver(t)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(validBody)) //nolint:errcheck
	zw.Close()

	rec := post(rc, buf.Bytes(), http.Header{"Content-Encoding": {"gzip"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201 (body %s)", rec.Code, rec.Body)
	}
	if st.Count() != 1 {
		t.Errorf("Count: got %d, want 1", st.Count())
	}
}

func TestReceiver_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		header http.Header
		want   int
	}{
		{"not json", `{"tracker_user_id":`, nil, http.StatusBadRequest},
		{"wrong type", `{"latitude":"north"}`, nil, http.StatusBadRequest},
		{"bad gzip", validBody, http.Header{"Content-Encoding": {"gzip"}}, http.StatusBadRequest},
		{"missing device", strings.Replace(validBody, `"dev-1"`, `""`, 1), nil, http.StatusUnprocessableEntity},
		{"latitude out of range", strings.Replace(validBody, "19.4326", "91", 1), nil, http.StatusUnprocessableEntity},
		{"naive timestamp", strings.Replace(validBody, "-06:00", "", 1), nil, http.StatusUnprocessableEntity},
		{"no subject", strings.Replace(validBody, `"tracker_user_id":3`, `"tracker_user_id":0`, 1), nil, http.StatusUnprocessableEntity},
		{"too large", `{"device_id":"` + strings.Repeat("x", receiver.MaxBody) + `"}`, nil, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rc, st, _ := newReceiver(t)
			rec := post(rc, []byte(tc.body), tc.header)
			if rec.Code != tc.want {
				t.Fatalf("status: got %d, want %d (body %s)", rec.Code, tc.want, rec.Body)
			}
			if resp := decode(t, rec); resp.Error == "" {
				t.Error("error field is empty")
			}
			if st.Count() != 0 {
				t.Errorf("Count: got %d, want 0", st.Count())
			}
		})
	}
}

func TestReceiver_MethodNotAllowed(t *testing.T) {
	rc, _, _ := newReceiver(t)
	req := httptest.NewRequest(http.MethodGet, "/api/location", nil)
	rec := httptest.NewRecorder()
	rc.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rec.Code)
	}
}
