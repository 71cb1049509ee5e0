package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/klauspost/compress/gzip"

	"github.com/ccotracker/tracker/agent/internal/config"
	"github.com/ccotracker/tracker/pkg/types"
)

// Outcome classifies a delivery attempt.
type Outcome int

const (
	Delivered Outcome = iota + 1
	Rejected
	Unreachable
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	case Unreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of one attempt. Status is the HTTP status code when
// the collector answered.
type Result struct {
	Outcome Outcome
	Status  int
	Err     error
}

func (r Result) String() string {
	switch {
	case r.Outcome == Rejected && r.Status != 0:
		return fmt.Sprintf("rejected (%d)", r.Status)
	case r.Err != nil:
		return fmt.Sprintf("%s: %v", r.Outcome, r.Err)
	default:
		return r.Outcome.String()
	}
}

// Deliverer sends one sample.
type Deliverer interface {
	Deliver(ctx context.Context, s types.Sample) Result
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, s types.Sample) Result

// Deliver implements Deliverer.
func (f DelivererFunc) Deliver(ctx context.Context, s types.Sample) Result { return f(ctx, s) }

// deviceHeader carries the device id to the auth layer and the collector.
const deviceHeader = "X-Device-Id"

// maxErrBody bounds how much of a rejection body ends up in diagnostics.
const maxErrBody = 512

// HTTP posts samples as JSON to a single collector URL.
type HTTP struct {
	url     string
	client  *http.Client
	timeout time.Duration
	gzip    bool
}

// New builds an HTTP deliverer from the agent's collector and transport settings.
func New(cfg config.AgentConfig) (*HTTP, error) {
	client, err := buildHTTPClient(cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("transport: build http client: %w", err)
	}
	return &HTTP{
		url:     cfg.CollectorURL,
		client:  client,
		timeout: cfg.Transport.Timeout,
		gzip:    cfg.Transport.Compression == "gzip",
	}, nil
}

// Deliver implements Deliverer.
func (h *HTTP) Deliver(ctx context.Context, s types.Sample) Result {
	body, err := json.Marshal(s)
	if err != nil {
		// A sample that cannot be encoded will never be accepted.
		return Result{Outcome: Rejected, Err: fmt.Errorf("encode sample: %w", err)}
	}
	encoding := ""
	if h.gzip {
		if body, err = compress(body); err != nil {
			return Result{Outcome: Rejected, Err: fmt.Errorf("compress sample: %w", err)}
		}
		encoding = "gzip"
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		// A malformed collector URL fails the same way on every retry.
		return Result{Outcome: Rejected, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(deviceHeader, s.DeviceID)
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{Outcome: Unreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return Result{Outcome: Delivered, Status: resp.StatusCode}
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	return Result{
		Outcome: Rejected,
		Status:  resp.StatusCode,
		Err:     fmt.Errorf("collector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
	}
}

func compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
	now  func() time.Time
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	case "jwt":
		token, err := t.sign(req.Header.Get(deviceHeader))
		if err != nil {
			return nil, fmt.Errorf("sign token: %w", err)
		}
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return t.base.RoundTrip(req)
}

// sign issues a short-lived HS256 token whose subject is the device id.
func (t *authRoundTripper) sign(deviceID string) (string, error) {
	now := t.now()
	ttl := t.auth.TokenTTL
	if ttl <= 0 {
		ttl = config.DefaultJWTTTL
	}
	claims := jwt.RegisteredClaims{
		Subject:   deviceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.auth.Secret()))
}

// buildHTTPClient constructs an http.Client for the transport's auth and TLS settings.
func buildHTTPClient(tc config.TransportConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: tc.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if tc.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(tc.Auth.CertFile, tc.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	if tc.Auth.CAFile != "" {
		caPEM, err := os.ReadFile(tc.Auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs found in ca file %q", tc.Auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = tlsCfg
	return &http.Client{
		Transport: &authRoundTripper{base: base, auth: tc.Auth, now: time.Now},
		Timeout:   tc.Timeout,
	}, nil
}
