package connectivity

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/ccotracker/tracker/agent/internal/config"
)

const defaultProbeTimeout = 5 * time.Second

// Probe reports whether the collector host accepts connections.
type Probe struct {
	Addr     string // host:port
	TLS      bool
	Insecure bool
	Interval time.Duration
	Timeout  time.Duration

	// Dial is overridable for tests; defaults to a net.Dialer.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewProbe targets the host of the configured collector URL.
func NewProbe(cfg config.AgentConfig) (*Probe, error) {
	u, err := url.Parse(cfg.CollectorURL)
	if err != nil {
		return nil, fmt.Errorf("connectivity: parse collector url: %w", err)
	}
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		// No explicit port in the URL, use the scheme default.
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	return &Probe{
		Addr:     host,
		TLS:      u.Scheme == "https",
		Insecure: cfg.Transport.TLS.InsecureSkipVerify,
		Interval: cfg.Connectivity.ProbeInterval,
		Timeout:  cfg.Transport.Timeout,
	}, nil
}

// Watch implements Source. It probes immediately, then every Interval while
// up and on backoff while down.
func (p *Probe) Watch(ctx context.Context, notify func(bool)) error {
	interval := p.Interval
	if interval <= 0 {
		interval = config.DefaultProbeInterval
	}
	bo := newBackoff(interval)
	for {
		up := p.Check(ctx)
		if ctx.Err() != nil {
			return nil
		}
		notify(up)

		wait := interval
		if up {
			bo.reset()
		} else {
			wait = bo.next()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Check dials the collector once.
func (p *Probe) Check(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	switch {
	case p.Dial != nil:
		conn, err = p.Dial(dialCtx, "tcp", p.Addr)
	case p.TLS:
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{},
			Config: &tls.Config{
				InsecureSkipVerify: p.Insecure, //nolint:gosec // user-configured
			},
		}
		conn, err = dialer.DialContext(dialCtx, "tcp", p.Addr)
	default:
		var d net.Dialer
		conn, err = d.DialContext(dialCtx, "tcp", p.Addr)
	}
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
