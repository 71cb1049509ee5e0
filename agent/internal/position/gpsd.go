package position

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

const (
	defaultGPSDRetry = 2 * time.Second
	gpsdWatch        = `?WATCH={"enable":true,"json":true}` + "\n"
)

// GPSD reads TPV reports from a gpsd daemon.
type GPSD struct {
	Addr string

	// Retry is the pause before reconnecting after the connection drops.
	Retry time.Duration

	// Dial is overridable for tests; defaults to net.Dialer.DialContext.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// tpv is the subset of a gpsd TPV report the agent uses.
type tpv struct {
	Class string   `json:"class"`
	Mode  int      `json:"mode"`
	Time  string   `json:"time"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Alt   *float64 `json:"alt"`
	Speed *float64 `json:"speed"`
	Track *float64 `json:"track"`
	Eph   *float64 `json:"eph"`
}

// Fixes implements Provider. Connection failures are logged and retried
// until ctx is cancelled; the channel is closed on return.
func (g *GPSD) Fixes(ctx context.Context) (<-chan Fix, error) {
	if g.Addr == "" {
		return nil, fmt.Errorf("position: gpsd address is empty")
	}
	out := make(chan Fix, 16)
	go g.run(ctx, out)
	return out, nil
}

func (g *GPSD) run(ctx context.Context, out chan<- Fix) {
	defer close(out)
	retry := g.Retry
	if retry <= 0 {
		retry = defaultGPSDRetry
	}
	for {
		if err := g.session(ctx, out); err != nil && ctx.Err() == nil {
			slog.Warn("position: gpsd session ended", "addr", g.Addr, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// session handles one connection: enable watch mode, then read reports
// line by line until the peer closes or ctx is cancelled.
func (g *GPSD) session(ctx context.Context, out chan<- Fix) error {
	dial := g.Dial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	conn, err := dial(ctx, "tcp", g.Addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock the scanner when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := io.WriteString(conn, gpsdWatch); err != nil {
		return fmt.Errorf("enable watch: %w", err)
	}
	slog.Info("position: gpsd connected", "addr", g.Addr)

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		fix, ok := parseTPV(sc.Bytes())
		if !ok {
			continue
		}
		select {
		case out <- fix:
		case <-ctx.Done():
			return nil
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read: %w", err)
	}
	return nil
}

// parseTPV converts one gpsd JSON line. Non-TPV classes and reports
// without a 2D fix are skipped.
func parseTPV(line []byte) (Fix, bool) {
	var r tpv
	if err := json.Unmarshal(line, &r); err != nil {
		slog.Debug("position: skipping malformed gpsd line", "err", err)
		return Fix{}, false
	}
	if r.Class != "TPV" || r.Mode < 2 || r.Lat == nil || r.Lon == nil {
		return Fix{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, r.Time)
	if err != nil {
		t = time.Now()
	}
	return Fix{
		Time:     t,
		Lat:      *r.Lat,
		Lon:      *r.Lon,
		Speed:    r.Speed,
		Bearing:  r.Track,
		Altitude: r.Alt,
		Accuracy: r.Eph,
	}, true
}
