package capture

import (
	"github.com/golang/geo/s2"
	"golang.org/x/time/rate"

	"github.com/ccotracker/tracker/agent/internal/position"
)

// earthRadiusM is the mean Earth radius used to turn s2 angles into meters.
const earthRadiusM = 6371000.0

// distanceM returns the great-circle distance between two fixes in meters.
func distanceM(a, b position.Fix) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lon)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return p1.Distance(p2).Radians() * earthRadiusM
}

// gate decides which fixes become samples. Elapsed time is measured
// between fix times, not wall-clock arrival.
type gate struct {
	s     Settings
	floor *rate.Limiter
	last  *position.Fix
}

func newGate(s Settings) *gate {
	return &gate{
		s:     s,
		floor: rate.NewLimiter(rate.Every(s.Floor()), 1),
	}
}

// acceptable reports whether f passes the quality gate.
func (g *gate) acceptable(f position.Fix) bool {
	return f.Accuracy == nil || *f.Accuracy <= g.s.AccuracyCeilingM
}

// due reports whether f should be captured and, if so, records it as the
// last admitted fix.
func (g *gate) due(f position.Fix) bool {
	if g.last == nil {
		return g.admit(f)
	}
	if f.Time.Sub(g.last.Time) >= g.s.Interval {
		return g.admit(f)
	}
	if g.s.MinDistanceM <= 0 || g.floor.TokensAt(f.Time) < 1 {
		return false
	}
	if distanceM(*g.last, f) < float64(g.s.MinDistanceM) {
		return false
	}
	return g.admit(f)
}

func (g *gate) admit(f position.Fix) bool {
	// Every admission spends the floor token, whichever trigger fired.
	g.floor.AllowN(f.Time, 1)
	g.last = &f
	return true
}
