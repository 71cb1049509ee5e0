package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ccotracker/tracker/agent/internal/config"
)

// Fix is one reading from a position source. Optional fields are nil when
// the source did not report them.
type Fix struct {
	Time     time.Time `json:"time"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Speed    *float64  `json:"speed,omitempty"`
	Bearing  *float64  `json:"bearing,omitempty"`
	Altitude *float64  `json:"altitude,omitempty"`
	Accuracy *float64  `json:"accuracy,omitempty"`
}

// Provider produces fixes until ctx is cancelled. The returned channel is
// closed when the provider has nothing more to send.
type Provider interface {
	Fixes(ctx context.Context) (<-chan Fix, error)
}

// New builds the provider selected by cfg.
func New(cfg config.PositionConfig) (Provider, error) {
	switch cfg.Source {
	case "", "gpsd":
		return &GPSD{Addr: cfg.GPSDAddr}, nil
	case "replay":
		return &Replay{Path: cfg.ReplayFile, Pace: cfg.ReplayPace}, nil
	default:
		return nil, fmt.Errorf("position: unknown source %q", cfg.Source)
	}
}

// Chan is a Provider fed by Push. Every call to Fixes returns the same
// channel, so a restarted consumer keeps receiving.
type Chan struct {
	once sync.Once
	ch   chan Fix
}

// NewChan returns a Chan buffering up to size fixes.
func NewChan(size int) *Chan {
	c := &Chan{}
	c.init(size)
	return c
}

func (c *Chan) init(size int) {
	c.once.Do(func() { c.ch = make(chan Fix, size) })
}

// Push hands f to the consumer, blocking while the buffer is full.
func (c *Chan) Push(f Fix) {
	c.init(0)
	c.ch <- f
}

// Fixes implements Provider.
func (c *Chan) Fixes(context.Context) (<-chan Fix, error) {
	c.init(0)
	return c.ch, nil
}
