package position

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Replay emits fixes read from an NDJSON file, one object per line in the
// Fix JSON shape. Lines without a time are stamped with the wall clock at
// emission.
type Replay struct {
	Path string
	Pace time.Duration

	now func() time.Time
}

// Fixes implements Provider. The file is read up front so a missing or
// malformed file fails here rather than in the background.
func (r *Replay) Fixes(ctx context.Context) (<-chan Fix, error) {
	fixes, err := r.load()
	if err != nil {
		return nil, err
	}
	now := r.now
	if now == nil {
		now = time.Now
	}

	out := make(chan Fix)
	go func() {
		defer close(out)
		for i, f := range fixes {
			if i > 0 && r.Pace > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(r.Pace):
				}
			}
			if f.Time.IsZero() {
				f.Time = now()
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
		slog.Info("position: replay finished", "path", r.Path, "fixes", len(fixes))
	}()
	return out, nil
}

func (r *Replay) load() ([]Fix, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return nil, fmt.Errorf("position: open replay: %w", err)
	}
	defer f.Close()

	var fixes []Fix
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var fix Fix
		if err := json.Unmarshal(line, &fix); err != nil {
			return nil, fmt.Errorf("position: replay line %d: %w", lineNo, err)
		}
		fixes = append(fixes, fix)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("position: read replay: %w", err)
	}
	return fixes, nil
}
