package capture

import (
	"log/slog"
	"time"
)

// LoadFunc reports system load as a percentage of available CPU.
type LoadFunc func() (float64, error)

// Pacer stretches the polling interval while the machine is over its CPU
// budget, leaving headroom for the game.
type Pacer struct {
	base   time.Duration
	limit  float64
	factor float64
	load   LoadFunc

	throttled bool
}

// NewPacer creates a Pacer. A nil load func disables throttling.
func NewPacer(base time.Duration, limitPercent, factor float64, load LoadFunc) *Pacer {
	if factor < 1 {
		factor = 1
	}
	return &Pacer{base: base, limit: limitPercent, factor: factor, load: load}
}

// Interval returns the wait before the next tick.
func (p *Pacer) Interval() time.Duration {
	if p.load == nil {
		return p.base
	}
	pct, err := p.load()
	if err != nil {
		return p.base
	}

	over := pct > p.limit
	if over != p.throttled {
		p.throttled = over
		slog.Debug("capture pacing changed", "throttled", over, "load_percent", pct, "limit", p.limit)
	}
	if over {
		return time.Duration(float64(p.base) * p.factor)
	}
	return p.base
}
