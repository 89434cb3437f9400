// Package bridge reads structured dialogue from a game-side push source,
// coalesces bursts and keeps the connection alive.
package bridge

import (
	"time"

	"github.com/GriffinCanCode/lorelens/pkg/types"
)

// Push outcomes, also used as metric labels.
const (
	OutcomeQueued    = "queued"
	OutcomeDuplicate = "duplicate"
	OutcomeDropped   = "dropped" // oldest message pushed out of a full buffer
)

// DebounceConfig tunes a Debouncer.
type DebounceConfig struct {
	BufferSize  int
	Window      time.Duration // quiet time before buffered messages are ready
	RapidWindow time.Duration // widened window during rapid dialogue
	RapidDetect time.Duration // speaker change within this marks rapid dialogue
	RapidHold   time.Duration // how long the widened window stays in effect
}

// DefaultDebounceConfig returns the defaults.
func DefaultDebounceConfig() DebounceConfig {
	return DebounceConfig{
		BufferSize:  20,
		Window:      300 * time.Millisecond,
		RapidWindow: 500 * time.Millisecond,
		RapidDetect: time.Second,
		RapidHold:   2 * time.Second,
	}
}

// Debouncer buffers messages in arrival order and releases them once the
// stream has been quiet for the current window. It never reorders; it only
// drops exact repeats and, when full, the oldest entry.
//
// Not safe for concurrent use.
type Debouncer struct {
	cfg DebounceConfig

	buf        []types.Message
	lastOut    string // body of the last message handed out
	lastAt     time.Time
	lastSpeak  string
	rapidUntil time.Time
}

// NewDebouncer creates a Debouncer.
func NewDebouncer(cfg DebounceConfig) *Debouncer {
	def := DefaultDebounceConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.RapidWindow < cfg.Window {
		cfg.RapidWindow = cfg.Window
	}
	return &Debouncer{cfg: cfg, buf: make([]types.Message, 0, cfg.BufferSize)}
}

// Push adds msg received at now and reports what happened to it. A body
// equal to the one just ahead of it in delivery order (the newest buffered
// message, or the last one handed out when the buffer is empty) is dropped.
func (d *Debouncer) Push(msg types.Message, now time.Time) string {
	if msg.Body == d.previousBody() {
		return OutcomeDuplicate
	}

	if !d.lastAt.IsZero() && msg.Speaker != d.lastSpeak && now.Sub(d.lastAt) <= d.cfg.RapidDetect {
		d.rapidUntil = now.Add(d.cfg.RapidHold)
	}
	d.lastSpeak = msg.Speaker
	d.lastAt = now

	outcome := OutcomeQueued
	if len(d.buf) == d.cfg.BufferSize {
		d.buf = append(d.buf[:0], d.buf[1:]...)
		outcome = OutcomeDropped
	}
	d.buf = append(d.buf, msg)
	return outcome
}

// Window returns the debounce window in effect at now.
func (d *Debouncer) Window(now time.Time) time.Duration {
	if now.Before(d.rapidUntil) {
		return d.cfg.RapidWindow
	}
	return d.cfg.Window
}

// Ready reports whether buffered messages may be released.
func (d *Debouncer) Ready(now time.Time) bool {
	return len(d.buf) > 0 && now.Sub(d.lastAt) >= d.Window(now)
}

// Next pops the oldest buffered message if the buffer is ready.
func (d *Debouncer) Next(now time.Time) (types.Message, bool) {
	if !d.Ready(now) {
		return types.Message{}, false
	}
	msg := d.buf[0]
	d.buf = append(d.buf[:0], d.buf[1:]...)
	d.lastOut = msg.Body
	return msg, true
}

func (d *Debouncer) previousBody() string {
	if n := len(d.buf); n > 0 {
		return d.buf[n-1].Body
	}
	return d.lastOut
}

// ForceLatest drains the buffer and returns its newest message, ignoring
// the window.
func (d *Debouncer) ForceLatest() (types.Message, bool) {
	if len(d.buf) == 0 {
		return types.Message{}, false
	}
	msg := d.buf[len(d.buf)-1]
	d.buf = d.buf[:0]
	d.lastOut = msg.Body
	return msg, true
}

// Len returns the number of buffered messages.
func (d *Debouncer) Len() int { return len(d.buf) }

// Reset drops buffered messages and the duplicate filter.
func (d *Debouncer) Reset() {
	d.buf = d.buf[:0]
	d.lastOut = ""
	d.lastSpeak = ""
	d.lastAt = time.Time{}
	d.rapidUntil = time.Time{}
}
