package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Reconnect defaults.
const (
	DefaultReconnectRetries = 5
	DefaultReconnectBase    = time.Second
	DefaultReconnectFactor  = 1.5
	DefaultReconnectSettle  = 500 * time.Millisecond
)

// ErrExhausted is returned once every reconnection attempt has failed.
var ErrExhausted = errors.New("reconnect attempts exhausted")

// Connector is a connection the Reconnector can cycle.
type Connector interface {
	Open(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// ReconnectConfig configures a Reconnector.
type ReconnectConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Factor is the per-attempt growth of the delay. Values <= 1 fall back
	// to the default so delays always grow.
	Factor float64
	// Settle is how long to wait after Open before checking IsConnected.
	Settle time.Duration

	// OnAttempt, if set, runs before every attempt.
	OnAttempt func(attempt int, delay time.Duration)
}

func (c ReconnectConfig) withDefaults() ReconnectConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultReconnectRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultReconnectBase
	}
	if c.Factor <= 1 {
		c.Factor = DefaultReconnectFactor
	}
	if c.Settle < 0 {
		c.Settle = 0
	}
	return c
}

// Reconnector restores a Connector after NotifyDisconnect. Attempt n waits
// BaseDelay * Factor^(n-1). After MaxRetries failures it stops for good and
// Exhausted reports true.
type Reconnector struct {
	conn Connector
	cfg  ReconnectConfig
	wait func(ctx context.Context, d time.Duration) error

	exhausted    atomic.Bool
	disconnected chan struct{}
	done         chan struct{}
	stopOnce     sync.Once
}

// NewReconnector creates a Reconnector for conn.
func NewReconnector(conn Connector, cfg ReconnectConfig) *Reconnector {
	return &Reconnector{
		conn:         conn,
		cfg:          cfg.withDefaults(),
		wait:         sleep,
		disconnected: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Delay returns the wait before the given 1-based attempt.
func (r *Reconnector) Delay(attempt int) time.Duration {
	return time.Duration(float64(r.cfg.BaseDelay) * math.Pow(r.cfg.Factor, float64(attempt-1)))
}

// NotifyDisconnect asks the monitor to reconnect. Extra calls while a
// signal is pending are dropped.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

func (r *Reconnector) drain() {
	select {
	case <-r.disconnected:
	default:
	}
}

// Exhausted reports whether the retry budget ran out.
func (r *Reconnector) Exhausted() bool {
	return r.exhausted.Load()
}

// Stop ends Run. Safe to call more than once.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// Run waits for disconnect signals and reconnects until ctx is done, Stop
// is called, or the retry budget is exhausted. It returns ErrExhausted in
// the last case and nil otherwise.
func (r *Reconnector) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.disconnected:
		}

		err := r.Reconnect(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrExhausted):
			return err
		default:
			return nil
		}
	}
}

// Reconnect runs one reconnection cycle. Each attempt closes the
// connection, waits, reopens and checks the state after a settle period.
func (r *Reconnector) Reconnect(ctx context.Context) error {
	if r.exhausted.Load() {
		return ErrExhausted
	}
	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		delay := r.Delay(attempt)
		if r.cfg.OnAttempt != nil {
			r.cfg.OnAttempt(attempt, delay)
		}
		slog.Info("reconnecting", "attempt", attempt, "max", r.cfg.MaxRetries, "delay", delay)

		_ = r.conn.Close()
		if err := r.wait(ctx, delay); err != nil {
			return err
		}
		if err := r.conn.Open(ctx); err != nil {
			slog.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}
		if err := r.wait(ctx, r.cfg.Settle); err != nil {
			return err
		}
		if r.conn.IsConnected() {
			// Signals raised by connections that died during this cycle
			// would otherwise tear down the new one.
			r.drain()
			if !r.conn.IsConnected() {
				r.NotifyDisconnect()
			}
			slog.Info("reconnected", "attempt", attempt)
			return nil
		}
	}

	r.exhausted.Store(true)
	slog.Warn("giving up on reconnection", "attempts", r.cfg.MaxRetries)
	return ErrExhausted
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
