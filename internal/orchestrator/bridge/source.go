package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/GriffinCanCode/lorelens/internal/errors"
	"github.com/GriffinCanCode/lorelens/internal/observe"
	"github.com/GriffinCanCode/lorelens/internal/resilience"
	"github.com/GriffinCanCode/lorelens/pkg/types"
)

// Config configures a Source.
type Config struct {
	Debounce    DebounceConfig
	Reconnect   resilience.ReconnectConfig
	DialTimeout time.Duration
}

// Source keeps a bridge connection open and exposes the messages it reads
// through a pull API. The reader goroutine hands messages over a channel;
// Next and ForceLatest must only be called from one goroutine (the
// pipeline loop), which owns the debouncer.
type Source struct {
	transport Transport
	cfg       Config
	metrics   *observe.Metrics
	now       func() time.Time

	state       atomic.Int32 // types.ConnectionState
	unavailable atomic.Bool

	mu     sync.Mutex
	conn   Conn
	runCtx context.Context
	cancel context.CancelFunc

	incoming  chan types.Message
	debouncer *Debouncer
	reconnect *resilience.Reconnector
}

// NewSource creates a bridge source over transport.
func NewSource(transport Transport, cfg Config, metrics *observe.Metrics) *Source {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	s := &Source{
		transport: transport,
		cfg:       cfg,
		metrics:   metrics,
		now:       time.Now,
		runCtx:    context.Background(),
		incoming:  make(chan types.Message, 64),
		debouncer: NewDebouncer(cfg.Debounce),
	}

	rc := cfg.Reconnect
	userHook := rc.OnAttempt
	rc.OnAttempt = func(attempt int, delay time.Duration) {
		metrics.RecordReconnect(context.Background())
		if userHook != nil {
			userHook(attempt, delay)
		}
	}
	s.reconnect = resilience.NewReconnector(s, rc)
	return s
}

// State returns the connection state.
func (s *Source) State() types.ConnectionState {
	return types.ConnectionState(s.state.Load())
}

// IsConnected reports whether messages are flowing.
func (s *Source) IsConnected() bool {
	return s.State() == types.Connected
}

// Unavailable reports that reconnection gave up. The pipeline then relies
// on screen capture for the rest of the session.
func (s *Source) Unavailable() bool {
	return s.unavailable.Load()
}

// Run connects and keeps the connection alive until ctx is done or the
// reconnect budget is spent. Exhaustion is not an error for the caller.
func (s *Source) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.runCtx = ctx
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.Open(ctx); err != nil {
		slog.Warn("bridge connect failed", "error", err)
		s.reconnect.NotifyDisconnect()
	}

	err := s.reconnect.Run(ctx)
	s.Close()
	if errors.Is(err, resilience.ErrExhausted) {
		s.unavailable.Store(true)
		slog.Warn("bridge unavailable, falling back to screen capture")
		<-ctx.Done()
	}
	return nil
}

// Stop closes the connection and ends Run.
func (s *Source) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.reconnect.Stop()
	s.Close()
}

// Open dials the bridge and starts reading.
func (s *Source) Open(ctx context.Context) error {
	s.state.Store(int32(types.Connecting))

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	conn, err := s.transport.Dial(dialCtx)
	if err != nil {
		s.state.Store(int32(types.Disconnected))
		return apperrors.Wrap(err, apperrors.BridgeUnavailable, "dial bridge")
	}

	s.mu.Lock()
	old := s.conn
	s.conn = conn
	runCtx := s.runCtx
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	s.state.Store(int32(types.Connected))
	slog.Info("bridge connected")
	go s.readLoop(runCtx, conn)
	return nil
}

// Close drops the current connection, if any.
func (s *Source) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.state.Store(int32(types.Disconnected))
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *Source) current(conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn
}

func (s *Source) readLoop(ctx context.Context, conn Conn) {
	for {
		msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || !s.current(conn) {
				return
			}
			slog.Warn("bridge read failed", "error", apperrors.ConnectionFault(err))
			s.state.Store(int32(types.Disconnected))
			s.reconnect.NotifyDisconnect()
			return
		}
		select {
		case s.incoming <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// drain moves received messages into the debouncer.
func (s *Source) drain(now time.Time) {
	for {
		select {
		case msg := <-s.incoming:
			at := msg.ReceivedAt
			if at.IsZero() {
				at = now
			}
			outcome := s.debouncer.Push(msg, at)
			s.metrics.RecordBridgeMessage(context.Background(), outcome)
		default:
			return
		}
	}
}

// Next returns the next message once the stream has gone quiet.
func (s *Source) Next() (types.Message, bool) {
	now := s.now()
	s.drain(now)
	return s.debouncer.Next(now)
}

// ForceLatest returns the newest message without waiting, discarding any
// older buffered ones.
func (s *Source) ForceLatest() (types.Message, bool) {
	s.drain(s.now())
	return s.debouncer.ForceLatest()
}

// Pending returns the number of buffered messages.
func (s *Source) Pending() int {
	return s.debouncer.Len()
}

// Reset clears buffered messages and the duplicate filter.
func (s *Source) Reset() {
	s.drain(s.now())
	s.debouncer.Reset()
}
