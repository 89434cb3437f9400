package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/lorelens/internal/orchestrator"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator/history"
	"github.com/GriffinCanCode/lorelens/internal/trace"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type TranslationMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Speaker string `json:"speaker,omitempty"`
}

type StatusMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type AckMessage struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Pipeline is the control side of the translation pipeline.
type Pipeline interface {
	Force(ctx context.Context) error
	Reload(ctx context.Context) error
	Status() orchestrator.Status
}

// HistorySource lists recent translations.
type HistorySource interface {
	Recent(n int) []history.Entry
}

// Options wires optional endpoints.
type Options struct {
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Health backs /api/health when set, typically the OCR health check.
	Health func(ctx context.Context) error
	// Breaker reports the provider circuit state for /api/status.
	Breaker func() string
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
	now        func() time.Time
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

type client struct {
	conn  *websocket.Conn
	send  chan any
	limit *rateLimiter
}

// Server handles HTTP and WebSocket connections. It is also the pipeline's
// display sink: every translation and status line is fanned out to all
// connected clients.
type Server struct {
	pipeline Pipeline
	history  HistorySource
	opts     Options

	mu         sync.RWMutex
	clients    map[*websocket.Conn]*client
	last       *TranslationMessage
	lastStatus string
}

// New creates a new server. Call SetPipeline before serving when the
// pipeline is built after the server.
func New(p Pipeline, h HistorySource, opts Options) *Server {
	return &Server{
		pipeline: p,
		history:  h,
		opts:     opts,
		clients:  make(map[*websocket.Conn]*client),
	}
}

// SetPipeline attaches the pipeline once it exists.
func (s *Server) SetPipeline(p Pipeline) {
	s.mu.Lock()
	s.pipeline = p
	s.mu.Unlock()
}

func (s *Server) getPipeline() Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipeline
}

// OnTranslationReady implements orchestrator.Sink.
func (s *Server) OnTranslationReady(text, speaker string) {
	msg := TranslationMessage{Type: "translation", Text: text, Speaker: speaker}
	s.mu.Lock()
	s.last = &msg
	s.mu.Unlock()
	s.broadcast(msg)
}

// OnStatusChanged implements orchestrator.Sink.
func (s *Server) OnStatusChanged(status string) {
	s.mu.Lock()
	s.lastStatus = status
	s.mu.Unlock()
	s.broadcast(StatusMessage{Type: "status", Status: status})
}

// broadcast never blocks: a client whose buffer is full misses the event.
func (s *Server) broadcast(msg any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- msg:
		default:
			slog.Warn("websocket client too slow, event dropped")
		}
	}
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/force", s.handleForce)
	mux.HandleFunc("POST /api/reload", s.handleReload)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := trace.Logger(ctx)

	c := &client{
		conn:  conn,
		send:  make(chan any, ClientSendBuffer),
		limit: &rateLimiter{now: time.Now},
	}

	s.mu.Lock()
	s.clients[conn] = c
	if s.lastStatus != "" {
		c.send <- StatusMessage{Type: "status", Status: s.lastStatus}
	}
	if s.last != nil {
		c.send <- *s.last
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	go c.writeLoop(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !c.limit.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			c.enqueue(ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(raw, &base); err != nil {
			c.enqueue(ErrorMessage{Type: "error", Message: "malformed message"})
			continue
		}

		cmdCtx, _ := trace.EnsureContext(ctx)
		switch base.Type {
		case "force", "reload":
			if err := s.command(cmdCtx, base.Type); err != nil {
				c.enqueue(ErrorMessage{Type: "error", Message: err.Error()})
				continue
			}
			c.enqueue(AckMessage{Type: "ack", Command: base.Type})
		default:
			c.enqueue(ErrorMessage{Type: "error", Message: "unknown command " + strconv.Quote(base.Type)})
		}
	}
}

func (c *client) enqueue(msg any) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

var errNoPipeline = errors.New("pipeline not running")

func (s *Server) command(ctx context.Context, name string) error {
	ctx, span := trace.StartSpan(ctx, "command_"+name)
	defer span.End()

	p := s.getPipeline()
	if p == nil {
		return errNoPipeline
	}
	var err error
	switch name {
	case "force":
		err = p.Force(ctx)
	case "reload":
		err = p.Reload(ctx)
	}
	if err != nil {
		span.SetAttr("error", err.Error())
		trace.Logger(ctx).Warn("command failed", "command", name, "error", err)
	}
	return err
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Pipeline orchestrator.Status `json:"pipeline"`
	Breaker  string              `json:"breaker,omitempty"`
	Clients  int                 `json:"clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p := s.getPipeline()
	if p == nil {
		writeError(w, http.StatusServiceUnavailable, errNoPipeline)
		return
	}
	resp := StatusResponse{Pipeline: p.Status(), Clients: s.Clients()}
	if s.opts.Breaker != nil {
		resp.Breaker = s.opts.Breaker()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, MaxHistoryLimit)
	}
	entries := []history.Entry{}
	if s.history != nil {
		entries = append(entries, s.history.Recent(limit)...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleForce(w http.ResponseWriter, r *http.Request) {
	if err := s.command(r.Context(), "force"); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "forced"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	err := s.command(r.Context(), "reload")
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
	case errors.Is(err, orchestrator.ErrStopped), errors.Is(err, errNoPipeline):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
