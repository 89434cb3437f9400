package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/lorelens/internal/orchestrator"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator/history"
	"github.com/GriffinCanCode/lorelens/pkg/types"
)

// mockPipeline for testing.
type mockPipeline struct {
	mu        sync.Mutex
	forces    int
	reloads   int
	reloadErr error
	status    orchestrator.Status
}

func (m *mockPipeline) Force(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forces++
	return nil
}

func (m *mockPipeline) Reload(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
	return m.reloadErr
}

func (m *mockPipeline) Status() orchestrator.Status { return m.status }

func (m *mockPipeline) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forces, m.reloads
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, POST, OPTIONS")
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(100, 0)
	rl := &rateLimiter{now: func() time.Time { return now }}

	for i := range RateLimitMessages {
		if !rl.allow() {
			t.Fatalf("message %d rejected", i)
		}
	}
	if rl.allow() {
		t.Error("message over the limit allowed")
	}

	now = now.Add(RateLimitWindow + time.Millisecond)
	if !rl.allow() {
		t.Error("limit did not reset after the window")
	}
}

func TestStatusEndpoint(t *testing.T) {
	p := &mockPipeline{status: orchestrator.Status{Bridge: "connected", InFlight: true}}
	s := New(p, nil, Options{Breaker: func() string { return "closed" }})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Pipeline.Bridge != "connected" || !resp.Pipeline.InFlight {
		t.Errorf("pipeline = %+v", resp.Pipeline)
	}
	if resp.Breaker != "closed" {
		t.Errorf("breaker = %q", resp.Breaker)
	}
}

func TestStatusWithoutPipeline(t *testing.T) {
	s := New(nil, nil, Options{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	h := history.NewStore(10)
	for _, text := range []string{"one", "two", "three"} {
		h.Add(types.Translation{Source: text, Text: "tr:" + text, Kind: types.KindNarration})
	}
	s := New(&mockPipeline{}, h, Options{})

	tests := []struct {
		query string
		code  int
		want  int
	}{
		{"", http.StatusOK, 3},
		{"?limit=2", http.StatusOK, 2},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/history"+tt.query, http.NoBody))
		if rec.Code != tt.code {
			t.Errorf("%q: status = %d, want %d", tt.query, rec.Code, tt.code)
			continue
		}
		if tt.code != http.StatusOK {
			continue
		}
		var body struct {
			Entries []history.Entry `json:"entries"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if len(body.Entries) != tt.want {
			t.Errorf("%q: got %d entries, want %d", tt.query, len(body.Entries), tt.want)
		}
	}
}

func TestControlEndpoints(t *testing.T) {
	p := &mockPipeline{}
	s := New(p, nil, Options{})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/force", http.NoBody))
	if rec.Code != http.StatusAccepted {
		t.Errorf("force status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/reload", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Errorf("reload status = %d", rec.Code)
	}

	p.reloadErr = errors.New("bad yaml")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/reload", http.NoBody))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("failed reload status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bad yaml") {
		t.Errorf("body = %s", rec.Body.String())
	}

	p.reloadErr = orchestrator.ErrStopped
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/reload", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("stopped reload status = %d", rec.Code)
	}

	if f, r := p.counts(); f != 1 || r != 3 {
		t.Errorf("forces=%d reloads=%d", f, r)
	}
}

func TestHealthEndpoint(t *testing.T) {
	healthy := true
	s := New(&mockPipeline{}, nil, Options{Health: func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("ocr down")
	}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Errorf("healthy status = %d", rec.Code)
	}

	healthy = false
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d", rec.Code)
	}
}

func TestMetricsMounted(t *testing.T) {
	s := New(&mockPipeline{}, nil, Options{Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("lorelens_candidates_total 1\n"))
	})})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", http.NoBody))
	if !strings.Contains(rec.Body.String(), "lorelens_candidates_total") {
		t.Errorf("metrics body = %q", rec.Body.String())
	}
}

func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func waitClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", s.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	s := New(&mockPipeline{}, nil, Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, ctx := dial(t, srv)
	waitClients(t, s, 1)

	s.OnStatusChanged("Bridge connected")
	s.OnTranslationReady("Bonjour", "Alphinaud")

	var status StatusMessage
	if err := wsjson.Read(ctx, conn, &status); err != nil {
		t.Fatal(err)
	}
	if status.Type != "status" || status.Status != "Bridge connected" {
		t.Errorf("status message = %+v", status)
	}

	var tr TranslationMessage
	if err := wsjson.Read(ctx, conn, &tr); err != nil {
		t.Fatal(err)
	}
	if tr.Type != "translation" || tr.Text != "Bonjour" || tr.Speaker != "Alphinaud" {
		t.Errorf("translation message = %+v", tr)
	}
}

func TestWebSocketReplaysLastTranslation(t *testing.T) {
	s := New(&mockPipeline{}, nil, Options{})
	s.OnTranslationReady("Salut", "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, ctx := dial(t, srv)
	var tr TranslationMessage
	if err := wsjson.Read(ctx, conn, &tr); err != nil {
		t.Fatal(err)
	}
	if tr.Text != "Salut" {
		t.Errorf("replayed = %+v", tr)
	}
}

func TestWebSocketCommands(t *testing.T) {
	p := &mockPipeline{}
	s := New(p, nil, Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, ctx := dial(t, srv)

	for _, cmd := range []string{"force", "reload"} {
		if err := wsjson.Write(ctx, conn, Message{Type: cmd}); err != nil {
			t.Fatal(err)
		}
		var ack AckMessage
		if err := wsjson.Read(ctx, conn, &ack); err != nil {
			t.Fatal(err)
		}
		if ack.Type != "ack" || ack.Command != cmd {
			t.Errorf("ack = %+v", ack)
		}
	}

	if err := wsjson.Write(ctx, conn, Message{Type: "dance"}); err != nil {
		t.Fatal(err)
	}
	var e ErrorMessage
	if err := wsjson.Read(ctx, conn, &e); err != nil {
		t.Fatal(err)
	}
	if e.Type != "error" || !strings.Contains(e.Message, "dance") {
		t.Errorf("error = %+v", e)
	}

	if f, r := p.counts(); f != 1 || r != 1 {
		t.Errorf("forces=%d reloads=%d", f, r)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	p := &mockPipeline{}
	s := New(p, nil, Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, ctx := dial(t, srv)

	limited := false
	for range RateLimitMessages + 1 {
		if err := wsjson.Write(ctx, conn, Message{Type: "force"}); err != nil {
			t.Fatal(err)
		}
		var raw map[string]string
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			t.Fatal(err)
		}
		if raw["type"] == "error" && raw["message"] == "rate limit exceeded" {
			limited = true
		}
	}
	if !limited {
		t.Error("expected a rate limit error")
	}
}

func TestClientRemovedOnClose(t *testing.T) {
	s := New(&mockPipeline{}, nil, Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _ := dial(t, srv)
	waitClients(t, s, 1)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitClients(t, s, 0)
}
