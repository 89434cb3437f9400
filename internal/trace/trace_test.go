package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc/metadata"
)

func TestNewContextIDs(t *testing.T) {
	tc := New()
	if len(tc.TraceID) != 32 {
		t.Errorf("trace ID should be 32 chars, got %d", len(tc.TraceID))
	}
	if len(tc.SpanID) != 16 {
		t.Errorf("span ID should be 16 chars, got %d", len(tc.SpanID))
	}
	if tc.ParentSpanID != "" {
		t.Error("root context should not have a parent span")
	}
}

func TestIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New().TraceID
		if seen[id] {
			t.Fatal("generated duplicate trace ID")
		}
		seen[id] = true
	}
}

func TestNewChild(t *testing.T) {
	parent := New()
	child := NewChild(parent)

	if child.TraceID != parent.TraceID {
		t.Error("child should inherit trace ID")
	}
	if child.SpanID == parent.SpanID {
		t.Error("child should have a new span ID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child's parent should be the parent's span ID")
	}

	if orphan := NewChild(Context{}); orphan.TraceID == "" || orphan.ParentSpanID != "" {
		t.Errorf("child of zero context should be a root, got %+v", orphan)
	}
}

func TestEnsureContext(t *testing.T) {
	ctx, tc := EnsureContext(context.Background())
	got, ok := FromContext(ctx)
	if !ok || got != tc {
		t.Fatal("EnsureContext should store the created context")
	}

	ctx2, tc2 := EnsureContext(ctx)
	if ctx2 != ctx || tc2 != tc {
		t.Error("EnsureContext should reuse an existing context")
	}
}

func TestStartSpanNesting(t *testing.T) {
	ctx, outer := StartSpan(context.Background(), "candidate")
	_, inner := StartSpan(ctx, "translate")

	if inner.Ctx.TraceID != outer.Ctx.TraceID {
		t.Error("nested span should share the trace ID")
	}
	if inner.Ctx.ParentSpanID != outer.Ctx.SpanID {
		t.Error("nested span should point at the outer span")
	}

	inner.SetAttr("kind", "choice")
	if v, ok := inner.Attr("kind"); !ok || v != "choice" {
		t.Errorf("Attr(kind) = %v, %v", v, ok)
	}

	if inner.Duration() != 0 {
		t.Error("open span should report zero duration")
	}
	inner.End()
	if inner.Duration() < 0 {
		t.Error("duration should not be negative")
	}
}

func TestMiddlewarePropagatesHeader(t *testing.T) {
	var seen Context
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody)
	req.Header.Set(TraceIDKey, "0123456789abcdef0123456789abcdef")
	req.Header.Set(SpanIDKey, "aaaaaaaaaaaaaaaa")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen.TraceID != "0123456789abcdef0123456789abcdef" {
		t.Errorf("TraceID = %q", seen.TraceID)
	}
	if seen.ParentSpanID != "aaaaaaaaaaaaaaaa" {
		t.Errorf("ParentSpanID = %q", seen.ParentSpanID)
	}
	if rec.Header().Get(TraceIDKey) != seen.TraceID {
		t.Error("trace id should be echoed in the response")
	}
}

func TestOutgoingMetadata(t *testing.T) {
	tc := New()
	ctx := outgoing(WithContext(context.Background(), tc))

	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("expected outgoing metadata")
	}
	if got := md.Get(TraceIDKey); len(got) != 1 || got[0] != tc.TraceID {
		t.Errorf("trace id metadata = %v", got)
	}
}
