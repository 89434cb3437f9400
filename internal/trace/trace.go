// Package trace attaches lightweight trace and span ids to contexts so that
// every log line produced while handling one candidate or one HTTP request
// can be correlated. IDs follow the W3C sizes (128-bit trace, 64-bit span).
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Header and metadata keys used for propagation.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
)

type ctxKey struct{}

// Context holds trace identifiers for a single span.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// New creates a root trace context with fresh IDs.
func New() Context {
	return Context{TraceID: newID(16), SpanID: newID(8)}
}

// NewChild creates a child of parent. A zero parent yields a root context.
func NewChild(parent Context) Context {
	if parent.TraceID == "" {
		return New()
	}
	return Context{TraceID: parent.TraceID, SpanID: newID(8), ParentSpanID: parent.SpanID}
}

// FromContext extracts the trace context from ctx.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext stores tc in ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// EnsureContext returns the existing trace context or creates a root one.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

func newID(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Span times one pipeline operation.
type Span struct {
	Name  string
	Ctx   Context
	start time.Time
	end   time.Time
	attrs []any
}

// StartSpan begins a span as a child of whatever span ctx carries.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := FromContext(ctx)
	tc := NewChild(parent)
	return WithContext(ctx, tc), &Span{Name: name, Ctx: tc, start: time.Now()}
}

// SetAttr records a key/value pair that is emitted when the span ends.
func (s *Span) SetAttr(key string, val any) {
	s.attrs = append(s.attrs, key, val)
}

// End marks the span complete and logs it at debug level.
func (s *Span) End() {
	s.end = time.Now()
	args := append([]any{"span", s.Name, "duration", s.Duration()}, s.attrs...)
	logger(s.Ctx).Debug("span finished", args...)
}

// Duration returns the span duration, zero while the span is open.
func (s *Span) Duration() time.Duration {
	if s.end.IsZero() {
		return 0
	}
	return s.end.Sub(s.start)
}

// Attr returns the value recorded for key, if any.
func (s *Span) Attr(key string) (any, bool) {
	for i := 0; i+1 < len(s.attrs); i += 2 {
		if s.attrs[i] == key {
			return s.attrs[i+1], true
		}
	}
	return nil, false
}

// Logger returns the default slog.Logger annotated with ctx's trace ids.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	return logger(tc)
}

func logger(tc Context) *slog.Logger {
	args := []any{"trace_id", tc.TraceID, "span_id", tc.SpanID}
	if tc.ParentSpanID != "" {
		args = append(args, "parent_span_id", tc.ParentSpanID)
	}
	return slog.Default().With(args...)
}
