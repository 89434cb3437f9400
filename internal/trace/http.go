package trace

import "net/http"

// Middleware extracts or creates trace context for HTTP and WebSocket
// requests and echoes the trace id back in the response headers.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := fromHeaders(r.Header)
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

func fromHeaders(h http.Header) Context {
	parent := Context{TraceID: h.Get(TraceIDKey), SpanID: h.Get(SpanIDKey)}
	return NewChild(parent)
}
