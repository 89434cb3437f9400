package trace

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryClientInterceptor injects trace ids into outgoing OCR calls.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(outgoing(ctx), method, req, reply, cc, opts...)
	}
}

func outgoing(ctx context.Context) context.Context {
	ctx, tc := EnsureContext(ctx)
	pairs := []string{TraceIDKey, tc.TraceID, SpanIDKey, tc.SpanID}
	if tc.ParentSpanID != "" {
		pairs = append(pairs, ParentSpanIDKey, tc.ParentSpanID)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}
