package grpcclient

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/GriffinCanCode/lorelens/internal/errors"
	"github.com/GriffinCanCode/lorelens/internal/resilience"
	"github.com/GriffinCanCode/lorelens/internal/trace"
)

type recognizer interface {
	recognize(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
}

var testServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*recognizer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Recognize",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := new(wrapperspb.BytesValue)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(recognizer).recognize(ctx, in)
		},
	}},
}

// fakeOCR reports the decoded image width, failing the first failN calls.
type fakeOCR struct {
	calls   atomic.Int32
	failN   int32
	failErr error
	traceID atomic.Value
}

func (f *fakeOCR) recognize(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	n := f.calls.Add(1)
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(trace.TraceIDKey); len(ids) > 0 {
			f.traceID.Store(ids[0])
		}
	}
	if n <= f.failN {
		return nil, f.failErr
	}
	img, err := png.Decode(bytes.NewReader(in.GetValue()))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "not a png")
	}
	if img.Bounds().Dx() == 3 {
		return wrapperspb.String("What will you say?"), nil
	}
	return wrapperspb.String(""), nil
}

func startServer(t *testing.T, impl *fakeOCR) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&testServiceDesc, impl)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg := DefaultConfig()
	cfg.Retry = resilience.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	c, err := New("passthrough:///bufnet", cfg, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRecognize(t *testing.T) {
	impl := &fakeOCR{}
	c := startServer(t, impl)

	ctx := trace.WithContext(context.Background(), trace.New())
	got, err := c.Recognize(ctx, image.NewGray(image.Rect(0, 0, 3, 2)))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if got != "What will you say?" {
		t.Errorf("Recognize() = %q", got)
	}

	tc, _ := trace.FromContext(ctx)
	if id, _ := impl.traceID.Load().(string); id != tc.TraceID {
		t.Errorf("server saw trace id %q, want %q", id, tc.TraceID)
	}
}

func TestRecognizeRetriesTransient(t *testing.T) {
	impl := &fakeOCR{failN: 2, failErr: status.Error(codes.Unavailable, "model loading")}
	c := startServer(t, impl)

	if _, err := c.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if n := impl.calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestRecognizeServerError(t *testing.T) {
	impl := &fakeOCR{failN: 100, failErr: apperrors.New(apperrors.OCRFailed, "engine crashed").GRPCStatus().Err()}
	c := startServer(t, impl)

	_, err := c.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 3, 2)))
	if !apperrors.IsCode(err, apperrors.OCRFailed) {
		t.Fatalf("err = %v, want OCR_FAILED", err)
	}
	if n := impl.calls.Load(); n != 1 {
		t.Errorf("calls = %d, internal errors should not be retried", n)
	}
}

func TestHealthy(t *testing.T) {
	c := startServer(t, &fakeOCR{})
	if !c.Healthy(context.Background()) {
		t.Error("Healthy() = false")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.KeepaliveTime != DefaultKeepaliveTime || cfg.KeepaliveTimeout != DefaultKeepaliveTimeout {
		t.Errorf("keepalive = %v/%v", cfg.KeepaliveTime, cfg.KeepaliveTimeout)
	}
	if cfg.Retry.MaxRetries != resilience.OCRMaxRetries {
		t.Errorf("retries = %d", cfg.Retry.MaxRetries)
	}
}
