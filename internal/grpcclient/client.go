// Package grpcclient talks to the OCR backend over gRPC.
package grpcclient

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/GriffinCanCode/lorelens/internal/errors"
	"github.com/GriffinCanCode/lorelens/internal/resilience"
	"github.com/GriffinCanCode/lorelens/internal/trace"
)

// Config tunes the OCR client.
type Config struct {
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	CallTimeout      time.Duration
	Retry            resilience.RetryConfig
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
		CallTimeout:      DefaultCallTimeout,
		Retry:            resilience.OCRRetryConfig(),
	}
}

// Client is an OCR client. It satisfies the capture package's Recognizer.
type Client struct {
	conn *grpc.ClientConn
	cfg  Config
}

// New connects lazily to addr. Extra dial options are appended, which
// tests use to swap in an in-memory listener.
func New(addr string, cfg Config, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "ocr client for %s", addr)
	}
	return &Client{conn: conn, cfg: cfg}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Recognize returns the text found in img. Transient failures are retried
// within the configured budget.
func (c *Client) Recognize(ctx context.Context, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", apperrors.Wrap(err, apperrors.InvalidArgument, "encode image")
	}
	req := wrapperspb.Bytes(buf.Bytes())

	var text string
	err := resilience.Retry(ctx, c.cfg.Retry, func(ctx context.Context) error {
		if c.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
			defer cancel()
		}
		resp := &wrapperspb.StringValue{}
		if err := c.conn.Invoke(ctx, recognizeMethod, req, resp); err != nil {
			return err
		}
		text = resp.GetValue()
		return nil
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.FromGRPCError(err), apperrors.OCRFailed, "recognize")
	}
	return text, nil
}

// Healthy asks the backend's standard health service whether OCR is
// serving. A backend without the health service is reported unhealthy.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		slog.Debug("ocr health check failed", "error", err)
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}
