package grpcclient

import "time"

// OCR service identity. The backend is any gRPC server exposing a unary
// Recognize method that takes the PNG bytes as google.protobuf.BytesValue
// and answers with google.protobuf.StringValue.
const (
	ServiceName     = "lorelens.ocr.v1.OCRService"
	recognizeMethod = "/" + ServiceName + "/Recognize"
)

// Client defaults.
const (
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second
	DefaultCallTimeout      = 2 * time.Second
	HealthCheckTimeout      = 2 * time.Second
)
