// Package errors provides the structured error type shared by capture, bridge
// and translation stages. Codes map onto gRPC status codes so faults from the
// OCR backend round-trip without losing their classification.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorDomain is the ErrorInfo domain attached to gRPC statuses.
const errorDomain = "lorelens"

// Code classifies an AppError.
type Code string

const (
	Unknown         Code = "UNKNOWN"
	Internal        Code = "INTERNAL"
	InvalidArgument Code = "INVALID_ARGUMENT"
	NotFound        Code = "NOT_FOUND"
	Unavailable     Code = "UNAVAILABLE"
	Timeout         Code = "TIMEOUT"
	Cancelled       Code = "CANCELLED"

	CaptureFailed Code = "CAPTURE_FAILED"
	OCRFailed     Code = "OCR_FAILED"

	ConnectionLost    Code = "CONNECTION_LOST"
	BridgeUnavailable Code = "BRIDGE_UNAVAILABLE"

	ProviderFailed     Code = "PROVIDER_FAILED"
	ProviderTimeout    Code = "PROVIDER_TIMEOUT"
	ProviderIncomplete Code = "PROVIDER_INCOMPLETE"

	ConfigInvalid Code = "CONFIG_INVALID"
	ConfigMissing Code = "CONFIG_MISSING"
)

var grpcCodeMap = map[Code]codes.Code{
	Unknown:            codes.Unknown,
	Internal:           codes.Internal,
	InvalidArgument:    codes.InvalidArgument,
	NotFound:           codes.NotFound,
	Unavailable:        codes.Unavailable,
	Timeout:            codes.DeadlineExceeded,
	Cancelled:          codes.Canceled,
	CaptureFailed:      codes.Internal,
	OCRFailed:          codes.Internal,
	ConnectionLost:     codes.Unavailable,
	BridgeUnavailable:  codes.Unavailable,
	ProviderFailed:     codes.Internal,
	ProviderTimeout:    codes.DeadlineExceeded,
	ProviderIncomplete: codes.DataLoss,
	ConfigInvalid:      codes.InvalidArgument,
	ConfigMissing:      codes.FailedPrecondition,
}

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus returns a gRPC status carrying an ErrorInfo detail.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Message)
	withDetail, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   errorDomain,
		Metadata: e.Metadata,
	})
	if err != nil {
		return st
	}
	return withDetail
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with a formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CaptureFault reports that one area could not be grabbed or recognised.
func CaptureFault(areaID string, cause error) *AppError {
	return Wrap(cause, CaptureFailed, "capture failed").WithMetadata("area", areaID)
}

// ConnectionFault reports that the bridge connection dropped.
func ConnectionFault(cause error) *AppError {
	return Wrap(cause, ConnectionLost, "bridge connection lost")
}

// ProviderFault reports a failed translation call. Deadline errors become
// ProviderTimeout so callers can tell them apart.
func ProviderFault(cause error) *AppError {
	if stderrors.Is(cause, context.DeadlineExceeded) {
		return Wrap(cause, ProviderTimeout, "translation timed out")
	}
	return Wrap(cause, ProviderFailed, "translation failed")
}

// FromGRPCError extracts an AppError from a gRPC error if present.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return &AppError{
				Code:     Code(info.GetReason()),
				Message:  st.Message(),
				Metadata: info.GetMetadata(),
				Cause:    err,
			}
		}
	}
	return &AppError{Code: grpcToCode(st.Code()), Message: st.Message(), Cause: err}
}

// grpcToCode maps gRPC codes back to our codes (best effort).
func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.NotFound:
		return NotFound
	case codes.Unavailable:
		return Unavailable
	case codes.DeadlineExceeded:
		return Timeout
	case codes.Canceled:
		return Cancelled
	case codes.Internal:
		return Internal
	case codes.FailedPrecondition:
		return ConfigMissing
	default:
		return Unknown
	}
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case Unavailable, Timeout, ConnectionLost, ProviderTimeout, ProviderIncomplete:
		return true
	default:
		return false
	}
}
