// Package server exposes the pipeline to overlays and tools: a WebSocket
// feed of translations and status lines, and a small REST control surface.
package server

import "time"

// Server configuration constants
const (
	// Per-connection command rate limit
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Outbound events buffered per WebSocket client before dropping
	ClientSendBuffer = 32

	// Write deadline for one outbound WebSocket event
	WriteTimeout = 5 * time.Second

	// Default and maximum entries for /api/history
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)
