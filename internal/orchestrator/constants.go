// Package orchestrator runs the translation pipeline: it takes frames from
// screen capture and messages from the game-text bridge, decides which text
// is final, classifies it, translates it and publishes the result.
package orchestrator

import "time"

// Pipeline configuration constants
const (
	// Bridge polling and housekeeping cadence of the main loop
	DefaultPollInterval = 100 * time.Millisecond

	// Outer bound on one candidate's translation, covering name lookup,
	// the text request and a possible completeness retry
	DefaultTranslationTimeout = 45 * time.Second

	// Capture frames buffered between the capture goroutine and the loop
	FrameBuffer = 4
)

// Status lines sent to the sink.
const (
	StatusBridgeConnected    = "Bridge connected"
	StatusBridgeConnecting   = "Connecting to bridge…"
	StatusBridgeDisconnected = "Bridge disconnected, using screen capture"
	StatusBridgeUnavailable  = "Bridge unavailable, using screen capture"
	StatusTranslationFailed  = "Translation failed"
	StatusReloaded           = "Game data reloaded"
	StatusReloadFailed       = "Reload failed"
)
