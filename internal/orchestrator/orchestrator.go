package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/GriffinCanCode/lorelens/internal/config"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator/history"
	"github.com/GriffinCanCode/lorelens/internal/orchestrator/stability"
	"github.com/GriffinCanCode/lorelens/pkg/types"
)

// ErrStopped is returned by control calls once the pipeline has stopped.
var ErrStopped = errors.New("pipeline stopped")

// Sink receives everything the pipeline publishes.
type Sink interface {
	OnTranslationReady(text, speaker string)
	OnStatusChanged(status string)
}

// Bridge is the pull side of the game-text bridge. Next and ForceLatest are
// only called from the pipeline loop.
type Bridge interface {
	State() types.ConnectionState
	IsConnected() bool
	Unavailable() bool
	Next() (types.Message, bool)
	ForceLatest() (types.Message, bool)
	Reset()
}

// Translator resolves classifications into translations.
type Translator interface {
	GetOrTranslate(ctx context.Context, c types.Classification) (types.Translation, error)
	Reload(lore config.Lore)
}

// Classifier labels stable candidates.
type Classifier interface {
	ClassifyCandidate(c types.StableCandidate, previousSpeaker string) types.Classification
}

// CaptureResetter drops capture-side caches.
type CaptureResetter interface {
	RequestReset()
}

// LoreLoader re-reads the reloadable game data.
type LoreLoader func() (config.Lore, error)

// Deps are the collaborators a Manager drives. Bridge, Capture, Frames,
// History and LoadLore may be nil.
type Deps struct {
	Classifier Classifier
	Translator Translator
	Sink       Sink
	Bridge     Bridge
	Capture    CaptureResetter
	Frames     <-chan types.Frame
	History    *history.Store
	LoadLore   LoreLoader
}

// Config tunes the pipeline loop.
type Config struct {
	StabilityThreshold int
	PollInterval       time.Duration
	TranslationTimeout time.Duration
}

// ConfigFrom builds the pipeline config from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{StabilityThreshold: cfg.StabilityThreshold}
}

// Status is a point-in-time view of the pipeline for the control surface.
type Status struct {
	Bridge            string           `json:"bridge"`
	BridgeUnavailable bool             `json:"bridge_unavailable"`
	Gate              stability.State  `json:"gate"`
	InFlight          bool             `json:"in_flight"`
	Pending           bool             `json:"pending"`
	Last              *LastTranslation `json:"last,omitempty"`
	LastError         string           `json:"last_error,omitempty"`
}

// LastTranslation is the most recently published translation.
type LastTranslation struct {
	Source  string     `json:"source"`
	Text    string     `json:"text"`
	Speaker string     `json:"speaker,omitempty"`
	Kind    types.Kind `json:"kind"`
}
