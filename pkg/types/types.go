// Package types holds the value types that flow between the capture, bridge,
// gate, classifier and translation stages. Every stage hands these off by
// value; none of them carry references back into the producer.
package types

import (
	"time"

	"github.com/corona10/goimagehash"
)

// AreaRole tells the pipeline how to merge an area's text with the others.
type AreaRole string

const (
	RoleName AreaRole = "name"
	RoleBody AreaRole = "body"
)

// Observation is one polling-cycle capture result for a screen area.
type Observation struct {
	AreaID    string
	Role      AreaRole
	Text      string
	Signature *goimagehash.ExtImageHash
	Cached    bool // text came from the signature cache, OCR was skipped
	Timestamp time.Time
}

// Frame groups the observations of a single capture tick.
type Frame struct {
	Observations []Observation
	Timestamp    time.Time
}

// Text returns the text observed for the first area with the given role.
func (f Frame) Text(role AreaRole) string {
	for _, o := range f.Observations {
		if o.Role == role {
			return o.Text
		}
	}
	return ""
}

// Message is a structured record received from the game-text bridge.
type Message struct {
	Speaker    string
	Body       string
	Channel    string
	ReceivedAt time.Time
}

// Source identifies where a StableCandidate came from.
type Source string

const (
	SourceCapture Source = "capture"
	SourceBridge  Source = "bridge"
	SourceManual  Source = "manual"
)

// StableCandidate is text judged final and ready for translation.
type StableCandidate struct {
	Text   string
	Source Source
	Areas  []string

	// Name and Body are set when the candidate was merged from separate
	// name and body areas (or a bridge message with a speaker).
	Name string
	Body string
}

// Kind is the dialogue classification of a candidate.
type Kind string

const (
	KindNormal            Kind = "normal"
	KindNarration         Kind = "narration"
	KindChoice            Kind = "choice"
	KindSpeakerInText     Kind = "speaker_in_text"
	KindDialogWithoutName Kind = "dialog_without_name"
	KindUnknown           Kind = "unknown"
)

// Classification is derived purely from a candidate's text.
type Classification struct {
	Speaker string
	Content string
	Kind    Kind
	Choices []string

	// Masked is set when the content itself is a masked-name placeholder;
	// the pipeline publishes the sentinel without calling the provider.
	Masked bool
}

// Translation is the result published to the display sink.
type Translation struct {
	Source      string
	Text        string
	Speaker     string
	Kind        Kind
	Cached      bool
	CandidateOf Source
}

// ConnectionState is the bridge connection state.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}
