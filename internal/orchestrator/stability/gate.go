// Package stability decides when captured text has settled. Text must repeat
// unchanged for a number of consecutive samples before it is released, and
// the same text is never released twice in a row within one epoch.
package stability

import "github.com/GriffinCanCode/lorelens/pkg/types"

// DefaultThreshold is the number of identical samples needed to release.
const DefaultThreshold = 2

// State is a snapshot of the gate.
type State struct {
	Candidate    string `json:"candidate"`
	Count        int    `json:"count"`
	LastReleased string `json:"last_released"`
	Epoch        uint64 `json:"epoch"`
}

// Gate is the stability state machine. It is owned by the pipeline loop and
// is not safe for concurrent use.
type Gate struct {
	threshold int

	pending      types.StableCandidate // value being counted
	count        int
	latest       types.StableCandidate // most recent non-empty sample
	lastReleased string
	epoch        uint64
}

// New creates a gate. Thresholds below 1 use DefaultThreshold.
func New(threshold int) *Gate {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Gate{threshold: threshold}
}

// Observe feeds one sample. Only obs.Text is compared; the other fields are
// carried through to the released candidate.
func (g *Gate) Observe(obs types.StableCandidate) (types.StableCandidate, bool) {
	if obs.Text == "" {
		g.clearCount()
		g.latest = types.StableCandidate{}
		return types.StableCandidate{}, false
	}
	g.latest = obs

	if obs.Text != g.pending.Text {
		g.count = 0
	}
	g.pending = obs
	g.count++

	if g.count < g.threshold || obs.Text == g.lastReleased {
		return types.StableCandidate{}, false
	}
	return g.release(obs, types.SourceCapture), true
}

// Force releases the latest sample immediately, even if it was released
// before. It returns false when there is nothing on screen.
func (g *Gate) Force() (types.StableCandidate, bool) {
	if g.latest.Text == "" {
		return types.StableCandidate{}, false
	}
	return g.release(g.latest, types.SourceManual), true
}

// Reset starts a new epoch: counters are cleared and previously released
// text may be released again.
func (g *Gate) Reset() {
	g.clearCount()
	g.latest = types.StableCandidate{}
	g.lastReleased = ""
	g.epoch++
}

// State returns a snapshot.
func (g *Gate) State() State {
	return State{
		Candidate:    g.pending.Text,
		Count:        g.count,
		LastReleased: g.lastReleased,
		Epoch:        g.epoch,
	}
}

func (g *Gate) release(c types.StableCandidate, src types.Source) types.StableCandidate {
	c.Source = src
	c.Areas = append([]string(nil), c.Areas...)
	g.lastReleased = c.Text
	g.clearCount()
	return c
}

func (g *Gate) clearCount() {
	g.pending = types.StableCandidate{}
	g.count = 0
}
