// Package mock provides a test double for provider.Provider.
//
// Respond decides the reply; without it the mock echoes the prompt's last
// line prefixed with "tr:". Every call is recorded.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/lorelens/internal/provider"
)

// Call records a single Translate invocation.
type Call struct {
	Prompt string
	Config provider.GenerationConfig
}

// Provider is a scriptable provider.Provider.
type Provider struct {
	mu sync.Mutex

	// Respond, if set, produces the reply for each prompt.
	Respond func(prompt string) (string, error)
	// Err, if non-nil, is returned by every call.
	Err error
	// Delay blocks each call until it elapses or ctx is done.
	Delay time.Duration

	calls []Call
}

// Translate implements provider.Provider.
func (p *Provider) Translate(ctx context.Context, prompt string, cfg provider.GenerationConfig) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Prompt: prompt, Config: cfg})
	respond, err, delay := p.Respond, p.Err, p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if respond != nil {
		return respond(prompt)
	}
	return "tr:" + LastLine(prompt), nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of Translate calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// SetErr changes Err while calls may be running.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	p.Err = err
	p.mu.Unlock()
}

// Reset forgets recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	p.calls = nil
	p.mu.Unlock()
}

// LastLine returns the last non-empty line of s.
func LastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
