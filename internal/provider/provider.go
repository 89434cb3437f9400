// Package provider defines the translation backend boundary. Backends are
// black boxes that turn a prompt into translated text.
package provider

import "context"

// GenerationConfig carries per-request generation settings.
type GenerationConfig struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Provider translates a fully built prompt.
type Provider interface {
	Translate(ctx context.Context, prompt string, cfg GenerationConfig) (string, error)
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context, prompt string, cfg GenerationConfig) (string, error)

// Translate implements Provider.
func (f Func) Translate(ctx context.Context, prompt string, cfg GenerationConfig) (string, error) {
	return f(ctx, prompt, cfg)
}
