package main

import (
	"fmt"
	"slices"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/GriffinCanCode/lorelens/internal/config"
	"github.com/GriffinCanCode/lorelens/internal/provider"
	"github.com/GriffinCanCode/lorelens/internal/provider/anyllm"
	"github.com/GriffinCanCode/lorelens/internal/provider/mock"
	"github.com/GriffinCanCode/lorelens/internal/provider/openai"
)

// newProvider builds the translation backend named in cfg. OpenAI goes
// through the native SDK; every other hosted or local backend goes through
// any-llm-go.
func newProvider(cfg config.Provider) (provider.Provider, error) {
	switch cfg.Name {
	case "openai":
		var opts []openai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(cfg.Timeout))
		}
		return openai.New(cfg.APIKey, cfg.Model, opts...)
	case "mock":
		return &mock.Provider{}, nil
	}

	if !slices.Contains(anyllm.Supported, cfg.Name) {
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	return anyllm.New(cfg.Name, cfg.Model, opts...)
}
