package main

import (
	"testing"

	"github.com/GriffinCanCode/lorelens/internal/config"
	"github.com/GriffinCanCode/lorelens/internal/provider/anyllm"
	"github.com/GriffinCanCode/lorelens/internal/provider/mock"
	"github.com/GriffinCanCode/lorelens/internal/provider/openai"
)

func TestNewProvider(t *testing.T) {
	p, err := newProvider(config.Provider{Name: "openai", Model: "gpt-4o-mini", APIKey: "sk-test"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*openai.Provider); !ok {
		t.Errorf("openai: got %T", p)
	}

	p, err = newProvider(config.Provider{Name: "mock"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*mock.Provider); !ok {
		t.Errorf("mock: got %T", p)
	}

	p, err = newProvider(config.Provider{Name: "ollama", Model: "llama3", BaseURL: "http://localhost:11434"})
	if err != nil {
		t.Fatal(err)
	}
	if a, ok := p.(*anyllm.Provider); !ok || a.Name() != "ollama" {
		t.Errorf("ollama: got %T", p)
	}

	if _, err := newProvider(config.Provider{Name: "carrier-pigeon", Model: "x"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{"debug": "DEBUG", "WARN": "WARN", "bogus": "INFO", "": "INFO"}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestCaptureAreas(t *testing.T) {
	cfg := &config.Config{Areas: []config.Area{
		{ID: "name", Role: "name", X: 10, Y: 20, W: 100, H: 30, Enabled: true},
		{ID: "off", X: 0, Y: 0, W: 1, H: 1},
	}}
	areas := captureAreas(cfg)
	if len(areas) != 1 {
		t.Fatalf("got %d areas", len(areas))
	}
	if r := areas[0].Rect; r.Min.X != 10 || r.Min.Y != 20 || r.Dx() != 100 || r.Dy() != 30 {
		t.Errorf("rect = %v", r)
	}
}
