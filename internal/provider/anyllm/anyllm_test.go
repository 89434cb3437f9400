package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/GriffinCanCode/lorelens/internal/provider"
)

func TestNewValidates(t *testing.T) {
	if _, err := New("", "m"); err == nil {
		t.Error("empty provider name accepted")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("empty model accepted")
	}
}

func TestCreateBackendUnsupported(t *testing.T) {
	_, err := createBackend("carrier-pigeon")
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if !strings.Contains(err.Error(), "ollama") {
		t.Errorf("error should list supported backends: %v", err)
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "llama3"}

	params := p.buildParams("Hello", provider.GenerationConfig{SystemPrompt: "sys", Temperature: 0.2, MaxTokens: 64})
	if params.Model != "llama3" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "sys" {
		t.Errorf("system message = %+v", params.Messages[0])
	}
	if params.Messages[1].Role != "user" || params.Messages[1].ContentString() != "Hello" {
		t.Errorf("user message = %+v", params.Messages[1])
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 64 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}

	params = p.buildParams("Hello", provider.GenerationConfig{})
	if len(params.Messages) != 1 || params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("zero config params = %+v", params)
	}
}
