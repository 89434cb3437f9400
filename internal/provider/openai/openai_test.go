package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GriffinCanCode/lorelens/internal/provider"
)

func TestNewValidates(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("empty api key accepted")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("empty model accepted")
	}
}

func TestBuildParams(t *testing.T) {
	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	params := p.buildParams("translate me", provider.GenerationConfig{SystemPrompt: "sys", Temperature: 0.3, MaxTokens: 200})
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil || params.Messages[1].OfUser == nil {
		t.Error("expected system then user message")
	}
	if params.Temperature.Value != 0.3 {
		t.Errorf("temperature = %v", params.Temperature.Value)
	}
	if params.MaxCompletionTokens.Value != 200 {
		t.Errorf("max tokens = %v", params.MaxCompletionTokens.Value)
	}

	params = p.buildParams("x", provider.GenerationConfig{})
	if len(params.Messages) != 1 {
		t.Errorf("messages without system prompt = %d, want 1", len(params.Messages))
	}
}

func TestTranslateAgainstCompatibleServer(t *testing.T) {
	var gotModel, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		if n := len(body.Messages); n > 0 {
			gotPrompt = body.Messages[n-1].Content
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  Bonjour  "}}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Translate(context.Background(), "Hello", provider.GenerationConfig{})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "Bonjour" {
		t.Errorf("Translate = %q, want %q", got, "Bonjour")
	}
	if gotModel != "gpt-4o-mini" || gotPrompt != "Hello" {
		t.Errorf("request model=%q prompt=%q", gotModel, gotPrompt)
	}
}

func TestTranslateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"nope"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Translate(context.Background(), "Hello", provider.GenerationConfig{}); err == nil {
		t.Error("expected error from 401")
	}
}
