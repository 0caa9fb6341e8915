// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pdiddy/mcq-forge/internal/httputil"
	"github.com/pdiddy/mcq-forge/pkg/types"
)

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Stem string `json:"stem"`
	}

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"plain", `{"stem": "A patient presents"}`, "A patient presents", false},
		{"fenced", "```json\n{\"stem\": \"fenced\"}\n```", "fenced", false},
		{"fenced without hint", "```\n{\"stem\": \"bare fence\"}\n```", "bare fence", false},
		{"surrounding whitespace", "  \n{\"stem\": \"padded\"}\n ", "padded", false},
		{"malformed", `{"stem": `, "", true},
		{"prose instead of json", "Here is your question.", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			err := DecodeJSON("openai", tt.raw, &p)
			if tt.wantErr {
				var perr *ProviderError
				if !errors.As(err, &perr) {
					t.Fatalf("expected ProviderError, got %v", err)
				}
				if perr.Retryable {
					t.Fatal("malformed output is not retryable")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if p.Stem != tt.want {
				t.Fatalf("stem = %q, want %q", p.Stem, tt.want)
			}
		})
	}
}

func TestOpenAIComplete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": `{"ok": true}`}},
			},
		})
	}))
	defer ts.Close()

	p, err := NewOpenAI(types.LLMConfig{APIKey: "test-key", BaseURL: ts.URL})
	if err != nil {
		t.Fatal(err)
	}

	out, err := p.Complete(context.Background(), Request{System: "be terse", Prompt: "emit json"})
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"ok": true}` {
		t.Fatalf("content = %q", out)
	}
}

func TestOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI(types.LLMConfig{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestClaudeComplete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": `{"ok": true}`}},
		})
	}))
	defer ts.Close()

	old := claudeAPIURL
	claudeAPIURL = ts.URL
	defer func() { claudeAPIURL = old }()

	p, err := NewClaude(types.LLMConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}

	out, err := p.Complete(context.Background(), Request{Prompt: "emit json"})
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"ok": true}` {
		t.Fatalf("content = %q", out)
	}
}

func TestClaudeRateLimitedThenOK(t *testing.T) {
	oldDelay := httputil.RetryBaseDelay
	httputil.RetryBaseDelay = time.Millisecond
	defer func() { httputil.RetryBaseDelay = oldDelay }()

	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": "ok"}},
		})
	}))
	defer ts.Close()

	old := claudeAPIURL
	claudeAPIURL = ts.URL
	defer func() { claudeAPIURL = old }()

	p, err := NewClaude(types.LLMConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}

	out, err := p.Complete(context.Background(), Request{Prompt: "emit json"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok" || calls != 2 {
		t.Fatalf("out = %q, calls = %d", out, calls)
	}
}

func TestClaudeServerErrorIsRetryableProviderError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	old := claudeAPIURL
	claudeAPIURL = ts.URL
	defer func() { claudeAPIURL = old }()

	p, err := NewClaude(types.LLMConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Complete(context.Background(), Request{Prompt: "x"})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !perr.Retryable {
		t.Fatal("5xx should be retryable")
	}
}

func TestNewFactory(t *testing.T) {
	if _, err := New(types.LLMConfig{Provider: "openai", APIKey: "k"}); err != nil {
		t.Fatal(err)
	}
	if _, err := New(types.LLMConfig{Provider: "claude", APIKey: "k"}); err != nil {
		t.Fatal(err)
	}
	if _, err := New(types.LLMConfig{Provider: "gemini", APIKey: "k"}); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}
