// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm abstracts language-model completion providers behind a single
// interface. Pipeline stages prompt for strict JSON and decode at the
// boundary; output that does not conform is a ProviderError, never trusted
// structure.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

// Provider is a language-model completion backend.
type Provider interface {
	// Name returns the provider identifier ("openai", "claude").
	Name() string

	// Complete sends one prompt and returns the raw response text.
	Complete(ctx context.Context, req Request) (string, error)
}

// Request is one completion call.
type Request struct {
	// System is the system instruction, empty to omit.
	System string

	// Prompt is the user message.
	Prompt string

	// MaxTokens caps the response length; zero uses the provider default.
	MaxTokens int
}

// ProviderError is a typed external-call failure. The orchestrator branches
// on Retryable to apply stage retry policy.
type ProviderError struct {
	// Provider is the backend that failed.
	Provider string

	// Op names the failing operation ("complete", "decode", "image").
	Op string

	// Retryable marks transient failures: rate limits and timeouts.
	Retryable bool

	// Err is the underlying cause.
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DecodeJSON parses provider output into v, tolerating Markdown code fences
// around the JSON body. Non-conforming output is a ProviderError.
func DecodeJSON(provider, raw string, v any) error {
	trimmed := stripFences(raw)
	if err := json.Unmarshal([]byte(trimmed), v); err != nil {
		return &ProviderError{
			Provider: provider,
			Op:       "decode",
			Err:      fmt.Errorf("malformed JSON output: %w", err),
		}
	}
	return nil
}

// stripFences removes a surrounding ```json ... ``` fence if present.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && strings.EqualFold(strings.TrimSpace(s[:idx]), "json") {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// New builds the configured provider.
func New(cfg types.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(cfg)
	case "claude":
		return NewClaude(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
