// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract turns source text into candidate fact triplets. Every
// candidate passes through schema validation and provenance verification
// before it reaches a reviewer; failures are kept and flagged, never
// silently dropped.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/mcq-forge/internal/llm"
	"github.com/pdiddy/mcq-forge/internal/provenance"
	"github.com/pdiddy/mcq-forge/internal/schema"
	"github.com/pdiddy/mcq-forge/pkg/types"
)

// Context-sentence bounds per triplet. Out-of-range evidence flags the
// candidate for review rather than rejecting it outright.
const (
	minContextSentences = 2
	maxContextSentences = 4
)

// ExtractionError is a failed extraction attempt for one source. The
// orchestrator's retry policy branches on Retryable.
type ExtractionError struct {
	SourceID  string
	Retryable bool
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting from %s: %v", e.SourceID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// modelTriplet is one triplet as returned by the model.
type modelTriplet struct {
	Subject          string   `json:"subject"`
	Action           string   `json:"action"`
	Object           string   `json:"object"`
	Relation         string   `json:"relation"`
	ContextSentences []string `json:"context_sentences"`
}

// modelResponse is the full model output for one source.
type modelResponse struct {
	Triplets []modelTriplet `json:"triplets"`
}

// Extractor runs model-based fact extraction over a single source and
// validates the output.
type Extractor struct {
	provider llm.Provider
	schema   *schema.Schema
	verifier *provenance.Verifier
}

// NewExtractor wires an extractor from its three collaborators.
func NewExtractor(provider llm.Provider, sch *schema.Schema, verifier *provenance.Verifier) *Extractor {
	return &Extractor{provider: provider, schema: sch, verifier: verifier}
}

// Extract prompts the model for triplets from one source and validates each
// against the relation taxonomy and the source text. Candidates that pass
// both checks come back pending; failures come back needs_review with the
// reasons attached. A zero-length result is not an error: the caller decides
// how to handle sources with nothing extractable.
func (e *Extractor) Extract(ctx context.Context, src types.Source) ([]types.Triplet, error) {
	if strings.TrimSpace(src.Text) == "" {
		return nil, &ExtractionError{SourceID: src.ID, Err: fmt.Errorf("source has no text")}
	}

	prompt, err := renderPrompt(src.Text, e.schema.RelationIDs())
	if err != nil {
		return nil, &ExtractionError{SourceID: src.ID, Err: fmt.Errorf("rendering prompt: %w", err)}
	}

	raw, err := e.provider.Complete(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return nil, &ExtractionError{SourceID: src.ID, Retryable: isRetryable(err), Err: err}
	}

	var resp modelResponse
	if err := llm.DecodeJSON(e.provider.Name(), raw, &resp); err != nil {
		// Malformed output is worth one more attempt: models frequently
		// produce valid JSON on retry.
		return nil, &ExtractionError{SourceID: src.ID, Retryable: true, Err: err}
	}

	now := time.Now().UTC()
	out := make([]types.Triplet, 0, len(resp.Triplets))
	for _, mt := range resp.Triplets {
		t := types.Triplet{
			Subject:          strings.TrimSpace(mt.Subject),
			Action:           strings.TrimSpace(mt.Action),
			Object:           strings.TrimSpace(mt.Object),
			Relation:         strings.TrimSpace(mt.Relation),
			ContextSentences: mt.ContextSentences,
			SourceID:         src.ID,
			Status:           types.TripletPending,
			CreatedAt:        now,
		}
		t.ID = t.StableID()
		t.ReviewReasons = e.validate(t, src.Text)
		if len(t.ReviewReasons) > 0 {
			t.Status = types.TripletNeedsReview
		}
		out = append(out, t)
	}

	return out, nil
}

// validate collects every reason this candidate needs human attention.
func (e *Extractor) validate(t types.Triplet, sourceText string) []string {
	var reasons []string

	if res := e.schema.Validate(t); !res.Valid {
		reasons = append(reasons, res.Reasons...)
	}

	if n := len(t.ContextSentences); n < minContextSentences || n > maxContextSentences {
		reasons = append(reasons, fmt.Sprintf("expected %d-%d context sentences, got %d",
			minContextSentences, maxContextSentences, n))
	}

	if res := e.verifier.Verify(t, sourceText); !res.Verified {
		for _, s := range res.Unmatched {
			reasons = append(reasons, fmt.Sprintf("sentence not found in source: %q", s))
		}
	}

	return reasons
}

// isRetryable unwraps provider errors to their transient flag.
func isRetryable(err error) bool {
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
