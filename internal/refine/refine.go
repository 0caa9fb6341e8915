// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package refine runs the bounded write/critique/revise loop that turns an
// approved triplet into a question draft. The loop never passes a draft the
// critic hard-failed, and it never runs past its iteration budget: a draft
// that cannot clear review within budget comes back rejected, not retried
// forever.
package refine

import (
	"context"
	"fmt"

	"github.com/pdiddy/mcq-forge/internal/llm"
	"github.com/pdiddy/mcq-forge/pkg/types"
)

const (
	defaultMaxIterations = 3
	defaultPassThreshold = 0.5
)

// Loop drives draft generation for one triplet at a time.
type Loop struct {
	provider      llm.Provider
	maxIterations int
	passThreshold float64
}

// NewLoop builds a refinement loop. Non-positive config values fall back to
// the defaults.
func NewLoop(provider llm.Provider, cfg types.RefineConfig) *Loop {
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	threshold := cfg.PassThreshold
	if threshold <= 0 {
		threshold = defaultPassThreshold
	}
	return &Loop{
		provider:      provider,
		maxIterations: maxIterations,
		passThreshold: threshold,
	}
}

// writerOutput is the draft shape the writer and refiner must produce.
type writerOutput struct {
	Stem         string   `json:"stem"`
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	VisualPrompt string   `json:"visual_prompt"`
}

// Generate writes a first draft for the triplet and runs it through the
// critique loop. The returned draft is approved or rejected; an error means
// the loop could not produce a draft at all.
func (l *Loop) Generate(ctx context.Context, triplet types.Triplet, distractors []types.Triplet) (*types.MCQDraft, error) {
	data := buildData(triplet, distractors)

	prompt, err := render(writerPromptTmpl, data)
	if err != nil {
		return nil, err
	}
	out, err := l.completeDraft(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("writing draft for triplet %s: %w", triplet.ID, err)
	}

	draft := &types.MCQDraft{
		Stem:         out.Stem,
		Question:     out.Question,
		Options:      out.Options,
		CorrectIndex: out.CorrectIndex,
		TripletID:    triplet.ID,
		SourceID:     triplet.SourceID,
		VisualPrompt: out.VisualPrompt,
		Status:       types.DraftDrafting,
	}

	if err := l.Resume(ctx, draft, triplet, distractors); err != nil {
		return nil, err
	}
	return draft, nil
}

// Resume runs the critique loop over an existing draft until it passes or
// the iteration budget runs out. Gate failures and human revision requests
// re-enter here with their feedback already appended, sharing whatever
// budget the draft has left.
func (l *Loop) Resume(ctx context.Context, draft *types.MCQDraft, triplet types.Triplet, distractors []types.Triplet) error {
	if draft.Iterations >= l.maxIterations {
		draft.Status = types.DraftRejected
		return nil
	}

	data := buildData(triplet, distractors)

	// Pending feedback from outside the loop forces one revision before
	// the critic sees the draft again.
	if len(draft.Feedback) > 0 && draft.Status != types.DraftDrafting {
		if err := l.revise(ctx, draft, data); err != nil {
			return err
		}
	}

	for draft.Iterations < l.maxIterations {
		if err := ctx.Err(); err != nil {
			return err
		}

		critique, err := l.critique(ctx, draft, data)
		draft.Iterations++
		if err != nil {
			// A failed critique call consumes the iteration. Transient
			// provider trouble must not buy the draft extra attempts.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			draft.Feedback = append(draft.Feedback, fmt.Sprintf("critique attempt failed: %v", err))
			continue
		}

		draft.LastCritique = critique
		draft.Status = types.DraftCritiqued

		if critique.Passed(l.passThreshold) {
			draft.Status = types.DraftApproved
			return nil
		}

		draft.Feedback = append(draft.Feedback, critique.Feedback)
		if draft.Iterations >= l.maxIterations {
			break
		}

		if err := l.revise(ctx, draft, data); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			draft.Feedback = append(draft.Feedback, fmt.Sprintf("revision attempt failed: %v", err))
		}
	}

	draft.Status = types.DraftRejected
	return nil
}

// critique asks the critic to score the current draft.
func (l *Loop) critique(ctx context.Context, draft *types.MCQDraft, data promptData) (*types.Critique, error) {
	data.Draft = draftJSON(draft)
	prompt, err := render(criticPromptTmpl, data)
	if err != nil {
		return nil, err
	}

	raw, err := l.provider.Complete(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return nil, err
	}

	var critique types.Critique
	if err := llm.DecodeJSON(l.provider.Name(), raw, &critique); err != nil {
		return nil, err
	}
	return &critique, nil
}

// revise asks the refiner for a new draft addressing all feedback so far.
func (l *Loop) revise(ctx context.Context, draft *types.MCQDraft, data promptData) error {
	data.Draft = draftJSON(draft)
	data.Feedback = draft.Feedback
	prompt, err := render(refinerPromptTmpl, data)
	if err != nil {
		return err
	}

	out, err := l.completeDraft(ctx, prompt)
	if err != nil {
		return err
	}

	draft.Stem = out.Stem
	draft.Question = out.Question
	draft.Options = out.Options
	draft.CorrectIndex = out.CorrectIndex
	if out.VisualPrompt != "" {
		draft.VisualPrompt = out.VisualPrompt
	}
	return nil
}

// completeDraft runs one writer or refiner call and validates the shape of
// the result.
func (l *Loop) completeDraft(ctx context.Context, prompt string) (*writerOutput, error) {
	raw, err := l.provider.Complete(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return nil, err
	}

	var out writerOutput
	if err := llm.DecodeJSON(l.provider.Name(), raw, &out); err != nil {
		return nil, err
	}
	if len(out.Options) != types.OptionCount {
		return nil, fmt.Errorf("draft has %d options, want %d", len(out.Options), types.OptionCount)
	}
	if out.CorrectIndex < 0 || out.CorrectIndex >= len(out.Options) {
		return nil, fmt.Errorf("correct index %d out of range", out.CorrectIndex)
	}
	return &out, nil
}
