// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provenance

import (
	"context"
	"fmt"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

// TripletResolver resolves a triplet reference to its stored record.
// Satisfied by the KB store.
type TripletResolver interface {
	GetTriplet(ctx context.Context, id string) (*types.Triplet, error)
}

// GateResult is the gate's verdict. A failed gate routes the draft back into
// the refine loop; it is never a silent discard.
type GateResult struct {
	// Pass is true when the provenance chain resolved.
	Pass bool `json:"pass" yaml:"pass"`

	// Reason explains a failure. Empty on pass.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Gate applies the hard provenance check to an approved draft: the correct
// option must resolve through the draft's triplet reference to exactly one
// accepted triplet carrying a non-empty source ID that matches the draft's.
// Confidence scores cannot override this check.
func Gate(ctx context.Context, resolver TripletResolver, draft types.MCQDraft) GateResult {
	if len(draft.Options) != types.OptionCount {
		return fail("draft has %d options, want %d", len(draft.Options), types.OptionCount)
	}
	if draft.CorrectIndex < 0 || draft.CorrectIndex >= len(draft.Options) {
		return fail("correct index %d out of range", draft.CorrectIndex)
	}
	if draft.Options[draft.CorrectIndex] == "" {
		return fail("correct option is empty")
	}
	if draft.TripletID == "" {
		return fail("draft carries no approved-triplet reference")
	}

	triplet, err := resolver.GetTriplet(ctx, draft.TripletID)
	if err != nil {
		return fail("resolving triplet %s: %v", draft.TripletID, err)
	}
	if triplet.Status != types.TripletAccepted {
		return fail("triplet %s is %s, not accepted", draft.TripletID, triplet.Status)
	}
	if triplet.SourceID == "" {
		return fail("triplet %s has no source ID", draft.TripletID)
	}
	if draft.SourceID == "" {
		return fail("draft has no source ID")
	}
	if draft.SourceID != triplet.SourceID {
		return fail("draft source %s does not match triplet source %s", draft.SourceID, triplet.SourceID)
	}

	return GateResult{Pass: true}
}

func fail(format string, args ...any) GateResult {
	return GateResult{Pass: false, Reason: fmt.Sprintf(format, args...)}
}
