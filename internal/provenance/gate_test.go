// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provenance

import (
	"context"
	"fmt"
	"testing"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

// mapResolver backs the gate with an in-memory triplet table.
type mapResolver map[string]*types.Triplet

func (m mapResolver) GetTriplet(_ context.Context, id string) (*types.Triplet, error) {
	t, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("triplet %s not found", id)
	}
	return t, nil
}

func approvedTriplet() *types.Triplet {
	return &types.Triplet{
		ID:       "abc123def456",
		Subject:  "Metformin",
		Action:   "treats",
		Object:   "Type 2 Diabetes",
		Relation: "TREATS",
		SourceID: "PMID:12345678",
		Status:   types.TripletAccepted,
	}
}

func gatedDraft() types.MCQDraft {
	return types.MCQDraft{
		Stem:     "A 54-year-old patient presents with newly diagnosed type 2 diabetes.",
		Question: "Which agent is first-line therapy?",
		Options: []string{
			"Metformin", "Glibenclamide", "Insulin glargine", "Sitagliptin", "Pioglitazone",
		},
		CorrectIndex: 0,
		TripletID:    "abc123def456",
		SourceID:     "PMID:12345678",
		Status:       types.DraftApproved,
	}
}

func TestGatePasses(t *testing.T) {
	resolver := mapResolver{"abc123def456": approvedTriplet()}

	res := Gate(context.Background(), resolver, gatedDraft())
	if !res.Pass {
		t.Fatalf("gate failed: %s", res.Reason)
	}
}

func TestGateRejections(t *testing.T) {
	tests := []struct {
		name    string
		resolve func() mapResolver
		mutate  func(*types.MCQDraft)
	}{
		{
			"missing triplet reference",
			func() mapResolver { return mapResolver{"abc123def456": approvedTriplet()} },
			func(d *types.MCQDraft) { d.TripletID = "" },
		},
		{
			"unresolvable triplet",
			func() mapResolver { return mapResolver{} },
			func(d *types.MCQDraft) {},
		},
		{
			"triplet not accepted",
			func() mapResolver {
				tr := approvedTriplet()
				tr.Status = types.TripletPending
				return mapResolver{tr.ID: tr}
			},
			func(d *types.MCQDraft) {},
		},
		{
			"triplet without source",
			func() mapResolver {
				tr := approvedTriplet()
				tr.SourceID = ""
				return mapResolver{tr.ID: tr}
			},
			func(d *types.MCQDraft) {},
		},
		{
			"source mismatch",
			func() mapResolver { return mapResolver{"abc123def456": approvedTriplet()} },
			func(d *types.MCQDraft) { d.SourceID = "PMID:99999999" },
		},
		{
			"wrong option count",
			func() mapResolver { return mapResolver{"abc123def456": approvedTriplet()} },
			func(d *types.MCQDraft) { d.Options = d.Options[:4] },
		},
		{
			"correct index out of range",
			func() mapResolver { return mapResolver{"abc123def456": approvedTriplet()} },
			func(d *types.MCQDraft) { d.CorrectIndex = 7 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := gatedDraft()
			tt.mutate(&draft)
			res := Gate(context.Background(), tt.resolve(), draft)
			if res.Pass {
				t.Fatal("expected gate rejection")
			}
			if res.Reason == "" {
				t.Fatal("gate rejection must carry a reason")
			}
		})
	}
}

// High confidence cannot override the gate.
func TestGateIgnoresConfidence(t *testing.T) {
	draft := gatedDraft()
	draft.LastCritique = &types.Critique{Overall: 1.0, Scores: map[string]float64{
		types.DimProvenance: 1.0, types.DimSchema: 1.0, types.DimDistractors: 1.0, types.DimClarity: 1.0,
	}}
	draft.TripletID = ""

	res := Gate(context.Background(), mapResolver{}, draft)
	if res.Pass {
		t.Fatal("confidence must not bypass the gate")
	}
}
