// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package kb

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/pdiddy/mcq-forge/internal/source"
	"github.com/pdiddy/mcq-forge/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(types.KBConfig{DataDir: t.TempDir(), MaxResults: 10})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSource(id string) types.Source {
	return types.Source{
		ID:      id,
		Type:    types.SourcePubMed,
		Title:   "Metformin in type 2 diabetes",
		Authors: []string{"Smith J", "Jones K"},
		Year:    2021,
		Text:    "Metformin is first-line therapy. It lowers HbA1c by about 1.1 points.",
	}
}

func sampleTriplet(sourceID string) types.Triplet {
	t := types.Triplet{
		Subject:  "Metformin",
		Action:   "is first-line therapy for",
		Object:   "Type 2 Diabetes",
		Relation: "TREATS",
		ContextSentences: []string{
			"Metformin is first-line therapy.",
		},
		SourceID: sourceID,
		Status:   types.TripletPending,
	}
	t.ID = t.StableID()
	return t
}

func mustSaveSource(t *testing.T, s *Store, src types.Source) {
	t.Helper()
	if err := s.SaveSource(context.Background(), src); err != nil {
		t.Fatalf("SaveSource: %v", err)
	}
}

func TestSourceRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	src := sampleSource("PMID:12345")
	mustSaveSource(t, s, src)

	got, err := s.GetSource(ctx, "PMID:12345")
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if got.Title != src.Title || got.Year != src.Year {
		t.Errorf("got %+v", got)
	}
	if len(got.Authors) != 2 || got.Authors[0] != "Smith J" {
		t.Errorf("authors = %v", got.Authors)
	}

	// Re-ingest does not overwrite.
	src.Title = "changed"
	mustSaveSource(t, s, src)
	got, _ = s.GetSource(ctx, "PMID:12345")
	if got.Title == "changed" {
		t.Error("source was mutated on re-ingest")
	}
}

func TestGetSourceNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetSource(context.Background(), "PMID:nope")
	var nf *source.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestSaveCandidatesAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustSaveSource(t, s, sampleSource("PMID:1"))

	tr1 := sampleTriplet("PMID:1")
	tr2 := sampleTriplet("PMID:1")
	tr2.Object = "Prediabetes"
	tr2.ID = tr2.StableID()
	tr2.Status = types.TripletNeedsReview
	tr2.ReviewReasons = []string{"relation not in taxonomy"}

	if err := s.SaveCandidates(ctx, []types.Triplet{tr1, tr2}); err != nil {
		t.Fatalf("SaveCandidates: %v", err)
	}

	got, err := s.ListBySource(ctx, "PMID:1")
	if err != nil {
		t.Fatalf("ListBySource: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d triplets", len(got))
	}
	if got[1].Status != types.TripletNeedsReview {
		t.Errorf("status = %q", got[1].Status)
	}
	if len(got[1].ReviewReasons) != 1 {
		t.Errorf("reasons = %v", got[1].ReviewReasons)
	}
}

func TestUpsertNew(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustSaveSource(t, s, sampleSource("PMID:1"))

	tr := sampleTriplet("PMID:1")
	if err := s.SaveCandidates(ctx, []types.Triplet{tr}); err != nil {
		t.Fatal(err)
	}

	res, err := s.Upsert(ctx, tr)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if res.Status != UpsertNew || res.ID != tr.ID {
		t.Errorf("result = %+v", res)
	}

	got, err := s.GetTriplet(ctx, tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.TripletAccepted {
		t.Errorf("status = %q", got.Status)
	}
}

func TestUpsertDuplicateAndMerge(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustSaveSource(t, s, sampleSource("PMID:1"))
	mustSaveSource(t, s, sampleSource("PMID:2"))

	tr := sampleTriplet("PMID:1")
	if _, err := s.Upsert(ctx, tr); err != nil {
		t.Fatal(err)
	}

	// Same fact, same evidence, case and spacing differ: duplicate.
	dup := tr
	dup.Subject = "METFORMIN"
	dup.Action = "is  first-line   therapy for"
	dup.SourceID = "PMID:2"
	dup.ID = dup.StableID()
	res, err := s.Upsert(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate Upsert: %v", err)
	}
	if res.Status != UpsertDuplicate || res.ID != tr.ID {
		t.Errorf("result = %+v", res)
	}

	// Same fact, new evidence: merged.
	dup.ContextSentences = []string{
		"Metformin is first-line therapy.",
		"Guidelines place metformin first among oral agents.",
	}
	res, err = s.Upsert(ctx, dup)
	if err != nil {
		t.Fatalf("merge Upsert: %v", err)
	}
	if res.Status != UpsertMerged || res.ID != tr.ID {
		t.Errorf("result = %+v", res)
	}

	got, _ := s.GetTriplet(ctx, tr.ID)
	if len(got.ContextSentences) != 2 {
		t.Errorf("sentences = %v", got.ContextSentences)
	}

	accepted, _ := s.ListByStatus(ctx, types.TripletAccepted)
	if len(accepted) != 1 {
		t.Errorf("got %d accepted triplets, want 1", len(accepted))
	}
}

func TestUpsertConcurrentSameKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustSaveSource(t, s, sampleSource("PMID:1"))

	tr := sampleTriplet("PMID:1")

	const workers = 8
	results := make([]UpsertResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Upsert(ctx, tr)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	newCount := 0
	for _, r := range results {
		if r.Status == UpsertNew {
			newCount++
		}
	}
	if newCount != 1 {
		t.Errorf("got %d new insertions, want exactly 1", newCount)
	}
}

func TestSetStatusGuardsAccepted(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustSaveSource(t, s, sampleSource("PMID:1"))

	tr := sampleTriplet("PMID:1")
	if err := s.SaveCandidates(ctx, []types.Triplet{tr}); err != nil {
		t.Fatal(err)
	}

	if err := s.SetStatus(ctx, tr.ID, types.TripletAccepted); err == nil {
		t.Error("SetStatus accepted a direct promotion")
	}

	if err := s.SetStatus(ctx, tr.ID, types.TripletRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}

	if _, err := s.Upsert(ctx, tr); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStatus(ctx, tr.ID, types.TripletRejected); err == nil {
		t.Error("SetStatus demoted an accepted triplet")
	}
}

func TestDistractorCandidates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustSaveSource(t, s, sampleSource("PMID:1"))

	target := sampleTriplet("PMID:1")
	if _, err := s.Upsert(ctx, target); err != nil {
		t.Fatal(err)
	}

	sameSubject := sampleTriplet("PMID:1")
	sameSubject.Action = "causes"
	sameSubject.Object = "Lactic Acidosis"
	sameSubject.Relation = "CAUSES"
	sameSubject.ID = sameSubject.StableID()
	if _, err := s.Upsert(ctx, sameSubject); err != nil {
		t.Fatal(err)
	}

	sameObject := sampleTriplet("PMID:1")
	sameObject.Subject = "Sulfonylureas"
	sameObject.ID = sameObject.StableID()
	if _, err := s.Upsert(ctx, sameObject); err != nil {
		t.Fatal(err)
	}

	unrelated := sampleTriplet("PMID:1")
	unrelated.Subject = "Warfarin"
	unrelated.Object = "Atrial Fibrillation"
	unrelated.ContextSentences = []string{"Warfarin remains in use for atrial fibrillation."}
	unrelated.ID = unrelated.StableID()
	if _, err := s.Upsert(ctx, unrelated); err != nil {
		t.Fatal(err)
	}

	got, err := s.DistractorCandidates(ctx, target)
	if err != nil {
		t.Fatalf("DistractorCandidates: %v", err)
	}

	ids := make(map[string]bool, len(got))
	for _, c := range got {
		if c.ID == target.ID {
			t.Error("target returned as its own distractor")
		}
		ids[c.ID] = true
	}
	if !ids[sameSubject.ID] || !ids[sameObject.ID] {
		t.Errorf("missing overlap candidates: %v", ids)
	}
}

func TestSearchTriplets(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustSaveSource(t, s, sampleSource("PMID:1"))

	tr := sampleTriplet("PMID:1")
	if _, err := s.Upsert(ctx, tr); err != nil {
		t.Fatal(err)
	}

	pending := sampleTriplet("PMID:1")
	pending.Object = "Gestational Diabetes"
	pending.ID = pending.StableID()
	if err := s.SaveCandidates(ctx, []types.Triplet{pending}); err != nil {
		t.Fatal(err)
	}

	got, err := s.SearchTriplets(ctx, "metformin diabetes")
	if err != nil {
		t.Fatalf("SearchTriplets: %v", err)
	}
	if len(got) != 1 || got[0].ID != tr.ID {
		t.Errorf("got %+v, want only the accepted triplet", got)
	}

	got, err = s.SearchTriplets(ctx, "")
	if err != nil || got != nil {
		t.Errorf("empty query: %v, %v", got, err)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustSaveSource(t, s, sampleSource("PMID:1"))

	tr := sampleTriplet("PMID:1")
	if _, err := s.Upsert(ctx, tr); err != nil {
		t.Fatal(err)
	}

	rec := types.MCQRecord{
		Stem:         "A 54-year-old with newly diagnosed type 2 diabetes.",
		Question:     "Which agent is first-line therapy?",
		Options:      []string{"Metformin", "Glipizide", "Insulin glargine", "Empagliflozin", "Pioglitazone"},
		CorrectIndex: 0,
		TripletID:    tr.ID,
		SourceID:     "PMID:1",
		Confidence:   map[string]float64{types.DimClarity: 0.9},
		Status:       types.RecordPending,
	}
	if err := s.SaveRecord(ctx, &rec); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	if rec.ID == "" || rec.Version != 1 {
		t.Errorf("record defaults: id=%q version=%d", rec.ID, rec.Version)
	}

	got, err := s.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if len(got.Options) != types.OptionCount || got.CorrectIndex != 0 {
		t.Errorf("got %+v", got)
	}
	if got.Confidence[types.DimClarity] != 0.9 {
		t.Errorf("confidence = %v", got.Confidence)
	}

	if err := s.SetRecordStatus(ctx, rec.ID, types.RecordApproved); err != nil {
		t.Fatalf("SetRecordStatus: %v", err)
	}
	approved, err := s.ListRecords(ctx, types.RecordApproved)
	if err != nil || len(approved) != 1 {
		t.Fatalf("ListRecords: %v, %d", err, len(approved))
	}
}

func TestSupersede(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustSaveSource(t, s, sampleSource("PMID:1"))

	tr := sampleTriplet("PMID:1")
	if _, err := s.Upsert(ctx, tr); err != nil {
		t.Fatal(err)
	}

	rec := types.MCQRecord{
		Stem:         "Original stem.",
		Question:     "Original question?",
		Options:      []string{"A", "B", "C", "D", "E"},
		CorrectIndex: 0,
		TripletID:    tr.ID,
		SourceID:     "PMID:1",
		Status:       types.RecordApproved,
	}
	if err := s.SaveRecord(ctx, &rec); err != nil {
		t.Fatal(err)
	}

	edited := rec
	edited.Stem = "Clarified stem."
	newRec, err := s.Supersede(ctx, rec.ID, edited)
	if err != nil {
		t.Fatalf("Supersede: %v", err)
	}
	if newRec.Version != 2 || newRec.SupersedesID != rec.ID {
		t.Errorf("new record = %+v", newRec)
	}
	if newRec.TripletID != tr.ID || newRec.SourceID != "PMID:1" {
		t.Error("provenance links not preserved")
	}

	old, _ := s.GetRecord(ctx, rec.ID)
	if old.Status != types.RecordSuperseded {
		t.Errorf("old status = %q", old.Status)
	}
	if old.Stem != "Original stem." {
		t.Error("old version was mutated")
	}

	// A superseded version cannot be edited again.
	if _, err := s.Supersede(ctx, rec.ID, edited); err == nil {
		t.Error("superseded a superseded record")
	}
}

func TestExportYAML(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustSaveSource(t, s, sampleSource("PMID:1"))

	tr := sampleTriplet("PMID:1")
	if _, err := s.Upsert(ctx, tr); err != nil {
		t.Fatal(err)
	}
	rec := types.MCQRecord{
		Stem:         "Stem.",
		Question:     "Question?",
		Options:      []string{"A", "B", "C", "D", "E"},
		CorrectIndex: 0,
		TripletID:    tr.ID,
		SourceID:     "PMID:1",
		Status:       types.RecordApproved,
	}
	if err := s.SaveRecord(ctx, &rec); err != nil {
		t.Fatal(err)
	}

	path, err := s.ExportYAML(ctx, types.RecordApproved)
	if err != nil {
		t.Fatalf("ExportYAML: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{rec.ID, tr.ID, "PMID:1", "Metformin in type 2 diabetes"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("export missing %q", want)
		}
	}

	// Source text must not leak into the export.
	if strings.Contains(string(data), "lowers HbA1c") {
		t.Error("export carries full source text")
	}
}
