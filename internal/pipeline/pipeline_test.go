// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pdiddy/mcq-forge/internal/extract"
	"github.com/pdiddy/mcq-forge/internal/kb"
	"github.com/pdiddy/mcq-forge/internal/llm"
	"github.com/pdiddy/mcq-forge/internal/provenance"
	"github.com/pdiddy/mcq-forge/internal/refine"
	"github.com/pdiddy/mcq-forge/internal/schema"
	"github.com/pdiddy/mcq-forge/internal/session"
	"github.com/pdiddy/mcq-forge/pkg/types"
)

const articleText = `Metformin remains the recommended first-line agent for type 2 diabetes. ` +
	`Guidelines consistently place metformin ahead of other oral therapies.`

const extractResponse = `{"triplets": [{
	"subject": "Metformin",
	"action": "is first-line therapy for",
	"object": "Type 2 Diabetes",
	"relation": "TREATS",
	"context_sentences": [
		"Metformin remains the recommended first-line agent for type 2 diabetes.",
		"Guidelines consistently place metformin ahead of other oral therapies."
	]
}]}`

const draftResponse = `{
	"stem": "A 54-year-old presents with newly diagnosed type 2 diabetes.",
	"question": "Which agent is first-line therapy?",
	"options": ["Metformin", "Glipizide", "Insulin glargine", "Empagliflozin", "Pioglitazone"],
	"correct_index": 0,
	"visual_prompt": "A glucose meter on a clinic desk."
}`

const passCritique = `{
	"scores": {"provenance_linkage": 0.9, "schema_compliance": 0.95, "distractor_plausibility": 0.8, "clarity": 0.85},
	"overall": 0.88, "hard_fail": false, "feedback": "Solid question."
}`

// scriptProvider replays responses in order, with optional per-call errors.
type scriptProvider struct {
	responses []string
	errAt     map[int]error
	calls     int
}

func (s *scriptProvider) Name() string { return "script" }

func (s *scriptProvider) Complete(_ context.Context, _ llm.Request) (string, error) {
	i := s.calls
	s.calls++
	if err := s.errAt[i]; err != nil {
		return "", err
	}
	if i >= len(s.responses) {
		return "", errors.New("script exhausted")
	}
	return s.responses[i], nil
}

// hookProvider runs a callback before delegating to the wrapped provider.
// Tests use it to interleave operator actions with in-flight model calls.
type hookProvider struct {
	inner  llm.Provider
	before func()
}

func (h *hookProvider) Name() string { return h.inner.Name() }

func (h *hookProvider) Complete(ctx context.Context, req llm.Request) (string, error) {
	h.before()
	return h.inner.Complete(ctx, req)
}

// fakeFetcher returns one canned article.
type fakeFetcher struct{ err error }

func (f *fakeFetcher) Fetch(_ context.Context, pmid string) (*types.Source, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.Source{
		ID:    "PMID:" + pmid,
		Type:  types.SourcePubMed,
		Title: "Metformin in type 2 diabetes",
		Text:  articleText,
	}, nil
}

type fixture struct {
	orch     *Orchestrator
	store    *kb.Store
	sessions *session.Store
	out      *bytes.Buffer
}

func setup(t *testing.T, cfg types.PipelineConfig, extractP, refineP llm.Provider) *fixture {
	t.Helper()

	old := extractBackoff
	extractBackoff = time.Millisecond
	t.Cleanup(func() { extractBackoff = old })

	store, err := kb.NewStore(types.KBConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sessions, err := session.NewStore(store.DB())
	if err != nil {
		t.Fatalf("session store: %v", err)
	}

	sch, err := schema.Load(types.SchemaConfig{})
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	ex := extract.NewExtractor(extractP, sch, provenance.NewVerifier(types.ProvenanceConfig{}))
	loop := refine.NewLoop(refineP, cfg.Refine)

	out := &bytes.Buffer{}
	return &fixture{
		orch:     New(cfg, store, sessions, &fakeFetcher{}, ex, loop, out),
		store:    store,
		sessions: sessions,
		out:      out,
	}
}

func TestRunSourceEndToEnd(t *testing.T) {
	f := setup(t, types.PipelineConfig{AutoAccept: true},
		&scriptProvider{responses: []string{extractResponse}},
		&scriptProvider{responses: []string{draftResponse, passCritique}})
	ctx := context.Background()

	src, err := f.orch.IngestPubMed(ctx, "100")
	if err != nil {
		t.Fatalf("IngestPubMed: %v", err)
	}

	sess, err := f.orch.RunSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("RunSource: %v", err)
	}
	if sess.Stage != types.StageMCQReview {
		t.Fatalf("stage = %q", sess.Stage)
	}
	if len(sess.CandidateIDs) != 1 || len(sess.ApprovedIDs) != 1 {
		t.Errorf("ids: %+v", sess)
	}

	rec, err := f.store.GetRecord(ctx, sess.RecordID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec.Status != types.RecordPending {
		t.Errorf("record status = %q", rec.Status)
	}
	if rec.TripletID != sess.ApprovedIDs[0] || rec.SourceID != src.ID {
		t.Errorf("provenance chain broken: %+v", rec)
	}
	if rec.Confidence["clarity"] != 0.85 {
		t.Errorf("confidence = %v", rec.Confidence)
	}

	// Approve closes the session.
	if err := f.orch.ApproveMCQ(ctx, sess.ID); err != nil {
		t.Fatalf("ApproveMCQ: %v", err)
	}
	got, _ := f.orch.GetSession(ctx, sess.ID)
	if got.Stage != types.StageCompleted {
		t.Errorf("stage = %q", got.Stage)
	}
}

func TestInteractiveReviewPath(t *testing.T) {
	f := setup(t, types.PipelineConfig{},
		&scriptProvider{responses: []string{extractResponse}},
		&scriptProvider{responses: []string{draftResponse, passCritique}})
	ctx := context.Background()

	src, _ := f.orch.IngestPubMed(ctx, "100")
	sess, err := f.orch.StartSession(ctx, src.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := f.orch.RunExtraction(ctx, sess); err != nil {
		t.Fatalf("RunExtraction: %v", err)
	}
	if sess.Stage != types.StageTripletReview {
		t.Fatalf("stage = %q", sess.Stage)
	}
	if len(sess.ApprovedIDs) != 0 {
		t.Error("nothing should be auto-accepted without the flag")
	}

	res, err := f.orch.AcceptTriplet(ctx, sess.ID, sess.CandidateIDs[0])
	if err != nil {
		t.Fatalf("AcceptTriplet: %v", err)
	}
	if res.Status != kb.UpsertNew {
		t.Errorf("upsert = %+v", res)
	}

	rec, err := f.orch.GenerateMCQ(ctx, sess.ID, res.ID)
	if err != nil {
		t.Fatalf("GenerateMCQ: %v", err)
	}

	if err := f.orch.RejectMCQ(ctx, sess.ID); err != nil {
		t.Fatalf("RejectMCQ: %v", err)
	}
	gotRec, _ := f.store.GetRecord(ctx, rec.ID)
	if gotRec.Status != types.RecordRejected {
		t.Errorf("record status = %q", gotRec.Status)
	}
	gotSess, _ := f.orch.GetSession(ctx, sess.ID)
	if gotSess.Stage != types.StageRejected {
		t.Errorf("stage = %q", gotSess.Stage)
	}
}

func TestRejectTriplet(t *testing.T) {
	f := setup(t, types.PipelineConfig{},
		&scriptProvider{responses: []string{extractResponse}},
		&scriptProvider{})
	ctx := context.Background()

	src, _ := f.orch.IngestPubMed(ctx, "100")
	sess, _ := f.orch.StartSession(ctx, src.ID)
	if err := f.orch.RunExtraction(ctx, sess); err != nil {
		t.Fatal(err)
	}

	if err := f.orch.RejectTriplet(ctx, sess.ID, sess.CandidateIDs[0]); err != nil {
		t.Fatalf("RejectTriplet: %v", err)
	}
	got, _ := f.store.GetTriplet(ctx, sess.CandidateIDs[0])
	if got.Status != types.TripletRejected {
		t.Errorf("status = %q", got.Status)
	}
}

func TestExtractionRetryThenSuccess(t *testing.T) {
	transient := &llm.ProviderError{Provider: "script", Op: "complete", Retryable: true,
		Err: errors.New("rate limited")}
	f := setup(t, types.PipelineConfig{},
		&scriptProvider{
			responses: []string{"", extractResponse},
			errAt:     map[int]error{0: transient},
		},
		&scriptProvider{})
	ctx := context.Background()

	src, _ := f.orch.IngestPubMed(ctx, "100")
	sess, _ := f.orch.StartSession(ctx, src.ID)
	if err := f.orch.RunExtraction(ctx, sess); err != nil {
		t.Fatalf("RunExtraction: %v", err)
	}
	if sess.Stage != types.StageTripletReview {
		t.Errorf("stage = %q", sess.Stage)
	}
	if sess.ExtractRetries != 1 {
		t.Errorf("retries = %d", sess.ExtractRetries)
	}

	got, _ := f.orch.GetSession(ctx, sess.ID)
	if len(got.Errors) != 1 || got.Errors[0].Stage != types.StageExtracting {
		t.Errorf("error trail = %+v", got.Errors)
	}
}

func TestExtractionNonRetryableFails(t *testing.T) {
	fatal := &llm.ProviderError{Provider: "script", Op: "complete",
		Err: errors.New("invalid api key")}
	f := setup(t, types.PipelineConfig{},
		&scriptProvider{errAt: map[int]error{0: fatal}, responses: []string{""}},
		&scriptProvider{})
	ctx := context.Background()

	src, _ := f.orch.IngestPubMed(ctx, "100")
	sess, _ := f.orch.StartSession(ctx, src.ID)

	err := f.orch.RunExtraction(ctx, sess)
	if err == nil {
		t.Fatal("expected extraction failure")
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Stage != types.StageExtractionFailed {
		t.Errorf("err = %v", err)
	}
	if sess.ExtractRetries != 0 {
		t.Errorf("retries = %d, want no retry for a fatal error", sess.ExtractRetries)
	}
}

func TestExtractionZeroTriplets(t *testing.T) {
	f := setup(t, types.PipelineConfig{},
		&scriptProvider{responses: []string{`{"triplets": []}`}},
		&scriptProvider{})
	ctx := context.Background()

	src, _ := f.orch.IngestPubMed(ctx, "100")
	sess, _ := f.orch.StartSession(ctx, src.ID)

	if err := f.orch.RunExtraction(ctx, sess); err == nil {
		t.Fatal("expected failure for empty extraction")
	}
	if sess.Stage != types.StageExtractionFailed {
		t.Errorf("stage = %q", sess.Stage)
	}
	if !strings.Contains(f.out.String(), "no extractable facts") {
		t.Errorf("output = %q", f.out.String())
	}
}

func TestRequestRevisionSupersedes(t *testing.T) {
	f := setup(t, types.PipelineConfig{AutoAccept: true},
		&scriptProvider{responses: []string{extractResponse}},
		&scriptProvider{responses: []string{
			draftResponse, passCritique, // initial generation
			draftResponse, passCritique, // revision cycle
		}})
	ctx := context.Background()

	src, _ := f.orch.IngestPubMed(ctx, "100")
	sess, err := f.orch.RunSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("RunSource: %v", err)
	}
	oldID := sess.RecordID

	newRec, err := f.orch.RequestRevision(ctx, sess.ID, "make the stem more specific")
	if err != nil {
		t.Fatalf("RequestRevision: %v", err)
	}
	if newRec.Version != 2 || newRec.SupersedesID != oldID {
		t.Errorf("new record = %+v", newRec)
	}
	if newRec.Status != types.RecordPending {
		t.Errorf("status = %q", newRec.Status)
	}

	old, _ := f.store.GetRecord(ctx, oldID)
	if old.Status != types.RecordSuperseded {
		t.Errorf("old status = %q", old.Status)
	}

	got, _ := f.orch.GetSession(ctx, sess.ID)
	if got.RecordID != newRec.ID || got.Stage != types.StageMCQReview {
		t.Errorf("session = %+v", got)
	}
}

func TestGenerateMCQRequiresAcceptedTriplet(t *testing.T) {
	f := setup(t, types.PipelineConfig{},
		&scriptProvider{responses: []string{extractResponse}},
		&scriptProvider{})
	ctx := context.Background()

	src, _ := f.orch.IngestPubMed(ctx, "100")
	sess, _ := f.orch.StartSession(ctx, src.ID)
	if err := f.orch.RunExtraction(ctx, sess); err != nil {
		t.Fatal(err)
	}

	// Still a pending candidate, never accepted.
	if _, err := f.orch.GenerateMCQ(ctx, sess.ID, sess.CandidateIDs[0]); err == nil {
		t.Fatal("expected refusal for a non-accepted triplet")
	}
}

func TestCancelSession(t *testing.T) {
	f := setup(t, types.PipelineConfig{},
		&scriptProvider{}, &scriptProvider{})
	ctx := context.Background()

	src, _ := f.orch.IngestPubMed(ctx, "100")
	sess, _ := f.orch.StartSession(ctx, src.ID)

	if err := f.orch.CancelSession(ctx, sess.ID); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	got, _ := f.orch.GetSession(ctx, sess.ID)
	if got.Stage != types.StageCancelled {
		t.Errorf("stage = %q", got.Stage)
	}

	// Cancelled is terminal.
	if err := f.orch.CancelSession(ctx, sess.ID); err == nil {
		t.Error("cancelling a terminal session must fail")
	}
}

func TestCancelDuringExtractionDiscardsResults(t *testing.T) {
	var cancelNow func()
	extractP := &hookProvider{
		inner:  &scriptProvider{responses: []string{extractResponse}},
		before: func() { cancelNow() },
	}
	f := setup(t, types.PipelineConfig{}, extractP, &scriptProvider{})
	ctx := context.Background()

	src, _ := f.orch.IngestPubMed(ctx, "100")
	sess, _ := f.orch.StartSession(ctx, src.ID)

	// The operator cancels while the extraction call is in flight.
	cancelNow = func() {
		if err := f.orch.CancelSession(ctx, sess.ID); err != nil {
			t.Fatalf("CancelSession: %v", err)
		}
	}

	err := f.orch.RunExtraction(ctx, sess)
	if !errors.Is(err, session.ErrTerminal) {
		t.Fatalf("err = %v, want ErrTerminal", err)
	}

	got, _ := f.orch.GetSession(ctx, sess.ID)
	if got.Stage != types.StageCancelled {
		t.Errorf("stage = %q, want cancelled", got.Stage)
	}
	if len(got.CandidateIDs) != 0 {
		t.Errorf("candidates recorded on a cancelled session: %+v", got.CandidateIDs)
	}
	triplets, _ := f.store.ListBySource(ctx, src.ID)
	if len(triplets) != 0 {
		t.Errorf("extracted triplets persisted after cancel: %d", len(triplets))
	}
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	// First source extracts cleanly, second yields nothing.
	f := setup(t, types.PipelineConfig{AutoAccept: true, MaxConcurrentSources: 1},
		&scriptProvider{responses: []string{extractResponse, `{"triplets": []}`}},
		&scriptProvider{responses: []string{draftResponse, passCritique}})
	ctx := context.Background()

	a, _ := f.orch.IngestPubMed(ctx, "100")
	b, _ := f.orch.IngestPubMed(ctx, "200")

	err := f.orch.RunBatch(ctx, []string{a.ID, b.ID})
	if err == nil {
		t.Fatal("expected batch error from failing source")
	}

	// The healthy source still completed its run.
	sessions, _ := f.sessions.List(ctx, false)
	stages := map[types.SessionStage]int{}
	for _, s := range sessions {
		stages[s.Stage]++
	}
	if stages[types.StageMCQReview] != 1 || stages[types.StageExtractionFailed] != 1 {
		t.Errorf("stages = %v", stages)
	}
}
