// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline orchestrates the source-to-MCQ workflow: ingestion,
// extraction, triplet review, knowledge base promotion, the critique/refine
// loop, the provenance gate, and record review. Every stage transition is
// checkpointed to the session store so an interrupted run resumes instead
// of restarting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/mcq-forge/internal/extract"
	"github.com/pdiddy/mcq-forge/internal/kb"
	"github.com/pdiddy/mcq-forge/internal/provenance"
	"github.com/pdiddy/mcq-forge/internal/refine"
	"github.com/pdiddy/mcq-forge/internal/session"
	"github.com/pdiddy/mcq-forge/internal/source"
	"github.com/pdiddy/mcq-forge/pkg/types"
)

const (
	// maxExtractRetries is the extra attempts allowed after a retryable
	// extraction failure.
	maxExtractRetries = 1

	defaultMaxConcurrent = 2
)

// extractBackoff is the delay before an extraction retry. Tests override
// this to avoid real sleeps.
var extractBackoff = 2 * time.Second

// Error wraps a stage failure with its session for the caller's report.
type Error struct {
	SessionID string
	Stage     types.SessionStage
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session %s at %s: %v", e.SessionID, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher retrieves an article by PMID. Satisfied by source.PubMedClient.
type Fetcher interface {
	Fetch(ctx context.Context, pmid string) (*types.Source, error)
}

// Orchestrator drives sessions through the pipeline.
type Orchestrator struct {
	cfg      types.PipelineConfig
	store    *kb.Store
	sessions *session.Store
	fetcher  Fetcher
	extract  *extract.Extractor
	loop     *refine.Loop
	out      io.Writer
}

// New wires the orchestrator from its collaborators. Progress lines go to w.
func New(cfg types.PipelineConfig, store *kb.Store, sessions *session.Store,
	fetcher Fetcher, ex *extract.Extractor, loop *refine.Loop, w io.Writer) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		fetcher:  fetcher,
		extract:  ex,
		loop:     loop,
		out:      w,
	}
}

// IngestPubMed fetches an article and stores it as a source.
func (o *Orchestrator) IngestPubMed(ctx context.Context, pmid string) (*types.Source, error) {
	src, err := o.fetcher.Fetch(ctx, pmid)
	if err != nil {
		return nil, err
	}
	if err := o.store.SaveSource(ctx, *src); err != nil {
		return nil, err
	}
	fmt.Fprintf(o.out, "ingested %s: %s\n", src.ID, src.Title)
	return src, nil
}

// IngestFile chunks an uploaded text file by section and stores the parent
// and every kept chunk. The chunks are what sessions run against.
func (o *Orchestrator) IngestFile(ctx context.Context, filename, text string) (types.Source, []types.Source, error) {
	parent, chunks := source.ChunkFile(filename, text)
	if len(chunks) == 0 {
		return parent, nil, fmt.Errorf("no extractable sections in %s", filename)
	}

	if err := o.store.SaveSource(ctx, parent); err != nil {
		return parent, nil, err
	}
	for _, c := range chunks {
		if err := o.store.SaveSource(ctx, c); err != nil {
			return parent, nil, err
		}
	}
	fmt.Fprintf(o.out, "ingested %s (%d chunks)\n", parent.ID, len(chunks))
	return parent, chunks, nil
}

// StartSession opens a review session for an already-ingested source.
func (o *Orchestrator) StartSession(ctx context.Context, sourceID string) (*types.ReviewSession, error) {
	if _, err := o.store.GetSource(ctx, sourceID); err != nil {
		return nil, err
	}
	sess, err := o.sessions.Open(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(o.out, "session %s opened for %s\n", sess.ID, sourceID)
	return sess, nil
}

// GetSession loads a session by ID.
func (o *Orchestrator) GetSession(ctx context.Context, id string) (*types.ReviewSession, error) {
	return o.sessions.Get(ctx, id)
}

// CancelSession abandons an active session. Terminal sessions are refused.
func (o *Orchestrator) CancelSession(ctx context.Context, id string) error {
	sess, err := o.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	return o.sessions.Transition(ctx, sess, types.StageCancelled)
}

// RunExtraction runs the extraction stage for a session: one model call with
// a single backed-off retry for transient failures. Candidates land in the
// knowledge base flagged by the validators; the session moves to triplet
// review, or to extraction_failed when the source yields nothing usable.
func (o *Orchestrator) RunExtraction(ctx context.Context, sess *types.ReviewSession) error {
	if sess.Stage != types.StageIngested {
		return o.fail(sess, fmt.Errorf("extraction requires an ingested session, stage is %s", sess.Stage))
	}

	src, err := o.store.GetSource(ctx, sess.SourceID)
	if err != nil {
		return o.terminal(ctx, sess, types.StageFailed, err)
	}

	if err := o.sessions.Transition(ctx, sess, types.StageExtracting); err != nil {
		return err
	}

	triplets, err := o.extractWithRetry(ctx, sess, *src)
	if err != nil {
		return o.terminal(ctx, sess, types.StageExtractionFailed, err)
	}
	if len(triplets) == 0 {
		fmt.Fprintf(o.out, "session %s: no extractable facts in %s\n", sess.ID, src.ID)
		return o.terminal(ctx, sess, types.StageExtractionFailed,
			fmt.Errorf("no triplets extracted from %s", src.ID))
	}

	// A cancel issued while the model call was in flight wins: the
	// checkpoint fails and the extracted candidates are discarded.
	if err := o.sessions.Checkpoint(ctx, sess); err != nil {
		return o.fail(sess, err)
	}

	if err := o.store.SaveCandidates(ctx, triplets); err != nil {
		return o.terminal(ctx, sess, types.StageFailed, err)
	}
	for _, t := range triplets {
		sess.CandidateIDs = append(sess.CandidateIDs, t.ID)
	}
	fmt.Fprintf(o.out, "session %s: %d candidates extracted\n", sess.ID, len(triplets))

	if err := o.sessions.Transition(ctx, sess, types.StageTripletReview); err != nil {
		return err
	}

	if o.cfg.AutoAccept {
		return o.autoAccept(ctx, sess, triplets)
	}
	return nil
}

// extractWithRetry applies the stage retry policy: transient failures get
// one more attempt after a backoff, everything else fails immediately.
func (o *Orchestrator) extractWithRetry(ctx context.Context, sess *types.ReviewSession, src types.Source) ([]types.Triplet, error) {
	for attempt := 0; ; attempt++ {
		triplets, err := o.extract.Extract(ctx, src)
		if err == nil {
			return triplets, nil
		}

		if recErr := o.sessions.RecordError(ctx, sess, err, attempt); recErr != nil {
			return nil, recErr
		}

		var ee *extract.ExtractionError
		if !errors.As(err, &ee) || !ee.Retryable || attempt >= maxExtractRetries {
			return nil, err
		}

		sess.ExtractRetries++
		fmt.Fprintf(o.out, "session %s: extraction attempt %d failed, retrying\n", sess.ID, attempt+1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(extractBackoff):
		}
	}
}

// autoAccept promotes every candidate that passed both validators.
// Flagged candidates stay behind for human review regardless.
func (o *Orchestrator) autoAccept(ctx context.Context, sess *types.ReviewSession, triplets []types.Triplet) error {
	for _, t := range triplets {
		if t.Status != types.TripletPending {
			continue
		}
		res, err := o.store.Upsert(ctx, t)
		if err != nil {
			return o.terminal(ctx, sess, types.StageFailed, err)
		}
		sess.ApprovedIDs = append(sess.ApprovedIDs, res.ID)
		fmt.Fprintf(o.out, "session %s: auto-accepted %s (%s)\n", sess.ID, res.ID, res.Status)
	}
	return o.sessions.Checkpoint(ctx, sess)
}

// AcceptTriplet promotes one candidate into the knowledge base during
// triplet review. Dedup may resolve it to an existing accepted triplet; the
// session records whichever ID now holds the fact.
func (o *Orchestrator) AcceptTriplet(ctx context.Context, sessionID, tripletID string) (kb.UpsertResult, error) {
	sess, err := o.requireStage(ctx, sessionID, types.StageTripletReview)
	if err != nil {
		return kb.UpsertResult{}, err
	}

	t, err := o.store.GetTriplet(ctx, tripletID)
	if err != nil {
		return kb.UpsertResult{}, err
	}

	res, err := o.store.Upsert(ctx, *t)
	if err != nil {
		return kb.UpsertResult{}, err
	}
	sess.ApprovedIDs = append(sess.ApprovedIDs, res.ID)
	if err := o.sessions.Checkpoint(ctx, sess); err != nil {
		return kb.UpsertResult{}, err
	}
	fmt.Fprintf(o.out, "session %s: accepted %s (%s)\n", sess.ID, res.ID, res.Status)
	return res, nil
}

// RejectTriplet declines one candidate during triplet review.
func (o *Orchestrator) RejectTriplet(ctx context.Context, sessionID, tripletID string) error {
	sess, err := o.requireStage(ctx, sessionID, types.StageTripletReview)
	if err != nil {
		return err
	}
	if err := o.store.SetStatus(ctx, tripletID, types.TripletRejected); err != nil {
		return err
	}
	fmt.Fprintf(o.out, "session %s: rejected %s\n", sess.ID, tripletID)
	return nil
}

// GenerateMCQ runs the critique/refine loop for one approved triplet, gates
// the result, and persists the record for human review. A gate failure
// routes back into the loop with the reason as feedback, sharing the
// iteration budget; a draft that cannot pass within budget closes the
// session rejected.
func (o *Orchestrator) GenerateMCQ(ctx context.Context, sessionID, tripletID string) (*types.MCQRecord, error) {
	sess, err := o.requireStage(ctx, sessionID, types.StageTripletReview)
	if err != nil {
		return nil, err
	}

	triplet, err := o.store.GetTriplet(ctx, tripletID)
	if err != nil {
		return nil, err
	}
	if triplet.Status != types.TripletAccepted {
		return nil, fmt.Errorf("triplet %s is %s, only accepted triplets generate questions",
			tripletID, triplet.Status)
	}

	sess.ActiveTripletID = tripletID
	if err := o.sessions.Transition(ctx, sess, types.StageRefining); err != nil {
		return nil, err
	}

	distractors, err := o.store.DistractorCandidates(ctx, *triplet)
	if err != nil {
		return nil, o.terminal(ctx, sess, types.StageFailed, err)
	}

	draft, err := o.loop.Generate(ctx, *triplet, distractors)
	if err != nil {
		if recErr := o.sessions.RecordError(ctx, sess, err, 0); recErr != nil {
			return nil, recErr
		}
		return nil, o.terminal(ctx, sess, types.StageFailed, err)
	}

	draft, err = o.gateDraft(ctx, sess, draft, *triplet, distractors)
	if err != nil {
		return nil, err
	}
	if draft.Status != types.DraftApproved {
		fmt.Fprintf(o.out, "session %s: draft rejected after %d iterations\n", sess.ID, draft.Iterations)
		return nil, o.terminal(ctx, sess, types.StageRejected,
			fmt.Errorf("draft for %s rejected after %d iterations", tripletID, draft.Iterations))
	}

	// A cancel issued during the loop wins: the checkpoint fails and the
	// gated draft is discarded unpersisted.
	if err := o.sessions.Checkpoint(ctx, sess); err != nil {
		return nil, o.fail(sess, err)
	}

	rec := recordFromDraft(draft)
	if err := o.store.SaveRecord(ctx, rec); err != nil {
		return nil, o.terminal(ctx, sess, types.StageFailed, err)
	}

	sess.RecordID = rec.ID
	if err := o.sessions.Transition(ctx, sess, types.StageMCQReview); err != nil {
		return nil, err
	}
	fmt.Fprintf(o.out, "session %s: record %s awaiting review\n", sess.ID, rec.ID)
	return rec, nil
}

// gateDraft holds every approved draft at the provenance gate. Failures
// re-enter the loop as feedback until the draft passes or runs out of
// budget.
func (o *Orchestrator) gateDraft(ctx context.Context, sess *types.ReviewSession,
	draft *types.MCQDraft, triplet types.Triplet, distractors []types.Triplet) (*types.MCQDraft, error) {

	for draft.Status == types.DraftApproved {
		res := provenance.Gate(ctx, o.store, *draft)
		if res.Pass {
			return draft, nil
		}

		fmt.Fprintf(o.out, "session %s: provenance gate refused draft: %s\n", sess.ID, res.Reason)
		if err := o.sessions.RecordError(ctx, sess,
			fmt.Errorf("provenance gate: %s", res.Reason), draft.Iterations); err != nil {
			return nil, err
		}

		draft.Status = types.DraftCritiqued
		draft.Feedback = append(draft.Feedback, "provenance gate: "+res.Reason)
		if err := o.loop.Resume(ctx, draft, triplet, distractors); err != nil {
			return nil, o.terminal(ctx, sess, types.StageFailed, err)
		}
	}
	return draft, nil
}

// ApproveMCQ accepts the session's record and completes the session.
func (o *Orchestrator) ApproveMCQ(ctx context.Context, sessionID string) error {
	sess, err := o.requireStage(ctx, sessionID, types.StageMCQReview)
	if err != nil {
		return err
	}
	if err := o.store.SetRecordStatus(ctx, sess.RecordID, types.RecordApproved); err != nil {
		return err
	}
	fmt.Fprintf(o.out, "session %s: record %s approved\n", sess.ID, sess.RecordID)
	return o.sessions.Transition(ctx, sess, types.StageCompleted)
}

// RejectMCQ declines the session's record and closes the session.
func (o *Orchestrator) RejectMCQ(ctx context.Context, sessionID string) error {
	sess, err := o.requireStage(ctx, sessionID, types.StageMCQReview)
	if err != nil {
		return err
	}
	if err := o.store.SetRecordStatus(ctx, sess.RecordID, types.RecordRejected); err != nil {
		return err
	}
	fmt.Fprintf(o.out, "session %s: record %s rejected\n", sess.ID, sess.RecordID)
	return o.sessions.Transition(ctx, sess, types.StageRejected)
}

// RequestRevision sends the session's record back through the loop with the
// reviewer's feedback and a fresh iteration budget. The passing revision
// supersedes the record as a new version; the session stays in MCQ review.
func (o *Orchestrator) RequestRevision(ctx context.Context, sessionID, feedback string) (*types.MCQRecord, error) {
	sess, err := o.requireStage(ctx, sessionID, types.StageMCQReview)
	if err != nil {
		return nil, err
	}

	rec, err := o.store.GetRecord(ctx, sess.RecordID)
	if err != nil {
		return nil, err
	}
	triplet, err := o.store.GetTriplet(ctx, rec.TripletID)
	if err != nil {
		return nil, err
	}
	distractors, err := o.store.DistractorCandidates(ctx, *triplet)
	if err != nil {
		return nil, err
	}

	draft := draftFromRecord(rec)
	draft.Feedback = []string{"reviewer: " + feedback}

	if err := o.loop.Resume(ctx, draft, *triplet, distractors); err != nil {
		return nil, err
	}
	draft, err = o.gateDraft(ctx, sess, draft, *triplet, distractors)
	if err != nil {
		return nil, err
	}
	if draft.Status != types.DraftApproved {
		return nil, fmt.Errorf("revision for record %s did not pass review", rec.ID)
	}

	edited := *recordFromDraft(draft)
	newRec, err := o.store.Supersede(ctx, rec.ID, edited)
	if err != nil {
		return nil, err
	}
	newRec.Status = types.RecordPending
	if err := o.store.SetRecordStatus(ctx, newRec.ID, types.RecordPending); err != nil {
		return nil, err
	}

	sess.RecordID = newRec.ID
	if err := o.sessions.Checkpoint(ctx, sess); err != nil {
		return nil, err
	}
	fmt.Fprintf(o.out, "session %s: record %s superseded by %s\n", sess.ID, rec.ID, newRec.ID)
	return newRec, nil
}

// RunSource drives one source end to end without human review: extraction,
// auto-acceptance, and question generation for the first approved triplet.
// Requires AutoAccept; the interactive commands cover the reviewed path.
func (o *Orchestrator) RunSource(ctx context.Context, sourceID string) (*types.ReviewSession, error) {
	if !o.cfg.AutoAccept {
		return nil, fmt.Errorf("unattended runs require auto-accept")
	}

	sess, err := o.StartSession(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	if err := o.RunExtraction(ctx, sess); err != nil {
		return sess, err
	}
	if len(sess.ApprovedIDs) == 0 {
		return sess, o.terminal(ctx, sess, types.StageRejected,
			fmt.Errorf("no candidates passed validation for %s", sourceID))
	}

	if _, err := o.GenerateMCQ(ctx, sess.ID, sess.ApprovedIDs[0]); err != nil {
		return sess, err
	}

	// Reload: GenerateMCQ checkpointed through its own handle.
	return o.sessions.Get(ctx, sess.ID)
}

// RunBatch processes sources concurrently, bounded by MaxConcurrentSources.
// One source failing does not stop the others; the first error is returned
// after all sources finish.
func (o *Orchestrator) RunBatch(ctx context.Context, sourceIDs []string) error {
	limit := o.cfg.MaxConcurrentSources
	if limit <= 0 {
		limit = defaultMaxConcurrent
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var firstErr error
	errCh := make(chan error, len(sourceIDs))
	for _, id := range sourceIDs {
		id := id
		g.Go(func() error {
			if _, err := o.RunSource(ctx, id); err != nil {
				fmt.Fprintf(o.out, "failed %s: %v\n", id, err)
				errCh <- err
			}
			// Session state carries the failure; keep the batch going.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	close(errCh)
	for err := range errCh {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// requireStage loads a session and checks it is at the expected stage.
func (o *Orchestrator) requireStage(ctx context.Context, sessionID string, want types.SessionStage) (*types.ReviewSession, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Stage != want {
		return nil, fmt.Errorf("session %s is at %s, operation requires %s", sessionID, sess.Stage, want)
	}
	return sess, nil
}

// terminal records the failure and closes the session at the given stage.
func (o *Orchestrator) terminal(ctx context.Context, sess *types.ReviewSession, stage types.SessionStage, cause error) error {
	if err := o.sessions.Transition(ctx, sess, stage); err != nil {
		return err
	}
	return &Error{SessionID: sess.ID, Stage: stage, Err: cause}
}

// fail wraps an error with session identity without touching stored state.
func (o *Orchestrator) fail(sess *types.ReviewSession, err error) error {
	return &Error{SessionID: sess.ID, Stage: sess.Stage, Err: err}
}

// recordFromDraft builds the persistable record for a gated draft.
func recordFromDraft(draft *types.MCQDraft) *types.MCQRecord {
	rec := &types.MCQRecord{
		Stem:         draft.Stem,
		Question:     draft.Question,
		Options:      draft.Options,
		CorrectIndex: draft.CorrectIndex,
		TripletID:    draft.TripletID,
		SourceID:     draft.SourceID,
		VisualPrompt: draft.VisualPrompt,
		Status:       types.RecordPending,
	}
	if draft.LastCritique != nil {
		rec.Confidence = draft.LastCritique.Scores
	}
	return rec
}

// draftFromRecord rebuilds a loop-ready draft from a persisted record. The
// iteration budget starts fresh: a human revision request is a new cycle.
func draftFromRecord(rec *types.MCQRecord) *types.MCQDraft {
	return &types.MCQDraft{
		Stem:         rec.Stem,
		Question:     rec.Question,
		Options:      rec.Options,
		CorrectIndex: rec.CorrectIndex,
		TripletID:    rec.TripletID,
		SourceID:     rec.SourceID,
		VisualPrompt: rec.VisualPrompt,
		Status:       types.DraftCritiqued,
	}
}
