// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// SessionStage identifies where a review session stands in the pipeline.
type SessionStage string

const (
	// StageIngested: source registered, extraction not yet started.
	StageIngested SessionStage = "ingested"

	// StageExtracting: the extraction call is running or being retried.
	StageExtracting SessionStage = "extracting"

	// StageExtractionFailed: extraction failed after its retry budget.
	StageExtractionFailed SessionStage = "extraction_failed"

	// StageTripletReview: candidates await human (or auto) acceptance.
	StageTripletReview SessionStage = "triplet_review"

	// StageRefining: the critique/refine loop is consuming an approved triplet.
	StageRefining SessionStage = "refining"

	// StageMCQReview: a gated draft awaits human approval.
	StageMCQReview SessionStage = "mcq_review"

	// StageCompleted: an MCQ record was persisted and approved.
	StageCompleted SessionStage = "completed"

	// StageRejected: the refine loop or a reviewer rejected the draft.
	StageRejected SessionStage = "rejected"

	// StageFailed: an unrecoverable pipeline error; trail preserved.
	StageFailed SessionStage = "failed"

	// StageCancelled: abandoned between stages by the operator.
	StageCancelled SessionStage = "cancelled"
)

// Terminal reports whether the stage admits no further transitions.
func (s SessionStage) Terminal() bool {
	switch s {
	case StageExtractionFailed, StageCompleted, StageRejected, StageFailed, StageCancelled:
		return true
	}
	return false
}

// StageError records one stage failure on a session, with enough detail to
// resume or retry without redoing completed stages.
type StageError struct {
	// Stage names the stage that failed.
	Stage SessionStage `json:"stage" yaml:"stage"`

	// Err is the failure message.
	Err string `json:"error" yaml:"error"`

	// Retry is the attempt number that produced this error (0 = first try).
	Retry int `json:"retry" yaml:"retry"`

	// At is when the failure was recorded.
	At time.Time `json:"at" yaml:"at"`
}

// ReviewSession is the durable record of one source-to-MCQ unit of work.
// Checkpointed after every stage transition; never deleted automatically.
type ReviewSession struct {
	// ID is a UUID assigned when the source enters the pipeline.
	ID string `json:"id" yaml:"id"`

	// SourceID is the source this session processes.
	SourceID string `json:"source_id" yaml:"source_id"`

	// Stage is the current pipeline position.
	Stage SessionStage `json:"stage" yaml:"stage"`

	// CandidateIDs lists every candidate triplet extracted for this session,
	// including needs_review ones.
	CandidateIDs []string `json:"candidate_ids,omitempty" yaml:"candidate_ids,omitempty"`

	// ApprovedIDs lists the accepted triplets promoted into the KB.
	ApprovedIDs []string `json:"approved_ids,omitempty" yaml:"approved_ids,omitempty"`

	// ActiveTripletID is the approved triplet the refine loop is consuming.
	ActiveTripletID string `json:"active_triplet_id,omitempty" yaml:"active_triplet_id,omitempty"`

	// RecordID is set once a gated record has been persisted.
	RecordID string `json:"record_id,omitempty" yaml:"record_id,omitempty"`

	// ExtractRetries counts extraction attempts beyond the first.
	ExtractRetries int `json:"extract_retries" yaml:"extract_retries"`

	// Errors is the accumulated stage failure trail.
	Errors []StageError `json:"errors,omitempty" yaml:"errors,omitempty"`

	// CreatedAt is when the session was opened.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// UpdatedAt is bumped on every checkpoint.
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}
