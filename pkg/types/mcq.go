// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// OptionCount is the fixed number of options per question: one correct
// answer plus four distractors.
const OptionCount = 5

// DraftStatus tracks a draft through the critique/refine loop.
type DraftStatus string

const (
	DraftDrafting  DraftStatus = "drafting"
	DraftCritiqued DraftStatus = "critiqued"
	DraftApproved  DraftStatus = "approved"
	DraftRejected  DraftStatus = "rejected"
)

// Critique dimension names scored by the critic in [0,1].
const (
	DimProvenance  = "provenance_linkage"
	DimSchema      = "schema_compliance"
	DimDistractors = "distractor_plausibility"
	DimClarity     = "clarity"
)

// Critique is the critic's structured verdict on one draft iteration.
type Critique struct {
	// Scores maps each dimension name to a value in [0,1].
	Scores map[string]float64 `json:"scores" yaml:"scores"`

	// Overall is the weighted combination of the dimension scores.
	Overall float64 `json:"overall" yaml:"overall"`

	// HardFail is set when the correct answer is not traceable to the
	// approved triplet. A hard fail forces revision regardless of scores.
	HardFail bool `json:"hard_fail" yaml:"hard_fail"`

	// Feedback is the critic's actionable revision guidance.
	Feedback string `json:"feedback" yaml:"feedback"`
}

// Passed reports whether every dimension clears the threshold, the overall
// confidence clears it, and no hard-fail flag is set.
func (c Critique) Passed(threshold float64) bool {
	if c.HardFail || c.Overall < threshold {
		return false
	}
	for _, v := range c.Scores {
		if v < threshold {
			return false
		}
	}
	return true
}

// MCQDraft is the working object inside the critique/refine loop.
type MCQDraft struct {
	// Stem is the clinical scenario preceding the question.
	Stem string `json:"stem" yaml:"stem"`

	// Question is the interrogative itself.
	Question string `json:"question" yaml:"question"`

	// Options holds exactly OptionCount answer choices.
	Options []string `json:"options" yaml:"options"`

	// CorrectIndex is the zero-based index of the correct option.
	CorrectIndex int `json:"correct_index" yaml:"correct_index"`

	// TripletID references the approved triplet the correct answer is
	// drawn from. The provenance gate resolves this reference.
	TripletID string `json:"triplet_id" yaml:"triplet_id"`

	// SourceID is threaded unchanged from the triplet's source.
	SourceID string `json:"source_id" yaml:"source_id"`

	// VisualPrompt is the writer's seed description for an illustration.
	VisualPrompt string `json:"visual_prompt,omitempty" yaml:"visual_prompt,omitempty"`

	// Status is the loop state.
	Status DraftStatus `json:"status" yaml:"status"`

	// Iterations counts critique/refine cycles consumed so far.
	Iterations int `json:"iterations" yaml:"iterations"`

	// LastCritique is the most recent critic verdict.
	LastCritique *Critique `json:"last_critique,omitempty" yaml:"last_critique,omitempty"`

	// Feedback accumulates critique feedback across iterations so each
	// refinement sees the full correction history.
	Feedback []string `json:"feedback,omitempty" yaml:"feedback,omitempty"`
}

// RecordStatus tracks a persisted MCQ record through human review.
type RecordStatus string

const (
	RecordPending  RecordStatus = "pending"
	RecordApproved RecordStatus = "approved"
	RecordRejected RecordStatus = "rejected"

	// RecordSuperseded marks a version replaced by a later edit.
	RecordSuperseded RecordStatus = "superseded"
)

// MCQRecord is the final artifact, persisted only after the provenance gate
// passes. Immutable except through a superseding edit that produces a new
// version.
type MCQRecord struct {
	// ID identifies this record version.
	ID string `json:"id" yaml:"id"`

	// Version starts at 1 and increments on superseding edits.
	Version int `json:"version" yaml:"version"`

	// SupersedesID links to the record version this one replaces.
	SupersedesID string `json:"supersedes_id,omitempty" yaml:"supersedes_id,omitempty"`

	Stem         string   `json:"stem" yaml:"stem"`
	Question     string   `json:"question" yaml:"question"`
	Options      []string `json:"options" yaml:"options"`
	CorrectIndex int      `json:"correct_index" yaml:"correct_index"`

	// TripletID and SourceID carry the provenance chain. Both are required
	// for a record to exist at all.
	TripletID string `json:"triplet_id" yaml:"triplet_id"`
	SourceID  string `json:"source_id" yaml:"source_id"`

	// VisualPrompt is the optimized illustration prompt.
	VisualPrompt string `json:"visual_prompt,omitempty" yaml:"visual_prompt,omitempty"`

	// ImagePath is the local path of a generated illustration, set only
	// after an explicit image request.
	ImagePath string `json:"image_path,omitempty" yaml:"image_path,omitempty"`

	// Confidence holds the final critique's dimension scores.
	Confidence map[string]float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`

	// Status is the human review state.
	Status RecordStatus `json:"status" yaml:"status"`

	// CreatedAt is the persistence time.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
