// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// TripletStatus tracks a triplet through the review workflow.
type TripletStatus string

const (
	// TripletPending passed both validators and awaits human review.
	TripletPending TripletStatus = "pending"

	// TripletNeedsReview failed schema or provenance validation and is
	// surfaced to the reviewer with the failure reasons. Never auto-promoted.
	TripletNeedsReview TripletStatus = "needs_review"

	// TripletAccepted is approved knowledge, read-only except for the
	// controlled context-sentence merge path.
	TripletAccepted TripletStatus = "accepted"

	// TripletRejected was declined by a reviewer.
	TripletRejected TripletStatus = "rejected"
)

// Triplet is a (subject, action, object, relation) fact unit with verbatim
// supporting evidence from its source.
type Triplet struct {
	// ID is a stable identifier derived from the dedup key and source,
	// consistent across re-extractions of unchanged content.
	ID string `json:"id" yaml:"id"`

	// Subject is the fact's subject entity (e.g. "Metformin").
	Subject string `json:"subject" yaml:"subject"`

	// Action is the verb phrase connecting subject and object.
	Action string `json:"action" yaml:"action"`

	// Object is the fact's object entity (e.g. "Type 2 Diabetes").
	Object string `json:"object" yaml:"object"`

	// Relation is the taxonomy relation identifier (e.g. "TREATS").
	Relation string `json:"relation" yaml:"relation"`

	// ContextSentences holds 2-4 verbatim sentences from the source text
	// supporting the fact. Evidence, not paraphrase.
	ContextSentences []string `json:"context_sentences" yaml:"context_sentences"`

	// SourceID references the Source the sentences were taken from.
	SourceID string `json:"source_id" yaml:"source_id"`

	// Status is the review workflow state.
	Status TripletStatus `json:"status" yaml:"status"`

	// ReviewReasons lists validator failure reasons for needs_review
	// triplets. Empty for triplets that passed both validators.
	ReviewReasons []string `json:"review_reasons,omitempty" yaml:"review_reasons,omitempty"`

	// CreatedAt is the extraction time.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// NormalizeField lowercases a triplet field and collapses internal
// whitespace, producing the canonical form used for dedup comparison.
func NormalizeField(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// DedupKey returns the normalized (subject, action, object, relation)
// identity. Two triplets with equal keys are the same fact regardless of
// case or spacing.
func (t Triplet) DedupKey() string {
	return strings.Join([]string{
		NormalizeField(t.Subject),
		NormalizeField(t.Action),
		NormalizeField(t.Object),
		NormalizeField(t.Relation),
	}, "|")
}

// StableID derives a deterministic triplet identifier from the dedup key and
// source. The ID is the first 12 hex characters of the SHA-256 digest.
func (t Triplet) StableID() string {
	h := sha256.New()
	h.Write([]byte(t.DedupKey()))
	h.Write([]byte(t.SourceID))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}
