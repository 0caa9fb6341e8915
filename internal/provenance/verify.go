// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package provenance checks that claimed evidence is actually present in the
// cited source text, and gates final drafts on a resolvable provenance chain.
package provenance

import (
	"strings"
	"unicode"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

// DefaultFuzzyThreshold is the minimum token-overlap ratio for a context
// sentence that fails exact matching.
const DefaultFuzzyThreshold = 0.85

// Verifier checks context sentences against source text.
type Verifier struct {
	threshold float64
}

// NewVerifier builds a verifier. A non-positive threshold uses the default.
func NewVerifier(cfg types.ProvenanceConfig) *Verifier {
	threshold := cfg.FuzzyThreshold
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	return &Verifier{threshold: threshold}
}

// VerifyResult is the verifier's verdict on one triplet.
type VerifyResult struct {
	// Verified is true only when every context sentence matched.
	Verified bool `json:"verified" yaml:"verified"`

	// Unmatched lists the context sentences absent from the source.
	Unmatched []string `json:"unmatched_sentences,omitempty" yaml:"unmatched_sentences,omitempty"`
}

// Verify checks each of the triplet's context sentences against sourceText.
// A sentence matches when its normalized form is a substring of the
// normalized source, or when its token-overlap ratio with the source clears
// the threshold. An empty sentence list always fails: zero evidence is not
// provenance.
func (v *Verifier) Verify(t types.Triplet, sourceText string) VerifyResult {
	if len(t.ContextSentences) == 0 {
		return VerifyResult{Verified: false, Unmatched: []string{"(no context sentences provided)"}}
	}

	normSource := normalize(sourceText)
	sourceTokens := tokenSet(normSource)

	var unmatched []string
	for _, sentence := range t.ContextSentences {
		norm := normalize(sentence)
		if norm == "" {
			unmatched = append(unmatched, sentence)
			continue
		}
		if strings.Contains(normSource, norm) {
			continue
		}
		if overlapRatio(norm, sourceTokens) >= v.threshold {
			continue
		}
		unmatched = append(unmatched, sentence)
	}

	return VerifyResult{Verified: len(unmatched) == 0, Unmatched: unmatched}
}

// normalize lowercases text, strips punctuation, and collapses whitespace so
// quoting differences do not defeat exact matching.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			// Punctuation becomes a separator, not nothing, so that
			// "glucose-lowering" and "glucose lowering" normalize alike.
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// tokenSet returns the distinct tokens of normalized text.
func tokenSet(norm string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(norm) {
		set[tok] = true
	}
	return set
}

// overlapRatio is the fraction of the sentence's tokens present anywhere in
// the source. Order-insensitive by design: it is a containment fallback for
// sentences with minor transcription drift, not a similarity metric.
func overlapRatio(normSentence string, sourceTokens map[string]bool) float64 {
	tokens := strings.Fields(normSentence)
	if len(tokens) == 0 {
		return 0
	}
	matched := 0
	for _, tok := range tokens {
		if sourceTokens[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}
