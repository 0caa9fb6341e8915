// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package kb

import (
	"context"
	"fmt"
	"strings"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

// DistractorCandidates returns accepted triplets useful as wrong-answer
// material for the given triplet: same subject or same object, the triplet
// itself excluded. When direct overlap yields fewer than the store's result
// limit, a full-text topic search over the triplet's fields fills the rest.
func (s *Store) DistractorCandidates(ctx context.Context, t types.Triplet) ([]types.Triplet, error) {
	subj := types.NormalizeField(t.Subject)
	obj := types.NormalizeField(t.Object)

	out, err := s.listTriplets(ctx,
		`SELECT id, subject, action, object, relation, context_sentences,
			source_id, status, review_reasons, created_at
		 FROM triplets
		 WHERE status = 'accepted' AND id != ?
		   AND (lower(subject) = ? OR lower(object) = ?)
		 ORDER BY rowid LIMIT ?`,
		t.ID, subj, obj, s.maxResults)
	if err != nil {
		return nil, err
	}

	if len(out) >= s.maxResults {
		return out, nil
	}

	topical, err := s.SearchTriplets(ctx, strings.Join([]string{t.Subject, t.Object}, " "))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(out))
	seen[t.ID] = true
	for _, c := range out {
		seen[c.ID] = true
	}
	for _, c := range topical {
		if seen[c.ID] || len(out) >= s.maxResults {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out, nil
}

// SearchTriplets runs a full-text query over accepted triplets, ranked by
// relevance. Query terms are OR-ed so partial topic overlap still matches.
func (s *Store) SearchTriplets(ctx context.Context, query string) ([]types.Triplet, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	return s.listTriplets(ctx,
		`SELECT t.id, t.subject, t.action, t.object, t.relation, t.context_sentences,
			t.source_id, t.status, t.review_reasons, t.created_at
		 FROM triplets_fts f
		 JOIN triplets t ON t.rowid = f.rowid
		 WHERE triplets_fts MATCH ? AND t.status = 'accepted'
		 ORDER BY rank LIMIT ?`,
		ftsQuery, s.maxResults)
}

// buildFTSQuery quotes each term so FTS5 operators in user input are treated
// as literals.
func buildFTSQuery(query string) string {
	var terms []string
	for _, f := range strings.Fields(query) {
		f = strings.Trim(f, `"'`)
		if f == "" {
			continue
		}
		terms = append(terms, fmt.Sprintf("%q", f))
	}
	return strings.Join(terms, " OR ")
}
