// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package kb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

// UpsertStatus reports how an upsert resolved against the approved set.
type UpsertStatus string

const (
	// UpsertNew: no accepted triplet shared the dedup key; this one won.
	UpsertNew UpsertStatus = "new"

	// UpsertDuplicate: an accepted triplet already covers this identity
	// and the candidate brought no new evidence.
	UpsertDuplicate UpsertStatus = "duplicate"

	// UpsertMerged: a duplicate whose context sentences were appended to
	// the existing record.
	UpsertMerged UpsertStatus = "merged"
)

// UpsertResult is the outcome of promoting one candidate.
type UpsertResult struct {
	// Status is new, duplicate, or merged.
	Status UpsertStatus

	// ID is the accepted triplet holding this identity: the candidate's
	// own ID for new insertions, the prior record's for duplicates.
	ID string
}

// SaveCandidates stores extracted candidates, including needs_review ones,
// so the reviewer always sees the full extraction output.
func (s *Store) SaveCandidates(ctx context.Context, triplets []types.Triplet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO triplets
			(id, subject, action, object, relation, dedup_key, context_sentences,
			 source_id, status, review_reasons, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range triplets {
		sentencesJSON, _ := json.Marshal(t.ContextSentences)
		reasonsJSON, _ := json.Marshal(t.ReviewReasons)
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			t.ID, t.Subject, t.Action, t.Object, t.Relation, t.DedupKey(),
			string(sentencesJSON), t.SourceID, string(t.Status),
			string(reasonsJSON), createdAt.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("inserting candidate %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// Upsert promotes a candidate into the approved set. Upserts for the same
// dedup key serialize here regardless of which session produced them: the
// first wins "new", later arrivals merge their context sentences into the
// existing record (sentence-level dedup) and report duplicate or merged.
// Accepted triplets are otherwise read-only.
func (s *Store) Upsert(ctx context.Context, t types.Triplet) (UpsertResult, error) {
	s.upsertMu.Lock()
	defer s.upsertMu.Unlock()

	key := t.DedupKey()

	var existingID string
	var existingSentences string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, context_sentences FROM triplets WHERE dedup_key = ? AND status = 'accepted'`,
		key,
	).Scan(&existingID, &existingSentences)

	switch {
	case err == sql.ErrNoRows:
		return s.insertAccepted(ctx, t)
	case err != nil:
		return UpsertResult{}, fmt.Errorf("looking up dedup key: %w", err)
	}

	// Duplicate identity: merge any new evidence into the existing record.
	var sentences []string
	json.Unmarshal([]byte(existingSentences), &sentences)
	merged, added := mergeSentences(sentences, t.ContextSentences)
	if !added {
		return UpsertResult{Status: UpsertDuplicate, ID: existingID}, nil
	}

	mergedJSON, _ := json.Marshal(merged)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE triplets SET context_sentences = ? WHERE id = ?`,
		string(mergedJSON), existingID,
	); err != nil {
		return UpsertResult{}, fmt.Errorf("merging sentences into %s: %w", existingID, err)
	}
	return UpsertResult{Status: UpsertMerged, ID: existingID}, nil
}

// insertAccepted marks the candidate accepted, inserting it if it was never
// stored as a candidate.
func (s *Store) insertAccepted(ctx context.Context, t types.Triplet) (UpsertResult, error) {
	id := t.ID
	if id == "" {
		id = t.StableID()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE triplets SET status = 'accepted' WHERE id = ?`, id)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("promoting candidate %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return UpsertResult{Status: UpsertNew, ID: id}, nil
	}

	sentencesJSON, _ := json.Marshal(t.ContextSentences)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO triplets
			(id, subject, action, object, relation, dedup_key, context_sentences,
			 source_id, status, review_reasons, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'accepted', '[]', ?)`,
		id, t.Subject, t.Action, t.Object, t.Relation, t.DedupKey(),
		string(sentencesJSON), t.SourceID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("inserting accepted triplet: %w", err)
	}
	return UpsertResult{Status: UpsertNew, ID: id}, nil
}

// mergeSentences appends sentences absent from existing, comparing
// normalized forms. Reports whether anything was added.
func mergeSentences(existing, incoming []string) ([]string, bool) {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[types.NormalizeField(s)] = true
	}

	merged := existing
	added := false
	for _, s := range incoming {
		norm := types.NormalizeField(s)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		merged = append(merged, s)
		added = true
	}
	return merged, added
}

// GetTriplet loads one triplet by ID.
func (s *Store) GetTriplet(ctx context.Context, id string) (*types.Triplet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, subject, action, object, relation, context_sentences,
			source_id, status, review_reasons, created_at
		 FROM triplets WHERE id = ?`, id)

	t, err := scanTriplet(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("triplet %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading triplet %s: %w", id, err)
	}
	return t, nil
}

// ListBySource returns all triplets extracted from a source, candidates and
// accepted alike, in extraction order.
func (s *Store) ListBySource(ctx context.Context, sourceID string) ([]types.Triplet, error) {
	return s.listTriplets(ctx,
		`SELECT id, subject, action, object, relation, context_sentences,
			source_id, status, review_reasons, created_at
		 FROM triplets WHERE source_id = ? ORDER BY rowid`, sourceID)
}

// ListByStatus returns all triplets in a given workflow state.
func (s *Store) ListByStatus(ctx context.Context, status types.TripletStatus) ([]types.Triplet, error) {
	return s.listTriplets(ctx,
		`SELECT id, subject, action, object, relation, context_sentences,
			source_id, status, review_reasons, created_at
		 FROM triplets WHERE status = ? ORDER BY rowid`, string(status))
}

// SetStatus moves a candidate between workflow states. Accepted triplets
// are immutable: promoting into accepted goes through Upsert, and demoting
// out of accepted is refused.
func (s *Store) SetStatus(ctx context.Context, id string, status types.TripletStatus) error {
	if status == types.TripletAccepted {
		return fmt.Errorf("acceptance must go through Upsert")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE triplets SET status = ? WHERE id = ? AND status != 'accepted'`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("updating triplet %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("triplet %s not found or accepted", id)
	}
	return nil
}

func (s *Store) listTriplets(ctx context.Context, query string, args ...any) ([]types.Triplet, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying triplets: %w", err)
	}
	defer rows.Close()

	var out []types.Triplet
	for rows.Next() {
		t, err := scanTriplet(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning triplet: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTriplet(r rowScanner) (*types.Triplet, error) {
	var (
		t             types.Triplet
		status        string
		sentencesJSON string
		reasonsJSON   sql.NullString
		createdAt     string
	)
	if err := r.Scan(&t.ID, &t.Subject, &t.Action, &t.Object, &t.Relation,
		&sentencesJSON, &t.SourceID, &status, &reasonsJSON, &createdAt); err != nil {
		return nil, err
	}

	t.Status = types.TripletStatus(status)
	json.Unmarshal([]byte(sentencesJSON), &t.ContextSentences)
	if reasonsJSON.Valid {
		json.Unmarshal([]byte(reasonsJSON.String), &t.ReviewReasons)
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		t.CreatedAt = ts
	}
	return &t, nil
}
