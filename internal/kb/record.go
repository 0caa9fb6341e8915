// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package kb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

// SaveRecord stores a finalized MCQ record. An empty ID gets a fresh UUID;
// version defaults to 1.
func (s *Store) SaveRecord(ctx context.Context, rec *types.MCQRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	optionsJSON, _ := json.Marshal(rec.Options)
	confidenceJSON, _ := json.Marshal(rec.Confidence)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mcq_records
			(id, version, supersedes_id, stem, question, options, correct_index,
			 triplet_id, source_id, visual_prompt, image_path, confidence, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Version, rec.SupersedesID, rec.Stem, rec.Question,
		string(optionsJSON), rec.CorrectIndex, rec.TripletID, rec.SourceID,
		rec.VisualPrompt, rec.ImagePath, string(confidenceJSON),
		string(rec.Status), rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", rec.ID, err)
	}
	return nil
}

// GetRecord loads one MCQ record by ID.
func (s *Store) GetRecord(ctx context.Context, id string) (*types.MCQRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, version, supersedes_id, stem, question, options, correct_index,
			triplet_id, source_id, visual_prompt, image_path, confidence, status, created_at
		 FROM mcq_records WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading record %s: %w", id, err)
	}
	return rec, nil
}

// ListRecords returns records in a given state, newest first. An empty
// status returns everything.
func (s *Store) ListRecords(ctx context.Context, status types.RecordStatus) ([]types.MCQRecord, error) {
	query := `SELECT id, version, supersedes_id, stem, question, options, correct_index,
			triplet_id, source_id, visual_prompt, image_path, confidence, status, created_at
		 FROM mcq_records`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var out []types.MCQRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// SetRecordStatus moves a record between review states.
func (s *Store) SetRecordStatus(ctx context.Context, id string, status types.RecordStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mcq_records SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating record %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %s not found", id)
	}
	return nil
}

// Supersede stores an edited copy of an existing record as a new version.
// The original stays in place marked superseded; the new record points back
// at it and keeps its provenance links.
func (s *Store) Supersede(ctx context.Context, oldID string, edited types.MCQRecord) (*types.MCQRecord, error) {
	old, err := s.GetRecord(ctx, oldID)
	if err != nil {
		return nil, err
	}
	if old.Status == types.RecordSuperseded {
		return nil, fmt.Errorf("record %s is already superseded", oldID)
	}

	edited.ID = uuid.NewString()
	edited.Version = old.Version + 1
	edited.SupersedesID = old.ID
	edited.TripletID = old.TripletID
	edited.SourceID = old.SourceID
	edited.Status = types.RecordApproved
	edited.CreatedAt = time.Now().UTC()

	if err := s.SaveRecord(ctx, &edited); err != nil {
		return nil, err
	}
	if err := s.SetRecordStatus(ctx, old.ID, types.RecordSuperseded); err != nil {
		return nil, err
	}
	return &edited, nil
}

// SetRecordImage stores the refined prompt and generated image path for a
// record after an explicit image request.
func (s *Store) SetRecordImage(ctx context.Context, id, visualPrompt, imagePath string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mcq_records SET visual_prompt = ?, image_path = ? WHERE id = ?`,
		visualPrompt, imagePath, id)
	if err != nil {
		return fmt.Errorf("updating record %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %s not found", id)
	}
	return nil
}

func scanRecord(r rowScanner) (*types.MCQRecord, error) {
	var (
		rec            types.MCQRecord
		supersedesID   sql.NullString
		optionsJSON    string
		visualPrompt   sql.NullString
		imagePath      sql.NullString
		confidenceJSON sql.NullString
		status         string
		createdAt      string
	)
	if err := r.Scan(&rec.ID, &rec.Version, &supersedesID, &rec.Stem, &rec.Question,
		&optionsJSON, &rec.CorrectIndex, &rec.TripletID, &rec.SourceID,
		&visualPrompt, &imagePath, &confidenceJSON, &status, &createdAt); err != nil {
		return nil, err
	}

	rec.SupersedesID = supersedesID.String
	rec.VisualPrompt = visualPrompt.String
	rec.ImagePath = imagePath.String
	rec.Status = types.RecordStatus(status)
	json.Unmarshal([]byte(optionsJSON), &rec.Options)
	if confidenceJSON.Valid {
		json.Unmarshal([]byte(confidenceJSON.String), &rec.Confidence)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}
