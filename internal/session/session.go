// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package session persists review sessions so pipeline state survives
// process restarts. Every stage transition is checkpointed; terminal
// sessions are kept as an audit trail, never deleted.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

// ErrTerminal reports a write against a session another handle has already
// closed. The caller's in-flight results must be discarded.
var ErrTerminal = errors.New("session is at a terminal stage")

// terminalStages mirrors SessionStage.Terminal for the SQL write guard.
var terminalStages = []types.SessionStage{
	types.StageExtractionFailed,
	types.StageCompleted,
	types.StageRejected,
	types.StageFailed,
	types.StageCancelled,
}

// Store persists review sessions. It shares the knowledge base's SQLite
// handle so a session and its artifacts live in one file.
type Store struct {
	db *sql.DB
}

// NewStore creates the sessions table if needed.
func NewStore(db *sql.DB) (*Store, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		candidate_ids TEXT,
		approved_ids TEXT,
		active_triplet_id TEXT,
		record_id TEXT,
		extract_retries INTEGER NOT NULL DEFAULT 0,
		errors TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("creating sessions table: %w", err)
	}
	if _, err := db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_sessions_source ON sessions(source_id)`); err != nil {
		return nil, fmt.Errorf("creating sessions index: %w", err)
	}
	return &Store{db: db}, nil
}

// Open starts a new session for a source at the ingested stage.
func (s *Store) Open(ctx context.Context, sourceID string) (*types.ReviewSession, error) {
	now := time.Now().UTC()
	sess := &types.ReviewSession{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		Stage:     types.StageIngested,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.insert(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads one session by ID.
func (s *Store) Get(ctx context.Context, id string) (*types.ReviewSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_id, stage, candidate_ids, approved_ids, active_triplet_id,
			record_id, extract_retries, errors, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return sess, nil
}

// List returns sessions newest first. With onlyActive set, terminal sessions
// are excluded.
func (s *Store) List(ctx context.Context, onlyActive bool) ([]types.ReviewSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, stage, candidate_ids, approved_ids, active_triplet_id,
			record_id, extract_retries, errors, created_at, updated_at
		 FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []types.ReviewSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if onlyActive && sess.Stage.Terminal() {
			continue
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// Checkpoint persists the session's current state. UpdatedAt is bumped here
// so callers never have to remember it. The write is guarded against the
// stored stage: once any handle closes the session, a stale handle's
// checkpoint returns ErrTerminal instead of resurrecting it, and the
// caller's copy is synced to the stored stage.
func (s *Store) Checkpoint(ctx context.Context, sess *types.ReviewSession) error {
	sess.UpdatedAt = time.Now().UTC()

	candidatesJSON, _ := json.Marshal(sess.CandidateIDs)
	approvedJSON, _ := json.Marshal(sess.ApprovedIDs)
	errorsJSON, _ := json.Marshal(sess.Errors)

	args := []any{
		string(sess.Stage), string(candidatesJSON), string(approvedJSON),
		sess.ActiveTripletID, sess.RecordID, sess.ExtractRetries,
		string(errorsJSON), sess.UpdatedAt.Format(time.RFC3339Nano), sess.ID,
	}
	for _, st := range terminalStages {
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET stage = ?, candidate_ids = ?, approved_ids = ?,
			active_triplet_id = ?, record_id = ?, extract_retries = ?, errors = ?,
			updated_at = ?
		 WHERE id = ? AND stage NOT IN (?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("checkpointing session %s: %w", sess.ID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Zero rows: the stored row is terminal, or the session never existed.
	stored, err := s.Get(ctx, sess.ID)
	if err != nil {
		return err
	}
	sess.Stage = stored.Stage
	return fmt.Errorf("session %s is %s: %w", sess.ID, stored.Stage, ErrTerminal)
}

// Transition moves the session to a new stage and checkpoints it. Moving out
// of a terminal stage is refused: the trail is immutable once closed.
func (s *Store) Transition(ctx context.Context, sess *types.ReviewSession, to types.SessionStage) error {
	if sess.Stage.Terminal() {
		return fmt.Errorf("session %s is %s, a terminal stage", sess.ID, sess.Stage)
	}
	sess.Stage = to
	return s.Checkpoint(ctx, sess)
}

// RecordError appends a stage failure to the session's trail and
// checkpoints. The stage itself is unchanged; the caller decides whether the
// failure is terminal.
func (s *Store) RecordError(ctx context.Context, sess *types.ReviewSession, stageErr error, retry int) error {
	sess.Errors = append(sess.Errors, types.StageError{
		Stage: sess.Stage,
		Err:   stageErr.Error(),
		Retry: retry,
		At:    time.Now().UTC(),
	})
	return s.Checkpoint(ctx, sess)
}

func (s *Store) insert(ctx context.Context, sess *types.ReviewSession) error {
	candidatesJSON, _ := json.Marshal(sess.CandidateIDs)
	approvedJSON, _ := json.Marshal(sess.ApprovedIDs)
	errorsJSON, _ := json.Marshal(sess.Errors)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions
			(id, source_id, stage, candidate_ids, approved_ids, active_triplet_id,
			 record_id, extract_retries, errors, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.SourceID, string(sess.Stage), string(candidatesJSON),
		string(approvedJSON), sess.ActiveTripletID, sess.RecordID,
		sess.ExtractRetries, string(errorsJSON),
		sess.CreatedAt.Format(time.RFC3339Nano),
		sess.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", sess.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*types.ReviewSession, error) {
	var (
		sess            types.ReviewSession
		stage           string
		candidatesJSON  sql.NullString
		approvedJSON    sql.NullString
		activeTripletID sql.NullString
		recordID        sql.NullString
		errorsJSON      sql.NullString
		createdAt       string
		updatedAt       string
	)
	if err := r.Scan(&sess.ID, &sess.SourceID, &stage, &candidatesJSON,
		&approvedJSON, &activeTripletID, &recordID, &sess.ExtractRetries,
		&errorsJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	sess.Stage = types.SessionStage(stage)
	sess.ActiveTripletID = activeTripletID.String
	sess.RecordID = recordID.String
	if candidatesJSON.Valid {
		json.Unmarshal([]byte(candidatesJSON.String), &sess.CandidateIDs)
	}
	if approvedJSON.Valid {
		json.Unmarshal([]byte(approvedJSON.String), &sess.ApprovedIDs)
	}
	if errorsJSON.Valid {
		json.Unmarshal([]byte(errorsJSON.String), &sess.Errors)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		sess.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		sess.UpdatedAt = t
	}
	return &sess, nil
}
