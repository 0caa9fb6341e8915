// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package kb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pdiddy/mcq-forge/internal/source"
	"github.com/pdiddy/mcq-forge/pkg/types"
)

// SaveSource inserts a source record. Re-ingesting an existing ID is a
// no-op: sources are immutable once stored.
func (s *Store) SaveSource(ctx context.Context, src types.Source) error {
	authorsJSON, _ := json.Marshal(src.Authors)
	createdAt := src.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sources (id, type, title, authors, year, text, parent_id, section, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, string(src.Type), src.Title, string(authorsJSON), src.Year,
		src.Text, src.ParentID, src.Section, createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting source %s: %w", src.ID, err)
	}
	return nil
}

// GetSource loads a source by ID.
func (s *Store) GetSource(ctx context.Context, id string) (*types.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, title, authors, year, text, parent_id, section, created_at
		 FROM sources WHERE id = ?`, id)

	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, &source.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("loading source %s: %w", id, err)
	}
	return src, nil
}

// ListSources returns all sources, chunks included, newest first.
func (s *Store) ListSources(ctx context.Context) ([]types.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, title, authors, year, text, parent_id, section, created_at
		 FROM sources ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var out []types.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(r rowScanner) (*types.Source, error) {
	var (
		src         types.Source
		srcType     string
		authorsJSON sql.NullString
		title       sql.NullString
		parentID    sql.NullString
		section     sql.NullString
		createdAt   string
	)
	if err := r.Scan(&src.ID, &srcType, &title, &authorsJSON, &src.Year,
		&src.Text, &parentID, &section, &createdAt); err != nil {
		return nil, err
	}

	src.Type = types.SourceType(srcType)
	src.Title = title.String
	src.ParentID = parentID.String
	src.Section = section.String
	if authorsJSON.Valid {
		json.Unmarshal([]byte(authorsJSON.String), &src.Authors)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		src.CreatedAt = t
	}
	return &src, nil
}
