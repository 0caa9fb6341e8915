// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package kb persists sources, triplets, and MCQ records in a SQLite
// knowledge base. The approved triplet set is append-only and dedup-aware:
// all mutation goes through Upsert, the sole locking boundary.
package kb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

const dbFile = "mcq-forge.db"

// Store manages the knowledge base SQLite database.
type Store struct {
	db         *sql.DB
	dataDir    string
	maxResults int

	// upsertMu serializes approved-triplet upserts so concurrent sessions
	// writing the same dedup key produce exactly one "new" insertion.
	upsertMu sync.Mutex
}

// NewStore opens or creates the knowledge base at dataDir/mcq-forge.db,
// creating the schema if it does not exist.
func NewStore(cfg types.KBConfig) (*Store, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	s := &Store{
		db:         db,
		dataDir:    dataDir,
		maxResults: maxResults,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so the session store can share the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// DataDir returns the base data directory (images are stored beneath it).
func (s *Store) DataDir() string {
	return s.dataDir
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			title TEXT,
			authors TEXT,
			year INTEGER,
			text TEXT NOT NULL,
			parent_id TEXT,
			section TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS triplets (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			subject TEXT NOT NULL,
			action TEXT NOT NULL,
			object TEXT NOT NULL,
			relation TEXT NOT NULL,
			dedup_key TEXT NOT NULL,
			context_sentences TEXT NOT NULL,
			source_id TEXT NOT NULL REFERENCES sources(id),
			status TEXT NOT NULL,
			review_reasons TEXT,
			created_at TEXT NOT NULL
		)`,
		// At most one accepted triplet per semantic identity. Candidates
		// (pending/needs_review/rejected) may repeat freely.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_triplets_dedup_accepted
			ON triplets(dedup_key) WHERE status = 'accepted'`,
		`CREATE INDEX IF NOT EXISTS idx_triplets_source ON triplets(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_triplets_status ON triplets(status)`,
		`CREATE TABLE IF NOT EXISTS mcq_records (
			id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			supersedes_id TEXT,
			stem TEXT NOT NULL,
			question TEXT NOT NULL,
			options TEXT NOT NULL,
			correct_index INTEGER NOT NULL,
			triplet_id TEXT NOT NULL REFERENCES triplets(id),
			source_id TEXT NOT NULL REFERENCES sources(id),
			visual_prompt TEXT,
			image_path TEXT,
			confidence TEXT,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_triplet ON mcq_records(triplet_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 virtual table over triplet fields for topic search, with
	// triggers keeping it in sync.
	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='triplets_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}

	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE triplets_fts USING fts5(subject, object, context_sentences, content=triplets, content_rowid=rowid)`,
			`CREATE TRIGGER triplets_ai AFTER INSERT ON triplets BEGIN
				INSERT INTO triplets_fts(rowid, subject, object, context_sentences)
				VALUES (new.rowid, new.subject, new.object, new.context_sentences);
			END`,
			`CREATE TRIGGER triplets_ad AFTER DELETE ON triplets BEGIN
				INSERT INTO triplets_fts(triplets_fts, rowid, subject, object, context_sentences)
				VALUES('delete', old.rowid, old.subject, old.object, old.context_sentences);
			END`,
			`CREATE TRIGGER triplets_au AFTER UPDATE ON triplets BEGIN
				INSERT INTO triplets_fts(triplets_fts, rowid, subject, object, context_sentences)
				VALUES('delete', old.rowid, old.subject, old.object, old.context_sentences);
				INSERT INTO triplets_fts(rowid, subject, object, context_sentences)
				VALUES (new.rowid, new.subject, new.object, new.context_sentences);
			END`,
		}
		for _, stmt := range ftsStatements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("creating FTS infrastructure: %w", err)
			}
		}
	}

	return nil
}
