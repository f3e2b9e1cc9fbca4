// Package store persists session resume state so logical sessions survive
// daemon and agent restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// ResumeStore is a sqlite-backed map from workspace to the last known
// session id, with a timestamp for staleness inspection.
type ResumeStore struct {
	db     *sqlx.DB
	ownsDB bool
}

// Open opens (or creates) the store at path.
func Open(path string) (*ResumeStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return newResumeStore(db, true)
}

// NewWithDB wraps an existing connection, mainly for tests.
func NewWithDB(db *sqlx.DB) (*ResumeStore, error) {
	return newResumeStore(db, false)
}

func newResumeStore(db *sqlx.DB, ownsDB bool) (*ResumeStore, error) {
	s := &ResumeStore{db: db, ownsDB: ownsDB}
	if err := s.initSchema(); err != nil {
		if ownsDB {
			_ = db.Close()
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *ResumeStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_resume (
		work_dir TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying connection when owned.
func (s *ResumeStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// SaveResume upserts the session id for a workspace.
func (s *ResumeStore) SaveResume(ctx context.Context, workDir, sessionID string) error {
	if workDir == "" || sessionID == "" {
		return fmt.Errorf("work dir and session id are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_resume (work_dir, session_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(work_dir) DO UPDATE SET
			session_id = excluded.session_id,
			updated_at = excluded.updated_at
	`, workDir, sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save resume id: %w", err)
	}
	return nil
}

// LoadResume returns the stored session id for a workspace, empty when none
// is recorded.
func (s *ResumeStore) LoadResume(ctx context.Context, workDir string) (string, error) {
	var sessionID string
	err := s.db.GetContext(ctx, &sessionID,
		`SELECT session_id FROM session_resume WHERE work_dir = ?`, workDir)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load resume id: %w", err)
	}
	return sessionID, nil
}

// ClearResume forgets the stored session for a workspace.
func (s *ResumeStore) ClearResume(ctx context.Context, workDir string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_resume WHERE work_dir = ?`, workDir)
	if err != nil {
		return fmt.Errorf("failed to clear resume id: %w", err)
	}
	return nil
}
