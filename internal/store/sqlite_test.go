package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ResumeStore {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	s, err := NewWithDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return s
}

func TestSaveAndLoadResume(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveResume(ctx, "/work/a", "session-1"))

	got, err := s.LoadResume(ctx, "/work/a")
	require.NoError(t, err)
	assert.Equal(t, "session-1", got)
}

func TestLoadResumeMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.LoadResume(context.Background(), "/nowhere")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveResumeUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveResume(ctx, "/work/a", "session-1"))
	require.NoError(t, s.SaveResume(ctx, "/work/a", "session-2"))

	got, err := s.LoadResume(ctx, "/work/a")
	require.NoError(t, err)
	assert.Equal(t, "session-2", got)
}

func TestSaveResumeValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.SaveResume(ctx, "", "session-1"))
	assert.Error(t, s.SaveResume(ctx, "/work/a", ""))
}

func TestClearResume(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveResume(ctx, "/work/a", "session-1"))
	require.NoError(t, s.ClearResume(ctx, "/work/a"))

	got, err := s.LoadResume(ctx, "/work/a")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveResume(context.Background(), "/w", "sess"))
}
