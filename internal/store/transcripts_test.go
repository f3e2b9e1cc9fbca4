package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTranscript(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestScanTranscripts(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	old := writeTranscript(t, dir,
		"2026/08/29/rollout-2026-08-29T10-00-00-11111111-2222-3333-4444-555555555555.jsonl",
		now.Add(-time.Hour))
	recent := writeTranscript(t, dir,
		"2026/08/30/rollout-2026-08-30T09-00-00-aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee.jsonl",
		now)
	// Files without the uuid suffix are ignored.
	writeTranscript(t, dir, "notes.jsonl", now)

	transcripts, err := ScanTranscripts(dir)
	require.NoError(t, err)
	require.Len(t, transcripts, 2)
	assert.Equal(t, recent, transcripts[0].Path)
	assert.Equal(t, "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", transcripts[0].SessionID)
	assert.Equal(t, old, transcripts[1].Path)
}

func TestFindTranscript(t *testing.T) {
	dir := t.TempDir()
	want := writeTranscript(t, dir,
		"rollout-2026-08-30T09-00-00-aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee.jsonl",
		time.Now())

	got, err := FindTranscript(dir, "AAAAAAAA-BBBB-CCCC-DDDD-EEEEEEEEEEEE")
	require.NoError(t, err)
	assert.Equal(t, want, got, "session id match is case-insensitive")

	got, err = FindTranscript(dir, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLatestTranscript(t *testing.T) {
	dir := t.TempDir()

	got, err := LatestTranscript(dir)
	require.NoError(t, err)
	assert.Empty(t, got)

	now := time.Now()
	writeTranscript(t, dir,
		"rollout-2026-08-30T08-00-00-11111111-2222-3333-4444-555555555555.jsonl",
		now.Add(-time.Minute))
	want := writeTranscript(t, dir,
		"rollout-2026-08-30T09-00-00-aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee.jsonl",
		now)

	got, err = LatestTranscript(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
