package store

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// transcriptPattern matches agent transcript file names, which end with the
// thread uuid, e.g. rollout-2026-08-30T10-11-12-<uuid>.jsonl.
var transcriptPattern = regexp.MustCompile(`-([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})\.jsonl$`)

// Transcript is one discovered transcript file.
type Transcript struct {
	Path      string
	SessionID string
	ModTime   time.Time
}

// ScanTranscripts walks the agent's sessions directory for transcript
// files, newest first.
func ScanTranscripts(sessionsDir string) ([]Transcript, error) {
	var found []Transcript
	err := filepath.WalkDir(sessionsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Session directories appear and disappear while the agent
			// runs; skip whatever cannot be read.
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		m := transcriptPattern.FindStringSubmatch(d.Name())
		if m == nil {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		found = append(found, Transcript{Path: path, SessionID: m[1], ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].ModTime.After(found[j].ModTime)
	})
	return found, nil
}

// FindTranscript locates the transcript file for a session id, empty when
// none exists.
func FindTranscript(sessionsDir, sessionID string) (string, error) {
	transcripts, err := ScanTranscripts(sessionsDir)
	if err != nil {
		return "", err
	}
	for _, t := range transcripts {
		if strings.EqualFold(t.SessionID, sessionID) {
			return t.Path, nil
		}
	}
	return "", nil
}

// LatestTranscript returns the most recently modified transcript, empty
// when the directory holds none.
func LatestTranscript(sessionsDir string) (string, error) {
	transcripts, err := ScanTranscripts(sessionsDir)
	if err != nil {
		return "", err
	}
	if len(transcripts) == 0 {
		return "", nil
	}
	return transcripts[0].Path, nil
}
