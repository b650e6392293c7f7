// Package artifact persists the TranscriptionArtifact produced by a
// completed job as the canonical JSON file spec §6.3 describes ("one
// canonical JSON output per completed job ... stored under a directory
// keyed by job_id"), grounded in the teacher's per-job output directory
// convention (internal/transcription/whisperx.go's
// filepath.Join("data", "transcripts", jobID)).
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"transcriflow/internal/models"
)

// Store writes/reads/removes per-job artifact directories under root.
type Store struct {
	root string
}

// New returns a Store rooted at root (typically <work_dir>/artifacts).
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) dir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

// resultRef is the opaque handle spec §3 assigns to a completed job's
// artifact: the path to its canonical JSON file.
func (s *Store) resultRef(jobID string) string {
	return filepath.Join(s.dir(jobID), "result.json")
}

// Save persists a as the canonical JSON artifact for a completed job and
// returns its result_ref.
func (s *Store) Save(jobID string, a models.TranscriptionArtifact) (string, error) {
	dir := s.dir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode artifact: %w", err)
	}
	ref := s.resultRef(jobID)
	if err := os.WriteFile(ref, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return ref, nil
}

// Load reads the artifact previously saved for jobID.
func (s *Store) Load(resultRef string) (models.TranscriptionArtifact, error) {
	var a models.TranscriptionArtifact
	data, err := os.ReadFile(resultRef)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, err
	}
	return a, nil
}

// Remove deletes a job's entire artifact directory. Called by the
// retention sweeper (C8) alongside the store record deletion, so record
// and artifact are removed together (spec §6.3).
func (s *Store) Remove(jobID string) error {
	return os.RemoveAll(s.dir(jobID))
}
