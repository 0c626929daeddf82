package seqflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// checkpointPath returns the state file for one job. Job IDs are filenames
// in practice; anything path-hostile is flattened.
func checkpointPath(dir, jobID string) string {
	name := filepath.Base(jobID)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "job"
	}
	return filepath.Join(dir, name+".state.json")
}

// checkpoint persists the current state with a write-then-rename so a crash
// mid-write never leaves a consumer reading a torn file. Checkpointing is
// disabled when no directory is configured.
func (m *Machine) checkpoint() error {
	if m.checkpointDir == "" {
		return nil
	}
	if err := os.MkdirAll(m.checkpointDir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: mkdir %s: %w", m.checkpointDir, err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	target := checkpointPath(m.checkpointDir, m.state.JobID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write tmp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// loadCheckpoint reads a job's saved state. A missing file returns (nil, nil)
// so callers can fall back to a fresh machine.
func loadCheckpoint(dir, jobID string) (*State, error) {
	if dir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(checkpointPath(dir, jobID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: read: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("checkpoint: decode: %w", err)
	}
	return &st, nil
}
