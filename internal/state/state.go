// Package state persists the small, untracked local state document that
// records side effects of sync (last_sync_at, last_doc_sync_at). It never
// touches the sync branch.
package state

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tbd-org/tbd/internal/record"
)

// FileName is the fixed path, relative to .tbd/, of the state document.
const FileName = "state.yml"

// Load reads the state document at path. A missing file yields a zero-value
// LocalState, not an error.
func Load(path string) (*record.LocalState, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is a fixed, repo-relative state file
	if err != nil {
		if os.IsNotExist(err) {
			return &record.LocalState{}, nil
		}
		return nil, fmt.Errorf("state: read %s: %w", path, err)
	}

	var s record.LocalState
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("state: parse %s: %w", path, err)
	}
	return &s, nil
}

// Save writes the state document atomically.
func Save(path string, s *record.LocalState) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: ensure dir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("state: marshal %s: %w", path, err)
	}

	tmpFile, err := os.CreateTemp(dir, "state-*.yml.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("state: write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("state: sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("state: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("state: rename into place: %w", err)
	}
	return nil
}
