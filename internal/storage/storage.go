// Package storage performs atomic, file-per-issue persistence of issue
// records beneath a replication directory (a worktree's issues/ folder or a
// workspace's issues/ folder).
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tbd-org/tbd/internal/record"
	"github.com/tbd-org/tbd/internal/recordio"
)

// Extension is the canonical suffix list scans for and writes.
const Extension = ".md"

// ErrNotFound is returned by Read when no issue file exists for the id.
var ErrNotFound = errors.New("storage: issue not found")

// Warning describes a file list skipped because it failed to parse; list
// continues past these rather than aborting the whole scan.
type Warning struct {
	Path string
	Err  error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %v", w.Path, w.Err)
}

// Store reads and writes issue records beneath a single base directory.
type Store struct {
	baseDir string
}

// New returns a Store rooted at baseDir (the directory holding <id>.md files,
// e.g. .../issues).
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.baseDir, id+Extension)
}

// Read loads and parses a single issue by id.
func (s *Store) Read(id string) (*record.Issue, error) {
	data, err := os.ReadFile(s.path(id)) // #nosec G304 -- id is validated upstream by the id-mapping resolver
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: read %s: %w", id, err)
	}
	issue, err := recordio.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("storage: parse %s: %w", id, err)
	}
	return issue, nil
}

// Write atomically persists issue, writing to a same-directory temp file and
// renaming into place so partial files are never observable.
func (s *Store) Write(issue *record.Issue) error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("storage: ensure dir %s: %w", s.baseDir, err)
	}

	data, err := recordio.Serialize(issue)
	if err != nil {
		return fmt.Errorf("storage: serialize %s: %w", issue.ID, err)
	}

	tmpFile, err := os.CreateTemp(s.baseDir, "issue-*.md.tmp")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage: write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage: sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path(issue.ID)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage: rename into place: %w", err)
	}
	return nil
}

// Delete removes an issue file. It is idempotent: deleting an id that is
// already absent is not an error.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete %s: %w", id, err)
	}
	return nil
}

// List reads every issue file beneath the base directory in parallel.
// A directory that does not exist returns an empty slice and no error,
// distinct from an existing-but-empty directory (also empty, no error).
// Files that fail to parse are skipped and reported as warnings rather than
// aborting the scan.
func (s *Store) List(ctx context.Context) ([]*record.Issue, []Warning, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("storage: list %s: %w", s.baseDir, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), Extension))
	}

	var (
		mu       sync.Mutex
		issues   []*record.Issue
		warnings []Warning
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			issue, err := s.Read(id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				warnings = append(warnings, Warning{Path: s.path(id), Err: err})
				return nil
			}
			issues = append(issues, issue)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("storage: list %s: %w", s.baseDir, err)
	}

	sort.Slice(issues, func(i, j int) bool { return issues[i].ID < issues[j].ID })
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Path < warnings[j].Path })

	return issues, warnings, nil
}
