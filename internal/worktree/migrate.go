package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// MisplacedDataDir is the path issues and mappings end up at when written
// directly beneath the host repository's replication directory instead of
// inside the auxiliary worktree, a mistake earlier tooling versions made.
const MisplacedDataDir = ".tbd/data-sync"

// MigrateResult reports whether a data-location migration ran and what it
// moved.
type MigrateResult struct {
	Migrated     bool
	FilesMoved   int
	RemovedOriginals bool
}

// MigrateDataLocation detects issues/mappings written to MisplacedDataDir at
// the repository root rather than inside the worktree, and if present: backs
// them up, ensures the worktree is attached, copies them into place, stages,
// and commits (skipping a no-op commit). If removeOriginals is true the
// misplaced directory is deleted once the copy is committed.
func (m *Manager) MigrateDataLocation(ctx context.Context, removeOriginals bool) (*MigrateResult, error) {
	misplaced := filepath.Join(m.Adapter.RepoDir(), MisplacedDataDir)
	if _, err := os.Stat(misplaced); os.IsNotExist(err) {
		return &MigrateResult{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("worktree: stat %s: %w", misplaced, err)
	}

	if err := m.backupPath(misplaced); err != nil {
		return nil, err
	}

	if _, err := m.ensureAttached(ctx); err != nil {
		return nil, err
	}

	dest := filepath.Join(m.Path, DataDir)
	moved, err := copyDirCounting(misplaced, dest)
	if err != nil {
		return nil, fmt.Errorf("worktree: copy misplaced data: %w", err)
	}

	if moved == 0 {
		return &MigrateResult{}, nil
	}

	if _, err := m.Adapter.Run(ctx, m.Path, "add", "-A"); err != nil {
		return nil, fmt.Errorf("worktree: stage migrated data: %w", err)
	}
	statusOut, err := m.Adapter.Run(ctx, m.Path, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("worktree: check staged status: %w", err)
	}
	committed := false
	if len(statusOut) > 0 {
		if _, err := m.Adapter.Run(ctx, m.Path, "commit", "--no-verify", "-m", "migrate misplaced replication data into worktree"); err != nil {
			return nil, fmt.Errorf("worktree: commit migrated data: %w", err)
		}
		committed = true
	}

	result := &MigrateResult{Migrated: committed, FilesMoved: moved}
	if removeOriginals && committed {
		if err := os.RemoveAll(misplaced); err != nil {
			return nil, fmt.Errorf("worktree: remove misplaced originals: %w", err)
		}
		result.RemovedOriginals = true
	}
	return result, nil
}

func (m *Manager) backupPath(path string) error {
	backupsRoot := filepath.Join(m.Adapter.RepoDir(), BackupsDir)
	if err := os.MkdirAll(backupsRoot, 0o755); err != nil {
		return fmt.Errorf("worktree: ensure backups dir: %w", err)
	}
	dest := filepath.Join(backupsRoot, "migrate-"+filepath.Base(path))
	if err := copyDir(path, dest); err != nil {
		return fmt.Errorf("worktree: back up misplaced data: %w", err)
	}
	return nil
}

func copyDirCounting(src, dst string) (int, error) {
	count := 0
	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path) // #nosec G304 -- path is walked from a repo-owned directory
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, data, info.Mode()); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}
