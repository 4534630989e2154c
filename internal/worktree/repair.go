package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// BackupsDir is where Repair stashes corrupted worktree contents before
// reinitializing, relative to the host repository root.
const BackupsDir = ".tbd/backups"

// Repair brings a non-Valid worktree back to a valid state:
//   - Prunable: prune the stale registration, then init.
//   - Corrupted: back up the directory's contents, remove it, prune, init.
//   - Missing: prune (in case of a stale registration), then init.
func (m *Manager) Repair(ctx context.Context, health Health) error {
	switch health {
	case Prunable:
		if err := m.prune(ctx); err != nil {
			return err
		}
		return m.init(ctx)

	case Corrupted:
		if _, err := os.Stat(m.Path); err == nil {
			if err := m.backup(ctx); err != nil {
				return err
			}
			if err := os.RemoveAll(m.Path); err != nil {
				return fmt.Errorf("worktree: remove corrupted directory: %w", err)
			}
		}
		if err := m.prune(ctx); err != nil {
			return err
		}
		return m.init(ctx)

	case Missing:
		if err := m.prune(ctx); err != nil {
			return err
		}
		return m.init(ctx)

	case Valid:
		return nil

	default:
		return fmt.Errorf("worktree: unrecognized health state %v", health)
	}
}

func (m *Manager) prune(ctx context.Context) error {
	if _, err := m.Adapter.Run(ctx, m.Adapter.RepoDir(), "worktree", "prune"); err != nil {
		return fmt.Errorf("worktree: prune: %w", err)
	}
	return nil
}

// backup copies the corrupted worktree's contents to a timestamped
// directory under BackupsDir so an operator can recover anything that
// wasn't yet committed.
func (m *Manager) backup(ctx context.Context) error {
	backupsRoot := filepath.Join(m.Adapter.RepoDir(), BackupsDir)
	dest := filepath.Join(backupsRoot, "worktree-"+strconv.FormatInt(time.Now().UnixNano(), 10))
	if err := os.MkdirAll(backupsRoot, 0o755); err != nil {
		return fmt.Errorf("worktree: ensure backups dir: %w", err)
	}
	if err := copyDir(m.Path, dest); err != nil {
		return fmt.Errorf("worktree: back up corrupted directory: %w", err)
	}
	return nil
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
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
		data, err := os.ReadFile(path) // #nosec G304 -- path is walked from a worktree we own
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}
