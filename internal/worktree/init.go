package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tbd-org/tbd/internal/gitadapter"
)

// SchemaVersion is stamped into meta.yml on a freshly scaffolded replication
// directory.
const SchemaVersion = 1

// DataDir is the fixed path, relative to the worktree root, holding the
// replicated issues/mappings/attic.
const DataDir = ".tbd/data-sync"

// CheckoutDir is the fixed path, relative to the repository root, of the
// auxiliary checkout itself.
const CheckoutDir = ".tbd/data-sync-worktree"

// Manager owns one auxiliary checkout of a sync branch.
type Manager struct {
	Adapter *gitadapter.Adapter
	Path    string // e.g. <repo>/.tbd/data-sync-worktree
	Branch  string
	Remote  string
}

// Ensure brings the worktree to a valid state, initializing or repairing as
// required by its current health.
func (m *Manager) Ensure(ctx context.Context) (*CheckResult, error) {
	check, err := Check(ctx, m.Adapter, m.Path)
	if err != nil {
		return nil, err
	}
	switch check.Health {
	case Valid:
		if repaired, err := m.ensureAttached(ctx); err != nil {
			return nil, err
		} else if repaired {
			return Check(ctx, m.Adapter, m.Path)
		}
		return check, nil
	default:
		if err := m.Repair(ctx, check.Health); err != nil {
			return nil, err
		}
		return Check(ctx, m.Adapter, m.Path)
	}
}

// init runs the decision tree: attach to a local branch, a remote branch, or
// create a fresh orphan branch with a scaffolded replication directory.
func (m *Manager) init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(m.Path), 0o755); err != nil {
		return fmt.Errorf("worktree: ensure parent dir: %w", err)
	}

	localExists := m.branchExists(ctx, "refs/heads/"+m.Branch)
	remoteExists := m.branchExists(ctx, "refs/remotes/"+m.Remote+"/"+m.Branch)

	switch {
	case localExists:
		if _, err := m.Adapter.Run(ctx, m.Adapter.RepoDir(), "worktree", "add", m.Path, m.Branch); err != nil {
			return fmt.Errorf("worktree: add existing local branch: %w", err)
		}
		return nil

	case remoteExists:
		if err := m.Adapter.Fetch(ctx, m.Remote, m.Branch); err != nil {
			return fmt.Errorf("worktree: fetch remote branch: %w", err)
		}
		if _, err := m.Adapter.Run(ctx, m.Adapter.RepoDir(), "worktree", "add", "--track", "-b", m.Branch, m.Path, m.Remote+"/"+m.Branch); err != nil {
			return fmt.Errorf("worktree: add tracking remote branch: %w", err)
		}
		return nil

	default:
		if _, err := m.Adapter.Run(ctx, m.Adapter.RepoDir(), "worktree", "add", "--orphan", "-b", m.Branch, m.Path); err != nil {
			return fmt.Errorf("worktree: add orphan branch: %w", err)
		}
		if err := scaffold(filepath.Join(m.Path, DataDir)); err != nil {
			return err
		}
		if _, err := m.Adapter.Run(ctx, m.Path, "add", "-A"); err != nil {
			return fmt.Errorf("worktree: stage scaffold: %w", err)
		}
		if _, err := m.Adapter.Run(ctx, m.Path, "commit", "--no-verify", "-m", "initialize replication directory"); err != nil {
			return fmt.Errorf("worktree: initial commit: %w", err)
		}
		return nil
	}
}

func (m *Manager) branchExists(ctx context.Context, ref string) bool {
	_, err := m.Adapter.Run(ctx, m.Adapter.RepoDir(), "show-ref", "--verify", "--quiet", ref)
	return err == nil
}

// scaffold creates issues/, mappings/, attic/conflicts/ and a schema-stamped
// meta.yml beneath dataDir.
func scaffold(dataDir string) error {
	for _, sub := range []string{"issues", "mappings", "attic/conflicts"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
			return fmt.Errorf("worktree: scaffold %s: %w", sub, err)
		}
	}
	meta := fmt.Sprintf("schema_version: %d\n", SchemaVersion)
	if err := os.WriteFile(filepath.Join(dataDir, "meta.yml"), []byte(meta), 0o644); err != nil {
		return fmt.Errorf("worktree: write meta.yml: %w", err)
	}
	return nil
}

// ensureAttached detects a detached HEAD (from an older worktree layout)
// and re-checks out the branch, reporting whether a repair occurred.
func (m *Manager) ensureAttached(ctx context.Context) (bool, error) {
	out, err := m.Adapter.Run(ctx, m.Path, "symbolic-ref", "-q", "HEAD")
	if err == nil && strings.TrimSpace(string(out)) == "refs/heads/"+m.Branch {
		return false, nil
	}
	if _, err := m.Adapter.Run(ctx, m.Path, "checkout", m.Branch); err != nil {
		return false, fmt.Errorf("worktree: re-attach to %s: %w", m.Branch, err)
	}
	return true, nil
}
