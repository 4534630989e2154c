// Package worktree classifies and repairs the auxiliary git checkout of
// the sync branch: a fixed, always-attached (never detached) checkout with
// its own scaffolded replication directory.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tbd-org/tbd/internal/gitadapter"
)

// Health is the classification of the auxiliary checkout's on-disk state.
type Health int

const (
	// Valid: directory exists, registered with git, and HEAD resolves.
	Valid Health = iota
	// Missing: directory absent and not registered.
	Missing
	// Prunable: registered but the directory was deleted externally.
	Prunable
	// Corrupted: directory exists but is not a valid checkout, or git lists
	// it but HEAD does not resolve.
	Corrupted
)

func (h Health) String() string {
	switch h {
	case Valid:
		return "valid"
	case Missing:
		return "missing"
	case Prunable:
		return "prunable"
	case Corrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

// CheckResult is the outcome of Check: the health state plus, when
// determinable, the current commit and branch (or "" if detached).
type CheckResult struct {
	Health Health
	Commit string
	Branch string
}

// Check classifies the worktree at path.
func Check(ctx context.Context, adapter *gitadapter.Adapter, path string) (*CheckResult, error) {
	registered, dirPath, err := findRegistered(ctx, adapter, path)
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil

	switch {
	case !registered && !exists:
		return &CheckResult{Health: Missing}, nil
	case registered && !exists:
		return &CheckResult{Health: Prunable}, nil
	case !registered && exists:
		return &CheckResult{Health: Corrupted}, nil
	}

	commit, err := adapter.Run(ctx, dirPath, "rev-parse", "HEAD")
	if err != nil {
		return &CheckResult{Health: Corrupted}, nil
	}

	branch, err := adapter.Run(ctx, dirPath, "symbolic-ref", "--short", "HEAD")
	result := &CheckResult{Health: Valid, Commit: strings.TrimSpace(string(commit))}
	if err == nil {
		result.Branch = strings.TrimSpace(string(branch))
	}
	return result, nil
}

// findRegistered reports whether path appears in `git worktree list`.
func findRegistered(ctx context.Context, adapter *gitadapter.Adapter, path string) (registered bool, resolvedPath string, err error) {
	out, err := adapter.Run(ctx, adapter.RepoDir(), "worktree", "list", "--porcelain")
	if err != nil {
		return false, "", fmt.Errorf("worktree: list: %w", err)
	}

	want, absErr := filepath.Abs(path)
	if absErr != nil {
		want = path
	}

	for _, line := range strings.Split(string(out), "\n") {
		if !strings.HasPrefix(line, "worktree ") {
			continue
		}
		candidate := strings.TrimPrefix(line, "worktree ")
		candidateAbs, err := filepath.Abs(candidate)
		if err != nil {
			candidateAbs = candidate
		}
		if candidateAbs == want {
			return true, candidate, nil
		}
	}
	return false, "", nil
}
