package gitadapter

import (
	"context"
	"fmt"
	"strings"
)

// CommitOptions describes a commit to the sync branch performed under an
// isolated index.
type CommitOptions struct {
	// WorktreeDir is the checkout whose files are being committed.
	WorktreeDir string
	// GitDir is the .git directory backing WorktreeDir (used to scope the
	// isolated index file).
	GitDir string
	Branch string
	Files  []string
	Message string
}

// CommitResult reports the outcome of CommitToBranch.
type CommitResult struct {
	Commit string
	Orphan bool
}

// CommitToBranch stages Files, writes a tree, and creates a commit on Branch
// entirely through an isolated index, leaving the caller's own staging area
// untouched. If Branch does not yet exist, the commit is created as an
// orphan (no parent).
func (a *Adapter) CommitToBranch(ctx context.Context, opts CommitOptions) (*CommitResult, error) {
	guard, err := NewIndexGuard(a.runner, opts.GitDir)
	if err != nil {
		return nil, err
	}
	defer guard.Close()
	runner := guard.Runner()

	parent, orphan, err := a.resolveBranchHead(ctx, opts.Branch)
	if err != nil {
		return nil, err
	}

	if !orphan {
		if _, err := runner.Run(ctx, opts.WorktreeDir, "read-tree", opts.Branch); err != nil {
			return nil, fmt.Errorf("gitadapter: read-tree %s: %w", opts.Branch, err)
		}
	}

	if len(opts.Files) > 0 {
		args := append([]string{"add", "--"}, opts.Files...)
		if _, err := runner.Run(ctx, opts.WorktreeDir, args...); err != nil {
			return nil, fmt.Errorf("gitadapter: add files: %w", err)
		}
	}

	treeOut, err := runner.Run(ctx, opts.WorktreeDir, "write-tree")
	if err != nil {
		return nil, fmt.Errorf("gitadapter: write-tree: %w", err)
	}
	tree := strings.TrimSpace(string(treeOut))

	commitArgs := []string{"commit-tree", tree, "-m", opts.Message}
	if !orphan {
		commitArgs = append(commitArgs, "-p", parent)
	}
	commitOut, err := runner.Run(ctx, opts.WorktreeDir, commitArgs...)
	if err != nil {
		return nil, fmt.Errorf("gitadapter: commit-tree: %w", err)
	}
	commit := strings.TrimSpace(string(commitOut))

	refArgs := []string{"update-ref", "refs/heads/" + opts.Branch, commit}
	if !orphan {
		refArgs = append(refArgs, parent)
	}
	if _, err := runner.Run(ctx, opts.WorktreeDir, refArgs...); err != nil {
		return nil, fmt.Errorf("gitadapter: update-ref %s: %w", opts.Branch, err)
	}

	return &CommitResult{Commit: commit, Orphan: orphan}, nil
}

// resolveBranchHead returns the current commit of branch, or orphan=true if
// the branch does not yet exist.
func (a *Adapter) resolveBranchHead(ctx context.Context, branch string) (commit string, orphan bool, err error) {
	out, err := a.runner.Run(ctx, a.repoDir, "rev-parse", "--verify", "refs/heads/"+branch)
	if err != nil {
		return "", true, nil
	}
	return strings.TrimSpace(string(out)), false, nil
}
