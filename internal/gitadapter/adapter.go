package gitadapter

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Adapter is the façade sync, worktree, and doctor-style components use to
// drive the host git binary.
type Adapter struct {
	runner  Runner
	repoDir string
}

// New returns an Adapter rooted at repoDir using the default subprocess
// runner.
func New(repoDir string) *Adapter {
	return &Adapter{runner: &SubprocessRunner{}, repoDir: repoDir}
}

// NewWithRunner returns an Adapter using a caller-supplied Runner, primarily
// for tests that substitute a fake.
func NewWithRunner(repoDir string, runner Runner) *Adapter {
	return &Adapter{runner: runner, repoDir: repoDir}
}

// RepoDir returns the repository root the adapter operates against.
func (a *Adapter) RepoDir() string {
	return a.repoDir
}

// CheckVersion verifies the host git satisfies MinVersion.
func (a *Adapter) CheckVersion(ctx context.Context) error {
	return CheckVersion(ctx, a.runner)
}

// Run issues an arbitrary git subcommand in dir, for the plumbing
// (worktree add/prune/remove, show-ref, symbolic-ref) that has no dedicated
// wrapper here. Prefer a named method when one exists.
func (a *Adapter) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	return a.runner.Run(ctx, dir, args...)
}

// Fetch fetches branch from remote into its remote-tracking ref. A failure
// here is treated as non-fatal by callers: the local ref is used instead.
func (a *Adapter) Fetch(ctx context.Context, remote, branch string) error {
	_, err := a.runner.Run(ctx, a.repoDir, "fetch", remote, branch)
	if err != nil {
		return fmt.Errorf("gitadapter: fetch %s %s: %w", remote, branch, err)
	}
	return nil
}

// RevParse resolves a ref to its commit hash.
func (a *Adapter) RevParse(ctx context.Context, ref string) (string, error) {
	out, err := a.runner.Run(ctx, a.repoDir, "rev-parse", "--verify", ref)
	if err != nil {
		return "", fmt.Errorf("gitadapter: rev-parse %s: %w", ref, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// MergeBase returns the merge-base commit of two refs, or "" if they share
// no history (e.g. the remote ref does not exist yet).
func (a *Adapter) MergeBase(ctx context.Context, a1, a2 string) (string, error) {
	out, err := a.runner.Run(ctx, a.repoDir, "merge-base", a1, a2)
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(string(out)), nil
}

// ReadObject reads a file's blob contents at a given commit without
// switching the working tree, used to read remote issues without a checkout.
func (a *Adapter) ReadObject(ctx context.Context, commit, path string) ([]byte, error) {
	out, err := a.runner.Run(ctx, a.repoDir, "show", commit+":"+path)
	if err != nil {
		return nil, fmt.Errorf("gitadapter: read %s:%s: %w", commit, path, err)
	}
	return out, nil
}

// GitDir resolves the real .git directory backing worktreeDir (a linked
// worktree's own entry under the main repository's worktrees/ directory,
// not the common .git directory), for scoping an IndexGuard.
func (a *Adapter) GitDir(ctx context.Context, worktreeDir string) (string, error) {
	out, err := a.runner.Run(ctx, worktreeDir, "rev-parse", "--git-dir")
	if err != nil {
		return "", fmt.Errorf("gitadapter: resolve git dir for %s: %w", worktreeDir, err)
	}
	dir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(worktreeDir, dir)
	}
	return dir, nil
}

// ListTree lists the paths present under dir at commit.
func (a *Adapter) ListTree(ctx context.Context, commit, dir string) ([]string, error) {
	out, err := a.runner.Run(ctx, a.repoDir, "ls-tree", "-r", "--name-only", commit, "--", dir)
	if err != nil {
		return nil, fmt.Errorf("gitadapter: ls-tree %s %s: %w", commit, dir, err)
	}
	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}
