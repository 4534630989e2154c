// Package syncbranch validates sync branch names and watches the remote
// sync branch for history rewrites between syncs.
package syncbranch

import (
	"fmt"
	"os"
	"regexp"

	"github.com/tbd-org/tbd/internal/record"
)

// EnvVar overrides the configured sync branch when set.
const EnvVar = "TBD_SYNC_BRANCH"

// branchNamePattern follows git-check-ref-format: start and end with an
// alphanumeric, with ._-/ allowed in between.
var branchNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*[a-zA-Z0-9]$`)

var consecutiveDots = regexp.MustCompile(`\.\.`)

// ValidateBranchName checks a branch name against git's ref format rules.
// The empty string is accepted; callers substitute their default.
func ValidateBranchName(name string) error {
	if name == "" {
		return nil
	}
	if len(name) > 255 {
		return fmt.Errorf("branch name too long (max 255 characters)")
	}
	if !branchNamePattern.MatchString(name) {
		return fmt.Errorf("invalid branch name: must start and end with alphanumeric, can contain .-_/ in middle")
	}
	if name == "HEAD" || name == "." || name == ".." {
		return fmt.Errorf("invalid branch name: %s is reserved", name)
	}
	if consecutiveDots.MatchString(name) {
		return fmt.Errorf("invalid branch name: cannot contain '..'")
	}
	return nil
}

// ValidateSyncBranchName checks a name for use as the sync branch. The
// primary branches are rejected: the worktree mechanism checks the sync
// branch out permanently, which would prevent the user from checking the
// same branch out in their own working tree.
func ValidateSyncBranchName(name string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	if name == "main" || name == "master" {
		return fmt.Errorf("cannot use %q as sync branch: git worktrees prevent checking out the same branch in multiple locations. Use a dedicated branch like 'tbd-sync' instead", name)
	}
	return nil
}

// Resolve returns the effective sync branch: the TBD_SYNC_BRANCH
// environment variable when set, otherwise the configured branch,
// otherwise the default.
func Resolve(cfg *record.Config) (string, error) {
	if envBranch := os.Getenv(EnvVar); envBranch != "" {
		if err := ValidateSyncBranchName(envBranch); err != nil {
			return "", fmt.Errorf("invalid %s: %w", EnvVar, err)
		}
		return envBranch, nil
	}
	branch := cfg.Sync.Branch
	if branch == "" {
		branch = record.DefaultConfig().Sync.Branch
	}
	if err := ValidateSyncBranchName(branch); err != nil {
		return "", fmt.Errorf("invalid sync.branch in config: %w", err)
	}
	return branch, nil
}
