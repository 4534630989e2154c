package gitadapter

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// MinVersion is the lowest host git version this adapter supports, required
// for orphan-worktree creation (git worktree add --orphan).
var MinVersion = [2]int{2, 42}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// upgradeHints gives an OS-keyed suggestion for bringing git up to date.
var upgradeHints = map[string]string{
	"darwin":  "brew upgrade git",
	"linux":   "use your distribution's package manager, or install from https://git-scm.com/download/linux",
	"windows": "download the latest installer from https://git-scm.com/download/win",
}

// HostVersionError is returned when the installed git predates MinVersion.
type HostVersionError struct {
	Found       string
	Required    string
	UpgradeHint string
}

func (e *HostVersionError) Error() string {
	return fmt.Sprintf("git %s is installed but %s+ is required: %s", e.Found, e.Required, e.UpgradeHint)
}

// CheckVersion parses `git --version` and refuses to operate below MinVersion.
func CheckVersion(ctx context.Context, r Runner) error {
	out, err := r.Run(ctx, "", "--version")
	if err != nil {
		return fmt.Errorf("gitadapter: check version: %w", err)
	}

	m := versionPattern.FindStringSubmatch(string(out))
	if m == nil {
		return fmt.Errorf("gitadapter: could not parse git version from %q", strings.TrimSpace(string(out)))
	}

	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])

	if major > MinVersion[0] || (major == MinVersion[0] && minor >= MinVersion[1]) {
		return nil
	}

	hint := upgradeHints[runtime.GOOS]
	if hint == "" {
		hint = "upgrade git from https://git-scm.com/downloads"
	}

	return &HostVersionError{
		Found:       fmt.Sprintf("%d.%d", major, minor),
		Required:    fmt.Sprintf("%d.%d", MinVersion[0], MinVersion[1]),
		UpgradeHint: hint,
	}
}
