package gitadapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// IndexGuard scopes an alternative GIT_INDEX_FILE to a single logical
// operation so a commit to the sync branch never disturbs the user's own
// staging area. Rather than mutating the process environment with
// os.Setenv/Unsetenv (a global, non-reentrant resource that cannot be
// restored safely across panics in a library meant to be called from
// arbitrary goroutines), the guard hands back a Runner whose invocations
// carry GIT_INDEX_FILE only for themselves; the underlying temp index file
// is removed on Close regardless of how the caller's operation ends.
type IndexGuard struct {
	runner Runner
	path   string
}

// NewIndexGuard allocates a temporary index file inside gitDir and returns a
// guard exposing a Runner scoped to it.
func NewIndexGuard(base Runner, gitDir string) (*IndexGuard, error) {
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		return nil, fmt.Errorf("gitadapter: ensure git dir %s: %w", gitDir, err)
	}
	name := "tbd-index-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	path := filepath.Join(gitDir, name)

	scoped, ok := base.(interface {
		WithEnv(...string) *SubprocessRunner
	})
	var runner Runner
	if ok {
		runner = scoped.WithEnv("GIT_INDEX_FILE=" + path)
	} else {
		runner = envRunner{Runner: base, env: "GIT_INDEX_FILE=" + path}
	}

	return &IndexGuard{runner: runner, path: path}, nil
}

// Runner returns the scoped Runner; every invocation through it writes to
// the isolated index rather than the caller's staging area.
func (g *IndexGuard) Runner() Runner {
	return g.runner
}

// Close removes the isolated index file. It is always safe to call,
// including after the guarded operation panicked or returned an error; the
// caller is expected to defer it immediately after NewIndexGuard succeeds.
func (g *IndexGuard) Close() error {
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("gitadapter: remove isolated index: %w", err)
	}
	return nil
}

// envRunner wraps a Runner that does not expose WithEnv (e.g. a test
// double). It injects the fixed env entry only when the wrapped Runner also
// implements RunWithEnv; otherwise each call is passed through without it.
type envRunner struct {
	Runner
	env string
}

func (r envRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	type envAware interface {
		RunWithEnv(ctx context.Context, dir string, env []string, args ...string) ([]byte, error)
	}
	if ea, ok := r.Runner.(envAware); ok {
		return ea.RunWithEnv(ctx, dir, []string{r.env}, args...)
	}
	return r.Runner.Run(ctx, dir, args...)
}
