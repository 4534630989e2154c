package worktree

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tbd-org/tbd/internal/gitadapter"
)

// scriptedRunner is a minimal Runner double keyed by the first argument,
// enough to drive the health and init decision trees without a real git
// binary.
type scriptedRunner struct {
	worktreeList string
	showRefOK    map[string]bool
	failRevParse bool
}

func (r *scriptedRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	switch args[0] {
	case "worktree":
		if len(args) > 1 && args[1] == "list" {
			return []byte(r.worktreeList), nil
		}
		return []byte(""), nil
	case "show-ref":
		ref := args[len(args)-1]
		if r.showRefOK[ref] {
			return []byte("ok"), nil
		}
		return nil, &gitadapter.RunError{Args: args, Output: "not found", Err: errNotFound}
	case "rev-parse":
		if r.failRevParse {
			return nil, &gitadapter.RunError{Args: args, Output: "bad ref", Err: errNotFound}
		}
		return []byte("deadbeef"), nil
	case "symbolic-ref":
		return []byte("refs/heads/tbd-sync"), nil
	default:
		return []byte(""), nil
	}
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errNotFound = sentinelErr("not found")

func TestCheckMissingWhenNeitherRegisteredNorPresent(t *testing.T) {
	repo := t.TempDir()
	path := filepath.Join(repo, ".tbd", "data-sync-worktree")
	r := &scriptedRunner{worktreeList: "worktree " + repo + "\n"}
	a := gitadapter.NewWithRunner(repo, r)

	result, err := Check(context.Background(), a, path)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Health != Missing {
		t.Errorf("Health = %v, want Missing", result.Health)
	}
}

func TestCheckPrunableWhenRegisteredButAbsent(t *testing.T) {
	repo := t.TempDir()
	path := filepath.Join(repo, ".tbd", "data-sync-worktree")
	r := &scriptedRunner{worktreeList: "worktree " + repo + "\nworktree " + path + "\n"}
	a := gitadapter.NewWithRunner(repo, r)

	result, err := Check(context.Background(), a, path)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Health != Prunable {
		t.Errorf("Health = %v, want Prunable", result.Health)
	}
}

func TestCheckCorruptedWhenPresentButUnregistered(t *testing.T) {
	repo := t.TempDir()
	path := filepath.Join(repo, ".tbd", "data-sync-worktree")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	r := &scriptedRunner{worktreeList: "worktree " + repo + "\n"}
	a := gitadapter.NewWithRunner(repo, r)

	result, err := Check(context.Background(), a, path)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Health != Corrupted {
		t.Errorf("Health = %v, want Corrupted", result.Health)
	}
}

func TestCheckValidWhenRegisteredAndHeadResolves(t *testing.T) {
	repo := t.TempDir()
	path := filepath.Join(repo, ".tbd", "data-sync-worktree")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	r := &scriptedRunner{worktreeList: "worktree " + repo + "\nworktree " + path + "\n"}
	a := gitadapter.NewWithRunner(repo, r)

	result, err := Check(context.Background(), a, path)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Health != Valid {
		t.Errorf("Health = %v, want Valid", result.Health)
	}
	if result.Commit != "deadbeef" {
		t.Errorf("Commit = %q, want deadbeef", result.Commit)
	}
}

func TestCheckCorruptedWhenHeadDoesNotResolve(t *testing.T) {
	repo := t.TempDir()
	path := filepath.Join(repo, ".tbd", "data-sync-worktree")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	r := &scriptedRunner{worktreeList: "worktree " + repo + "\nworktree " + path + "\n", failRevParse: true}
	a := gitadapter.NewWithRunner(repo, r)

	result, err := Check(context.Background(), a, path)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Health != Corrupted {
		t.Errorf("Health = %v, want Corrupted", result.Health)
	}
}

func TestScaffoldCreatesExpectedLayout(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), ".tbd", "data-sync")
	if err := scaffold(dataDir); err != nil {
		t.Fatalf("scaffold: %v", err)
	}

	for _, sub := range []string{"issues", "mappings", "attic/conflicts"} {
		if info, err := os.Stat(filepath.Join(dataDir, sub)); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", sub)
		}
	}

	meta, err := os.ReadFile(filepath.Join(dataDir, "meta.yml"))
	if err != nil {
		t.Fatalf("read meta.yml: %v", err)
	}
	if !strings.Contains(string(meta), "schema_version: 1") {
		t.Errorf("meta.yml = %q, want it to contain schema_version: 1", meta)
	}
}
