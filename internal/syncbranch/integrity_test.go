package syncbranch

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tbd-org/tbd/internal/gitadapter"
	"github.com/tbd-org/tbd/internal/record"
	"github.com/tbd-org/tbd/internal/state"
)

// integrityRunner scripts the fetch / rev-parse / merge-base sequence
// CheckForcePush drives.
type integrityRunner struct {
	fetchErr   error
	remoteSHA  string
	localSHA   string
	isAncestor bool
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func (r *integrityRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	switch args[0] {
	case "fetch":
		if r.fetchErr != nil {
			return nil, r.fetchErr
		}
		return nil, nil
	case "rev-parse":
		ref := args[len(args)-1]
		sha := r.remoteSHA
		if strings.HasPrefix(ref, "refs/heads/") {
			sha = r.localSHA
		}
		if sha == "" {
			return nil, &gitadapter.RunError{Args: args, Output: "unknown revision", Err: fakeErr("exit 128")}
		}
		return []byte(sha + "\n"), nil
	case "merge-base":
		if r.isAncestor {
			return nil, nil
		}
		return nil, &gitadapter.RunError{Args: args, Output: "", Err: fakeErr("exit 1")}
	default:
		return nil, nil
	}
}

func writeState(t *testing.T, dir, sha string) string {
	t.Helper()
	path := filepath.Join(dir, "state.yml")
	if err := state.Save(path, &record.LocalState{LastRemoteSHA: sha}); err != nil {
		t.Fatalf("Save state: %v", err)
	}
	return path
}

func TestCheckForcePushFirstSync(t *testing.T) {
	dir := t.TempDir()
	a := gitadapter.NewWithRunner(dir, &integrityRunner{})

	status, err := CheckForcePush(context.Background(), a, filepath.Join(dir, "state.yml"), "origin", "tbd-sync")
	if err != nil {
		t.Fatalf("CheckForcePush: %v", err)
	}
	if status.Detected {
		t.Error("Detected = true on first sync")
	}
	if status.StoredSHA != "" {
		t.Errorf("StoredSHA = %q, want empty", status.StoredSHA)
	}
}

func TestCheckForcePushUnchangedRemote(t *testing.T) {
	dir := t.TempDir()
	path := writeState(t, dir, "aaaa1111")
	a := gitadapter.NewWithRunner(dir, &integrityRunner{remoteSHA: "aaaa1111"})

	status, err := CheckForcePush(context.Background(), a, path, "origin", "tbd-sync")
	if err != nil {
		t.Fatalf("CheckForcePush: %v", err)
	}
	if status.Detected {
		t.Error("Detected = true for unchanged remote")
	}
}

func TestCheckForcePushFastForward(t *testing.T) {
	dir := t.TempDir()
	path := writeState(t, dir, "aaaa1111")
	a := gitadapter.NewWithRunner(dir, &integrityRunner{remoteSHA: "bbbb2222", isAncestor: true})

	status, err := CheckForcePush(context.Background(), a, path, "origin", "tbd-sync")
	if err != nil {
		t.Fatalf("CheckForcePush: %v", err)
	}
	if status.Detected {
		t.Error("Detected = true for a fast-forward update")
	}
}

func TestCheckForcePushDetectsRewrite(t *testing.T) {
	dir := t.TempDir()
	path := writeState(t, dir, "aaaa1111beef")
	a := gitadapter.NewWithRunner(dir, &integrityRunner{remoteSHA: "cccc3333beef", isAncestor: false})

	status, err := CheckForcePush(context.Background(), a, path, "origin", "tbd-sync")
	if err != nil {
		t.Fatalf("CheckForcePush: %v", err)
	}
	if !status.Detected {
		t.Fatal("Detected = false, want a force-push detection")
	}
	if status.CurrentRemoteSHA != "cccc3333beef" {
		t.Errorf("CurrentRemoteSHA = %q, want cccc3333beef", status.CurrentRemoteSHA)
	}
}

func TestCheckForcePushMissingRemoteBranch(t *testing.T) {
	dir := t.TempDir()
	path := writeState(t, dir, "aaaa1111")
	fetchErr := &gitadapter.RunError{
		Args:   []string{"fetch"},
		Output: "fatal: couldn't find remote ref tbd-sync",
		Err:    fakeErr("exit 128"),
	}
	a := gitadapter.NewWithRunner(dir, &integrityRunner{fetchErr: fetchErr})

	status, err := CheckForcePush(context.Background(), a, path, "origin", "tbd-sync")
	if err != nil {
		t.Fatalf("CheckForcePush: %v", err)
	}
	if status.Detected {
		t.Error("Detected = true when the remote branch does not exist")
	}
}

func TestUpdateAndClearStoredRemoteSHA(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yml")
	a := gitadapter.NewWithRunner(dir, &integrityRunner{remoteSHA: "dddd4444"})

	if err := UpdateStoredRemoteSHA(context.Background(), a, path, "origin", "tbd-sync"); err != nil {
		t.Fatalf("UpdateStoredRemoteSHA: %v", err)
	}
	s, err := state.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.LastRemoteSHA != "dddd4444" {
		t.Errorf("LastRemoteSHA = %q, want dddd4444", s.LastRemoteSHA)
	}

	if err := ClearStoredRemoteSHA(path); err != nil {
		t.Fatalf("ClearStoredRemoteSHA: %v", err)
	}
	s, err = state.Load(path)
	if err != nil {
		t.Fatalf("Load after clear: %v", err)
	}
	if s.LastRemoteSHA != "" {
		t.Errorf("LastRemoteSHA = %q after clear, want empty", s.LastRemoteSHA)
	}
}
