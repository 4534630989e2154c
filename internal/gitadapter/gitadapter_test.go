package gitadapter

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeRunner is a scripted Runner double: each call pops the next response
// for the given subcommand (args[0]), so tests can drive multi-step
// sequences without a real git binary.
type fakeRunner struct {
	responses map[string][]fakeResponse
	calls     []string
}

type fakeResponse struct {
	out []byte
	err error
}

func (r *fakeRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, strings.Join(args, " "))
	if len(args) == 0 {
		return nil, errors.New("fakeRunner: no subcommand")
	}
	queue := r.responses[args[0]]
	if len(queue) == 0 {
		return nil, nil
	}
	next := queue[0]
	r.responses[args[0]] = queue[1:]
	return next.out, next.err
}

func TestCheckVersionAcceptsSupported(t *testing.T) {
	r := &fakeRunner{responses: map[string][]fakeResponse{
		"--version": {{out: []byte("git version 2.43.0")}},
	}}
	if err := CheckVersion(context.Background(), r); err != nil {
		t.Errorf("CheckVersion: %v", err)
	}
}

func TestCheckVersionRejectsOld(t *testing.T) {
	r := &fakeRunner{responses: map[string][]fakeResponse{
		"--version": {{out: []byte("git version 2.30.1")}},
	}}
	err := CheckVersion(context.Background(), r)
	if err == nil {
		t.Fatal("expected an error for an old git version")
	}
	var hv *HostVersionError
	if !errors.As(err, &hv) {
		t.Fatalf("expected *HostVersionError, got %T", err)
	}
	if hv.UpgradeHint == "" {
		t.Error("expected a non-empty upgrade hint")
	}
}

func TestClassifyPushErrorPermanent(t *testing.T) {
	cases := []string{
		"remote: 403 Forbidden",
		"fatal: Authentication failed for 'https://example.com/repo.git'",
		"ssh: permission denied (publickey)",
	}
	for _, msg := range cases {
		err := &RunError{Args: []string{"push"}, Output: msg, Err: errors.New("exit status 1")}
		if got := ClassifyPushError(err); got != ClassPermanent {
			t.Errorf("ClassifyPushError(%q) = %v, want Permanent", msg, got)
		}
	}
}

func TestClassifyPushErrorTransient(t *testing.T) {
	cases := []string{
		"remote: 503 Service Unavailable",
		"fatal: unable to access: Connection timed out",
		"! [rejected] tbd-sync -> tbd-sync (non-fast-forward)",
	}
	for _, msg := range cases {
		err := &RunError{Args: []string{"push"}, Output: msg, Err: errors.New("exit status 1")}
		if got := ClassifyPushError(err); got != ClassTransient {
			t.Errorf("ClassifyPushError(%q) = %v, want Transient", msg, got)
		}
	}
}

func TestClassifyPushErrorConfigErrorsAreUnknown(t *testing.T) {
	cases := []string{
		"fatal: 'origin' does not appear to be a git repository",
		"fatal: No such remote 'origin'",
	}
	for _, msg := range cases {
		err := &RunError{Args: []string{"push"}, Output: msg, Err: errors.New("exit status 1")}
		if got := ClassifyPushError(err); got != ClassUnknown {
			t.Errorf("ClassifyPushError(%q) = %v, want Unknown", msg, got)
		}
	}
}

func TestGitDirJoinsRelativeAgainstWorktreeDir(t *testing.T) {
	r := &fakeRunner{responses: map[string][]fakeResponse{
		"rev-parse": {{out: []byte("../../.git/worktrees/data-sync\n")}},
	}}
	a := NewWithRunner("/repo", r)

	dir, err := a.GitDir(context.Background(), "/repo/.tbd/data-sync-worktree")
	if err != nil {
		t.Fatalf("GitDir: %v", err)
	}
	if dir != "/repo/.git/worktrees/data-sync" {
		t.Errorf("GitDir = %q, want /repo/.git/worktrees/data-sync", dir)
	}
}

func TestGitDirPassesThroughAbsolutePath(t *testing.T) {
	r := &fakeRunner{responses: map[string][]fakeResponse{
		"rev-parse": {{out: []byte("/repo/.git/worktrees/data-sync\n")}},
	}}
	a := NewWithRunner("/repo", r)

	dir, err := a.GitDir(context.Background(), "/repo/.tbd/data-sync-worktree")
	if err != nil {
		t.Fatalf("GitDir: %v", err)
	}
	if dir != "/repo/.git/worktrees/data-sync" {
		t.Errorf("GitDir = %q, want /repo/.git/worktrees/data-sync", dir)
	}
}

func TestPushWithRetrySucceedsFirstAttempt(t *testing.T) {
	r := &fakeRunner{responses: map[string][]fakeResponse{
		"push": {{out: []byte("")}},
	}}
	a := NewWithRunner("/repo", r)

	result := a.PushWithRetry(context.Background(), PushOptions{Remote: "origin", Branch: "tbd-sync"})
	if !result.OK || result.Attempts != 1 {
		t.Errorf("result = %+v, want OK=true Attempts=1", result)
	}
}

func TestPushWithRetryRetriesCleanNonFastForward(t *testing.T) {
	nonFF := &RunError{Args: []string{"push"}, Output: "! [rejected] (non-fast-forward)", Err: errors.New("exit status 1")}
	r := &fakeRunner{responses: map[string][]fakeResponse{
		"push": {{err: nonFF}, {out: []byte("")}},
	}}
	a := NewWithRunner("/repo", r)

	mergeCalls := 0
	result := a.PushWithRetry(context.Background(), PushOptions{
		Remote: "origin", Branch: "tbd-sync",
		OnNonFastForward: func(ctx context.Context) (int, error) {
			mergeCalls++
			return 0, nil
		},
	})
	if !result.OK || result.Attempts != 2 {
		t.Errorf("result = %+v, want OK=true Attempts=2", result)
	}
	if mergeCalls != 1 {
		t.Errorf("mergeCalls = %d, want 1", mergeCalls)
	}
}

func TestPushWithRetryAbortsOnConflictsAfterNonFastForward(t *testing.T) {
	nonFF := &RunError{Args: []string{"push"}, Output: "! [rejected] (non-fast-forward)", Err: errors.New("exit status 1")}
	r := &fakeRunner{responses: map[string][]fakeResponse{
		"push": {{err: nonFF}},
	}}
	a := NewWithRunner("/repo", r)

	result := a.PushWithRetry(context.Background(), PushOptions{
		Remote: "origin", Branch: "tbd-sync",
		OnNonFastForward: func(ctx context.Context) (int, error) {
			return 2, nil
		},
	})
	if result.OK || result.Conflicts != 2 {
		t.Errorf("result = %+v, want OK=false Conflicts=2", result)
	}
}

func TestPushWithRetryAbortsImmediatelyOnPermanentError(t *testing.T) {
	perm := &RunError{Args: []string{"push"}, Output: "remote: 403 Forbidden", Err: errors.New("exit status 1")}
	r := &fakeRunner{responses: map[string][]fakeResponse{
		"push": {{err: perm}, {out: []byte("")}},
	}}
	a := NewWithRunner("/repo", r)

	result := a.PushWithRetry(context.Background(), PushOptions{Remote: "origin", Branch: "tbd-sync"})
	if result.OK || result.Attempts != 1 || result.Class != ClassPermanent {
		t.Errorf("result = %+v, want OK=false Attempts=1 Class=Permanent", result)
	}
}
