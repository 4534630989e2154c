package syncbranch

import (
	"context"
	"fmt"
	"strings"

	"github.com/tbd-org/tbd/internal/gitadapter"
	"github.com/tbd-org/tbd/internal/state"
)

// ForcePushStatus is the result of a force-push detection check against
// the remote sync branch.
type ForcePushStatus struct {
	// Detected is true when the remote history no longer contains the
	// commit recorded at the last successful sync.
	Detected bool

	// StoredSHA is the commit recorded after the last successful sync.
	StoredSHA string

	// CurrentRemoteSHA is the remote sync branch's current commit.
	CurrentRemoteSHA string

	// Message is a human-readable description of the status.
	Message string

	Branch string
	Remote string
}

// CheckForcePush detects whether the remote sync branch was force-pushed
// or rebased since the last sync: a rewrite is flagged when the stored
// commit is no longer an ancestor of the current remote commit. statePath
// is the local state document's path.
func CheckForcePush(ctx context.Context, adapter *gitadapter.Adapter, statePath, remote, branch string) (*ForcePushStatus, error) {
	status := &ForcePushStatus{Branch: branch, Remote: remote}

	s, err := state.Load(statePath)
	if err != nil {
		return nil, fmt.Errorf("syncbranch: load state: %w", err)
	}
	status.StoredSHA = s.LastRemoteSHA
	if status.StoredSHA == "" {
		status.Message = "No previous sync recorded (first sync)"
		return status, nil
	}

	if err := adapter.Fetch(ctx, remote, branch); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "couldn't find remote ref") {
			status.Message = "Remote sync branch does not exist"
			return status, nil
		}
		return nil, fmt.Errorf("syncbranch: fetch %s/%s: %w", remote, branch, err)
	}

	current, err := adapter.RevParse(ctx, "refs/remotes/"+remote+"/"+branch)
	if err != nil {
		return nil, fmt.Errorf("syncbranch: resolve remote sync branch: %w", err)
	}
	status.CurrentRemoteSHA = current

	if status.StoredSHA == current {
		status.Message = "Remote sync branch unchanged since last sync"
		return status, nil
	}

	_, err = adapter.Run(ctx, adapter.RepoDir(), "merge-base", "--is-ancestor", status.StoredSHA, current)
	if err == nil {
		status.Message = "Remote sync branch updated normally (fast-forward)"
		return status, nil
	}

	status.Detected = true
	status.Message = fmt.Sprintf(
		"FORCE-PUSH DETECTED: remote sync branch history was rewritten.\n"+
			"  Previous known commit: %s\n"+
			"  Current remote commit: %s\n"+
			"  The remote history no longer contains your previously synced commit.",
		shortSHA(status.StoredSHA), shortSHA(current))
	return status, nil
}

// UpdateStoredRemoteSHA records the remote sync branch's current commit in
// the local state document. Call after a successful push. When the remote
// ref is absent (first push), the local branch head is recorded instead.
func UpdateStoredRemoteSHA(ctx context.Context, adapter *gitadapter.Adapter, statePath, remote, branch string) error {
	sha, err := adapter.RevParse(ctx, "refs/remotes/"+remote+"/"+branch)
	if err != nil {
		sha, err = adapter.RevParse(ctx, "refs/heads/"+branch)
		if err != nil {
			return fmt.Errorf("syncbranch: resolve sync branch head: %w", err)
		}
	}

	s, err := state.Load(statePath)
	if err != nil {
		return fmt.Errorf("syncbranch: load state: %w", err)
	}
	s.LastRemoteSHA = sha
	if err := state.Save(statePath, s); err != nil {
		return fmt.Errorf("syncbranch: save state: %w", err)
	}
	return nil
}

// ClearStoredRemoteSHA forgets the recorded remote commit, used when the
// operator accepts a rebase of the sync branch.
func ClearStoredRemoteSHA(statePath string) error {
	s, err := state.Load(statePath)
	if err != nil {
		return fmt.Errorf("syncbranch: load state: %w", err)
	}
	if s.LastRemoteSHA == "" {
		return nil
	}
	s.LastRemoteSHA = ""
	if err := state.Save(statePath, s); err != nil {
		return fmt.Errorf("syncbranch: save state: %w", err)
	}
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
