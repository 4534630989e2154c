// Package sync implements the fetch-merge-commit-push orchestrator that
// drives one replication cycle against the auxiliary worktree. Side
// effects that cannot be rolled back (the push, the local-state update)
// are deferred until the git operation they depend on has actually
// succeeded.
package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tbd-org/tbd/internal/gitadapter"
	"github.com/tbd-org/tbd/internal/idmap"
	"github.com/tbd-org/tbd/internal/merge"
	"github.com/tbd-org/tbd/internal/record"
	"github.com/tbd-org/tbd/internal/recordio"
	"github.com/tbd-org/tbd/internal/state"
	"github.com/tbd-org/tbd/internal/storage"
	"github.com/tbd-org/tbd/internal/syncbranch"
	"github.com/tbd-org/tbd/internal/synerr"
	"github.com/tbd-org/tbd/internal/worktree"
	"github.com/tbd-org/tbd/internal/workspace"
)

// maxMergeRounds bounds the "push rejected as non-fast-forward, re-merge,
// retry" loop of step 8. A real non-fast-forward always resolves within a
// couple of rounds; this is a backstop against a remote that is being
// pushed to continuously by someone else.
const maxMergeRounds = 5

// Options configures one Sync call. DefaultOptions turns both outbox
// behaviors on; in a zero-value Options both are off.
type Options struct {
	// WorkspacesDir is the directory holding named workspaces, including
	// the reserved outbox.
	WorkspacesDir string
	// AutoSaveOutbox, when true, saves unpushed local changes to the
	// outbox workspace on a permanent push failure. DefaultOptions sets it
	// to true.
	AutoSaveOutbox bool
	// ImportOutbox, when true, imports and clears a pre-existing outbox
	// after a successful sync. DefaultOptions sets it to true.
	ImportOutbox bool
	// Now returns the current time; overridable for deterministic tests.
	Now func() time.Time
}

// DefaultOptions turns both outbox behaviors on.
func DefaultOptions(workspacesDir string) Options {
	return Options{WorkspacesDir: workspacesDir, AutoSaveOutbox: true, ImportOutbox: true}
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Result reports what a Sync call did, for the caller to render a report.
type Result struct {
	LocalCount     int
	RemoteCount    int
	MergedCount    int
	Conflicts      int
	MergeRounds    int
	Committed      bool
	CommitID       string
	Pushed         bool
	PushClass      gitadapter.ErrorClass
	OutboxSaved    bool
	OutboxImported bool

	// roundConflicts holds the most recent merge round's conflicts, read by
	// PushWithRetry's OnNonFastForward callback to decide whether a retry
	// is safe.
	roundConflicts []record.AtticEntry
}

// Sync runs one full replication cycle: verify the host, ensure the
// worktree, fetch, merge every id three-way, commit under the isolated
// index, push with retry, and fall back to the outbox on a permanent push
// failure. statePath is the local, untracked state document's path.
func Sync(ctx context.Context, mgr *worktree.Manager, statePath string, opts Options) (*Result, error) {
	if err := mgr.Adapter.CheckVersion(ctx); err != nil {
		return nil, synerr.New(synerr.HostVersion, "host git version check failed", err)
	}

	if err := syncbranch.ValidateSyncBranchName(mgr.Branch); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	if _, err := mgr.Ensure(ctx); err != nil {
		return nil, synerr.New(synerr.WorktreeCorrupted, "ensuring worktree is valid", err)
	}

	// Fetch failure is not fatal: the local remote-tracking ref (possibly
	// stale, possibly absent) is used instead.
	_ = mgr.Adapter.Fetch(ctx, mgr.Remote, mgr.Branch)

	result := &Result{}

	if err := runMergeRound(ctx, mgr, opts, result); err != nil {
		return nil, err
	}

	rounds := 1
	pushResult := mgr.Adapter.PushWithRetry(ctx, gitadapter.PushOptions{
		Remote: mgr.Remote,
		Branch: mgr.Branch,
		OnNonFastForward: func(ctx context.Context) (int, error) {
			rounds++
			if rounds > maxMergeRounds {
				return 0, fmt.Errorf("sync: exceeded %d merge rounds resolving non-fast-forward push", maxMergeRounds)
			}
			if err := mgr.Adapter.Fetch(ctx, mgr.Remote, mgr.Branch); err != nil {
				return 0, err
			}
			if err := runMergeRound(ctx, mgr, opts, result); err != nil {
				return 0, err
			}
			return len(result.roundConflicts), nil
		},
	})
	result.MergeRounds = rounds
	result.PushClass = pushResult.Class

	if pushResult.OK {
		result.Pushed = true
		if err := syncbranch.UpdateStoredRemoteSHA(ctx, mgr.Adapter, statePath, mgr.Remote, mgr.Branch); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not record remote sync branch commit: %v\n", err)
		}
	} else {
		if pushResult.Class == gitadapter.ClassPermanent && opts.AutoSaveOutbox {
			if err := saveOutbox(ctx, mgr, opts, result); err != nil {
				return nil, err
			}
		}
		return result, synerr.New(pushKind(pushResult.Class), "push failed", pushResult.Err)
	}

	if opts.ImportOutbox {
		if err := importOutboxIfPresent(ctx, mgr, opts, result); err != nil {
			return nil, err
		}
	}

	now := opts.now()
	s, err := state.Load(statePath)
	if err != nil {
		return nil, err
	}
	s.LastSyncAt = &now
	if err := state.Save(statePath, s); err != nil {
		return nil, err
	}

	return result, nil
}

func pushKind(class gitadapter.ErrorClass) synerr.Kind {
	switch class {
	case gitadapter.ClassPermanent:
		return synerr.PushPermanent
	case gitadapter.ClassTransient:
		return synerr.PushTransient
	default:
		return synerr.PushUnknown
	}
}

func saveOutbox(ctx context.Context, mgr *worktree.Manager, opts Options, result *Result) error {
	localStore := storage.New(issuesDir(mgr))
	localMapping, _, err := idmap.Load(mappingPath(mgr))
	if err != nil {
		return err
	}
	outbox := workspace.New(opts.WorkspacesDir, workspace.OutboxName)
	saveOpts := workspace.DefaultSaveOptions(workspace.OutboxName, func(ctx context.Context) ([]*record.Issue, error) {
		return FetchRemoteIssues(ctx, mgr)
	})
	if err := workspace.Save(ctx, localStore, localMapping, outbox, saveOpts, opts.now()); err != nil {
		return fmt.Errorf("sync: saving outbox after permanent push failure: %w", err)
	}
	result.OutboxSaved = true
	return nil
}

func importOutboxIfPresent(ctx context.Context, mgr *worktree.Manager, opts Options, result *Result) error {
	outbox := workspace.New(opts.WorkspacesDir, workspace.OutboxName)
	if !outbox.Exists() {
		return nil
	}
	dst := storage.New(issuesDir(mgr))
	importOpts := workspace.DefaultImportOptions(workspace.OutboxName)
	if err := workspace.Import(ctx, outbox, dst, mappingPath(mgr), atticDir(mgr), importOpts, opts.now()); err != nil {
		return fmt.Errorf("sync: importing outbox: %w", err)
	}
	result.OutboxImported = true
	return nil
}

type roundCounts struct {
	local  int
	remote int
}

// runMergeRound runs one merge round (steps 4-6), commits the result if
// anything changed (step 7), and folds the outcome into result. It is
// called once up front and again from PushWithRetry's OnNonFastForward
// callback for each re-merge round.
func runMergeRound(ctx context.Context, mgr *worktree.Manager, opts Options, result *Result) error {
	mergedIDs, files, conflicts, counts, err := mergeRound(ctx, mgr, opts.now())
	if err != nil {
		return err
	}
	result.LocalCount, result.RemoteCount, result.MergedCount = counts.local, counts.remote, len(mergedIDs)
	result.Conflicts = len(conflicts)
	result.roundConflicts = conflicts

	if len(files) == 0 {
		return nil
	}
	commit, err := commitMerge(ctx, mgr, files, len(mergedIDs), len(conflicts))
	if err != nil {
		return err
	}
	result.Committed = true
	result.CommitID = commit
	return nil
}

// mergeRound performs step 4 through step 6 of one sync cycle: list both
// sides, three-way merge every id, write the result into the worktree, and
// reconcile the short-id mapping. It returns the ids touched, the set of
// changed repo-relative paths for the commit, and any new attic entries.
func mergeRound(ctx context.Context, mgr *worktree.Manager, now time.Time) ([]string, []string, []record.AtticEntry, roundCounts, error) {
	localStore := storage.New(issuesDir(mgr))
	localIssues, _, err := localStore.List(ctx)
	if err != nil {
		return nil, nil, nil, roundCounts{}, fmt.Errorf("sync: listing local issues: %w", err)
	}
	localByID := make(map[string]*record.Issue, len(localIssues))
	for _, issue := range localIssues {
		localByID[issue.ID] = issue
	}

	remoteRef := "refs/remotes/" + mgr.Remote + "/" + mgr.Branch
	remoteCommit, _ := mgr.Adapter.RevParse(ctx, remoteRef)
	remoteByID, err := listRemoteIssues(ctx, mgr, remoteCommit)
	if err != nil {
		return nil, nil, nil, roundCounts{}, err
	}

	var mergeBaseCommit string
	if remoteCommit != "" {
		mergeBaseCommit, _ = mgr.Adapter.MergeBase(ctx, mgr.Branch, remoteRef)
	}

	ids := unionIDs(localByID, remoteByID)
	var mergedIDs []string
	var changedFiles []string
	var conflicts []record.AtticEntry

	for _, id := range ids {
		local, hasLocal := localByID[id]
		remote, hasRemote := remoteByID[id]

		var merged *record.Issue
		switch {
		case hasLocal && hasRemote:
			base := readBaseIssue(ctx, mgr, mergeBaseCommit, id)
			res := merge.Merge(base, local, remote, now)
			merged = res.Merged
			conflicts = append(conflicts, res.Conflicts...)
		case hasLocal:
			merged = local
		default:
			merged = remote
		}

		if !hasLocal || !sameContent(local, merged) {
			if err := localStore.Write(merged); err != nil {
				return nil, nil, nil, roundCounts{}, fmt.Errorf("sync: writing merged issue %s: %w", id, err)
			}
			changedFiles = append(changedFiles, filepath.Join(worktree.DataDir, "issues", id+storage.Extension))
		}
		mergedIDs = append(mergedIDs, id)
	}

	mappingChanged, err := reconcileMapping(ctx, mgr, remoteCommit, mergedIDs)
	if err != nil {
		return nil, nil, nil, roundCounts{}, err
	}
	if mappingChanged {
		changedFiles = append(changedFiles, filepath.Join(worktree.DataDir, "mappings", "ids.yml"))
	}

	atticFiles, err := writeAtticEntries(mgr, conflicts)
	if err != nil {
		return nil, nil, nil, roundCounts{}, err
	}
	changedFiles = append(changedFiles, atticFiles...)

	sort.Strings(changedFiles)
	return mergedIDs, changedFiles, conflicts, roundCounts{local: len(localIssues), remote: len(remoteByID)}, nil
}

// readBaseIssue reads an issue at the merge-base commit without switching
// the working tree. A missing merge-base commit, or a missing issue at
// that commit, both yield a nil base (mergeNoBase's independent-creation
// path).
func readBaseIssue(ctx context.Context, mgr *worktree.Manager, mergeBaseCommit, id string) *record.Issue {
	if mergeBaseCommit == "" {
		return nil
	}
	path := filepath.Join(worktree.DataDir, "issues", id+storage.Extension)
	data, err := mgr.Adapter.ReadObject(ctx, mergeBaseCommit, path)
	if err != nil {
		return nil
	}
	issue, err := recordio.Parse(data)
	if err != nil {
		return nil
	}
	return issue
}

// FetchRemoteIssues fetches the remote sync branch and lists the issues at
// its current commit, for callers that restrict a workspace save to issues
// differing from the remote state. An absent remote branch yields an empty
// list.
func FetchRemoteIssues(ctx context.Context, mgr *worktree.Manager) ([]*record.Issue, error) {
	_ = mgr.Adapter.Fetch(ctx, mgr.Remote, mgr.Branch)
	remoteCommit, _ := mgr.Adapter.RevParse(ctx, "refs/remotes/"+mgr.Remote+"/"+mgr.Branch)
	byID, err := listRemoteIssues(ctx, mgr, remoteCommit)
	if err != nil {
		return nil, err
	}
	issues := make([]*record.Issue, 0, len(byID))
	for _, issue := range byID {
		issues = append(issues, issue)
	}
	return issues, nil
}

func listRemoteIssues(ctx context.Context, mgr *worktree.Manager, remoteCommit string) (map[string]*record.Issue, error) {
	result := make(map[string]*record.Issue)
	if remoteCommit == "" {
		return result, nil
	}
	dir := filepath.Join(worktree.DataDir, "issues")
	paths, err := mgr.Adapter.ListTree(ctx, remoteCommit, dir)
	if err != nil {
		return nil, fmt.Errorf("sync: listing remote issues: %w", err)
	}
	for _, path := range paths {
		data, err := mgr.Adapter.ReadObject(ctx, remoteCommit, path)
		if err != nil {
			return nil, fmt.Errorf("sync: reading remote issue %s: %w", path, err)
		}
		issue, err := recordio.Parse(data)
		if err != nil {
			continue // skip unparsable remote entries rather than aborting the whole sync
		}
		result[issue.ID] = issue
	}
	return result, nil
}

// reconcileMapping merges the remote side's short-id mapping into the
// local one and ensures every post-merge id has an entry, using the
// pre-merge local mapping as history so short ids known before the merge
// keep their assignments. Reports whether the on-disk mapping changed.
func reconcileMapping(ctx context.Context, mgr *worktree.Manager, remoteCommit string, mergedIDs []string) (bool, error) {
	history, warnings, err := idmap.Load(mappingPath(mgr))
	if err != nil {
		return false, fmt.Errorf("sync: loading mapping: %w", err)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: mapping: %s\n", w)
	}

	current := history
	if remoteCommit != "" {
		path := filepath.Join(worktree.DataDir, "mappings", "ids.yml")
		if data, err := mgr.Adapter.ReadObject(ctx, remoteCommit, path); err == nil {
			remote, remoteWarnings, perr := idmap.Parse(data)
			if perr != nil {
				fmt.Fprintf(os.Stderr, "Warning: unparsable remote mapping at %s: %v\n", remoteCommit, perr)
			} else {
				for _, w := range remoteWarnings {
					fmt.Fprintf(os.Stderr, "Warning: remote mapping: %s\n", w)
				}
				var mergeWarnings []string
				current, mergeWarnings = idmap.Merge(history, remote)
				for _, w := range mergeWarnings {
					fmt.Fprintf(os.Stderr, "Warning: mapping: %s\n", w)
				}
			}
		}
	}

	ulids := make([]string, 0, len(mergedIDs))
	for _, id := range mergedIDs {
		ulids = append(ulids, idmap.ULIDOf(id))
	}

	res := idmap.Reconcile(ulids, current, history)
	if len(res.Created) == 0 && len(res.Recovered) == 0 && idmap.Equal(current, history) && len(warnings) == 0 {
		return false, nil
	}
	if err := idmap.Save(mappingPath(mgr), current); err != nil {
		return false, fmt.Errorf("sync: saving mapping: %w", err)
	}
	return true, nil
}

func writeAtticEntries(mgr *worktree.Manager, entries []record.AtticEntry) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	dir := atticDir(mgr)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sync: ensure attic dir %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		data, err := yaml.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("sync: marshal attic entry: %w", err)
		}
		name := entry.FileName()
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return nil, fmt.Errorf("sync: write attic entry %s: %w", name, err)
		}
		files = append(files, filepath.Join(worktree.DataDir, "attic", "conflicts", name))
	}
	return files, nil
}

func commitMerge(ctx context.Context, mgr *worktree.Manager, files []string, issueCount, conflictCount int) (string, error) {
	gitDir, err := mgr.Adapter.GitDir(ctx, mgr.Path)
	if err != nil {
		return "", fmt.Errorf("sync: resolving git dir: %w", err)
	}
	message := fmt.Sprintf("sync: merge %d issues (%d conflicts)", issueCount, conflictCount)
	result, err := mgr.Adapter.CommitToBranch(ctx, gitadapter.CommitOptions{
		WorktreeDir: mgr.Path,
		GitDir:      gitDir,
		Branch:      mgr.Branch,
		Files:       files,
		Message:     message,
	})
	if err != nil {
		return "", fmt.Errorf("sync: committing merged state: %w", err)
	}
	return result.Commit, nil
}

func unionIDs(local, remote map[string]*record.Issue) []string {
	seen := make(map[string]bool, len(local)+len(remote))
	var ids []string
	for id := range local {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range remote {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func sameContent(a, b *record.Issue) bool {
	aBytes, aErr := recordio.SerializeForHash(a)
	bBytes, bErr := recordio.SerializeForHash(b)
	if aErr != nil || bErr != nil {
		return false
	}
	return string(aBytes) == string(bBytes)
}

func issuesDir(mgr *worktree.Manager) string {
	return filepath.Join(mgr.Path, worktree.DataDir, "issues")
}

func mappingPath(mgr *worktree.Manager) string {
	return filepath.Join(mgr.Path, worktree.DataDir, "mappings", "ids.yml")
}

func atticDir(mgr *worktree.Manager) string {
	return filepath.Join(mgr.Path, worktree.DataDir, "attic", "conflicts")
}
