// Package workspace implements save/import/list operations against
// directory trees shaped exactly like the worktree's replication directory
// (issues/, mappings/ids.yml, attic/), grounded on the same atomic storage
// primitives the worktree uses.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tbd-org/tbd/internal/idmap"
	"github.com/tbd-org/tbd/internal/merge"
	"github.com/tbd-org/tbd/internal/record"
	"github.com/tbd-org/tbd/internal/recordio"
	"github.com/tbd-org/tbd/internal/storage"
)

// OutboxName is the reserved workspace name sync falls back to on a
// permanent push failure. save defaults to updates_only=true and import
// defaults to clear_on_success=true for this name.
const OutboxName = "outbox"

// Workspace is one named directory tree beneath .tbd/workspaces/.
type Workspace struct {
	Root string
}

// New returns a Workspace rooted at workspacesDir/name.
func New(workspacesDir, name string) *Workspace {
	return &Workspace{Root: filepath.Join(workspacesDir, name)}
}

func (w *Workspace) issuesDir() string   { return filepath.Join(w.Root, "issues") }
func (w *Workspace) mappingPath() string { return filepath.Join(w.Root, "mappings", "ids.yml") }
func (w *Workspace) atticDir() string    { return filepath.Join(w.Root, "attic") }

// Storage returns a Store over this workspace's issues directory.
func (w *Workspace) Storage() *storage.Store {
	return storage.New(w.issuesDir())
}

// Exists reports whether the workspace directory exists.
func (w *Workspace) Exists() bool {
	info, err := os.Stat(w.Root)
	return err == nil && info.IsDir()
}

// Delete removes the workspace directory tree entirely.
func (w *Workspace) Delete() error {
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("workspace: delete %s: %w", w.Root, err)
	}
	return nil
}

// List returns the names of workspaces present under workspacesDir, sorted.
func List(workspacesDir string) ([]string, error) {
	entries, err := os.ReadDir(workspacesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workspace: list %s: %w", workspacesDir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Counts is the status-bucketed issue count returned by ListWithCounts.
// Statuses other than in_progress and closed (blocked, deferred) are
// folded into Open.
type Counts struct {
	Open       int
	InProgress int
	Closed     int
	Total      int
}

// ListWithCounts returns every workspace name alongside its status-bucketed
// issue counts.
func ListWithCounts(ctx context.Context, workspacesDir string) (map[string]Counts, error) {
	names, err := List(workspacesDir)
	if err != nil {
		return nil, err
	}
	result := make(map[string]Counts, len(names))
	for _, name := range names {
		ws := New(workspacesDir, name)
		issues, warnings, err := ws.Storage().List(ctx)
		if err != nil {
			return nil, fmt.Errorf("workspace: count %s: %w", name, err)
		}
		_ = warnings
		var c Counts
		for _, issue := range issues {
			c.Total++
			switch issue.Status {
			case record.StatusInProgress:
				c.InProgress++
			case record.StatusClosed:
				c.Closed++
			default:
				c.Open++
			}
		}
		result[name] = c
	}
	return result, nil
}

// SaveOptions controls Save's behavior.
type SaveOptions struct {
	// UpdatesOnly restricts the saved set to issues new or byte-different
	// from the fetched remote state. If FetchRemote is nil or fails, Save
	// falls back to saving everything.
	UpdatesOnly bool
	FetchRemote func(ctx context.Context) ([]*record.Issue, error)
}

// DefaultSaveOptions applies the outbox workspace's reserved defaults.
func DefaultSaveOptions(name string, fetchRemote func(ctx context.Context) ([]*record.Issue, error)) SaveOptions {
	return SaveOptions{UpdatesOnly: name == OutboxName, FetchRemote: fetchRemote}
}

// Save copies issues from src into dst, merging into any existing issue of
// the same id rather than overwriting it outright, and appends any
// resulting conflicts to dst's attic. Only short-id mappings whose ULID
// corresponds to a saved issue are copied.
func Save(ctx context.Context, src *storage.Store, srcMapping *idmap.Mapping, dst *Workspace, opts SaveOptions, now time.Time) error {
	issues, _, err := src.List(ctx)
	if err != nil {
		return fmt.Errorf("workspace: list source: %w", err)
	}

	if opts.UpdatesOnly {
		restricted, err := restrictToUpdates(ctx, issues, opts.FetchRemote)
		if err == nil {
			issues = restricted
		}
		// On fetch failure, fall back to saving everything (issues
		// unchanged) rather than aborting the save.
	}

	if err := os.MkdirAll(dst.Root, 0o755); err != nil {
		return fmt.Errorf("workspace: ensure %s: %w", dst.Root, err)
	}
	dstStore := dst.Storage()
	dstMapping, _, err := idmap.Load(dst.mappingPath())
	if err != nil {
		return fmt.Errorf("workspace: load destination mapping: %w", err)
	}

	var conflicts []record.AtticEntry
	savedIDs := make(map[string]bool, len(issues))

	for _, issue := range issues {
		existing, err := dstStore.Read(issue.ID)
		var merged *record.Issue
		switch {
		case errors.Is(err, storage.ErrNotFound):
			merged = issue.Clone()
		case err != nil:
			return fmt.Errorf("workspace: read destination %s: %w", issue.ID, err)
		default:
			result := mergeIntoTarget(existing, issue, now)
			merged = result.Merged
			conflicts = append(conflicts, result.Conflicts...)
		}
		if err := dstStore.Write(merged); err != nil {
			return fmt.Errorf("workspace: write %s: %w", merged.ID, err)
		}
		savedIDs[merged.ID] = true
	}

	for id := range savedIDs {
		long := idmap.ULIDOf(id)
		if short, ok := srcMapping.ShortFor(long); ok {
			dstMapping.Put(short, long)
		}
	}
	if err := idmap.Save(dst.mappingPath(), dstMapping); err != nil {
		return fmt.Errorf("workspace: save destination mapping: %w", err)
	}

	return appendAttic(dst.atticDir(), conflicts)
}

// ImportOptions controls Import's behavior.
type ImportOptions struct {
	ClearOnSuccess bool
}

// DefaultImportOptions applies the outbox workspace's reserved defaults.
func DefaultImportOptions(name string) ImportOptions {
	return ImportOptions{ClearOnSuccess: name == OutboxName}
}

// Import merges src's issues into dst (the worktree's live store), unions
// the mappings, and optionally deletes src's directory once the import
// succeeds. It is the inverse of Save. dstAtticDir receives any merge
// conflicts (the worktree's attic/conflicts/, per the on-disk layout).
func Import(ctx context.Context, src *Workspace, dst *storage.Store, dstMappingPath, dstAtticDir string, opts ImportOptions, now time.Time) error {
	issues, _, err := src.Storage().List(ctx)
	if err != nil {
		return fmt.Errorf("workspace: list %s: %w", src.Root, err)
	}

	srcMapping, _, err := idmap.Load(src.mappingPath())
	if err != nil {
		return fmt.Errorf("workspace: load source mapping: %w", err)
	}
	dstMapping, _, err := idmap.Load(dstMappingPath)
	if err != nil {
		return fmt.Errorf("workspace: load destination mapping: %w", err)
	}

	var conflicts []record.AtticEntry
	for _, issue := range issues {
		existing, err := dst.Read(issue.ID)
		var merged *record.Issue
		switch {
		case errors.Is(err, storage.ErrNotFound):
			merged = issue.Clone()
		case err != nil:
			return fmt.Errorf("workspace: read destination %s: %w", issue.ID, err)
		default:
			result := mergeIntoTarget(existing, issue, now)
			merged = result.Merged
			conflicts = append(conflicts, result.Conflicts...)
		}
		if err := dst.Write(merged); err != nil {
			return fmt.Errorf("workspace: write %s: %w", merged.ID, err)
		}
	}

	merged, mergeWarnings := idmap.Merge(dstMapping, srcMapping)
	for _, w := range mergeWarnings {
		fmt.Fprintf(os.Stderr, "Warning: mapping: %s\n", w)
	}
	if err := idmap.Save(dstMappingPath, merged); err != nil {
		return fmt.Errorf("workspace: save destination mapping: %w", err)
	}

	if err := appendAttic(dstAtticDir, conflicts); err != nil {
		return err
	}

	if opts.ClearOnSuccess {
		if err := src.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// mergeIntoTarget merges an incoming issue into the target's existing copy.
// The older of the two (by updated_at) stands in as the merge base so the
// strictly newer side simply wins field-for-field; on an exact tie a
// synthetic zero-version base forces every differing field through its
// real per-field strategy instead.
func mergeIntoTarget(target, incoming *record.Issue, now time.Time) merge.Result {
	var base *record.Issue
	switch {
	case incoming.UpdatedAt.Equal(target.UpdatedAt):
		base = merge.SyntheticBase(target)
	case incoming.UpdatedAt.After(target.UpdatedAt):
		base = target
	default:
		base = incoming
	}
	return merge.Merge(base, target, incoming, now)
}

// restrictToUpdates keeps only issues that are new or byte-different from
// the fetched remote state.
func restrictToUpdates(ctx context.Context, issues []*record.Issue, fetchRemote func(ctx context.Context) ([]*record.Issue, error)) ([]*record.Issue, error) {
	if fetchRemote == nil {
		return nil, fmt.Errorf("workspace: no remote fetcher configured")
	}
	remoteIssues, err := fetchRemote(ctx)
	if err != nil {
		return nil, err
	}
	remoteByID := make(map[string]*record.Issue, len(remoteIssues))
	for _, issue := range remoteIssues {
		remoteByID[issue.ID] = issue
	}

	var restricted []*record.Issue
	for _, issue := range issues {
		remote, ok := remoteByID[issue.ID]
		if !ok || !sameContent(issue, remote) {
			restricted = append(restricted, issue)
		}
	}
	return restricted, nil
}

// sameContent compares two issues by their canonical-for-hash serialization
// so that bookkeeping-only differences (version) don't count as a change.
func sameContent(a, b *record.Issue) bool {
	aBytes, aErr := recordio.SerializeForHash(a)
	bBytes, bErr := recordio.SerializeForHash(b)
	if aErr != nil || bErr != nil {
		return false
	}
	return string(aBytes) == string(bBytes)
}

func appendAttic(atticDir string, entries []record.AtticEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(atticDir, 0o755); err != nil {
		return fmt.Errorf("workspace: ensure attic dir %s: %w", atticDir, err)
	}
	for _, entry := range entries {
		data, err := yaml.Marshal(entry)
		if err != nil {
			return fmt.Errorf("workspace: marshal attic entry: %w", err)
		}
		path := filepath.Join(atticDir, entry.FileName())
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("workspace: write attic entry %s: %w", path, err)
		}
	}
	return nil
}
