// Copyright (c) 2024 @neongreen (https://github.com/neongreen)
// Originally from: https://github.com/neongreen/mono/tree/main/beads-merge
//
// MIT License
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// ---
// Vendored with permission from @neongreen.
// See: https://github.com/neongreen/mono/issues/240
// Adapted: generalized from a fixed JSONL field list to record.Issue's
// declared per-field merge classes, and from tombstone-aware plain-text
// conflict lines to structured attic entries.

// Package merge implements the field-level three-way merge used to
// reconcile two copies of an issue that diverged from a common base (or
// were created independently with no base at all).
package merge

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/tbd-org/tbd/internal/record"
	"github.com/tbd-org/tbd/internal/recordio"
)

// Result is the outcome of merging one issue.
type Result struct {
	Merged    *record.Issue
	Conflicts []record.AtticEntry
}

// Merge reconciles local and remote against base, which is nil when the two
// sides were created independently with no shared history.
func Merge(base, local, remote *record.Issue, now time.Time) Result {
	if base == nil {
		return mergeNoBase(local, remote, now)
	}

	merged := base.Clone()
	var conflicts []record.AtticEntry
	noop := true

	for _, f := range fieldTable {
		baseVal := f.get(base)
		localVal := f.get(local)
		remoteVal := f.get(remote)

		localChanged := !valuesEqual(localVal, baseVal)
		remoteChanged := !valuesEqual(remoteVal, baseVal)

		var resolved any
		switch {
		case !localChanged && !remoteChanged:
			resolved = baseVal
		case remoteChanged && !localChanged:
			resolved = remoteVal
		case localChanged && !remoteChanged:
			resolved = localVal
		default:
			var conflict *record.AtticEntry
			resolved, conflict = resolveBothChanged(f, baseVal, localVal, remoteVal, local, remote)
			if conflict != nil {
				conflict.EntityID = local.ID
				conflict.Timestamp = now
				conflicts = append(conflicts, *conflict)
			}
		}

		f.set(merged, resolved)
		if !valuesEqual(resolved, localVal) || !valuesEqual(resolved, remoteVal) {
			noop = false
		}
	}

	if noop {
		merged.Version = local.Version
		merged.UpdatedAt = local.UpdatedAt
	} else {
		merged.Version = maxInt(local.Version, remote.Version) + 1
		merged.UpdatedAt = now
	}

	return Result{Merged: merged, Conflicts: conflicts}
}

// SyntheticBase returns a zero-version, epoch-timestamped clone of local,
// used by callers that need a deterministic base when none exists but a tie
// (equal updated_at) must still be forced through the "both changed" branch
// of every field's strategy, per the tie-breaking rule for concurrent edits.
func SyntheticBase(local *record.Issue) *record.Issue {
	b := local.Clone()
	b.Version = 0
	b.UpdatedAt = time.Time{}
	return b
}

// mergeNoBase handles two issues created independently, with no common
// ancestor: the older created_at wins outright, and a single whole_issue
// attic entry records the loser unless the two records are byte-identical.
func mergeNoBase(local, remote *record.Issue, now time.Time) Result {
	if serializedEqual(local, remote) {
		return Result{Merged: local.Clone()}
	}

	winner, loser, winnerSource, loserSource := local, remote, record.SourceLocal, record.SourceRemote
	if remote.CreatedAt.Before(local.CreatedAt) {
		winner, loser, winnerSource, loserSource = remote, local, record.SourceRemote, record.SourceLocal
	}

	entry := record.AtticEntry{
		EntityID:     winner.ID,
		Timestamp:    now,
		Field:        "whole_issue",
		LostValue:    loser,
		WinnerSource: winnerSource,
		LoserSource:  loserSource,
		Context: record.AtticContext{
			LocalVersion:    local.Version,
			RemoteVersion:   remote.Version,
			LocalUpdatedAt:  local.UpdatedAt,
			RemoteUpdatedAt: remote.UpdatedAt,
		},
	}
	return Result{Merged: winner.Clone(), Conflicts: []record.AtticEntry{entry}}
}

// resolveBothChanged applies field's merge class once both sides have
// diverged from base.
func resolveBothChanged(f fieldAccessor, baseVal, localVal, remoteVal any, local, remote *record.Issue) (any, *record.AtticEntry) {
	switch f.class {
	case record.ClassImmutable:
		// Invariant violation: both sides mutated a field that must never
		// change. Silently keep base; this can only arise from corrupted
		// input, not from legitimate concurrent edits.
		return baseVal, nil

	case record.ClassUnion:
		return mergeUnion(localVal, remoteVal), nil

	case record.ClassMax:
		// Only version/updated_at carry this class and they are resolved
		// outside the field table.
		return localVal, nil

	default: // record.ClassLWW
		return mergeFieldLWW(f.name, localVal, remoteVal, local, remote)
	}
}

// mergeFieldLWW picks the side with the greater updated_at; on an exact
// tie it falls back to a deterministic, platform-stable tie-break by
// content hash of the loser, and always records a conflict for whichever
// side lost.
func mergeFieldLWW(field string, localVal, remoteVal any, local, remote *record.Issue) (any, *record.AtticEntry) {
	winnerVal, loserVal := localVal, remoteVal
	winnerSource, loserSource := record.SourceLocal, record.SourceRemote

	switch {
	case local.UpdatedAt.After(remote.UpdatedAt):
		// local wins, already the default assignment above
	case remote.UpdatedAt.After(local.UpdatedAt):
		winnerVal, loserVal = remoteVal, localVal
		winnerSource, loserSource = record.SourceRemote, record.SourceLocal
	default:
		if contentHashGreater(remoteVal, localVal) {
			winnerVal, loserVal = remoteVal, localVal
			winnerSource, loserSource = record.SourceRemote, record.SourceLocal
		}
	}

	entry := &record.AtticEntry{
		Field:        field,
		LostValue:    loserVal,
		WinnerSource: winnerSource,
		LoserSource:  loserSource,
		Context: record.AtticContext{
			LocalVersion:    local.Version,
			RemoteVersion:   remote.Version,
			LocalUpdatedAt:  local.UpdatedAt,
			RemoteUpdatedAt: remote.UpdatedAt,
		},
	}
	return winnerVal, entry
}

// mergeUnion concatenates local with items of remote not already present
// by deep equality, order-preserving and deduplicated. Dependencies are
// additionally deduplicated by Target, since an issue's dependency list is
// unique by target regardless of type.
func mergeUnion(localVal, remoteVal any) any {
	switch lv := localVal.(type) {
	case []string:
		rv, _ := remoteVal.([]string)
		return mergeUnionStrings(lv, rv)
	case []record.Dependency:
		rv, _ := remoteVal.([]record.Dependency)
		return mergeUnionDependencies(lv, rv)
	default:
		return localVal
	}
}

// mergeUnionStrings is the concrete union strategy for string-array fields
// such as labels.
func mergeUnionStrings(local, remote []string) []string {
	seen := make(map[string]bool, len(local)+len(remote))
	out := make([]string, 0, len(local)+len(remote))
	for _, v := range local {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range remote {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// mergeUnionDependencies is the concrete union strategy for dependencies:
// local's entries come first, then any remote entry whose target isn't
// already present.
func mergeUnionDependencies(local, remote []record.Dependency) []record.Dependency {
	seen := make(map[string]bool, len(local)+len(remote))
	out := make([]record.Dependency, 0, len(local)+len(remote))
	for _, d := range local {
		if !seen[d.Target] {
			seen[d.Target] = true
			out = append(out, d)
		}
	}
	for _, d := range remote {
		if !seen[d.Target] {
			seen[d.Target] = true
			out = append(out, d)
		}
	}
	return out
}

// contentHashGreater reports whether a's canonical JSON hash sorts after
// b's, a deterministic total order used only to break exact updated_at
// ties.
func contentHashGreater(a, b any) bool {
	return bytes.Compare(contentHash(a), contentHash(b)) > 0
}

func contentHash(v any) []byte {
	// json.Marshal sorts map keys and has no platform-dependent formatting,
	// which is what makes this hash stable across machines.
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", v))
	}
	sum := sha256.Sum256(b)
	return sum[:]
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// serializedEqual reports whether two issues are byte-identical in their
// canonical-for-hash serialization, which already omits version and
// normalizes line endings, so two records that differ only in that
// bookkeeping still compare equal.
func serializedEqual(a, b *record.Issue) bool {
	aBytes, aErr := recordio.SerializeForHash(a)
	bBytes, bErr := recordio.SerializeForHash(b)
	if aErr != nil || bErr != nil {
		return false
	}
	return bytes.Equal(aBytes, bBytes)
}
