package merge

import (
	"testing"
	"time"

	"github.com/tbd-org/tbd/internal/record"
)

func sampleBase() *record.Issue {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &record.Issue{
		Type:      "is",
		ID:        "01HXAMPLE0000000000000000",
		CreatedAt: created,
		CreatedBy: "alice",
		Version:   1,
		UpdatedAt: created,
		Kind:      record.KindTask,
		Title:     "original title",
		Status:    record.StatusOpen,
		Priority:  2,
		Labels:    []string{"a"},
		Dependencies: []record.Dependency{
			{Type: "blocks", Target: "01HOTHER0000000000000000"},
		},
	}
}

func TestMergeKeepsBaseWhenNeitherSideChanged(t *testing.T) {
	base := sampleBase()
	local := base.Clone()
	remote := base.Clone()

	result := Merge(base, local, remote, time.Now())
	if len(result.Conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %v", result.Conflicts)
	}
	if result.Merged.Version != base.Version {
		t.Errorf("Version = %d, want unchanged %d (no-op merge)", result.Merged.Version, base.Version)
	}
	if !result.Merged.UpdatedAt.Equal(base.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want unchanged %v", result.Merged.UpdatedAt, base.UpdatedAt)
	}
}

func TestMergeTakesRemoteWhenOnlyRemoteChanged(t *testing.T) {
	base := sampleBase()
	local := base.Clone()
	remote := base.Clone()
	remote.Title = "remote edit"
	remote.UpdatedAt = base.UpdatedAt.Add(time.Hour)

	now := base.UpdatedAt.Add(2 * time.Hour)
	result := Merge(base, local, remote, now)
	if result.Merged.Title != "remote edit" {
		t.Errorf("Title = %q, want %q", result.Merged.Title, "remote edit")
	}
	if len(result.Conflicts) != 0 {
		t.Fatalf("expected no conflicts for a one-sided change, got %v", result.Conflicts)
	}
	if result.Merged.Version != base.Version+1 {
		t.Errorf("Version = %d, want %d", result.Merged.Version, base.Version+1)
	}
}

func TestMergeLWWPicksLaterUpdatedAtAndRecordsConflict(t *testing.T) {
	base := sampleBase()
	local := base.Clone()
	local.Title = "local edit"
	local.UpdatedAt = base.UpdatedAt.Add(2 * time.Hour)
	remote := base.Clone()
	remote.Title = "remote edit"
	remote.UpdatedAt = base.UpdatedAt.Add(time.Hour)

	result := Merge(base, local, remote, base.UpdatedAt.Add(3*time.Hour))
	if result.Merged.Title != "local edit" {
		t.Errorf("Title = %q, want local edit to win (later updated_at)", result.Merged.Title)
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("Conflicts = %d, want 1", len(result.Conflicts))
	}
	c := result.Conflicts[0]
	if c.Field != "title" {
		t.Errorf("Field = %q, want title", c.Field)
	}
	if c.WinnerSource != record.SourceLocal || c.LoserSource != record.SourceRemote {
		t.Errorf("winner/loser source = %v/%v, want local/remote", c.WinnerSource, c.LoserSource)
	}
	if c.LostValue != "remote edit" {
		t.Errorf("LostValue = %v, want %q", c.LostValue, "remote edit")
	}
}

func TestMergeLWWTieBreaksByContentHash(t *testing.T) {
	base := sampleBase()
	local := base.Clone()
	local.Title = "aaa"
	local.UpdatedAt = base.UpdatedAt.Add(time.Hour)
	remote := base.Clone()
	remote.Title = "zzz"
	remote.UpdatedAt = base.UpdatedAt.Add(time.Hour)

	r1 := Merge(base, local, remote, time.Now())
	r2 := Merge(base, local, remote, time.Now())
	if r1.Merged.Title != r2.Merged.Title {
		t.Fatalf("tie-break is not deterministic: %q vs %q", r1.Merged.Title, r2.Merged.Title)
	}
	if len(r1.Conflicts) != 1 {
		t.Fatalf("Conflicts = %d, want 1", len(r1.Conflicts))
	}
}

func TestMergeUnionDedupsLabelsOrderPreserving(t *testing.T) {
	base := sampleBase()
	local := base.Clone()
	local.Labels = []string{"a", "b"}
	remote := base.Clone()
	remote.Labels = []string{"a", "c"}

	result := Merge(base, local, remote, time.Now())
	want := []string{"a", "b", "c"}
	if len(result.Merged.Labels) != len(want) {
		t.Fatalf("Labels = %v, want %v", result.Merged.Labels, want)
	}
	for i, v := range want {
		if result.Merged.Labels[i] != v {
			t.Errorf("Labels[%d] = %q, want %q", i, result.Merged.Labels[i], v)
		}
	}
	if len(result.Conflicts) != 0 {
		t.Errorf("union fields never conflict, got %v", result.Conflicts)
	}
}

func TestMergeUnionDependenciesDedupsByTarget(t *testing.T) {
	base := sampleBase()
	local := base.Clone()
	local.Dependencies = append(local.Dependencies, record.Dependency{Type: "blocks", Target: "01HNEW0000000000000000000"})
	remote := base.Clone()
	remote.Dependencies = append(remote.Dependencies, record.Dependency{Type: "related", Target: "01HNEW0000000000000000000"})

	result := Merge(base, local, remote, time.Now())
	if len(result.Merged.Dependencies) != 2 {
		t.Fatalf("Dependencies = %v, want 2 entries deduped by target", result.Merged.Dependencies)
	}
	if result.Merged.Dependencies[1].Type != "blocks" {
		t.Errorf("Type = %q, want local's blocks to win the target collision", result.Merged.Dependencies[1].Type)
	}
}

func TestMergeImmutableFieldKeepsBaseOnConflict(t *testing.T) {
	base := sampleBase()
	local := base.Clone()
	local.CreatedBy = "mallory"
	remote := base.Clone()
	remote.CreatedBy = "eve"

	result := Merge(base, local, remote, time.Now())
	if result.Merged.CreatedBy != base.CreatedBy {
		t.Errorf("CreatedBy = %q, want base value %q preserved", result.Merged.CreatedBy, base.CreatedBy)
	}
	if len(result.Conflicts) != 0 {
		t.Errorf("immutable conflicts are silently suppressed, got %v", result.Conflicts)
	}
}

func TestMergeNoBaseOlderCreatedAtWins(t *testing.T) {
	older := sampleBase()
	newer := older.Clone()
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)
	newer.Title = "different title entirely"

	result := Merge(nil, newer, older, time.Now())
	if result.Merged.Title != older.Title {
		t.Errorf("Title = %q, want older record's title %q to win", result.Merged.Title, older.Title)
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0].Field != "whole_issue" {
		t.Fatalf("Conflicts = %v, want a single whole_issue entry", result.Conflicts)
	}
}

func TestMergeNoBaseIdenticalRecordsNoConflict(t *testing.T) {
	a := sampleBase()
	b := a.Clone()

	result := Merge(nil, a, b, time.Now())
	if len(result.Conflicts) != 0 {
		t.Errorf("byte-identical independent creations must not conflict, got %v", result.Conflicts)
	}
}

func TestSyntheticBaseForcesBothChangedBranch(t *testing.T) {
	local := sampleBase()
	base := SyntheticBase(local)
	if base.Version != 0 {
		t.Errorf("Version = %d, want 0", base.Version)
	}
	if !base.UpdatedAt.IsZero() {
		t.Errorf("UpdatedAt = %v, want zero value", base.UpdatedAt)
	}
}
