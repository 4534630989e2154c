package synerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	err := New(PushPermanent, "push to origin failed", fmt.Errorf("403 forbidden"))
	if !errors.Is(err, Sentinel(PushPermanent)) {
		t.Errorf("expected errors.Is to match on Kind alone")
	}
	if errors.Is(err, Sentinel(PushTransient)) {
		t.Errorf("expected errors.Is to reject a different Kind")
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := New(HostVersion, "git too old", inner)
	if !errors.Is(err, inner) {
		t.Errorf("expected Unwrap to expose the inner error")
	}
}

func TestKindStringCoversAllValues(t *testing.T) {
	kinds := []Kind{Parse, NotFound, HostVersion, WorktreeCorrupted, WorktreePrunable,
		WorktreeMissing, MergeConflict, PushPermanent, PushTransient, PushUnknown,
		IdUnknown, MappingCollision}
	seen := make(map[string]bool)
	for _, k := range kinds {
		s := k.String()
		if s == "unknown" {
			t.Errorf("Kind %d stringified to unknown", k)
		}
		if seen[s] {
			t.Errorf("duplicate String() %q", s)
		}
		seen[s] = true
	}
}
