package idmap

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAllocateThenResolve(t *testing.T) {
	m := New()
	long := "01J9Z0K3G4QH6D1VXMB2C4R5A7"

	short, err := m.Allocate(long)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(short) != 4 {
		t.Errorf("len(short) = %d, want 4 below the escalation threshold", len(short))
	}

	resolved, err := ResolveToInternalId(short, m)
	if err != nil {
		t.Fatalf("ResolveToInternalId(%q): %v", short, err)
	}
	if resolved != long {
		t.Errorf("resolved = %q, want %q", resolved, long)
	}
}

func TestResolveAcceptsFullAndPrefixedForms(t *testing.T) {
	m := New()
	long := "01J9Z0K3G4QH6D1VXMB2C4R5A7"
	short, err := m.Allocate(long)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	cases := []string{
		long,
		"is-" + long,
		short,
		"is-" + short,
	}
	for _, in := range cases {
		got, err := ResolveToInternalId(in, m)
		if err != nil {
			t.Errorf("ResolveToInternalId(%q): %v", in, err)
			continue
		}
		if got != long {
			t.Errorf("ResolveToInternalId(%q) = %q, want %q", in, got, long)
		}
	}
}

func TestResolveUnknownShortIdErrors(t *testing.T) {
	m := New()
	_, err := ResolveToInternalId("zzzz", m)
	if err == nil {
		t.Fatal("expected an error for an unknown short id")
	}
}

func TestOptimalLength(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{
		{0, 4},
		{49_999, 4},
		{50_000, 5},
		{100_000, 5},
	}
	for _, c := range cases {
		if got := optimalLength(c.n); got != c.want {
			t.Errorf("optimalLength(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := New()
	for i := 0; i < 5; i++ {
		if _, err := m.Allocate(randomLikeULID(i)); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "ids.yml")
	if err := Save(path, m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if len(loaded.shortToLong) != len(m.shortToLong) {
		t.Errorf("loaded %d entries, want %d", len(loaded.shortToLong), len(m.shortToLong))
	}
}

func TestLoadMissingFileReturnsEmptyMapping(t *testing.T) {
	m, warnings, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if warnings != nil {
		t.Errorf("expected no warnings, got %v", warnings)
	}
	if len(m.shortToLong) != 0 {
		t.Errorf("expected an empty mapping, got %d entries", len(m.shortToLong))
	}
}

func TestLoadToleratesDuplicateShortIds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.yml")
	data := []byte("entries:\n  - short: a1b2\n    long: 01J9Z0K3G4QH6D1VXMB2C4R5A7\n  - short: a1b2\n    long: 01J9Z0K3G4QH6D1VXMB2C4R5A8\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 1 {
		t.Errorf("len(warnings) = %d, want 1", len(warnings))
	}
	long, ok := m.LongFor("a1b2")
	if !ok || long != "01J9Z0K3G4QH6D1VXMB2C4R5A7" {
		t.Errorf("first occurrence should win, got long=%q ok=%v", long, ok)
	}
}

func TestReconcileRecoversHistoricalShortId(t *testing.T) {
	long := "01J9Z0K3G4QH6D1VXMB2C4R5A7"
	history := New()
	history.Put("zork", long)

	current := New()
	result := Reconcile([]string{long}, current, history)

	if len(result.Recovered) != 1 || result.Recovered[0] != long {
		t.Errorf("expected %q to be recovered, got %+v", long, result)
	}
	if short, ok := current.ShortFor(long); !ok || short != "zork" {
		t.Errorf("expected recovered short id %q, got %q (ok=%v)", "zork", short, ok)
	}
}

func TestReconcileCreatesWhenNoHistory(t *testing.T) {
	long := "01J9Z0K3G4QH6D1VXMB2C4R5A7"
	current := New()
	result := Reconcile([]string{long}, current, nil)

	if len(result.Created) != 1 || result.Created[0] != long {
		t.Errorf("expected %q to be created, got %+v", long, result)
	}
}

func TestMergeLocalWinsOnConflict(t *testing.T) {
	localLong := "01J9Z0K3G4QH6D1VXMB2C4R5A7"
	remoteLong := "01J9Z0K3G4QH6D1VXMB2C4R5A8"
	local := New()
	local.Put("a1b2", localLong)
	remote := New()
	remote.Put("a1b2", remoteLong)

	merged, warnings := Merge(local, remote)
	long, ok := merged.LongFor("a1b2")
	if !ok || long != localLong {
		t.Errorf("expected local to win, got long=%q ok=%v", long, ok)
	}
	if len(warnings) == 0 {
		t.Error("expected a warning for the discarded remote binding")
	}

	// The loser must be fully unmapped in both directions, so the next
	// reconcile allocates it a fresh short id.
	if short, ok := merged.ShortFor(remoteLong); ok {
		t.Errorf("losing long still mapped to %q, want unmapped", short)
	}
	res := Reconcile([]string{remoteLong}, merged, nil)
	if len(res.Created) != 1 {
		t.Errorf("Reconcile created %d mappings for the losing long, want 1", len(res.Created))
	}
}

func TestPutRebindingShortDropsStaleReverseEntry(t *testing.T) {
	m := New()
	m.Put("z1z1", "01J9Z0K3G4QH6D1VXMB2C4R5A7")
	m.Put("z1z1", "01J9Z0K3G4QH6D1VXMB2C4R5A8")

	if _, ok := m.ShortFor("01J9Z0K3G4QH6D1VXMB2C4R5A7"); ok {
		t.Error("stale longToShort entry survived a short-id rebind")
	}
	if long, _ := m.LongFor("z1z1"); long != "01J9Z0K3G4QH6D1VXMB2C4R5A8" {
		t.Errorf("LongFor = %q, want the rebound long", long)
	}
}

func randomLikeULID(i int) string {
	base := "01J9Z0K3G4QH6D1VXMB2C4R5A0"
	return base[:len(base)-1] + string(rune('A'+i))
}

func TestULIDOfStripsPrefix(t *testing.T) {
	ulid := "01J9Z0K3G4QH6D1VXMB2C4R5A7"
	tests := []struct{ in, want string }{
		{ulid, ulid},
		{"is-" + ulid, ulid},
		{"my-team-" + ulid, ulid},
		{"a7k2", "a7k2"},
	}
	for _, tt := range tests {
		if got := ULIDOf(tt.in); got != tt.want {
			t.Errorf("ULIDOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEqualComparesEntries(t *testing.T) {
	a := New()
	a.Put("a1b2", "01J9Z0K3G4QH6D1VXMB2C4R5A7")
	b := New()
	b.Put("a1b2", "01J9Z0K3G4QH6D1VXMB2C4R5A7")

	if !Equal(a, b) {
		t.Error("identical mappings compare unequal")
	}
	b.Put("c3d4", "01J9Z0K3G4QH6D1VXMB2C4R5A8")
	if Equal(a, b) {
		t.Error("mappings with different entry counts compare equal")
	}
}

func TestParseReportsDuplicates(t *testing.T) {
	doc := "entries:\n" +
		"  - short: a1b2\n    long: 01J9Z0K3G4QH6D1VXMB2C4R5A7\n" +
		"  - short: a1b2\n    long: 01J9Z0K3G4QH6D1VXMB2C4R5A8\n"
	m, warnings, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one duplicate report", warnings)
	}
	if long, _ := m.LongFor("a1b2"); long != "01J9Z0K3G4QH6D1VXMB2C4R5A7" {
		t.Errorf("first occurrence did not win: %q", long)
	}
}
