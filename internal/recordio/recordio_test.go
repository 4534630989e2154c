package recordio

import (
	"strings"
	"testing"
	"time"

	"github.com/tbd-org/tbd/internal/record"
)

func sampleIssue() *record.Issue {
	closedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assignee := "alice"
	return &record.Issue{
		Type:      "is",
		ID:        "is-01J9Z0K3G4QH6D1VXMB2C4R5A7",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CreatedBy: "alice",
		Version:   3,
		UpdatedAt: closedAt,
		Kind:      record.KindBug,
		Title:     "Widget breaks on resize",
		Status:    record.StatusClosed,
		Priority:  1,
		Assignee:  &assignee,
		ClosedAt:  &closedAt,
		Labels:    []string{"ui", "regression"},
		Dependencies: []record.Dependency{
			{Type: "blocks", Target: "is-01J9Z0K3G4QH6D1VXMB2C4R5A8"},
		},
		Description: "The widget layout collapses when the window is resized below 400px.",
		Notes:       "Reproduced on the staging build.",
	}
}

func TestParseRoundTrip(t *testing.T) {
	issue := sampleIssue()

	out, err := Serialize(issue)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	parsed, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	again, err := Serialize(parsed)
	if err != nil {
		t.Fatalf("Serialize (second pass): %v", err)
	}

	if string(out) != string(again) {
		t.Errorf("serialize(parse(serialize(R))) != serialize(R)\nfirst:\n%s\nsecond:\n%s", out, again)
	}
}

func TestSerializeKeyOrderAscending(t *testing.T) {
	out, err := Serialize(sampleIssue())
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	lines := strings.Split(string(out), "\n")
	var keys []string
	for _, l := range lines[1:] {
		if l == delimiter {
			break
		}
		if idx := strings.Index(l, ":"); idx > 0 && !strings.HasPrefix(l, " ") && !strings.HasPrefix(l, "-") {
			keys = append(keys, l[:idx])
		}
	}

	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Errorf("front-matter keys not in ascending order: %q before %q", keys[i-1], keys[i])
		}
	}
}

func TestSerializeExplicitNulls(t *testing.T) {
	issue := sampleIssue()
	issue.Assignee = nil

	out, err := Serialize(issue)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	if !strings.Contains(string(out), "assignee: null") {
		t.Errorf("expected explicit null for unset optional field, got:\n%s", out)
	}
}

func TestSerializeForHashOmitsVersionAndSortsLabels(t *testing.T) {
	issue := sampleIssue()
	issue.Labels = []string{"ui", "regression", "p1"}
	issue.Assignee = nil

	out, err := SerializeForHash(issue)
	if err != nil {
		t.Fatalf("SerializeForHash: %v", err)
	}
	text := string(out)

	if strings.Contains(text, "version:") {
		t.Errorf("hash variant must omit version, got:\n%s", text)
	}
	if strings.Contains(text, "assignee:") {
		t.Errorf("hash variant must omit undefined optionals entirely, got:\n%s", text)
	}

	pIdx := strings.Index(text, "- p1")
	regIdx := strings.Index(text, "- regression")
	uiIdx := strings.Index(text, "- ui")
	if !(pIdx < regIdx && regIdx < uiIdx) {
		t.Errorf("labels not sorted lexicographically in hash variant:\n%s", text)
	}
}

func TestParseSplitsNotesCaseInsensitive(t *testing.T) {
	issue := sampleIssue()
	issue.Notes = "a note"
	out, err := Serialize(issue)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	variant := strings.Replace(string(out), "## Notes", "## notes", 1)
	parsed, err := Parse([]byte(variant))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Notes != "a note" {
		t.Errorf("Notes = %q, want %q", parsed.Notes, "a note")
	}
}

func TestParseToleratesCRLF(t *testing.T) {
	issue := sampleIssue()
	out, err := Serialize(issue)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	crlf := strings.ReplaceAll(string(out), "\n", "\r\n")

	parsed, err := Parse([]byte(crlf))
	if err != nil {
		t.Fatalf("Parse with CRLF input: %v", err)
	}
	if parsed.ID != issue.ID {
		t.Errorf("ID = %q, want %q", parsed.ID, issue.ID)
	}
}

func TestParseMissingDelimiterIsFormatError(t *testing.T) {
	_, err := Parse([]byte("id: x\ntitle: y\n"))
	if err == nil {
		t.Fatal("expected an error for missing delimiters")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Kind != Format {
		t.Errorf("Kind = %v, want Format", pe.Kind)
	}
}

func TestParseInvalidYAMLIsStructuredError(t *testing.T) {
	_, err := Parse([]byte("---\n: not: valid: yaml: [\n---\nbody\n"))
	if err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Kind != Structured {
		t.Errorf("Kind = %v, want Structured", pe.Kind)
	}
}

func TestParseBadTypeTagIsSchemaError(t *testing.T) {
	issue := sampleIssue()
	issue.Type = "not-is"
	out, err := Serialize(issue)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	_, err = Parse(out)
	if err == nil {
		t.Fatal("expected a schema error for a bad type tag")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Kind != Schema {
		t.Errorf("Kind = %v, want Schema", pe.Kind)
	}
	if pe.Field != "type" {
		t.Errorf("Field = %q, want %q", pe.Field, "type")
	}
}

func TestParseClosedWithoutClosedAtIsSchemaError(t *testing.T) {
	issue := sampleIssue()
	issue.ClosedAt = nil
	out, err := Serialize(issue)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	_, err = Parse(out)
	if err == nil {
		t.Fatal("expected a schema error when status=closed lacks closed_at")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Field != "closed_at" {
		t.Errorf("Field = %q, want %q", pe.Field, "closed_at")
	}
}
