package recordio

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tbd-org/tbd/internal/record"
)

const delimiter = "---"

// notesHeading is matched case-insensitively at the start of a line.
const notesHeading = "## notes"

// Parse recovers an in-memory Issue from any tolerated on-disk variant:
// CRLF or LF line endings, a front-matter block delimited by "---" lines,
// and an optional body split at the first "## Notes" heading into
// Description and Notes.
func Parse(data []byte) (*record.Issue, error) {
	text := normalizeNewlines(string(data))

	front, body, err := splitFrontMatter(text)
	if err != nil {
		return nil, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(front), &node); err != nil {
		return nil, structuredErr("invalid YAML front-matter", err)
	}
	if node.Kind == 0 {
		return nil, structuredErr("front-matter is empty", nil)
	}

	var issue record.Issue
	if err := node.Decode(&issue); err != nil {
		return nil, structureDecodeErr(err)
	}

	issue.Description, issue.Notes = splitBody(body)

	if err := record.Default()(&issue); err != nil {
		if se, ok := err.(*record.SchemaError); ok {
			return nil, schemaErr(se.Field, se.Msg)
		}
		return nil, schemaErr("", err.Error())
	}

	return &issue, nil
}

// splitFrontMatter requires an opening and a closing "---" delimiter line
// and returns the raw YAML between them and the remaining body.
func splitFrontMatter(text string) (front, body string, err error) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != delimiter {
		return "", "", formatErr("missing opening \"---\" delimiter")
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delimiter {
			front = strings.Join(lines[1:i], "\n")
			body = strings.Join(lines[i+1:], "\n")
			return front, body, nil
		}
	}
	return "", "", formatErr("missing closing \"---\" delimiter")
}

// splitBody splits the post-front-matter body at the first case-insensitive
// "## Notes" heading, trimming both resulting sections.
func splitBody(body string) (description, notes string) {
	lower := strings.ToLower(body)
	idx := -1
	searchFrom := 0
	for {
		pos := strings.Index(lower[searchFrom:], notesHeading)
		if pos < 0 {
			break
		}
		abs := searchFrom + pos
		if abs == 0 || body[abs-1] == '\n' {
			idx = abs
			break
		}
		searchFrom = abs + len(notesHeading)
	}

	if idx < 0 {
		return strings.TrimSpace(body), ""
	}

	description = strings.TrimSpace(body[:idx])
	rest := body[idx:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		notes = strings.TrimSpace(rest[nl+1:])
	}
	return description, notes
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// structureDecodeErr classifies a node.Decode failure. yaml.v3 reports type
// mismatches via *yaml.TypeError; those are schema-shape problems (e.g. a
// timestamp field holding a non-timestamp string), so they map to Schema
// rather than Structured.
func structureDecodeErr(err error) error {
	if te, ok := err.(*yaml.TypeError); ok && len(te.Errors) > 0 {
		return schemaErr("", te.Errors[0])
	}
	return structuredErr("front-matter does not match the record schema", err)
}
