// Package record defines the on-disk schema for issues, the short-ID
// mapping, attic entries, configuration, and local state documents shared
// by the storage, parser, merge, and sync layers.
package record

import "time"

// Status is the closed enumeration of issue lifecycle states.
type Status string

const (
	StatusOpen        Status = "open"
	StatusInProgress  Status = "in_progress"
	StatusBlocked     Status = "blocked"
	StatusDeferred    Status = "deferred"
	StatusClosed      Status = "closed"
)

// Kind is the closed enumeration of issue kinds.
type Kind string

const (
	KindTask Kind = "task"
	KindEpic Kind = "epic"
	KindBug  Kind = "bug"
	KindChore Kind = "chore"
)

// MergeClass identifies which three-way merge strategy applies to a field.
// See internal/merge for the strategy implementations.
type MergeClass int

const (
	// ClassImmutable means the field is fixed at creation; conflicting
	// changes are silently suppressed in favor of the base value.
	ClassImmutable MergeClass = iota
	// ClassMax means the field resolves to the numeric maximum of the two sides.
	ClassMax
	// ClassLWW means the field resolves to the side with the greater
	// updated_at, with a deterministic tie-break.
	ClassLWW
	// ClassUnion means the field is an array merged by concatenation plus
	// dedup, order-preserving.
	ClassUnion
)

// Dependency is a typed edge from one issue to another. Dependencies are
// unique by Target within an issue's Dependencies slice.
type Dependency struct {
	Type   string `yaml:"type"`
	Target string `yaml:"target"`
}

// Issue is the canonical in-memory representation of a stored issue record.
// Field order here is for readability only; on-disk key order is always
// ascending Unicode order, enforced by internal/recordio.
type Issue struct {
	Type string `yaml:"type"` // always "is"
	ID   string `yaml:"id"`

	CreatedAt time.Time `yaml:"created_at"`
	CreatedBy string    `yaml:"created_by"`

	Version   int       `yaml:"version"`
	UpdatedAt time.Time `yaml:"updated_at"`

	Kind        Kind   `yaml:"kind"`
	Title       string `yaml:"title"`
	Description string `yaml:"-"` // carried in the markdown body, not front-matter
	Notes       string `yaml:"-"` // carried in the markdown body, under "## Notes"

	Status   Status `yaml:"status"`
	Priority int    `yaml:"priority"`

	Assignee       *string    `yaml:"assignee"`
	ParentID       *string    `yaml:"parent_id"`
	SpecPath       *string    `yaml:"spec_path"`
	CloseReason    *string    `yaml:"close_reason"`
	ClosedAt       *time.Time `yaml:"closed_at"`
	DueDate        *time.Time `yaml:"due_date"`
	DeferredUntil  *time.Time `yaml:"deferred_until"`

	ChildOrderHints []string `yaml:"child_order_hints"`
	Labels          []string `yaml:"labels"`
	Dependencies    []Dependency `yaml:"dependencies"`

	// Extensions is an opaque, round-trippable mapping. Its field list is
	// unspecified by design; the core never interprets its contents.
	Extensions map[string]any `yaml:"extensions"`

	ExternalIssueURL *string `yaml:"external_issue_url"`
}

// FieldMergeClass returns the merge classification for a named field.
// Panics on an unknown field name, since
// every caller site enumerates a fixed, compile-time-known field set.
func FieldMergeClass(field string) MergeClass {
	switch field {
	case "type", "id", "created_at", "created_by":
		return ClassImmutable
	case "version":
		return ClassMax
	case "updated_at":
		return ClassMax
	case "kind", "title", "description", "notes", "status", "priority",
		"assignee", "parent_id", "spec_path", "close_reason", "closed_at",
		"due_date", "deferred_until", "child_order_hints", "extensions",
		"external_issue_url":
		return ClassLWW
	case "labels", "dependencies":
		return ClassUnion
	default:
		panic("record: unknown field " + field)
	}
}

// Clone returns a deep copy of the issue sufficient for merge-engine use
// (no shared slice/map/pointer backing storage with the original).
func (i *Issue) Clone() *Issue {
	if i == nil {
		return nil
	}
	c := *i
	c.ChildOrderHints = append([]string(nil), i.ChildOrderHints...)
	c.Labels = append([]string(nil), i.Labels...)
	c.Dependencies = append([]Dependency(nil), i.Dependencies...)
	if i.Assignee != nil {
		v := *i.Assignee
		c.Assignee = &v
	}
	if i.ParentID != nil {
		v := *i.ParentID
		c.ParentID = &v
	}
	if i.SpecPath != nil {
		v := *i.SpecPath
		c.SpecPath = &v
	}
	if i.CloseReason != nil {
		v := *i.CloseReason
		c.CloseReason = &v
	}
	if i.ClosedAt != nil {
		v := *i.ClosedAt
		c.ClosedAt = &v
	}
	if i.DueDate != nil {
		v := *i.DueDate
		c.DueDate = &v
	}
	if i.DeferredUntil != nil {
		v := *i.DeferredUntil
		c.DeferredUntil = &v
	}
	if i.ExternalIssueURL != nil {
		v := *i.ExternalIssueURL
		c.ExternalIssueURL = &v
	}
	if i.Extensions != nil {
		ext := make(map[string]any, len(i.Extensions))
		for k, v := range i.Extensions {
			ext[k] = v
		}
		c.Extensions = ext
	}
	return &c
}
