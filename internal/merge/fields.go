package merge

import (
	"time"

	"github.com/tbd-org/tbd/internal/record"
)

// fieldAccessor adapts one record.Issue field into the generic merge loop:
// its merge class plus a get/set pair so Merge never needs a type switch
// keyed on field name.
type fieldAccessor struct {
	name  string
	class record.MergeClass
	get   func(*record.Issue) any
	set   func(*record.Issue, any)
}

// fieldTable enumerates every field Merge resolves generically. version and
// updated_at are deliberately absent: they are bookkeeping fields Merge
// derives once, after the loop, from whether anything else actually
// changed. Classes come from record.FieldMergeClass so the classification
// lives in exactly one place.
var fieldTable = buildFieldTable()

func buildFieldTable() []fieldAccessor {
	entries := []fieldAccessor{
		{name: "type",
			get: func(i *record.Issue) any { return i.Type },
			set: func(i *record.Issue, v any) { i.Type = v.(string) }},
		{name: "id",
			get: func(i *record.Issue) any { return i.ID },
			set: func(i *record.Issue, v any) { i.ID = v.(string) }},
		{name: "created_at",
			get: func(i *record.Issue) any { return i.CreatedAt },
			set: func(i *record.Issue, v any) { i.CreatedAt = v.(time.Time) }},
		{name: "created_by",
			get: func(i *record.Issue) any { return i.CreatedBy },
			set: func(i *record.Issue, v any) { i.CreatedBy = v.(string) }},

		{name: "kind",
			get: func(i *record.Issue) any { return i.Kind },
			set: func(i *record.Issue, v any) { i.Kind = v.(record.Kind) }},
		{name: "title",
			get: func(i *record.Issue) any { return i.Title },
			set: func(i *record.Issue, v any) { i.Title = v.(string) }},
		{name: "description",
			get: func(i *record.Issue) any { return i.Description },
			set: func(i *record.Issue, v any) { i.Description = v.(string) }},
		{name: "notes",
			get: func(i *record.Issue) any { return i.Notes },
			set: func(i *record.Issue, v any) { i.Notes = v.(string) }},
		{name: "status",
			get: func(i *record.Issue) any { return i.Status },
			set: func(i *record.Issue, v any) { i.Status = v.(record.Status) }},
		{name: "priority",
			get: func(i *record.Issue) any { return i.Priority },
			set: func(i *record.Issue, v any) { i.Priority = v.(int) }},
		{name: "assignee",
			get: func(i *record.Issue) any { return i.Assignee },
			set: func(i *record.Issue, v any) { i.Assignee = v.(*string) }},
		{name: "parent_id",
			get: func(i *record.Issue) any { return i.ParentID },
			set: func(i *record.Issue, v any) { i.ParentID = v.(*string) }},
		{name: "spec_path",
			get: func(i *record.Issue) any { return i.SpecPath },
			set: func(i *record.Issue, v any) { i.SpecPath = v.(*string) }},
		{name: "close_reason",
			get: func(i *record.Issue) any { return i.CloseReason },
			set: func(i *record.Issue, v any) { i.CloseReason = v.(*string) }},
		{name: "closed_at",
			get: func(i *record.Issue) any { return i.ClosedAt },
			set: func(i *record.Issue, v any) { i.ClosedAt = v.(*time.Time) }},
		{name: "due_date",
			get: func(i *record.Issue) any { return i.DueDate },
			set: func(i *record.Issue, v any) { i.DueDate = v.(*time.Time) }},
		{name: "deferred_until",
			get: func(i *record.Issue) any { return i.DeferredUntil },
			set: func(i *record.Issue, v any) { i.DeferredUntil = v.(*time.Time) }},
		{name: "child_order_hints",
			get: func(i *record.Issue) any { return i.ChildOrderHints },
			set: func(i *record.Issue, v any) { i.ChildOrderHints = v.([]string) }},
		{name: "extensions",
			get: func(i *record.Issue) any { return i.Extensions },
			set: func(i *record.Issue, v any) { i.Extensions = v.(map[string]any) }},
		{name: "external_issue_url",
			get: func(i *record.Issue) any { return i.ExternalIssueURL },
			set: func(i *record.Issue, v any) { i.ExternalIssueURL = v.(*string) }},

		{name: "labels",
			get: func(i *record.Issue) any { return i.Labels },
			set: func(i *record.Issue, v any) { i.Labels = v.([]string) }},
		{name: "dependencies",
			get: func(i *record.Issue) any { return i.Dependencies },
			set: func(i *record.Issue, v any) { i.Dependencies = v.([]record.Dependency) }},
	}
	for i := range entries {
		entries[i].class = record.FieldMergeClass(entries[i].name)
	}
	return entries
}
