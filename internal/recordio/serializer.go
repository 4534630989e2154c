package recordio

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tbd-org/tbd/internal/record"
)

// timeLayout is the UTC ISO-8601 millisecond-precision shape required by I5.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Serialize produces the canonical byte representation of issue: front-matter
// keys in ascending Unicode order, explicit nulls, unquoted numerics, no
// line-width folding, no blank line after the closing delimiter, a single
// trailing newline. For any valid record R, Serialize(Parse(Serialize(R)))
// is byte-identical to Serialize(R).
func Serialize(issue *record.Issue) ([]byte, error) {
	return serialize(issue, false)
}

// SerializeForHash produces the canonical-for-hash variant: labels sorted
// lexicographically, dependencies sorted by target, version omitted,
// undefined optionals omitted, line endings normalized to LF.
func SerializeForHash(issue *record.Issue) ([]byte, error) {
	return serialize(issue, true)
}

func serialize(issue *record.Issue, forHash bool) ([]byte, error) {
	node, err := buildNode(issue, forHash)
	if err != nil {
		return nil, err
	}

	front, err := yaml.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("recordio: marshal front-matter: %w", err)
	}
	front = bytes.TrimRight(front, "\n")

	var buf bytes.Buffer
	buf.WriteString(delimiter)
	buf.WriteByte('\n')
	buf.Write(front)
	buf.WriteByte('\n')
	buf.WriteString(delimiter)
	buf.WriteByte('\n')

	description := strings.ReplaceAll(issue.Description, "\r\n", "\n")
	notes := strings.ReplaceAll(issue.Notes, "\r\n", "\n")

	if description != "" {
		buf.WriteString(description)
	}
	if notes != "" {
		if description != "" {
			buf.WriteString("\n\n")
		}
		buf.WriteString("## Notes\n")
		buf.WriteString(notes)
	}

	out := bytes.TrimRight(buf.Bytes(), "\n")
	out = append(out, '\n')
	return out, nil
}

func buildNode(issue *record.Issue, forHash bool) (*yaml.Node, error) {
	fields := map[string]*yaml.Node{
		"type":       stringNode(issue.Type),
		"id":         stringNode(issue.ID),
		"created_at": timeNode(issue.CreatedAt),
		"created_by": stringNode(issue.CreatedBy),
		"updated_at": timeNode(issue.UpdatedAt),
		"kind":       stringNode(string(issue.Kind)),
		"title":      stringNode(issue.Title),
		"status":     stringNode(string(issue.Status)),
		"priority":   intNode(issue.Priority),
	}
	if !forHash {
		fields["version"] = intNode(issue.Version)
	}

	optionalStrings := map[string]*string{
		"assignee":     issue.Assignee,
		"parent_id":    issue.ParentID,
		"spec_path":    issue.SpecPath,
		"close_reason": issue.CloseReason,
		"external_issue_url": issue.ExternalIssueURL,
	}
	for key, val := range optionalStrings {
		node, ok := optionalStringNode(val, forHash)
		if ok {
			fields[key] = node
		}
	}

	optionalTimes := map[string]*time.Time{
		"closed_at":      issue.ClosedAt,
		"due_date":       issue.DueDate,
		"deferred_until": issue.DeferredUntil,
	}
	for key, val := range optionalTimes {
		node, ok := optionalTimeNode(val, forHash)
		if ok {
			fields[key] = node
		}
	}

	fields["child_order_hints"] = stringSeqNode(issue.ChildOrderHints)

	labels := issue.Labels
	if forHash {
		labels = append([]string(nil), labels...)
		sort.Strings(labels)
	}
	fields["labels"] = stringSeqNode(labels)

	deps := issue.Dependencies
	if forHash {
		deps = append([]record.Dependency(nil), deps...)
		sort.Slice(deps, func(i, j int) bool { return deps[i].Target < deps[j].Target })
	}
	depNode, err := dependenciesNode(deps)
	if err != nil {
		return nil, err
	}
	fields["dependencies"] = depNode

	if !forHash || len(issue.Extensions) > 0 {
		extNode, err := genericNode(issue.Extensions)
		if err != nil {
			return nil, err
		}
		fields["extensions"] = extNode
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mapping := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range keys {
		mapping.Content = append(mapping.Content, stringNode(k), fields[k])
	}
	return mapping, nil
}

func stringNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func intNode(i int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(i)}
}

func nullNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

func timeNode(t time.Time) *yaml.Node {
	return stringNode(t.UTC().Format(timeLayout))
}

// optionalStringNode returns the node for an optional string field and
// whether the field should appear at all: present-but-nil emits an explicit
// null in canonical output, and is dropped entirely in the hash variant.
func optionalStringNode(v *string, forHash bool) (*yaml.Node, bool) {
	if v == nil {
		if forHash {
			return nil, false
		}
		return nullNode(), true
	}
	return stringNode(*v), true
}

func optionalTimeNode(v *time.Time, forHash bool) (*yaml.Node, bool) {
	if v == nil {
		if forHash {
			return nil, false
		}
		return nullNode(), true
	}
	return timeNode(*v), true
}

func stringSeqNode(items []string) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, s := range items {
		seq.Content = append(seq.Content, stringNode(s))
	}
	return seq
}

func dependenciesNode(deps []record.Dependency) (*yaml.Node, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, d := range deps {
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		m.Content = append(m.Content,
			stringNode("target"), stringNode(d.Target),
			stringNode("type"), stringNode(d.Type),
		)
		seq.Content = append(seq.Content, m)
	}
	return seq, nil
}

// genericNode round-trips an opaque value through the yaml.v3 encoder so
// extensions keep whatever shape they were read with, without the core ever
// interpreting their contents.
func genericNode(v any) (*yaml.Node, error) {
	if v == nil {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	raw, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("recordio: marshal extensions: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("recordio: re-decode extensions: %w", err)
	}
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		return node.Content[0], nil
	}
	return &node, nil
}
