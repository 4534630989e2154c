// Package synerr is the closed error taxonomy the core surfaces to its
// callers, realized as sentinel values usable with errors.Is/errors.As
// rather than string matching.
package synerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the core can produce, per the error-kind table.
type Kind int

const (
	Parse Kind = iota
	NotFound
	HostVersion
	WorktreeCorrupted
	WorktreePrunable
	WorktreeMissing
	MergeConflict
	PushPermanent
	PushTransient
	PushUnknown
	IdUnknown
	MappingCollision
)

func (k Kind) String() string {
	switch k {
	case Parse:
		return "parse"
	case NotFound:
		return "not_found"
	case HostVersion:
		return "host_version"
	case WorktreeCorrupted:
		return "worktree_corrupted"
	case WorktreePrunable:
		return "worktree_prunable"
	case WorktreeMissing:
		return "worktree_missing"
	case MergeConflict:
		return "merge_conflict"
	case PushPermanent:
		return "push_permanent"
	case PushTransient:
		return "push_transient"
	case PushUnknown:
		return "push_unknown"
	case IdUnknown:
		return "id_unknown"
	case MappingCollision:
		return "mapping_collision"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its Kind, so callers can branch on
// errors.As(err, &synerr.Error{}).Kind without parsing messages.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, synerr.New(synerr.NotFound, "", nil)) or, more
// simply, use Kind directly via errors.As.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs a classified error.
func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Sentinel returns a zero-message marker usable as an errors.Is target,
// e.g. errors.Is(err, synerr.Sentinel(synerr.NotFound)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}
