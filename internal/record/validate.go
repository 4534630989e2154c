package record

import (
	"fmt"
	"regexp"
)

// SchemaError names the first field that failed schema validation.
type SchemaError struct {
	Field string
	Msg   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: field %q: %s", e.Field, e.Msg)
}

// Validator checks one aspect of an issue and returns a *SchemaError naming
// the offending field, or nil. Validators compose with Chain.
type Validator func(issue *Issue) error

// Chain runs validators in order, stopping at the first error.
func Chain(validators ...Validator) Validator {
	return func(issue *Issue) error {
		for _, v := range validators {
			if err := v(issue); err != nil {
				return err
			}
		}
		return nil
	}
}

var ulidPattern = regexp.MustCompile(`^[0-9A-HJKMNP-TV-Z]{26}$`)
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,15}-[0-9A-HJKMNP-TV-Z]{26}$`)

// ValidType checks the fixed "is" type tag (I1-adjacent: schema shape).
func ValidType() Validator {
	return func(issue *Issue) error {
		if issue.Type != "is" {
			return &SchemaError{Field: "type", Msg: fmt.Sprintf("must be \"is\", got %q", issue.Type)}
		}
		return nil
	}
}

// ValidID checks the {prefix}-{26-char ULID} shape.
func ValidID() Validator {
	return func(issue *Issue) error {
		if !idPattern.MatchString(issue.ID) {
			return &SchemaError{Field: "id", Msg: fmt.Sprintf("must be {prefix}-{26-char ULID}, got %q", issue.ID)}
		}
		return nil
	}
}

// ValidKind checks the kind enum.
func ValidKind() Validator {
	return func(issue *Issue) error {
		switch issue.Kind {
		case KindTask, KindEpic, KindBug, KindChore:
			return nil
		default:
			return &SchemaError{Field: "kind", Msg: fmt.Sprintf("unrecognized kind %q", issue.Kind)}
		}
	}
}

// ValidStatus checks the status enum and invariant I4 (closed implies
// closed_at is present).
func ValidStatus() Validator {
	return func(issue *Issue) error {
		switch issue.Status {
		case StatusOpen, StatusInProgress, StatusBlocked, StatusDeferred, StatusClosed:
		default:
			return &SchemaError{Field: "status", Msg: fmt.Sprintf("unrecognized status %q", issue.Status)}
		}
		if issue.Status == StatusClosed && issue.ClosedAt == nil {
			return &SchemaError{Field: "closed_at", Msg: "must be present when status is closed"}
		}
		return nil
	}
}

// ValidTimestamps checks invariant I2 (created_at <= updated_at) and I3
// (version never decreases is checked by the caller across revisions, not
// here, since it requires a previous version to compare against).
func ValidTimestamps() Validator {
	return func(issue *Issue) error {
		if issue.CreatedAt.After(issue.UpdatedAt) {
			return &SchemaError{Field: "updated_at", Msg: "must not precede created_at"}
		}
		return nil
	}
}

// ValidVersion checks that version is non-negative.
func ValidVersion() Validator {
	return func(issue *Issue) error {
		if issue.Version < 0 {
			return &SchemaError{Field: "version", Msg: "must be non-negative"}
		}
		return nil
	}
}

// ValidDependencies checks that dependency targets are unique, per the
// "set of {type,target} tuples (unique by target)" field definition.
func ValidDependencies() Validator {
	return func(issue *Issue) error {
		seen := make(map[string]bool, len(issue.Dependencies))
		for _, d := range issue.Dependencies {
			if seen[d.Target] {
				return &SchemaError{Field: "dependencies", Msg: fmt.Sprintf("duplicate target %q", d.Target)}
			}
			seen[d.Target] = true
		}
		return nil
	}
}

// Default is the validator chain applied to every parsed issue.
func Default() Validator {
	return Chain(
		ValidType(),
		ValidID(),
		ValidKind(),
		ValidStatus(),
		ValidTimestamps(),
		ValidVersion(),
		ValidDependencies(),
	)
}
