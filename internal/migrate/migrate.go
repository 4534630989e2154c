// Package migrate brings older configuration documents forward to the
// shape this binary writes. Migration is forward-only: a document whose
// format is newer than the registered steps is refused, never rewritten.
// Every step is idempotent, so re-running migration on an already-current
// document is a no-op.
package migrate

import "fmt"

// Step is one registered migration. Apply mutates the raw document in
// place; To is the format version the document has after the step runs.
type Step struct {
	To          int
	Description string
	Apply       func(doc map[string]any) error
}

// steps is the ordered migration registry. Append only; never renumber.
var steps = []Step{
	{
		To:          1,
		Description: "nest flat sync-branch/sync-remote/id-prefix/auto-sync keys and stamp a format version",
		Apply:       nestFlatKeys,
	},
	{
		To:          2,
		Description: "gather doc cache settings under the opaque doc_cache sub-document",
		Apply:       gatherDocCache,
	},
}

// Steps returns a copy of the registry, for doctor-style listings.
func Steps() []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}

// CurrentFormat is the format version the full registry produces.
func CurrentFormat() int {
	return steps[len(steps)-1].To
}

// Version reads the document's format field. Documents that predate the
// format field report version 0.
func Version(doc map[string]any) int {
	switch v := doc["format"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Run applies every step newer than the document's current format, in
// order, stamping the format after each. It returns the steps applied. A
// document from a newer binary is refused.
func Run(doc map[string]any) ([]Step, error) {
	version := Version(doc)
	if version > CurrentFormat() {
		return nil, fmt.Errorf("migrate: document format %d is newer than this binary supports (%d)", version, CurrentFormat())
	}

	var applied []Step
	for _, s := range steps {
		if s.To <= version {
			continue
		}
		if err := s.Apply(doc); err != nil {
			return applied, fmt.Errorf("migrate: step %d (%s): %w", s.To, s.Description, err)
		}
		doc["format"] = s.To
		applied = append(applied, s)
	}
	return applied, nil
}

// sub returns the named sub-document, creating it if absent. A non-mapping
// value under the key is an error surfaced by the caller.
func sub(doc map[string]any, key string) (map[string]any, error) {
	switch v := doc[key].(type) {
	case nil:
		m := make(map[string]any)
		doc[key] = m
		return m, nil
	case map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("key %q holds %T, expected a mapping", key, v)
	}
}

// moveKey relocates the first present key of froms into section[to],
// leaving an existing nested value untouched.
func moveKey(doc map[string]any, froms []string, section map[string]any, to string) {
	for _, from := range froms {
		v, ok := doc[from]
		if !ok {
			continue
		}
		delete(doc, from)
		if _, exists := section[to]; !exists {
			section[to] = v
		}
	}
}

// nestFlatKeys is the format-1 step: early documents were a flat key-value
// list; this gathers the keys the core consumes into their sections.
func nestFlatKeys(doc map[string]any) error {
	syncSec, err := sub(doc, "sync")
	if err != nil {
		return err
	}
	moveKey(doc, []string{"sync-branch", "branch"}, syncSec, "branch")
	moveKey(doc, []string{"sync-remote", "remote"}, syncSec, "remote")

	displaySec, err := sub(doc, "display")
	if err != nil {
		return err
	}
	moveKey(doc, []string{"id-prefix", "prefix"}, displaySec, "id_prefix")

	settingsSec, err := sub(doc, "settings")
	if err != nil {
		return err
	}
	moveKey(doc, []string{"auto-sync", "autosync"}, settingsSec, "auto_sync")
	return nil
}

// gatherDocCache is the format-2 step: doc cache settings used to live at
// the top level under assorted names; they now live under one opaque
// sub-document the core round-trips without interpreting.
func gatherDocCache(doc map[string]any) error {
	cacheSec, err := sub(doc, "doc_cache")
	if err != nil {
		return err
	}
	for _, legacy := range []string{"docs", "doc-cache", "doc_sync"} {
		v, ok := doc[legacy]
		if !ok {
			continue
		}
		delete(doc, legacy)
		if nested, isMap := v.(map[string]any); isMap {
			for k, nv := range nested {
				if _, exists := cacheSec[k]; !exists {
					cacheSec[k] = nv
				}
			}
		} else if _, exists := cacheSec[legacy]; !exists {
			cacheSec[legacy] = v
		}
	}
	return nil
}
