package record

import (
	"fmt"
	"time"
)

// AtticSource identifies which side of a merge a value came from.
type AtticSource string

const (
	SourceLocal  AtticSource = "local"
	SourceRemote AtticSource = "remote"
)

// AtticContext carries the version/timestamp bookkeeping an operator needs
// to understand why a value lost a merge.
type AtticContext struct {
	LocalVersion    int       `yaml:"local_version"`
	RemoteVersion   int       `yaml:"remote_version"`
	LocalUpdatedAt  time.Time `yaml:"local_updated_at"`
	RemoteUpdatedAt time.Time `yaml:"remote_updated_at"`
}

// AtticEntry is an append-only record of a value the merge engine discarded.
type AtticEntry struct {
	EntityID     string       `yaml:"entity_id"`
	Timestamp    time.Time    `yaml:"timestamp"`
	Field        string       `yaml:"field"`
	LostValue    any          `yaml:"lost_value"`
	WinnerSource AtticSource  `yaml:"winner_source"`
	LoserSource  AtticSource  `yaml:"loser_source"`
	Context      AtticContext `yaml:"context"`
}

// FileName returns the attic entry's canonical filename,
// "{entity_id}_{timestamp}_{field}.yml".
func (e AtticEntry) FileName() string {
	return fmt.Sprintf("%s_%s_%s.yml", e.EntityID, e.Timestamp.UTC().Format("20060102T150405.000Z"), e.Field)
}
