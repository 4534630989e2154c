package record

// MappingEntry is one row of the short-ID bijection document: a compact
// base-36 public id paired with the 26-character ULID portion of an
// internal id.
type MappingEntry struct {
	Short string `yaml:"short"`
	Long  string `yaml:"long"`
}

// Mapping is the on-disk shape of mappings/ids.yml: a sorted list of
// entries. Sorting is natural/digit-aware (see internal/idmap) so that
// repeated saves produce minimal diffs.
type Mapping struct {
	Entries []MappingEntry `yaml:"entries"`
}
