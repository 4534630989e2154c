package record

import "gopkg.in/yaml.v3"

// CurrentConfigFormat is the format version this binary writes. Forward
// migration (internal/migrate) brings older documents up to this shape.
const CurrentConfigFormat = 2

// Config is the versioned configuration document read from .tbd/config.yml.
// Only the fields the core consumes are typed; everything else the
// out-of-scope doc-cache subsystem needs is preserved opaquely in DocCache.
type Config struct {
	Format int `yaml:"format"`

	Sync struct {
		Branch string `yaml:"branch"`
		Remote string `yaml:"remote"`
	} `yaml:"sync"`

	Display struct {
		IDPrefix string `yaml:"id_prefix"`
	} `yaml:"display"`

	Settings struct {
		AutoSync bool `yaml:"auto_sync"`
	} `yaml:"settings"`

	// DocCache is the opaque sub-document for the out-of-scope doc cache /
	// markdown search subsystem. The core round-trips it without ever
	// interpreting its contents.
	DocCache yaml.Node `yaml:"doc_cache"`
}

// DefaultConfig returns a Config with the defaults this spec documents:
// sync branch "tbd-sync", remote "origin", auto_sync on.
func DefaultConfig() Config {
	c := Config{Format: CurrentConfigFormat}
	c.Sync.Branch = "tbd-sync"
	c.Sync.Remote = "origin"
	c.Settings.AutoSync = true
	return c
}
