// Package config loads the versioned .tbd/config.yml document and exposes
// the handful of keys the core consumes. Discovery walks up from the
// working directory so commands work from anywhere inside the repository;
// environment variables prefixed TBD_ override file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tbd-org/tbd/internal/debug"
	"github.com/tbd-org/tbd/internal/migrate"
	"github.com/tbd-org/tbd/internal/record"
)

// Dir is the repository-relative directory holding the configuration,
// state, backups, and workspaces.
const Dir = ".tbd"

// FileName is the configuration document's name inside Dir.
const FileName = "config.yml"

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Call once at
// startup, before any getter.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Precedence: project .tbd/config.yml > $XDG_CONFIG_HOME/tbd/config.yml
	// > ~/.tbd/config.yml. The first hit is used; later locations are not
	// merged in.
	configFileSet := false

	if cwd, err := os.Getwd(); err == nil {
		if root, ok := findProjectRoot(cwd); ok {
			path := filepath.Join(root, Dir, FileName)
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			path := filepath.Join(configDir, "tbd", FileName)
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}

	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			path := filepath.Join(homeDir, Dir, FileName)
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}

	// TBD_SYNC_BRANCH maps to "sync.branch", TBD_SETTINGS_AUTO_SYNC to
	// "settings.auto_sync", and so on.
	v.SetEnvPrefix("TBD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	defaults := record.DefaultConfig()
	v.SetDefault("format", defaults.Format)
	v.SetDefault("sync.branch", defaults.Sync.Branch)
	v.SetDefault("sync.remote", defaults.Sync.Remote)
	v.SetDefault("display.id_prefix", defaults.Display.IDPrefix)
	v.SetDefault("settings.auto_sync", defaults.Settings.AutoSync)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
		debug.Logf("loaded config from %s", v.ConfigFileUsed())
	} else {
		debug.Logf("no config.yml found; using defaults and environment variables")
	}
	return nil
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// Set overrides a configuration value for the rest of the process, used by
// the command layer to apply flag precedence.
func Set(key string, value any) {
	if v != nil {
		v.Set(key, value)
	}
}

// ConfigFileUsed returns the path of the file Initialize settled on, or "".
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// FindProjectRoot walks up from dir looking for a .tbd directory and
// returns the directory containing it.
func FindProjectRoot(dir string) (string, error) {
	if root, ok := findProjectRoot(dir); ok {
		return root, nil
	}
	return "", fmt.Errorf("config: no %s directory found walking up from %s", Dir, dir)
}

func findProjectRoot(dir string) (string, bool) {
	for d := dir; ; d = filepath.Dir(d) {
		if info, err := os.Stat(filepath.Join(d, Dir)); err == nil && info.IsDir() {
			return d, true
		}
		if d == filepath.Dir(d) {
			return "", false
		}
	}
}

var idPrefixPattern = regexp.MustCompile(`^[a-z0-9-]{1,16}$`)

// ValidateIDPrefix enforces the display prefix shape: 1-16 lowercase
// alphanumerics or hyphens.
func ValidateIDPrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if !idPrefixPattern.MatchString(prefix) {
		return fmt.Errorf("config: invalid id prefix %q: must be 1-16 lowercase alphanumerics or hyphens", prefix)
	}
	return nil
}

// Load reads and decodes the configuration document at path, applying any
// pending format migrations in memory (the file is not rewritten; see
// Migrate). A missing file yields the defaults.
func Load(path string) (*record.Config, error) {
	doc, err := loadRaw(path)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		c := record.DefaultConfig()
		return &c, nil
	}
	if _, err := migrate.Run(doc); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return decode(path, doc)
}

// Migrate rewrites the document at path to the current format, returning
// the steps applied. Already-current documents are left untouched. A
// missing file is not an error; nothing is written.
func Migrate(path string) ([]migrate.Step, error) {
	doc, err := loadRaw(path)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	applied, err := migrate.Run(doc)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if len(applied) == 0 {
		return nil, nil
	}
	cfg, err := decode(path, doc)
	if err != nil {
		return applied, err
	}
	if err := Save(path, cfg); err != nil {
		return applied, err
	}
	return applied, nil
}

// Save writes the configuration document atomically.
func Save(path string, c *record.Config) error {
	if err := ValidateIDPrefix(c.Display.IDPrefix); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: ensure dir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal %s: %w", path, err)
	}

	tmpFile, err := os.CreateTemp(dir, "config-*.yml.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("config: sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}

// loadRaw reads the document as a generic mapping for migration. A missing
// file yields (nil, nil).
func loadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is a fixed, repo-relative config file
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	doc := make(map[string]any)
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return doc, nil
}

// decode converts a migrated generic document into the typed Config. The
// round trip through yaml preserves the opaque doc_cache sub-document as a
// node the core never interprets.
func decode(path string, doc map[string]any) (*record.Config, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("config: re-marshal %s: %w", path, err)
	}
	cfg := record.DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := ValidateIDPrefix(cfg.Display.IDPrefix); err != nil {
		return nil, err
	}
	return &cfg, nil
}
