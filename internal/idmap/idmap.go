// Package idmap maintains the short-ID bijection between compact base-36
// public identifiers and the 26-character ULID portion of an internal id.
package idmap

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tbd-org/tbd/internal/record"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// lengthEscalationThreshold is the entry count at which optimalLength steps
// from 4 to 5 characters.
const lengthEscalationThreshold = 50_000

// attemptsPerLength is how many random candidates generateUniqueShortId
// tries at a given length before escalating to one character longer.
const attemptsPerLength = 10

var shortIDPrefixed = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*-([a-z0-9]{4,5})$`)

// Mapping is the in-memory short-ID bijection, kept as parallel maps for
// O(1) lookup in both directions.
type Mapping struct {
	shortToLong map[string]string
	longToShort map[string]string
}

// New returns an empty Mapping.
func New() *Mapping {
	return &Mapping{
		shortToLong: make(map[string]string),
		longToShort: make(map[string]string),
	}
}

// Load reads a mapping document from path. A missing file yields an empty
// mapping, not an error. Duplicate short-id keys produced by a prior
// text-level merge are tolerated: first occurrence wins and the duplicate is
// returned as a warning.
func Load(path string) (*Mapping, []string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is a fixed, repo-relative mapping file
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil, nil
		}
		return nil, nil, fmt.Errorf("idmap: read %s: %w", path, err)
	}

	m, warnings, err := Parse(data)
	if err != nil {
		return nil, nil, fmt.Errorf("idmap: parse %s: %w", path, err)
	}
	return m, warnings, nil
}

// Parse decodes a mapping document from bytes, tolerating duplicate
// short-id keys produced by a prior text-level merge: first occurrence
// wins and each duplicate is returned as a warning.
func Parse(data []byte) (*Mapping, []string, error) {
	var doc record.Mapping
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, err
	}

	m := New()
	var warnings []string
	for _, e := range doc.Entries {
		if existing, ok := m.shortToLong[e.Short]; ok {
			warnings = append(warnings, fmt.Sprintf("duplicate short id %q (keeping %q, dropping %q)", e.Short, existing, e.Long))
			continue
		}
		m.shortToLong[e.Short] = e.Long
		m.longToShort[e.Long] = e.Short
	}
	return m, warnings, nil
}

// Equal reports whether two mappings hold exactly the same entries.
func Equal(a, b *Mapping) bool {
	if len(a.shortToLong) != len(b.shortToLong) {
		return false
	}
	for short, long := range a.shortToLong {
		if other, ok := b.shortToLong[short]; !ok || other != long {
			return false
		}
	}
	return true
}

// Save writes the mapping atomically, in natural (digit-aware) sorted order
// so that repeated saves produce minimal diffs and duplicates never reappear.
func Save(path string, m *Mapping) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("idmap: ensure dir %s: %w", dir, err)
	}

	shorts := make([]string, 0, len(m.shortToLong))
	for s := range m.shortToLong {
		shorts = append(shorts, s)
	}
	sort.Slice(shorts, func(i, j int) bool { return naturalLess(shorts[i], shorts[j]) })

	doc := record.Mapping{Entries: make([]record.MappingEntry, 0, len(shorts))}
	for _, s := range shorts {
		doc.Entries = append(doc.Entries, record.MappingEntry{Short: s, Long: m.shortToLong[s]})
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("idmap: marshal %s: %w", path, err)
	}

	tmpFile, err := os.CreateTemp(dir, "ids-*.yml.tmp")
	if err != nil {
		return fmt.Errorf("idmap: create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("idmap: write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("idmap: sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("idmap: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("idmap: rename into place: %w", err)
	}
	return nil
}

// optimalLength returns the short-id character count for a mapping holding
// n entries: 4 below the escalation threshold, 5 at or above it.
func optimalLength(n int) int {
	if n < lengthEscalationThreshold {
		return 4
	}
	return 5
}

// Put registers an explicit short/long pair, overwriting any prior entry
// for either side. Both stale reverse entries are removed so the bijection
// never holds a dangling direction.
func (m *Mapping) Put(short, long string) {
	if oldShort, ok := m.longToShort[long]; ok {
		delete(m.shortToLong, oldShort)
	}
	if oldLong, ok := m.shortToLong[short]; ok {
		delete(m.longToShort, oldLong)
	}
	m.shortToLong[short] = long
	m.longToShort[long] = short
}

// ShortFor returns the short id registered for an internal ULID, if any.
func (m *Mapping) ShortFor(long string) (string, bool) {
	s, ok := m.longToShort[long]
	return s, ok
}

// LongFor returns the internal ULID registered for a short id, if any.
func (m *Mapping) LongFor(short string) (string, bool) {
	l, ok := m.shortToLong[short]
	return l, ok
}

func (m *Mapping) has(short string) bool {
	_, ok := m.shortToLong[short]
	return ok
}

// generateUniqueShortId tries up to attemptsPerLength random ids at the
// optimal length for the mapping's current size, then attemptsPerLength more
// at one character longer, failing if neither round finds a free id.
func generateUniqueShortId(m *Mapping) (string, error) {
	base := optimalLength(len(m.shortToLong))
	for _, length := range []int{base, base + 1} {
		for nonce := 0; nonce < attemptsPerLength; nonce++ {
			candidate, err := randomBase36(length)
			if err != nil {
				return "", fmt.Errorf("idmap: generate random id: %w", err)
			}
			if !m.has(candidate) {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("idmap: exhausted %d attempts at lengths %d and %d", attemptsPerLength*2, base, base+1)
}

func randomBase36(length int) (string, error) {
	b := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b), nil
}

// Allocate assigns and registers a fresh short id for long, returning it.
func (m *Mapping) Allocate(long string) (string, error) {
	if short, ok := m.longToShort[long]; ok {
		return short, nil
	}
	short, err := generateUniqueShortId(m)
	if err != nil {
		return "", err
	}
	m.Put(short, long)
	return short, nil
}

// ResolveToInternalId accepts a full internal id ("prefix-ULID"), a bare
// 26-char ULID, a bare short id, or a prefixed short id ("xx-a7k2"), and
// resolves it to the bare 26-char ULID portion.
func ResolveToInternalId(input string, m *Mapping) (string, error) {
	trimmed := strings.TrimSpace(input)

	if len(trimmed) == 26 && isULID(trimmed) {
		return trimmed, nil
	}
	if idx := strings.LastIndex(trimmed, "-"); idx >= 0 {
		tail := trimmed[idx+1:]
		if len(tail) == 26 && isULID(tail) {
			return tail, nil
		}
	}

	short := strings.ToLower(trimmed)
	if m := shortIDPrefixed.FindStringSubmatch(short); m != nil {
		short = m[1]
	}
	if long, ok := m.LongFor(short); ok {
		return long, nil
	}
	return "", fmt.Errorf("idmap: unknown short id %q", short)
}

// ULIDOf extracts the bare 26-character ULID portion from a full internal
// id ("prefix-ULID"). Input already in bare form is returned unchanged;
// anything else comes back as-is for the caller to reject downstream.
func ULIDOf(id string) string {
	if len(id) == 26 && isULID(id) {
		return id
	}
	if idx := strings.LastIndex(id, "-"); idx >= 0 {
		tail := id[idx+1:]
		if len(tail) == 26 && isULID(tail) {
			return tail
		}
	}
	return id
}

func isULID(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefghjkmnpqrstvwxyzABCDEFGHJKMNPQRSTVWXYZ", c) {
			return false
		}
	}
	return true
}

// ReconcileResult partitions the ids touched by Reconcile.
type ReconcileResult struct {
	Created  []string
	Recovered []string
}

// Reconcile walks internalIDs (the post-merge set of ULIDs) and ensures each
// has a mapping entry in current. Already-mapped ids are left untouched. For
// unmapped ids, if history records a short id for this ULID and that short
// id is free in current, it is recovered (preserving external references);
// otherwise a fresh random mapping is created.
func Reconcile(internalIDs []string, current *Mapping, history *Mapping) ReconcileResult {
	var result ReconcileResult
	for _, long := range internalIDs {
		if _, ok := current.longToShort[long]; ok {
			continue
		}
		if history != nil {
			if short, ok := history.ShortFor(long); ok && !current.has(short) {
				current.Put(short, long)
				result.Recovered = append(result.Recovered, long)
				continue
			}
		}
		short, err := generateUniqueShortId(current)
		if err != nil {
			// Exhaustion at this scale is not expected; skip rather than
			// abort reconciliation for the remaining ids.
			continue
		}
		current.Put(short, long)
		result.Created = append(result.Created, long)
	}
	return result
}

// Merge takes the union of local and remote, with local winning any
// (short->differing long) or (long->differing short) conflict. Every
// discarded remote binding is returned as a warning; the losing long ends
// up unmapped and is re-allocated by the next Reconcile.
func Merge(local, remote *Mapping) (*Mapping, []string) {
	merged := New()
	for short, long := range remote.shortToLong {
		merged.Put(short, long)
	}

	var warnings []string
	for short, long := range local.shortToLong {
		if remoteLong, ok := merged.shortToLong[short]; ok && remoteLong != long {
			warnings = append(warnings, fmt.Sprintf("short id %q maps to %q remotely; keeping local %q", short, remoteLong, long))
		}
		if remoteShort, ok := merged.longToShort[long]; ok && remoteShort != short {
			warnings = append(warnings, fmt.Sprintf("id %q maps to short id %q remotely; keeping local %q", long, remoteShort, short))
		}
		merged.Put(short, long)
	}
	return merged, warnings
}

// naturalLess orders strings digit-aware so that "a2" sorts before "a10".
func naturalLess(a, b string) bool {
	ai, bi := 0, 0
	for ai < len(a) && bi < len(b) {
		ac, bc := a[ai], b[bi]
		if isDigit(ac) && isDigit(bc) {
			aStart, bStart := ai, bi
			for ai < len(a) && isDigit(a[ai]) {
				ai++
			}
			for bi < len(b) && isDigit(b[bi]) {
				bi++
			}
			an, _ := strconv.Atoi(a[aStart:ai])
			bn, _ := strconv.Atoi(b[bStart:bi])
			if an != bn {
				return an < bn
			}
			continue
		}
		if ac != bc {
			return ac < bc
		}
		ai++
		bi++
	}
	return len(a)-ai < len(b)-bi
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
