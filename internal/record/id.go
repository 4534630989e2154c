package record

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultIDPrefix is used when no display prefix is configured.
const DefaultIDPrefix = "is"

// NewID allocates a fresh internal id: the display prefix joined to a
// 26-character ULID stamped at now. Ids are never reused and never change
// once assigned.
func NewID(prefix string, now time.Time) (string, error) {
	if prefix == "" {
		prefix = DefaultIDPrefix
	}
	u, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("record: generate ulid: %w", err)
	}
	return prefix + "-" + u.String(), nil
}
