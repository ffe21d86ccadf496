// Package ids mints event and correlation identifiers. IDs are ULIDs, so
// sorting them by string also sorts them by creation time.
package ids

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a new ID stamped with the current time.
func CreateULID() string {
	return NewAt(time.Now())
}

// NewAt returns an ID whose embedded time is t, truncated to milliseconds.
// Envelopes use it so the ID and the timestamp agree.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Time extracts the creation time embedded in id.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("ids: parse %q: %w", id, err)
	}
	return ulid.Time(parsed.Time()).UTC(), nil
}

// Valid reports whether id is a well-formed ULID.
func Valid(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
