package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
	now       = time.Now
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// IDs created within the same millisecond are strictly increasing.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(now()), entropy).String()
}

// NewCorrelationID is the id stamped on a submission when it enters the
// pipeline and carried unchanged by every stage afterwards.
func NewCorrelationID() string {
	return CreateULID()
}

// Timestamp extracts the creation time encoded in a ULID string.
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
