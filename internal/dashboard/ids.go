package dashboard

import (
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces row identities.
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 identities.
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID panics only if the system random source fails.
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Clock supplies wall time for created/updated stamps.
type Clock interface {
	Now() time.Time
}

// SystemClock returns time.Now in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
