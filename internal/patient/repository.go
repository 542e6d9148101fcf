package patient

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no record exists for a patient identifier.
var ErrNotFound = errors.New("patient not found")

// Repository looks patient records up by identifier.
// A missing record is reported as ok=false with a nil error; err is reserved
// for failures of the backing store. Implementations must be safe for
// concurrent use.
type Repository interface {
	Lookup(ctx context.Context, id string) (*Record, bool, error)
}

// Writer stores patient records. Used for seeding, never by the monitor.
type Writer interface {
	Put(ctx context.Context, r *Record) error
}
