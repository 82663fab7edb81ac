package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when the lock for a key is already held.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker serializes critical sections per key. The appointment service uses
// it to guard the check-then-reserve pair for one slot triple.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
