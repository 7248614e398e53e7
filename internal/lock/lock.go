// Package lock provides keyed mutual exclusion with a bounded wait.
package lock

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

// DefaultTimeout bounds how long Acquire waits for a held key.
const DefaultTimeout = 5 * time.Second

// ErrTimeout is wrapped by the LockTimeout error Acquire returns.
var ErrTimeout = errors.New("lock wait timed out")

// Release gives the key back. Calling it more than once is a no-op.
type Release func()

// Locker serializes work per key. Different keys never contend.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// SlotKey is the lock key guarding one slot.
func SlotKey(id string) string {
	return "slot:" + id
}

// GenerationKey is the lock key serializing slot generation for one professional.
func GenerationKey(professionalID string) string {
	return "generate:" + professionalID
}

func timeoutError(key string) error {
	return apperrors.LockTimeout(key, ErrTimeout)
}

func abortedError(key string, err error) error {
	return apperrors.Cancelled("request ended while waiting for lock on "+key, err)
}
