// Package lock gives one process at a time exclusive access to a storage
// area, so concurrent stagers cannot erase each other's work.
package lock

import (
	"context"
	"errors"
)

var ErrEmptyKey = errors.New("empty lock key")

// Locker hands out exclusive access to a named area. Acquire blocks until
// the area is free or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, area string) (Lock, error)
}

// Lock is held until Unlock. Unlocking twice is a no-op.
type Lock interface {
	Unlock() error
}

// NoOpLocker grants every request at once.
type NoOpLocker struct{}

func (NoOpLocker) Acquire(ctx context.Context, area string) (Lock, error) {
	if area == "" {
		return nil, ErrEmptyKey
	}
	return unlocked{}, nil
}

type unlocked struct{}

func (unlocked) Unlock() error { return nil }
