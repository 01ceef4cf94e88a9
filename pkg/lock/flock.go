package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// FlockLocker takes advisory flock(2) locks on files below dir, one per key.
type FlockLocker struct {
	dir       string
	pollEvery time.Duration
}

func NewFlockLocker(dir string) *FlockLocker {
	return &FlockLocker{dir: dir, pollEvery: 50 * time.Millisecond}
}

func (l *FlockLocker) path(key string) string {
	return filepath.Join(l.dir, key+".lock")
}

func (l *FlockLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(l.path(key), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	ticker := time.NewTicker(l.pollEvery)
	defer ticker.Stop()

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &flockLock{file: f}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			_ = f.Close()
			return nil, fmt.Errorf("flock %s: %w", f.Name(), err)
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

type flockLock struct {
	file *os.File
}

func (l *flockLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	err := errors.Join(
		unix.Flock(int(l.file.Fd()), unix.LOCK_UN),
		l.file.Close(),
	)
	l.file = nil
	return err
}
