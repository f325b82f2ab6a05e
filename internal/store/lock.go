package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
)

// LockFileName is the lock file created inside the data directory.
const LockFileName = ".amanembed.lock"

// DirLock gives one process ownership of a data directory.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock for dir. Nothing is acquired yet.
func NewDirLock(dir string) *DirLock {
	lockPath := filepath.Join(dir, LockFileName)
	return &DirLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock acquires the lock without blocking. It returns ERR_206_STORE_LOCKED
// when another process holds it.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return amanerrors.New(amanerrors.ErrCodeStoreLocked,
			fmt.Sprintf("data directory is in use (%s)", l.path), nil).
			WithSuggestion("Stop the other amanembed process or use a different data_dir")
	}
	l.locked = true
	return nil
}

// LockContext waits for the lock until ctx is done.
func (l *DirLock) LockContext(ctx context.Context, retry time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLockContext(ctx, retry)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return amanerrors.New(amanerrors.ErrCodeStoreLocked, "data directory is in use", nil)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string { return l.path }

// IsLocked reports whether this process holds the lock.
func (l *DirLock) IsLocked() bool { return l.locked }
