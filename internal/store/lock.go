package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
)

// DirLock is a cross-process lock on a data directory. The embedded
// stores are single-writer, so a second process must not open them.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock file at <dir>/.jarvis-rag.lock.
func NewDirLock(dir string) *DirLock {
	path := filepath.Join(dir, ".jarvis-rag.lock")
	return &DirLock{path: path, flock: flock.New(path)}
}

// TryLock acquires the lock without blocking. A lock held by another
// process yields ERR_207_DATA_DIR_LOCKED.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return ragerrors.New(ragerrors.ErrCodeDataDirLocked,
			fmt.Sprintf("data directory %s is in use by another process", filepath.Dir(l.path)), nil).
			WithSuggestion("stop the other jarvis-rag process or use a different --data-dir")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. It is safe to call on an unlocked DirLock.
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

// Path returns the path to the lock file.
func (l *DirLock) Path() string {
	return l.path
}
