package pipeline

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
)

// reindexLockFile is the lock file name under the data directory.
const reindexLockFile = "reindex.lock"

// ReindexLock serializes full reindex passes across processes using an
// advisory file lock. Only the submission pass holds it; queued tasks
// drain normally after release.
type ReindexLock struct {
	mu     sync.Mutex
	path   string
	lock   *flock.Flock
	locked bool
}

// NewReindexLock creates a lock rooted in the given data directory.
func NewReindexLock(dataDir string) *ReindexLock {
	path := filepath.Join(dataDir, reindexLockFile)
	return &ReindexLock{
		path: path,
		lock: flock.New(path),
	}
}

// TryLock attempts to acquire the lock without blocking. Returns false
// when another reindex already holds it, in this process or another.
func (l *ReindexLock) TryLock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, vitrineerrors.StoreError("failed to create data directory for reindex lock", err).
			WithDetail("path", l.path)
	}
	locked, err := l.lock.TryLock()
	if err != nil {
		return false, vitrineerrors.StoreError("failed to acquire reindex lock", err).
			WithDetail("path", l.path)
	}
	l.locked = locked
	return locked, nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *ReindexLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.lock.Unlock(); err != nil {
		return vitrineerrors.StoreError("failed to release reindex lock", err).
			WithDetail("path", l.path)
	}
	return nil
}

// Path returns the lock file location.
func (l *ReindexLock) Path() string {
	return l.path
}
