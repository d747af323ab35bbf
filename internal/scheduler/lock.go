package scheduler

import (
	"github.com/gofrs/flock"
)

// Lock is an advisory file lock. When several instances share one
// database only the lock holder runs the session timers, so sweeps and
// dividend passes apply once.
type Lock struct {
	fl *flock.Flock
}

// NewLock creates a lock on the given path without acquiring it.
func NewLock(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// TryAcquire attempts to take the lock without blocking.
func (l *Lock) TryAcquire() (bool, error) {
	return l.fl.TryLock()
}

// Release drops the lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}
