// Package workspacelock provides the cross-process mutual-exclusion lock
// that guarantees at most one execution daemon runs against a workspace at
// a time. Modeled on the gofrs/flock daemon-singleton idiom: a non-blocking
// TryLock on a sibling file, with the holder's PID written into the file
// body for diagnostics only (never used for correctness).
package workspacelock

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// Lock is an exclusive advisory lock on a single file.
type Lock struct {
	path string
	fl   *flock.Flock
}

// New returns a Lock bound to path. The lock is not acquired yet.
func New(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// TryAcquire attempts to acquire the lock without blocking. It reports true
// iff no other live process holds it; on success the current PID is
// written into the lock file (truncating any prior contents).
func (l *Lock) TryAcquire() (bool, error) {
	locked, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquiring workspace lock %s: %w", l.path, err)
	}
	if !locked {
		return false, nil
	}
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		_ = l.fl.Unlock()
		return false, fmt.Errorf("writing pid to lock file %s: %w", l.path, err)
	}
	return true, nil
}

// Release unlocks and removes the lock file. Safe to call after a failed
// acquire or multiple times.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("releasing workspace lock %s: %w", l.path, err)
	}
	_ = os.Remove(l.path)
	return nil
}

// OwnerPID reads whatever PID is currently recorded in the lock file, for
// diagnostics only. The value may be stale after a crash; it is never used
// to decide lock ownership.
func OwnerPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}
