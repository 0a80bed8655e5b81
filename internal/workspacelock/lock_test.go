package workspacelock

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTryAcquireSucceedsOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.lock")

	l1 := New(path)
	ok, err := l1.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if !ok {
		t.Fatalf("expected first TryAcquire to succeed")
	}
	defer l1.Release()

	pid, found := OwnerPID(path)
	if !found {
		t.Fatalf("expected owner pid to be recorded")
	}
	if pid != os.Getpid() {
		t.Fatalf("expected owner pid %d, got %d", os.Getpid(), pid)
	}
}

func TestTryAcquireFailsWhenHeld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.lock")

	l1 := New(path)
	ok, err := l1.TryAcquire()
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	defer l1.Release()

	l2 := New(path)
	ok2, err := l2.TryAcquire()
	if err != nil {
		t.Fatalf("second TryAcquire returned error: %v", err)
	}
	if ok2 {
		t.Fatalf("expected second TryAcquire to fail while first holds the lock")
	}
}

func TestReleaseThenReacquire(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.lock")

	l1 := New(path)
	if ok, err := l1.TryAcquire(); err != nil || !ok {
		t.Fatalf("first acquire failed: ok=%v err=%v", ok, err)
	}
	if err := l1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	l2 := New(path)
	ok, err := l2.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire after release: %v", err)
	}
	if !ok {
		t.Fatalf("expected reacquire to succeed after release")
	}
	defer l2.Release()
}

func TestReleaseIsSafeAfterFailedAcquire(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent-subdir", "daemon.lock")

	l := New(path)
	// Directory doesn't exist; TryAcquire should error, not panic, and
	// Release must still be callable safely.
	_, _ = l.TryAcquire()
	if err := l.Release(); err != nil {
		t.Fatalf("Release after failed acquire should be safe: %v", err)
	}
}
