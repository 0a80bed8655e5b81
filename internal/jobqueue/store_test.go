package jobqueue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bobmcallan/runforge/internal/common"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	ResetCounterForTest()
	dir := t.TempDir()
	return NewFileStore(dir, common.NewSilentLogger())
}

func strp(s string) *string { return &s }

func TestEnqueueDuplicateRunRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, "run-1", nil, 0, false); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	_, err := s.Enqueue(ctx, "run-1", nil, 0, false)
	var dup *ErrDuplicateRun
	if !errors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicateRun, got %v", err)
	}

	qs, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	count := 0
	for _, j := range qs.Jobs {
		if j.RunID == "run-1" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one job for run-1, got %d", count)
	}
}

func TestEnqueueAllowsReenqueueAfterTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.Enqueue(ctx, "run-1", nil, 0, false)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Complete(ctx, job.JobID, true, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := s.Enqueue(ctx, "run-1", nil, 0, false); err != nil {
		t.Fatalf("expected re-enqueue after terminal state to succeed: %v", err)
	}
}

// S4 — retry creates a new job with attempt+1, leaving the failed job as-is.
func TestRetryFailedIncrementsAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gid := "g1"

	job, err := s.Enqueue(ctx, "run-1", &gid, 0, false)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	dequeued, err := s.DequeueNext(ctx, nil, 0)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if dequeued == nil || dequeued.JobID != job.JobID {
		t.Fatalf("expected to dequeue %s, got %v", job.JobID, dequeued)
	}

	if err := s.Complete(ctx, job.JobID, false, "boom"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	retried, err := s.RetryFailed(ctx, gid)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(retried) != 1 {
		t.Fatalf("expected 1 retried job, got %d", len(retried))
	}
	if retried[0].Attempt != 2 {
		t.Fatalf("expected attempt=2, got %d", retried[0].Attempt)
	}
	if retried[0].State != StateQueued {
		t.Fatalf("expected retried job to be queued, got %s", retried[0].State)
	}

	qs, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	var original *Job
	for i := range qs.Jobs {
		if qs.Jobs[i].JobID == job.JobID {
			original = &qs.Jobs[i]
		}
	}
	if original == nil {
		t.Fatalf("original failed job should remain in the queue")
	}
	if original.Attempt != 1 {
		t.Fatalf("expected original job's attempt to remain 1, got %d", original.Attempt)
	}
	if original.State != StateFailed {
		t.Fatalf("expected original job to remain failed, got %s", original.State)
	}
}

func TestCancelGroupOnlyAffectsQueuedJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gid := "g1"

	j1, _ := s.Enqueue(ctx, "run-1", &gid, 0, false)
	_, _ = s.Enqueue(ctx, "run-2", &gid, 0, false)

	// Move j1 to running via dequeue so CancelGroup must skip it.
	dequeued, err := s.DequeueNext(ctx, nil, 0)
	if err != nil || dequeued == nil || dequeued.JobID != j1.JobID {
		t.Fatalf("expected to dequeue j1, got %v err=%v", dequeued, err)
	}

	n, err := s.CancelGroup(ctx, gid)
	if err != nil {
		t.Fatalf("cancel group: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 job canceled (run-2), got %d", n)
	}

	qs, _ := s.Snapshot(ctx)
	for _, j := range qs.Jobs {
		if j.RunID == "run-1" && j.State != StateRunning {
			t.Fatalf("expected run-1 to remain running, got %s", j.State)
		}
		if j.RunID == "run-2" && j.State != StateCanceled {
			t.Fatalf("expected run-2 to be canceled, got %s", j.State)
		}
	}
}

func TestCancelOnlyQueuedJobCanBeCanceled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, _ := s.Enqueue(ctx, "run-1", nil, 0, false)
	ok, err := s.Cancel(ctx, job.JobID)
	if err != nil || !ok {
		t.Fatalf("expected cancel of queued job to succeed, ok=%v err=%v", ok, err)
	}

	job2, _ := s.Enqueue(ctx, "run-2", nil, 0, false)
	if _, err := s.DequeueNext(ctx, nil, 0); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	ok2, err := s.Cancel(ctx, job2.JobID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ok2 {
		t.Fatalf("expected cancel of running job to fail")
	}
}

func TestSetMaxParallelRejectsZero(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetMaxParallel(context.Background(), 0); err == nil {
		t.Fatalf("expected error for max_parallel=0")
	}
}

func TestSetGPUSlotsRejectsNegative(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetGPUSlots(context.Background(), -1); err == nil {
		t.Fatalf("expected error for negative gpu_slots")
	}
}

func TestQueueFilePath(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, common.NewSilentLogger())
	want := filepath.Join(dir, ".runforge", "queue", "queue.json")
	if s.path != want {
		t.Fatalf("expected path %s, got %s", want, s.path)
	}
}
