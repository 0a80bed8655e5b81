package jobqueue

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/bobmcallan/runforge/internal/atomicfile"
	"github.com/bobmcallan/runforge/internal/common"
	"github.com/bobmcallan/runforge/internal/scheduler"
)

// QueueFileName is the queue document's file name under <workspace>/.runforge/queue/.
const QueueFileName = "queue.json"

// Store mutates the persistent job queue. Every method performs its own
// read-modify-write cycle against queue.json: it re-reads the current
// on-disk state immediately before applying its change, so daemon writes
// and enqueue-command writes from other processes interleave safely
// instead of clobbering one another (spec.md §5's process-wide-mutex
// policy, applied per-process here via mu).
type Store interface {
	Enqueue(ctx context.Context, runID string, groupID *string, priority int, requiresGPU bool) (*Job, error)
	DequeueNext(ctx context.Context, paused map[string]bool, gpuAvailable int) (*Job, error)
	Complete(ctx context.Context, jobID string, success bool, errMsg string) error
	Cancel(ctx context.Context, jobID string) (bool, error)
	CancelGroup(ctx context.Context, groupID string) (int, error)
	RetryFailed(ctx context.Context, groupID string) ([]*Job, error)
	SetMaxParallel(ctx context.Context, n int) error
	SetGPUSlots(ctx context.Context, n int) error
	CleanupOld(ctx context.Context, maxAge time.Duration) (int, error)
	Snapshot(ctx context.Context) (*QueueState, error)
}

// FileStore is the file-backed Store implementation.
type FileStore struct {
	path   string
	logger *common.Logger
	mu     sync.Mutex
}

// NewFileStore returns a Store rooted at <workspace>/.runforge/queue/queue.json.
func NewFileStore(workspace string, logger *common.Logger) *FileStore {
	return &FileStore{
		path:   filepath.Join(workspace, ".runforge", "queue", QueueFileName),
		logger: logger,
	}
}

func (s *FileStore) load() (*QueueState, error) {
	qs, err := atomicfile.ReadJSON[QueueState](s.path)
	if err != nil {
		return nil, fmt.Errorf("loading queue state: %w", err)
	}
	if qs.Kind == "" {
		qs.Kind = "execution_queue"
		qs.Version = 1
		qs.MaxParallel = 2
		qs.GPUSlots = 1
	}
	return &qs, nil
}

func (s *FileStore) save(qs *QueueState) error {
	if err := atomicfile.WriteJSON(s.path, qs); err != nil {
		return fmt.Errorf("saving queue state: %w", err)
	}
	return nil
}

// Snapshot returns a read-only copy of the current queue state.
func (s *FileStore) Snapshot(_ context.Context) (*QueueState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Enqueue appends a new queued job for runID, failing if one is already
// queued or running for that run.
func (s *FileStore) Enqueue(_ context.Context, runID string, groupID *string, priority int, requiresGPU bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs, err := s.load()
	if err != nil {
		return nil, err
	}

	for i := range qs.Jobs {
		j := &qs.Jobs[i]
		if j.RunID == runID && (j.State == StateQueued || j.State == StateRunning) {
			return nil, &ErrDuplicateRun{RunID: runID}
		}
	}

	now := time.Now().UTC()
	id := NewJobID(now)
	for existingID(qs, id) {
		id = NewJobID(now)
	}

	job := Job{
		JobID:       id,
		Kind:        "run",
		RunID:       runID,
		GroupID:     groupID,
		Priority:    priority,
		RequiresGPU: requiresGPU,
		State:       StateQueued,
		Attempt:     1,
		CreatedAt:   now,
	}
	qs.Jobs = append(qs.Jobs, job)

	if err := s.save(qs); err != nil {
		return nil, err
	}
	return &job, nil
}

func existingID(qs *QueueState, id string) bool {
	for i := range qs.Jobs {
		if qs.Jobs[i].JobID == id {
			return true
		}
	}
	return false
}

// DequeueNext asks the scheduler to pick a runnable job from the current
// snapshot, then atomically applies the transition: flips it to running,
// stamps started_at, and advances last_served_group.
func (s *FileStore) DequeueNext(_ context.Context, paused map[string]bool, gpuAvailable int) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs, err := s.load()
	if err != nil {
		return nil, err
	}

	var lastServed string
	if qs.LastServedGroup != nil {
		lastServed = *qs.LastServedGroup
	}

	candidates := make([]scheduler.Candidate, 0, len(qs.Jobs))
	for _, j := range qs.Jobs {
		candidates = append(candidates, scheduler.Candidate{
			JobID:       j.JobID,
			GroupID:     j.GroupID,
			Priority:    j.Priority,
			RequiresGPU: j.RequiresGPU,
			Queued:      j.State == StateQueued,
			CreatedAt:   j.CreatedAt,
		})
	}

	pick, newLastServed := scheduler.Pick(candidates, paused, gpuAvailable, lastServed)
	if pick == nil {
		return nil, nil
	}

	var chosen *Job
	now := time.Now().UTC()
	for i := range qs.Jobs {
		if qs.Jobs[i].JobID == pick.JobID {
			qs.Jobs[i].State = StateRunning
			qs.Jobs[i].StartedAt = &now
			chosen = &qs.Jobs[i]
			break
		}
	}
	qs.LastServedGroup = &newLastServed

	if err := s.save(qs); err != nil {
		return nil, err
	}
	result := *chosen
	return &result, nil
}

// Complete marks a job succeeded or failed. Unknown ids are a silent no-op.
func (s *FileStore) Complete(_ context.Context, jobID string, success bool, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs, err := s.load()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for i := range qs.Jobs {
		if qs.Jobs[i].JobID != jobID {
			continue
		}
		if success {
			qs.Jobs[i].State = StateSucceeded
			qs.Jobs[i].Error = nil
		} else {
			qs.Jobs[i].State = StateFailed
			if errMsg != "" {
				qs.Jobs[i].Error = &errMsg
			}
		}
		qs.Jobs[i].FinishedAt = &now
		return s.save(qs)
	}
	return nil
}

// Cancel cancels a queued job. Returns false if the job isn't queued (or doesn't exist).
func (s *FileStore) Cancel(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs, err := s.load()
	if err != nil {
		return false, err
	}

	for i := range qs.Jobs {
		if qs.Jobs[i].JobID == jobID {
			if qs.Jobs[i].State != StateQueued {
				return false, nil
			}
			qs.Jobs[i].State = StateCanceled
			now := time.Now().UTC()
			qs.Jobs[i].FinishedAt = &now
			return true, s.save(qs)
		}
	}
	return false, nil
}

// CancelGroup flips every queued job in groupID to canceled, returning the count affected.
func (s *FileStore) CancelGroup(_ context.Context, groupID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs, err := s.load()
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	count := 0
	for i := range qs.Jobs {
		j := &qs.Jobs[i]
		if j.GroupID != nil && *j.GroupID == groupID && j.State == StateQueued {
			j.State = StateCanceled
			j.FinishedAt = &now
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return count, s.save(qs)
}

// RetryFailed creates a new queued job (attempt+1) for each failed job in groupID.
// The prior failed jobs are left untouched.
func (s *FileStore) RetryFailed(_ context.Context, groupID string) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs, err := s.load()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var retried []*Job
	var newJobs []Job
	for i := range qs.Jobs {
		j := &qs.Jobs[i]
		if j.GroupID == nil || *j.GroupID != groupID || j.State != StateFailed {
			continue
		}
		id := NewJobID(now)
		for existingID(qs, id) {
			id = NewJobID(now)
		}
		gid := groupID
		nj := Job{
			JobID:       id,
			Kind:        "run",
			RunID:       j.RunID,
			GroupID:     &gid,
			Priority:    j.Priority,
			RequiresGPU: j.RequiresGPU,
			State:       StateQueued,
			Attempt:     j.Attempt + 1,
			CreatedAt:   now,
		}
		newJobs = append(newJobs, nj)
	}
	if len(newJobs) == 0 {
		return nil, nil
	}
	qs.Jobs = append(qs.Jobs, newJobs...)
	if err := s.save(qs); err != nil {
		return nil, err
	}
	for i := range newJobs {
		retried = append(retried, &newJobs[i])
	}
	return retried, nil
}

// SetMaxParallel updates the configured CPU/GPU total concurrency.
func (s *FileStore) SetMaxParallel(_ context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("max_parallel must be >= 1, got %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	qs, err := s.load()
	if err != nil {
		return err
	}
	qs.MaxParallel = n
	return s.save(qs)
}

// SetGPUSlots updates the configured GPU sub-capacity.
func (s *FileStore) SetGPUSlots(_ context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("gpu_slots must be >= 0, got %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	qs, err := s.load()
	if err != nil {
		return err
	}
	qs.GPUSlots = n
	return s.save(qs)
}

// CleanupOld removes terminal-state jobs whose finished_at predates the
// cutoff computed from maxAge, returning the number removed.
func (s *FileStore) CleanupOld(_ context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs, err := s.load()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	kept := qs.Jobs[:0]
	removed := 0
	for _, j := range qs.Jobs {
		if j.IsTerminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	if removed == 0 {
		return 0, nil
	}
	qs.Jobs = kept
	return removed, s.save(qs)
}
