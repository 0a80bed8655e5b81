// Package jobqueue implements the persistent job queue: atomic on-disk
// state, duplicate-run detection, and retry bookkeeping. It owns
// queue.json and hands scheduling decisions to package scheduler.
package jobqueue

import "time"

// State is a job's lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Job is one attempt to execute one run.
type Job struct {
	JobID       string     `json:"job_id"`
	Kind        string     `json:"kind"`
	RunID       string     `json:"run_id"`
	GroupID     *string    `json:"group_id"`
	Priority    int        `json:"priority"`
	RequiresGPU bool       `json:"requires_gpu"`
	State       State      `json:"state"`
	Attempt     int        `json:"attempt"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	Error       *string    `json:"error"`
}

// GroupKey returns the job's group identifier, or the pseudo-group used by
// the scheduler to partition ungrouped jobs.
func (j *Job) GroupKey() string {
	if j.GroupID == nil || *j.GroupID == "" {
		return ungroupedKey
	}
	return *j.GroupID
}

// ungroupedKey is the pseudo-group for jobs with no group_id, per the
// scheduler's partitioning rule (spec §4.D step 2).
const ungroupedKey = "__ungrouped__"

// IsTerminal reports whether the job has reached a terminal lifecycle state.
func (j *Job) IsTerminal() bool {
	switch j.State {
	case StateSucceeded, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// QueueState is the single queue document (queue.json).
type QueueState struct {
	Version         int     `json:"version"`
	Kind            string  `json:"kind"`
	MaxParallel     int     `json:"max_parallel"`
	GPUSlots        int     `json:"gpu_slots"`
	Jobs            []Job   `json:"jobs"`
	LastServedGroup *string `json:"last_served_group"`
}

// ErrDuplicateRun is returned by Enqueue when an active job already exists for the run.
type ErrDuplicateRun struct {
	RunID string
}

func (e *ErrDuplicateRun) Error() string {
	return "run already queued or running: " + e.RunID
}
