// Package groups implements the Group-Pause Registry and the Group
// Aggregator: reading/writing the paused flag inside group.json, and
// recomputing a group's run counts, best run, and terminal status on every
// job completion.
package groups

import "time"

// RunStatus mirrors a run's progress within a group.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// GroupStatus is the group's own terminal/non-terminal lifecycle state.
type GroupStatus string

const (
	GroupRunning   GroupStatus = "running"
	GroupCompleted GroupStatus = "completed"
	GroupFailed    GroupStatus = "failed"
	GroupCanceled  GroupStatus = "canceled"
)

// PrimaryMetric is the single numeric metric a worker's result designates
// for ranking runs within a group.
type PrimaryMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// RunEntry is one run's state within a group.
type RunEntry struct {
	RunID            string                 `json:"run_id"`
	Status           RunStatus              `json:"status"`
	RequestOverrides map[string]any         `json:"request_overrides"`
	ResultRef        *string                `json:"result_ref"`
	PrimaryMetric    *PrimaryMetric         `json:"primary_metric"`
}

// Execution holds a group's execution-level bookkeeping.
type Execution struct {
	MaxParallel int        `json:"max_parallel"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	Cancelled   bool       `json:"cancelled"`
}

// Summary is the group's recomputed-from-scratch rollup.
type Summary struct {
	Total              int      `json:"total"`
	Succeeded          int      `json:"succeeded"`
	Failed             int      `json:"failed"`
	Canceled           int      `json:"canceled"`
	BestRunID          *string  `json:"best_run_id"`
	BestPrimaryMetric  *PrimaryMetric `json:"best_primary_metric"`
}

// Group is the persisted group.json document.
type Group struct {
	Version   int         `json:"version"`
	Kind      string      `json:"kind"`
	GroupID   string      `json:"group_id"`
	CreatedAt time.Time   `json:"created_at"`
	CreatedBy string      `json:"created_by"`
	Name      string      `json:"name"`
	Notes     *string     `json:"notes"`
	PlanRef   *string     `json:"plan_ref"`
	Status    GroupStatus `json:"status"`
	Paused    bool        `json:"paused"`
	Execution Execution   `json:"execution"`
	Runs      []RunEntry  `json:"runs"`
	Summary   Summary     `json:"summary"`
}
