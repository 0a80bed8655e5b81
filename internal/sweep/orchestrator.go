package sweep

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bobmcallan/runforge/internal/common"
	"github.com/bobmcallan/runforge/internal/groups"
)

// Exit codes a foreground sweep run reports, sharing the reference
// worker's taxonomy (spec §6.2) so scripts can treat `runforge sweep run`
// and `runforge-worker run` interchangeably.
const (
	ExitSuccess     = 0
	ExitRunsFailed  = 1
	ExitCanceled    = 5
	ExitInvalidPlan = 6
)

const childTimeout = 1 * time.Hour

// runOutcome is what one foreground run reports back to the orchestrator.
type runOutcome struct {
	runID   string
	success bool
}

// Orchestrator runs a sweep's expanded runs directly in this process tree
// instead of handing them to the queue for the daemon to pick up —
// grounded on original_source/sweep.py's SweepOrchestrator.execute(): a
// max_parallel-bounded worker pool that awaits already-submitted runs (the
// Go analogue of ThreadPoolExecutor + as_completed), honoring fail_fast and
// signal-driven cancellation.
type Orchestrator struct {
	workspace     string
	workerCommand string
	logger        *common.Logger
	aggregator    *groups.Aggregator

	cancelRequested atomic.Bool
}

// NewOrchestrator returns an Orchestrator rooted at workspace, spawning
// workerCommand (e.g. "runforge-worker run") once per run.
func NewOrchestrator(workspace, workerCommand string, logger *common.Logger) *Orchestrator {
	return &Orchestrator{
		workspace:     workspace,
		workerCommand: workerCommand,
		logger:        logger,
		aggregator:    groups.NewAggregator(workspace, logger),
	}
}

// RequestCancel stops the orchestrator from submitting further runs.
// Already-dispatched children are always awaited to completion, never
// killed — the same conservative policy the daemon applies at shutdown.
func (o *Orchestrator) RequestCancel() {
	o.cancelRequested.Store(true)
}

// Execute expands the plan, bootstraps its group, and runs every run to
// completion bounded by execution.max_parallel. It returns the sweep's
// exit code per the reference worker's taxonomy.
//
// Submission and completion handling both happen in this one goroutine —
// the Go analogue of the daemon's own reap-then-schedule loop (internal/
// daemon/daemon.go), applied here to a bounded sweep instead of an
// unbounded queue. Keeping both decisions in a single goroutine means a
// fail_fast/cancel check can never race against a submission: each refill
// only happens immediately after this goroutine has itself just observed
// the latest outcome.
func (o *Orchestrator) Execute(ctx context.Context, plan *Plan, now time.Time) (int, error) {
	expander := NewExpander(o.workspace, o.logger)
	runs, err := expander.Expand(plan, now)
	if err != nil {
		return ExitInvalidPlan, err
	}
	if len(runs) == 0 {
		return ExitInvalidPlan, fmt.Errorf("sweep plan expanded to zero runs")
	}

	groupID := NewGroupID(plan.Group.Name, now)
	if _, err := expander.CreateGroup(groupID, plan, runs, "runforge-sweep", now); err != nil {
		return ExitInvalidPlan, err
	}
	if err := expander.CreateRunInputs(runs, plan.BaseRequest, groupID, "runforge-sweep", now); err != nil {
		return ExitInvalidPlan, err
	}
	statuses := make(map[string]groups.RunStatus, len(runs))
	for _, r := range runs {
		statuses[r.RunID] = groups.RunQueued
	}
	if err := o.aggregator.SetRunStatuses(groupID, statuses); err != nil {
		return ExitInvalidPlan, err
	}

	o.logger.Info().Str("group_id", groupID).Int("total", len(runs)).
		Int("max_parallel", plan.Execution.MaxParallel).Msg("[SWEEP] starting")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			o.logger.Info().Msg("[SWEEP] cancel requested, stopping remaining runs")
			o.cancelRequested.Store(true)
		}
	}()

	maxParallel := plan.Execution.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}

	results := make(chan runOutcome)
	spawn := func(r RunConfig, index int) {
		go func() {
			o.logger.Info().Str("run_id", r.RunID).Int("index", index+1).Int("total", len(runs)).Msg("[SWEEP] run started")
			success := o.runOne(ctx, r.RunID)
			results <- runOutcome{runID: r.RunID, success: success}
		}()
	}

	// fail_fast always halts submission once tripped. stop_on_cancel gates
	// only an externally requested cancellation (signal): when false, a
	// cancel request is still recorded for the final status/exit code, but
	// submission runs to completion — stop_on_cancel defaults to true when a
	// plan document omits it (ExecutionSpec.UnmarshalJSON), matching original_source's unconditional
	// stop-on-cancel behavior. sweep.py itself never reads stop_on_cancel
	// behaviorally (confirmed by inspection), so false is a deliberate
	// extension beyond the original rather than a translation of it.
	failFastTripped := false
	shouldStopSubmitting := func() bool {
		if failFastTripped {
			return true
		}
		return o.cancelRequested.Load() && plan.Execution.StopOnCancel
	}

	active, nextIdx := 0, 0
	for active < maxParallel && nextIdx < len(runs) && !shouldStopSubmitting() {
		spawn(runs[nextIdx], nextIdx)
		active++
		nextIdx++
	}

	succeeded, failed := 0, 0
	for active > 0 {
		res := <-results
		active--

		if err := o.aggregator.OnJobCompletion(groupID, res.runID, res.success); err != nil {
			o.logger.Warn().Str("run_id", res.runID).Err(err).Msg("[SWEEP] failed to update group aggregate")
		}
		status := "succeeded"
		if res.success {
			succeeded++
		} else {
			failed++
			status = "failed"
			if plan.Execution.FailFast {
				failFastTripped = true
				o.cancelRequested.Store(true)
				o.logger.Warn().Str("run_id", res.runID).Msg("[SWEEP] fail_fast triggered, canceling remaining runs")
			}
		}
		o.logger.Info().Str("run_id", res.runID).Str("status", status).Msg("[SWEEP] run complete")

		for active < maxParallel && nextIdx < len(runs) && !shouldStopSubmitting() {
			spawn(runs[nextIdx], nextIdx)
			active++
			nextIdx++
		}
	}

	canceled := o.cancelRequested.Load()
	if canceled {
		if _, err := o.aggregator.FinalizeCancelled(groupID); err != nil {
			return ExitInvalidPlan, err
		}
	}

	o.logger.Info().Str("group_id", groupID).Int("succeeded", succeeded).Int("failed", failed).
		Bool("canceled", canceled).Msg("[SWEEP] group complete")

	switch {
	case canceled:
		return ExitCanceled, nil
	case failed > 0:
		return ExitRunsFailed, nil
	default:
		return ExitSuccess, nil
	}
}

// runOne spawns the worker command for runID and lets its output flow
// straight through to this process's own stdout/stderr — unlike the
// daemon's children, a foreground sweep has an attached terminal watching
// it live, so there is no tail buffer to capture into.
func (o *Orchestrator) runOne(ctx context.Context, runID string) bool {
	runDir := filepath.Join(o.workspace, ".ml", "runs", runID)
	absWorkspace, err := filepath.Abs(o.workspace)
	if err != nil {
		absWorkspace = o.workspace
	}

	parts := strings.Fields(o.workerCommand)
	if len(parts) == 0 {
		parts = []string{"runforge-worker", "run"}
	}
	args := append(append([]string{}, parts[1:]...), "--run-dir", runDir, "--workspace", absWorkspace)

	childCtx, cancel := context.WithTimeout(ctx, childTimeout)
	defer cancel()

	cmd := exec.CommandContext(childCtx, parts[0], args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		o.logger.Warn().Str("run_id", runID).Err(err).Msg("[SWEEP] run failed")
		return false
	}
	return true
}
