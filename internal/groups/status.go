package groups

import (
	"fmt"
	"time"

	"github.com/bobmcallan/runforge/internal/atomicfile"
)

// SetRunStatuses bulk-updates the status of the named runs within groupID
// and recomputes the group's summary from scratch. Used by control-plane
// commands (enqueue_sweep flipping pending→queued, retry_failed flipping
// failed→queued) that mutate run state outside the daemon's completion path.
func (a *Aggregator) SetRunStatuses(groupID string, statuses map[string]RunStatus) error {
	path := a.groupPath(groupID)
	g, err := atomicfile.ReadJSON[Group](path)
	if err != nil {
		return fmt.Errorf("reading group %s: %w", groupID, err)
	}
	if g.GroupID == "" {
		return fmt.Errorf("group %s not found", groupID)
	}

	for i := range g.Runs {
		if status, ok := statuses[g.Runs[i].RunID]; ok {
			g.Runs[i].Status = status
		}
	}
	a.recomputeSummary(&g)

	if err := atomicfile.WriteJSON(path, &g); err != nil {
		return fmt.Errorf("writing group %s: %w", groupID, err)
	}
	return nil
}

// FinalizeCancelled marks every non-terminal run (pending/queued/running) as
// canceled, recomputes the summary, and flips the group itself to canceled.
// Used by the foreground sweep orchestrator when a cancel request (signal or
// fail_fast) stops it from submitting the rest of a plan's runs — mirrors
// original_source's SweepOrchestrator.execute(), which marks every run still
// "pending" as canceled and sets status/cancelled accordingly once the
// worker pool drains. Returns the number of runs canceled.
func (a *Aggregator) FinalizeCancelled(groupID string) (int, error) {
	path := a.groupPath(groupID)
	g, err := atomicfile.ReadJSON[Group](path)
	if err != nil {
		return 0, fmt.Errorf("reading group %s: %w", groupID, err)
	}
	if g.GroupID == "" {
		return 0, fmt.Errorf("group %s not found", groupID)
	}

	canceled := 0
	for i := range g.Runs {
		switch g.Runs[i].Status {
		case RunPending, RunQueued, RunRunning:
			g.Runs[i].Status = RunCanceled
			canceled++
		}
	}
	a.recomputeSummary(&g)

	now := time.Now().UTC()
	g.Execution.FinishedAt = &now
	g.Execution.Cancelled = true
	g.Status = GroupCanceled

	if err := atomicfile.WriteJSON(path, &g); err != nil {
		return 0, fmt.Errorf("writing group %s: %w", groupID, err)
	}
	return canceled, nil
}
