package groups

import (
	"path/filepath"
	"testing"

	"github.com/bobmcallan/runforge/internal/atomicfile"
	"github.com/bobmcallan/runforge/internal/common"
)

func writeGroup(t *testing.T, workspace, groupID string, g *Group) {
	t.Helper()
	path := filepath.Join(workspace, ".runforge", "groups", groupID, groupFileName)
	if err := atomicfile.WriteJSON(path, g); err != nil {
		t.Fatalf("writeGroup: %v", err)
	}
}

func writeResult(t *testing.T, workspace, runID string, metric float64) {
	t.Helper()
	path := filepath.Join(workspace, ".ml", "runs", runID, "result.json")
	result := RunResult{
		Status:        "succeeded",
		PrimaryMetric: &PrimaryMetric{Name: "accuracy", Value: metric},
	}
	if err := atomicfile.WriteJSON(path, &result); err != nil {
		t.Fatalf("writeResult: %v", err)
	}
}

// S5 — group with one succeeded and one failed run becomes terminal "failed".
func TestOnJobCompletionGroupTerminalStatus(t *testing.T) {
	workspace := t.TempDir()
	gid := "grp_1"
	writeGroup(t, workspace, gid, &Group{
		GroupID: gid,
		Name:    "sweep-a",
		Status:  GroupRunning,
		Runs: []RunEntry{
			{RunID: "run-1", Status: RunRunning},
			{RunID: "run-2", Status: RunRunning},
		},
		Summary: Summary{Total: 2},
	})
	writeResult(t, workspace, "run-1", 0.9)

	agg := NewAggregator(workspace, common.NewSilentLogger())

	if err := agg.OnJobCompletion(gid, "run-1", true); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if err := agg.OnJobCompletion(gid, "run-2", false); err != nil {
		t.Fatalf("second completion: %v", err)
	}

	g, err := atomicfile.ReadJSON[Group](filepath.Join(workspace, ".runforge", "groups", gid, groupFileName))
	if err != nil {
		t.Fatalf("reading final group: %v", err)
	}
	if g.Status != GroupFailed {
		t.Fatalf("expected status failed, got %s", g.Status)
	}
	if g.Execution.FinishedAt == nil {
		t.Fatalf("expected execution.finished_at to be set")
	}
	if g.Summary.Succeeded != 1 || g.Summary.Failed != 1 {
		t.Fatalf("expected summary {succeeded:1, failed:1}, got %+v", g.Summary)
	}
}

// S6 — best run selection among three successful runs.
func TestOnJobCompletionBestRunSelection(t *testing.T) {
	workspace := t.TempDir()
	gid := "grp_2"
	writeGroup(t, workspace, gid, &Group{
		GroupID: gid,
		Name:    "sweep-b",
		Status:  GroupRunning,
		Runs: []RunEntry{
			{RunID: "run-a", Status: RunRunning},
			{RunID: "run-b", Status: RunRunning},
			{RunID: "run-c", Status: RunRunning},
		},
		Summary: Summary{Total: 3},
	})
	writeResult(t, workspace, "run-a", 0.80)
	writeResult(t, workspace, "run-b", 0.92)
	writeResult(t, workspace, "run-c", 0.85)

	agg := NewAggregator(workspace, common.NewSilentLogger())
	for _, runID := range []string{"run-a", "run-b", "run-c"} {
		if err := agg.OnJobCompletion(gid, runID, true); err != nil {
			t.Fatalf("completion %s: %v", runID, err)
		}
	}

	g, err := atomicfile.ReadJSON[Group](filepath.Join(workspace, ".runforge", "groups", gid, groupFileName))
	if err != nil {
		t.Fatalf("reading final group: %v", err)
	}
	if g.Summary.BestRunID == nil || *g.Summary.BestRunID != "run-b" {
		t.Fatalf("expected best_run_id=run-b, got %v", g.Summary.BestRunID)
	}
	if g.Summary.BestPrimaryMetric == nil || g.Summary.BestPrimaryMetric.Value != 0.92 {
		t.Fatalf("expected best_primary_metric.value=0.92, got %+v", g.Summary.BestPrimaryMetric)
	}
	if g.Status != GroupCompleted {
		t.Fatalf("expected status completed, got %s", g.Status)
	}
}

func TestOnJobCompletionMissingGroupIsNoop(t *testing.T) {
	workspace := t.TempDir()
	agg := NewAggregator(workspace, common.NewSilentLogger())
	if err := agg.OnJobCompletion("does-not-exist", "run-1", true); err != nil {
		t.Fatalf("expected no-op for missing group, got error: %v", err)
	}
}

func TestOnJobCompletionNotYetTerminalLeavesGroupRunning(t *testing.T) {
	workspace := t.TempDir()
	gid := "grp_3"
	writeGroup(t, workspace, gid, &Group{
		GroupID: gid,
		Name:    "sweep-c",
		Status:  GroupRunning,
		Runs: []RunEntry{
			{RunID: "run-1", Status: RunRunning},
			{RunID: "run-2", Status: RunQueued},
		},
		Summary: Summary{Total: 2},
	})
	writeResult(t, workspace, "run-1", 0.5)

	agg := NewAggregator(workspace, common.NewSilentLogger())
	if err := agg.OnJobCompletion(gid, "run-1", true); err != nil {
		t.Fatalf("completion: %v", err)
	}

	g, err := atomicfile.ReadJSON[Group](filepath.Join(workspace, ".runforge", "groups", gid, groupFileName))
	if err != nil {
		t.Fatalf("reading group: %v", err)
	}
	if g.Status != GroupRunning {
		t.Fatalf("expected group to remain running while run-2 is still queued, got %s", g.Status)
	}
	if g.Execution.FinishedAt != nil {
		t.Fatalf("expected execution.finished_at to remain unset")
	}
}
