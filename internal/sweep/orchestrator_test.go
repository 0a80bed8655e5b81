package sweep

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobmcallan/runforge/internal/atomicfile"
	"github.com/bobmcallan/runforge/internal/common"
	"github.com/bobmcallan/runforge/internal/groups"
)

func testPlan(workspace string, maxParallel int, failFast, stopOnCancel bool) *Plan {
	return &Plan{
		Version:   1,
		Kind:      "sweep_plan",
		Workspace: workspace,
		Group:     GroupSpec{Name: "orchestrator test"},
		BaseRequest: map[string]any{
			"model": "baseline",
		},
		Strategy: Strategy{
			Type:       StrategyGrid,
			Parameters: []Parameter{{Path: "lr", Values: []any{float64(1), float64(2)}}},
		},
		Execution: ExecutionSpec{
			MaxParallel:  maxParallel,
			FailFast:     failFast,
			StopOnCancel: stopOnCancel,
		},
	}
}

func TestOrchestratorExecuteAllSucceed(t *testing.T) {
	workspace := t.TempDir()
	plan := testPlan(workspace, 2, false, true)

	o := NewOrchestrator(workspace, "/usr/bin/true", common.NewSilentLogger())
	code, err := o.Execute(context.Background(), plan, fixedTime())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if code != ExitSuccess {
		t.Fatalf("expected ExitSuccess, got %d", code)
	}

	groupID := findGroupID(t, workspace)
	g := readGroup(t, workspace, groupID)
	if g.Status != groups.GroupCompleted {
		t.Fatalf("expected group completed, got %s", g.Status)
	}
	if g.Summary.Succeeded != 2 {
		t.Fatalf("expected 2 succeeded, got %d", g.Summary.Succeeded)
	}
}

func TestOrchestratorExecuteFailFastCancelsRemaining(t *testing.T) {
	workspace := t.TempDir()
	plan := testPlan(workspace, 1, true, true)

	o := NewOrchestrator(workspace, "/usr/bin/false", common.NewSilentLogger())
	code, err := o.Execute(context.Background(), plan, fixedTime())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if code != ExitCanceled {
		t.Fatalf("expected ExitCanceled, got %d", code)
	}

	groupID := findGroupID(t, workspace)
	g := readGroup(t, workspace, groupID)
	if g.Status != groups.GroupCanceled {
		t.Fatalf("expected group canceled, got %s", g.Status)
	}
	if g.Summary.Failed != 1 {
		t.Fatalf("expected 1 failed run before fail_fast tripped, got %d", g.Summary.Failed)
	}
	if g.Summary.Canceled != 1 {
		t.Fatalf("expected 1 canceled (unsubmitted) run, got %d", g.Summary.Canceled)
	}
}

func TestOrchestratorExecuteAllFailWithoutFailFast(t *testing.T) {
	workspace := t.TempDir()
	plan := testPlan(workspace, 2, false, true)

	o := NewOrchestrator(workspace, "/usr/bin/false", common.NewSilentLogger())
	code, err := o.Execute(context.Background(), plan, fixedTime())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if code != ExitRunsFailed {
		t.Fatalf("expected ExitRunsFailed, got %d", code)
	}

	groupID := findGroupID(t, workspace)
	g := readGroup(t, workspace, groupID)
	if g.Status != groups.GroupFailed {
		t.Fatalf("expected group failed, got %s", g.Status)
	}
	if g.Summary.Failed != 2 {
		t.Fatalf("expected 2 failed, got %d", g.Summary.Failed)
	}
}

func TestOrchestratorRequestCancelStopsSubmission(t *testing.T) {
	workspace := t.TempDir()
	plan := testPlan(workspace, 1, false, true)

	o := NewOrchestrator(workspace, "/usr/bin/true", common.NewSilentLogger())
	o.RequestCancel()
	code, err := o.Execute(context.Background(), plan, fixedTime())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if code != ExitCanceled {
		t.Fatalf("expected ExitCanceled, got %d", code)
	}

	groupID := findGroupID(t, workspace)
	g := readGroup(t, workspace, groupID)
	if g.Summary.Canceled != 2 {
		t.Fatalf("expected both runs canceled before submission, got %d", g.Summary.Canceled)
	}
}

func findGroupID(t *testing.T, workspace string) string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(workspace, ".runforge", "groups"))
	if err != nil {
		t.Fatalf("reading groups dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one group directory, got %d", len(entries))
	}
	return entries[0].Name()
}

func readGroup(t *testing.T, workspace, groupID string) groups.Group {
	t.Helper()
	path := filepath.Join(workspace, ".runforge", "groups", groupID, "group.json")
	g, err := atomicfile.ReadJSON[groups.Group](path)
	if err != nil {
		t.Fatalf("reading group.json: %v", err)
	}
	return g
}
