package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bobmcallan/runforge/internal/atomicfile"
	"github.com/bobmcallan/runforge/internal/common"
	"github.com/bobmcallan/runforge/internal/daemon"
	"github.com/bobmcallan/runforge/internal/daemonstate"
	"github.com/bobmcallan/runforge/internal/groups"
	"github.com/bobmcallan/runforge/internal/jobqueue"
	"github.com/bobmcallan/runforge/internal/sweep"
)

func runDaemonCommand(ctx context.Context, config *common.Config, logger *common.Logger, args []string) error {
	if len(args) == 0 || args[0] != "run" {
		return fmt.Errorf(`expected "daemon run"`)
	}
	common.PrintBanner(config, logger, config.Workspace)

	d := daemon.New(config.Workspace, config.Daemon, logger, nil, nil, nil)
	if err := d.Run(ctx); err != nil {
		if err == daemon.ErrLockHeld {
			os.Exit(3)
		}
		return err
	}
	return nil
}

func runEnqueueRun(ctx context.Context, config *common.Config, logger *common.Logger, args []string) error {
	fs := flag.NewFlagSet("enqueue_run", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id to enqueue")
	group := fs.String("group", "", "owning group id (optional)")
	priority := fs.Int("priority", 0, "scheduling priority, higher wins within a group")
	gpu := fs.Bool("gpu", false, "mark this job as requiring a GPU slot")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return fmt.Errorf("--run-id is required")
	}

	var groupID *string
	if *group != "" {
		groupID = group
	}

	queue := jobqueue.NewFileStore(config.Workspace, logger)
	job, err := queue.Enqueue(ctx, *runID, groupID, *priority, *gpu)
	if err != nil {
		return err
	}
	fmt.Println(job.JobID)
	return nil
}

func runEnqueueSweep(ctx context.Context, config *common.Config, logger *common.Logger, args []string) error {
	fs := flag.NewFlagSet("enqueue_sweep", flag.ContinueOnError)
	planPath := fs.String("plan", "", "path to a sweep plan document")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *planPath == "" {
		return fmt.Errorf("--plan is required")
	}

	plan, err := atomicfile.ReadJSON[sweep.Plan](*planPath)
	if err != nil {
		return fmt.Errorf("reading plan %s: %w", *planPath, err)
	}
	if plan.Workspace == "" {
		plan.Workspace = config.Workspace
	}
	if errs := sweep.Validate(&plan); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "plan error: %s\n", e)
		}
		return fmt.Errorf("invalid plan")
	}

	now := time.Now()
	expander := sweep.NewExpander(config.Workspace, logger)
	runs, err := expander.Expand(&plan, now)
	if err != nil {
		return err
	}

	groupID := sweep.NewGroupID(plan.Group.Name, now)
	if _, err := expander.CreateGroup(groupID, &plan, runs, "cli", now); err != nil {
		return err
	}
	if err := expander.CreateRunInputs(runs, plan.BaseRequest, groupID, "cli", now); err != nil {
		return err
	}

	queue := jobqueue.NewFileStore(config.Workspace, logger)
	statuses := make(map[string]groups.RunStatus, len(runs))
	for _, r := range runs {
		gid := groupID
		if _, err := queue.Enqueue(ctx, r.RunID, &gid, plan.Execution.Priority, plan.Execution.RequiresGPU); err != nil {
			return fmt.Errorf("enqueueing sweep run %s: %w", r.RunID, err)
		}
		statuses[r.RunID] = groups.RunQueued
	}

	agg := groups.NewAggregator(config.Workspace, logger)
	if err := agg.SetRunStatuses(groupID, statuses); err != nil {
		return err
	}

	fmt.Println(groupID)
	return nil
}

// runSweepRun executes a sweep plan directly in this process tree — the
// foreground counterpart to enqueue_sweep — and returns the process exit
// code per the reference worker's taxonomy (spec §6.2), mirroring
// original_source's `runforge_cli sweep` command.
func runSweepRun(ctx context.Context, config *common.Config, logger *common.Logger, args []string) int {
	fs := flag.NewFlagSet("sweep run", flag.ContinueOnError)
	planPath := fs.String("plan", "", "path to a sweep plan document")
	if err := fs.Parse(args); err != nil {
		return 6
	}
	if *planPath == "" {
		fmt.Fprintln(os.Stderr, "--plan is required")
		return 6
	}

	plan, err := atomicfile.ReadJSON[sweep.Plan](*planPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading plan %s: %v\n", *planPath, err)
		return 3
	}
	if plan.Workspace == "" {
		plan.Workspace = config.Workspace
	}
	if errs := sweep.Validate(&plan); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "plan error: %s\n", e)
		}
		return sweep.ExitInvalidPlan
	}

	orchestrator := sweep.NewOrchestrator(config.Workspace, config.Daemon.WorkerCommand, logger)
	code, err := orchestrator.Execute(ctx, &plan, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep run: %v\n", err)
	}
	return code
}

func runSetPaused(config *common.Config, args []string, paused bool) error {
	fs := flag.NewFlagSet("pause_group", flag.ContinueOnError)
	group := fs.String("group", "", "group id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *group == "" {
		return fmt.Errorf("--group is required")
	}
	registry := groups.NewPauseRegistry(config.Workspace)
	return registry.SetPaused(*group, paused)
}

func runCancelGroup(ctx context.Context, config *common.Config, logger *common.Logger, args []string) error {
	fs := flag.NewFlagSet("cancel_group", flag.ContinueOnError)
	group := fs.String("group", "", "group id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *group == "" {
		return fmt.Errorf("--group is required")
	}

	queue := jobqueue.NewFileStore(config.Workspace, logger)
	count, err := queue.CancelGroup(ctx, *group)
	if err != nil {
		return err
	}

	agg := groups.NewAggregator(config.Workspace, logger)
	statuses := map[string]groups.RunStatus{}
	qs, err := queue.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, j := range qs.Jobs {
		if j.GroupID != nil && *j.GroupID == *group && j.State == jobqueue.StateCanceled {
			statuses[j.RunID] = groups.RunCanceled
		}
	}
	if len(statuses) > 0 {
		if err := agg.SetRunStatuses(*group, statuses); err != nil {
			return err
		}
	}

	fmt.Printf("canceled %d job(s)\n", count)
	return nil
}

func runRetryFailed(ctx context.Context, config *common.Config, logger *common.Logger, args []string) error {
	fs := flag.NewFlagSet("retry_failed", flag.ContinueOnError)
	group := fs.String("group", "", "group id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *group == "" {
		return fmt.Errorf("--group is required")
	}

	queue := jobqueue.NewFileStore(config.Workspace, logger)
	retried, err := queue.RetryFailed(ctx, *group)
	if err != nil {
		return err
	}

	if len(retried) > 0 {
		statuses := make(map[string]groups.RunStatus, len(retried))
		for _, j := range retried {
			statuses[j.RunID] = groups.RunQueued
		}
		agg := groups.NewAggregator(config.Workspace, logger)
		if err := agg.SetRunStatuses(*group, statuses); err != nil {
			return err
		}
	}

	fmt.Printf("retried %d job(s)\n", len(retried))
	return nil
}

func runQueueStatus(ctx context.Context, config *common.Config) error {
	queue := jobqueue.NewFileStore(config.Workspace, common.NewSilentLogger())
	qs, err := queue.Snapshot(ctx)
	if err != nil {
		return err
	}
	ds, err := daemonstate.Read(config.Workspace)
	if err != nil {
		return err
	}

	out := struct {
		Queue  *jobqueue.QueueState   `json:"queue"`
		Daemon daemonstate.DaemonState `json:"daemon"`
	}{Queue: qs, Daemon: ds}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
