// Command runforge is the RunForge control-plane CLI: it enqueues runs and
// sweeps, pauses/resumes/cancels groups, and launches the execution daemon.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bobmcallan/runforge/internal/common"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "--version") {
		fmt.Println(common.GetFullVersion())
		return
	}

	common.LoadVersionFromFile()

	configPath := os.Getenv("RUNFORGE_CONFIG")
	config, err := common.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := common.NewLogger(config.Logging.Level)

	workspace, err := config.AbsWorkspace()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve workspace: %v\n", err)
		os.Exit(1)
	}
	config.Workspace = workspace

	ctx := context.Background()
	cmd := os.Args[1]
	args := os.Args[2:]

	var cmdErr error
	switch cmd {
	case "daemon":
		cmdErr = runDaemonCommand(ctx, config, logger, args)
	case "enqueue_run":
		cmdErr = runEnqueueRun(ctx, config, logger, args)
	case "enqueue_sweep":
		cmdErr = runEnqueueSweep(ctx, config, logger, args)
	case "sweep":
		if len(args) > 0 && args[0] == "run" {
			os.Exit(runSweepRun(ctx, config, logger, args[1:]))
		}
		printUsage()
		os.Exit(1)
	case "pause_group":
		cmdErr = runSetPaused(config, args, true)
	case "resume_group":
		cmdErr = runSetPaused(config, args, false)
	case "cancel_group":
		cmdErr = runCancelGroup(ctx, config, logger, args)
	case "retry_failed":
		cmdErr = runRetryFailed(ctx, config, logger, args)
	case "queue_status":
		cmdErr = runQueueStatus(ctx, config)
	default:
		printUsage()
		os.Exit(1)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, cmdErr)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: runforge <command> [flags]

commands:
  version                                              print version, build, and commit
  daemon run                                           start the execution daemon
  enqueue_run --run-id ID [--group G] [--priority N] [--gpu]
  enqueue_sweep --plan path/to/plan.json
  sweep run --plan path/to/plan.json           run a sweep directly, foreground, and wait
  pause_group --group G
  resume_group --group G
  cancel_group --group G
  retry_failed --group G
  queue_status`)
}
