// Package daemon implements the execution daemon's main loop: reap
// completed children, schedule new ones against the queue and group
// aggregator, and maintain a liveness heartbeat until a clean, signal-driven
// shutdown.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bobmcallan/runforge/internal/common"
	"github.com/bobmcallan/runforge/internal/daemonstate"
	"github.com/bobmcallan/runforge/internal/gpuoracle"
	"github.com/bobmcallan/runforge/internal/groups"
	"github.com/bobmcallan/runforge/internal/jobqueue"
	"github.com/bobmcallan/runforge/internal/workspacelock"
)

// ErrLockHeld is returned by Run when another daemon already owns the workspace.
var ErrLockHeld = fmt.Errorf("another daemon already owns this workspace")

// Daemon owns the single-writer execution loop for one workspace.
type Daemon struct {
	workspace string
	config    common.DaemonConfig
	logger    *common.Logger

	queue     jobqueue.Store
	pauses    *groups.PauseRegistry
	aggregator *groups.Aggregator
	oracle    *gpuoracle.Oracle
	lock      *workspacelock.Lock
	state     *daemonstate.Writer

	mu             sync.Mutex
	active         map[string]*activeChild
	activeGPUCount int

	shutdownRequested atomic.Bool
	startedAt         time.Time
	wg                sync.WaitGroup
}

// New constructs a Daemon for workspace. queue/aggregator/pauses may be
// supplied by the caller (tests inject fakes); a nil queue/aggregator/pauses
// builds the real file-backed implementations.
func New(workspace string, config common.DaemonConfig, logger *common.Logger, queue jobqueue.Store, aggregator *groups.Aggregator, pauses *groups.PauseRegistry) *Daemon {
	if queue == nil {
		queue = jobqueue.NewFileStore(workspace, logger)
	}
	if aggregator == nil {
		aggregator = groups.NewAggregator(workspace, logger)
	}
	if pauses == nil {
		pauses = groups.NewPauseRegistry(workspace)
	}
	return &Daemon{
		workspace:  workspace,
		config:     config,
		logger:     logger,
		queue:      queue,
		pauses:     pauses,
		aggregator: aggregator,
		oracle:     gpuoracle.NewOracle(gpuoracle.WithLogger(logger)),
		lock:       workspacelock.New(lockPath(workspace)),
		state:      daemonstate.NewWriter(workspace),
		active:     make(map[string]*activeChild),
	}
}

func lockPath(workspace string) string {
	return filepath.Join(workspace, ".runforge", "queue", "daemon.lock")
}

// Run executes the full daemon lifecycle: startup, signal-driven main loop
// and heartbeat, and graceful shutdown. It blocks until shutdown completes.
func (d *Daemon) Run(ctx context.Context) error {
	available, deviceCount, err := d.oracle.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detecting GPU availability: %w", err)
	}
	if d.config.GPUSlots > 0 && !available {
		d.logger.Warn().Int("gpu_slots", d.config.GPUSlots).Msg("gpu_slots configured but no GPU was detected; slots are not auto-downgraded")
	}
	d.logger.Info().Bool("gpu_available", available).Int("device_count", deviceCount).Msg("GPU oracle probe complete")

	if err := os.MkdirAll(filepath.Dir(lockPath(d.workspace)), 0755); err != nil {
		return fmt.Errorf("creating queue directory: %w", err)
	}
	acquired, err := d.lock.TryAcquire()
	if err != nil {
		return fmt.Errorf("acquiring workspace lock: %w", err)
	}
	if !acquired {
		return ErrLockHeld
	}
	defer func() { _ = d.lock.Release() }()

	if err := d.queue.SetMaxParallel(ctx, d.config.MaxParallel); err != nil {
		return fmt.Errorf("persisting max_parallel: %w", err)
	}
	if err := d.queue.SetGPUSlots(ctx, d.config.GPUSlots); err != nil {
		return fmt.Errorf("persisting gpu_slots: %w", err)
	}

	d.startedAt = time.Now().UTC()
	pid := os.Getpid()
	if err := d.state.WriteInitial(pid, d.config.MaxParallel, d.config.GPUSlots, d.startedAt); err != nil {
		return fmt.Errorf("writing initial daemon.json: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		d.logger.Info().Msg("Shutdown signal received")
		d.shutdownRequested.Store(true)
	}()

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	d.wg.Add(1)
	go d.heartbeatLoop(heartbeatCtx, pid)

	d.mainLoop(ctx)

	stopHeartbeat()
	return d.shutdown(pid)
}

func (d *Daemon) heartbeatLoop(ctx context.Context, pid int) {
	defer d.wg.Done()
	interval := d.config.GetHeartbeatInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := daemonstate.StateRunning
			if d.shutdownRequested.Load() {
				state = daemonstate.StateStopping
			}
			active, activeGPU := d.counts()
			if err := d.state.Heartbeat(pid, d.config.MaxParallel, d.config.GPUSlots, active, activeGPU, d.startedAt, state); err != nil {
				d.logger.Warn().Err(err).Msg("Heartbeat write failed")
			}
		}
	}
}

func (d *Daemon) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active), d.activeGPUCount
}

// mainLoop runs reap → schedule → sleep until shutdown is requested.
func (d *Daemon) mainLoop(ctx context.Context) {
	poll := d.config.GetPollInterval()
	for !d.shutdownRequested.Load() {
		d.reap(ctx)
		d.schedule(ctx)
		time.Sleep(poll)
	}
}

// reap collects any finished children, applies their outcome to the queue
// and group aggregator, and frees their capacity slot.
func (d *Daemon) reap(ctx context.Context) {
	d.mu.Lock()
	finished := make([]*activeChild, 0)
	for id, child := range d.active {
		if result, done := child.poll(); done {
			finished = append(finished, child)
			delete(d.active, id)
			if child.requiresGPU {
				d.activeGPUCount--
			}
			child.result = result
		}
	}
	d.mu.Unlock()

	for _, child := range finished {
		if err := d.queue.Complete(ctx, child.jobID, child.result.success, child.result.errMsg); err != nil {
			child.logger.Warn().Err(err).Msg("Failed to record job completion")
		}
		if groupID, err := d.jobGroup(ctx, child.jobID); err == nil && groupID != "" {
			if err := d.aggregator.OnJobCompletion(groupID, child.runID, child.result.success); err != nil {
				child.logger.Warn().Str("group_id", groupID).Err(err).Msg("Failed to update group aggregate")
			}
		}
		status := "succeeded"
		if !child.result.success {
			status = "failed"
		}
		child.logger.Info().Str("run_id", child.runID).Str("status", status).Msg("[DAEMON] job reaped")
	}
}

// jobGroup looks up a job's group_id from the current queue snapshot —
// needed because Complete doesn't return the job's group.
func (d *Daemon) jobGroup(ctx context.Context, jobID string) (string, error) {
	qs, err := d.queue.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	for _, j := range qs.Jobs {
		if j.JobID == jobID && j.GroupID != nil {
			return *j.GroupID, nil
		}
	}
	return "", nil
}

// schedule fills free capacity with newly-dequeued jobs until the queue has
// nothing runnable or max_parallel is reached.
func (d *Daemon) schedule(ctx context.Context) {
	for {
		d.mu.Lock()
		activeCount := len(d.active)
		gpuAvail := d.config.GPUSlots - d.activeGPUCount
		d.mu.Unlock()

		if activeCount >= d.config.MaxParallel {
			return
		}

		paused, err := d.pauses.PausedSet()
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to load paused group set")
			return
		}

		job, err := d.queue.DequeueNext(ctx, paused, gpuAvail)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to dequeue next job")
			return
		}
		if job == nil {
			return
		}

		child := d.spawnChild(job.JobID, job.RunID, job.RequiresGPU)
		d.mu.Lock()
		d.active[job.JobID] = child
		if job.RequiresGPU {
			d.activeGPUCount++
		}
		d.mu.Unlock()
		child.logger.Info().Str("run_id", job.RunID).Msg("[DAEMON] job scheduled")
	}
}

// shutdown runs the spec's graceful shutdown sequence: flip to stopping,
// wait up to the configured grace period for in-flight children, fail any
// stragglers, then flip to stopped.
func (d *Daemon) shutdown(pid int) error {
	active, activeGPU := d.counts()
	if err := d.state.Heartbeat(pid, d.config.MaxParallel, d.config.GPUSlots, active, activeGPU, d.startedAt, daemonstate.StateStopping); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to write stopping daemon.json")
	}

	grace := d.config.GetShutdownGrace()
	deadline := time.Now().Add(grace)
	ctx := context.Background()

	for time.Now().Before(deadline) {
		d.reap(ctx)
		d.mu.Lock()
		remaining := len(d.active)
		d.mu.Unlock()
		if remaining == 0 {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	d.mu.Lock()
	stragglers := make([]*activeChild, 0, len(d.active))
	for _, child := range d.active {
		stragglers = append(stragglers, child)
	}
	d.active = make(map[string]*activeChild)
	d.activeGPUCount = 0
	d.mu.Unlock()

	// Stragglers are bookkept as failed but never canceled: their child
	// processes are intentionally left running rather than killed, so a
	// partially written artifact is never torn out from under a worker.
	for _, child := range stragglers {
		if err := d.queue.Complete(ctx, child.jobID, false, "Daemon shutdown"); err != nil {
			child.logger.Warn().Err(err).Msg("Failed to mark straggler job failed at shutdown")
		}
		if groupID, err := d.jobGroup(ctx, child.jobID); err == nil && groupID != "" {
			if err := d.aggregator.OnJobCompletion(groupID, child.runID, false); err != nil {
				child.logger.Warn().Str("group_id", groupID).Err(err).Msg("Failed to update group aggregate at shutdown")
			}
		}
	}

	d.wg.Wait()

	if err := d.state.WriteStopped(pid, d.config.MaxParallel, d.config.GPUSlots, d.startedAt); err != nil {
		return fmt.Errorf("writing final daemon.json: %w", err)
	}
	return nil
}
