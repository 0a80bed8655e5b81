package daemon

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/runforge/internal/common"
)

// childTimeout is the hard ceiling the daemon imposes on a single child
// worker before treating it as a failed, timed-out job.
const childTimeout = 1 * time.Hour

// stderrTailLimit bounds how much of a failed child's combined output is
// recorded on the job — the spec's "last 500 chars" rule.
const stderrTailLimit = 500

// tailBuffer keeps only the most recent N bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{size: size}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.size {
		t.buf = t.buf[len(t.buf)-t.size:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// childResult is what a reaped child reports back.
type childResult struct {
	success bool
	errMsg  string
}

// activeChild tracks one in-flight job's OS process.
type activeChild struct {
	jobID       string
	runID       string
	requiresGPU bool
	cancel      context.CancelFunc
	done        chan childResult
	result      childResult

	// logger carries a job_id correlation ID through every log line this
	// child produces, across scheduling, reaping, and shutdown.
	logger *common.Logger
}

// spawnChild launches the configured worker command against runID's run
// directory and returns a handle the main loop polls for completion via
// poll(). The child's combined stdout/stderr is captured into a bounded
// tail buffer only — the daemon never streams it; workers write their own
// logs.txt into the run directory.
func (d *Daemon) spawnChild(jobID, runID string, requiresGPU bool) *activeChild {
	ctx, cancel := context.WithTimeout(context.Background(), childTimeout)

	runDir := filepath.Join(d.workspace, ".ml", "runs", runID)
	absWorkspace, err := filepath.Abs(d.workspace)
	if err != nil {
		absWorkspace = d.workspace
	}

	parts := strings.Fields(d.config.WorkerCommand)
	if len(parts) == 0 {
		parts = []string{"runforge-worker", "run"}
	}
	args := append(append([]string{}, parts[1:]...), "--run-dir", runDir, "--workspace", absWorkspace)

	cmd := exec.CommandContext(ctx, parts[0], args...)
	tail := newTailBuffer(stderrTailLimit)
	cmd.Stdout = tail
	cmd.Stderr = tail

	child := &activeChild{
		jobID:       jobID,
		runID:       runID,
		requiresGPU: requiresGPU,
		cancel:      cancel,
		done:        make(chan childResult, 1),
		logger:      d.logger.WithCorrelationId(jobID),
	}

	// Deliberately not tracked by d.wg: a straggler left running past the
	// shutdown grace period must not block process exit (see shutdown()).
	go func() {
		defer cancel()

		err := cmd.Run()
		if ctx.Err() == context.DeadlineExceeded {
			child.logger.Warn().Str("run_id", runID).Msg("[DAEMON] job timed out")
			child.done <- childResult{success: false, errMsg: "Job timed out after 1 hour"}
			return
		}
		if err != nil {
			msg := tail.String()
			if msg == "" {
				msg = err.Error()
			}
			child.logger.Warn().Str("run_id", runID).Err(err).Msg("[DAEMON] child process exited with error")
			child.done <- childResult{success: false, errMsg: msg}
			return
		}
		child.done <- childResult{success: true}
	}()

	return child
}

// poll reports whether the child has finished, and its result if so.
func (c *activeChild) poll() (childResult, bool) {
	select {
	case r := <-c.done:
		return r, true
	default:
		return childResult{}, false
	}
}
