// Package daemonstate defines the daemon's liveness-beacon document
// (daemon.json) and the writer that keeps it current.
package daemonstate

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/runforge/internal/atomicfile"
)

// State mirrors the lifecycle stages a daemon moves through.
type State string

const (
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// DaemonState is the persisted daemon.json document — a liveness beacon,
// not a source of truth: consumers should treat it as advisory.
type DaemonState struct {
	Version        int       `json:"version"`
	PID            int       `json:"pid"`
	InstanceID     string    `json:"instance_id"`
	StartedAt      time.Time `json:"started_at"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	MaxParallel    int       `json:"max_parallel"`
	GPUSlots       int       `json:"gpu_slots"`
	ActiveJobs     int       `json:"active_jobs"`
	ActiveGPUJobs  int       `json:"active_gpu_jobs"`
	State          State     `json:"state"`
}

// Writer persists daemon.json at <workspace>/.runforge/queue/daemon.json.
type Writer struct {
	path       string
	instanceID string
}

// NewWriter returns a Writer rooted at workspace, tagging every write with a
// fresh InstanceID for this process's lifetime — a diagnostics aid distinct
// from the (restart-colliding) job_id counter.
func NewWriter(workspace string) *Writer {
	return &Writer{
		path:       filepath.Join(workspace, ".runforge", "queue", "daemon.json"),
		instanceID: uuid.NewString(),
	}
}

// Path returns the daemon.json path this writer manages.
func (w *Writer) Path() string {
	return w.path
}

// WriteInitial writes the startup daemon.json with state=running.
func (w *Writer) WriteInitial(pid, maxParallel, gpuSlots int, startedAt time.Time) error {
	s := DaemonState{
		Version:       1,
		PID:           pid,
		InstanceID:    w.instanceID,
		StartedAt:     startedAt.UTC(),
		LastHeartbeat: startedAt.UTC(),
		MaxParallel:   maxParallel,
		GPUSlots:      gpuSlots,
		State:         StateRunning,
	}
	return w.write(&s)
}

// Heartbeat atomically rewrites daemon.json with current counters and state.
func (w *Writer) Heartbeat(pid, maxParallel, gpuSlots, activeJobs, activeGPUJobs int, startedAt time.Time, state State) error {
	s := DaemonState{
		Version:       1,
		PID:           pid,
		InstanceID:    w.instanceID,
		StartedAt:     startedAt.UTC(),
		LastHeartbeat: time.Now().UTC(),
		MaxParallel:   maxParallel,
		GPUSlots:      gpuSlots,
		ActiveJobs:    activeJobs,
		ActiveGPUJobs: activeGPUJobs,
		State:         state,
	}
	return w.write(&s)
}

// WriteStopped writes the final daemon.json with state=stopped.
func (w *Writer) WriteStopped(pid, maxParallel, gpuSlots int, startedAt time.Time) error {
	s := DaemonState{
		Version:       1,
		PID:           pid,
		InstanceID:    w.instanceID,
		StartedAt:     startedAt.UTC(),
		LastHeartbeat: time.Now().UTC(),
		MaxParallel:   maxParallel,
		GPUSlots:      gpuSlots,
		State:         StateStopped,
	}
	return w.write(&s)
}

func (w *Writer) write(s *DaemonState) error {
	if err := atomicfile.WriteJSON(w.path, s); err != nil {
		return fmt.Errorf("writing daemon.json: %w", err)
	}
	return nil
}

// Read loads the current daemon.json, for queue_status snapshots.
func Read(workspace string) (DaemonState, error) {
	path := filepath.Join(workspace, ".runforge", "queue", "daemon.json")
	s, err := atomicfile.ReadJSON[DaemonState](path)
	if err != nil {
		return DaemonState{}, fmt.Errorf("reading daemon.json: %w", err)
	}
	return s, nil
}
