// Package gpuoracle probes whether the host has GPU capability and codifies
// the fallback table used to decide, per job, whether it actually runs on
// GPU or falls back to CPU.
package gpuoracle

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/runforge/internal/common"
)

const probeTimeout = 10 * time.Second

// Device is the actual device a job ends up running on.
type Device string

const (
	DeviceCPU Device = "cpu"
	DeviceGPU Device = "gpu"
)

// probeFunc runs the capability probe and reports device count. Swapped out
// in tests via WithProbeCommand.
type probeFunc func(ctx context.Context) (deviceCount int, err error)

// Option configures an Oracle.
type Option func(*Oracle)

// WithLogger attaches a logger for probe diagnostics.
func WithLogger(logger *common.Logger) Option {
	return func(o *Oracle) { o.logger = logger }
}

// WithProbeCommand overrides how Detect determines device count — test injection point.
func WithProbeCommand(probe func(ctx context.Context) (int, error)) Option {
	return func(o *Oracle) { o.probe = probe }
}

// Oracle caches GPU availability for the process lifetime and exposes the
// device-selection fallback table.
type Oracle struct {
	logger  *common.Logger
	probe   probeFunc
	limiter *rate.Limiter

	once        sync.Once
	available   bool
	deviceCount int
	detectErr   error
}

// NewOracle constructs an Oracle. By default it probes via `nvidia-smi`.
func NewOracle(opts ...Option) *Oracle {
	o := &Oracle{
		logger:  common.NewSilentLogger(),
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
	o.probe = o.probeNvidiaSMI
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Detect returns GPU availability and device count, probing at most once per
// process lifetime. Any probe error (missing binary, non-zero exit, timeout)
// is treated as available=false rather than propagated, per the oracle's
// contract.
func (o *Oracle) Detect(ctx context.Context) (bool, int, error) {
	o.once.Do(func() {
		if err := o.limiter.Wait(ctx); err != nil {
			o.available, o.deviceCount = false, 0
			return
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		count, err := o.probe(probeCtx)
		if err != nil {
			o.logger.Warn().Err(err).Msg("GPU probe failed, assuming unavailable")
			o.available, o.deviceCount = false, 0
			return
		}
		o.available = count > 0
		o.deviceCount = count
	})
	return o.available, o.deviceCount, nil
}

func (o *Oracle) probeNvidiaSMI(ctx context.Context) (int, error) {
	cmd := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=count", "--format=csv,noheader")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return 0, err
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return 0, nil
	}
	// nvidia-smi --query-gpu=count emits one "count" line per installed
	// device, each repeating the total — the row count is the device count.
	return len(lines), nil
}

// SelectDevice codifies the four-row fallback table: CPU requests always
// stay on CPU; a GPU request without host availability or without a granted
// slot falls back to CPU with a reason; otherwise it runs on GPU.
func SelectDevice(requested Device, slotGranted bool, available bool) (Device, string) {
	if requested == DeviceCPU {
		return DeviceCPU, ""
	}
	if !available {
		return DeviceCPU, "no_gpu"
	}
	if !slotGranted {
		return DeviceCPU, "slot_unavailable"
	}
	return DeviceGPU, ""
}
