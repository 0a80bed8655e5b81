// Command runforge-worker is a minimal reference implementation of the
// daemon's worker contract: read request.json, simulate training, write
// result.json, and exit with a code from the spec's exit-code taxonomy.
// It accepts an optional leading "run" argument before its flags, so both
// "runforge-worker --run-dir ..." and "runforge-worker run --run-dir ..."
// work.
//
// It is the default worker_command the daemon and the foreground sweep
// spawn; the repository's own tests spawn /usr/bin/true, /usr/bin/false and
// /bin/sh instead. The daemon never imports this package directly — it only
// ever invokes it as an opaque subprocess.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

// Exit-code taxonomy recognized by the daemon and external tooling.
const (
	exitSuccess        = 0
	exitTrainingFailure = 1
	exitInvalidRequest  = 2
	exitMissingFiles    = 3
	exitInternalError   = 4
	exitCanceled        = 5
	exitInvalidPlan     = 6
)

// request is the subset of request.json the reference worker understands.
// sweep_group_id / created_by / created_at are bookkeeping fields injected
// by the sweep expander and otherwise ignored here.
type request struct {
	SimulateExitCode *int           `json:"simulate_exit_code"`
	SimulateDuration string         `json:"simulate_duration"`
	Metric           map[string]any `json:"metric"`
}

type result struct {
	Status        string         `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Metrics       map[string]any `json:"metrics,omitempty"`
	PrimaryMetric *primaryMetric `json:"primary_metric,omitempty"`
}

type primaryMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func main() {
	runDir := flag.String("run-dir", "", "absolute path to this run's directory")
	_ = flag.String("workspace", "", "absolute path to the owning workspace")
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "run" {
		args = args[1:]
	}
	_ = flag.CommandLine.Parse(args)

	if *runDir == "" {
		fmt.Fprintln(os.Stderr, "--run-dir is required")
		os.Exit(exitInvalidRequest)
	}

	os.Exit(run(*runDir))
}

func run(runDir string) int {
	requestPath := filepath.Join(runDir, "request.json")
	data, err := os.ReadFile(requestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading request.json: %v\n", err)
		return exitMissingFiles
	}

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		fmt.Fprintf(os.Stderr, "parsing request.json: %v\n", err)
		return exitInvalidRequest
	}

	if req.SimulateExitCode != nil && *req.SimulateExitCode != 0 {
		return *req.SimulateExitCode
	}

	started := time.Now().UTC()
	sleepTraining(req.SimulateDuration)
	finished := time.Now().UTC()

	res := result{
		Status:     "succeeded",
		StartedAt:  started,
		FinishedAt: finished,
	}
	if len(req.Metric) > 0 {
		res.Metrics = req.Metric
	}
	res.PrimaryMetric = &primaryMetric{Name: "accuracy", Value: simulateAccuracy()}

	out, err := json.MarshalIndent(&res, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshaling result.json: %v\n", err)
		return exitInternalError
	}
	if err := os.WriteFile(filepath.Join(runDir, "result.json"), out, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "writing result.json: %v\n", err)
		return exitInternalError
	}

	return exitSuccess
}

func sleepTraining(configured string) {
	d, err := time.ParseDuration(configured)
	if err != nil || d <= 0 {
		d = time.Duration(50+rand.Intn(150)) * time.Millisecond
	}
	time.Sleep(d)
}

func simulateAccuracy() float64 {
	return 0.5 + rand.Float64()*0.5
}
