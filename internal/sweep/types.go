// Package sweep implements the Sweep Expander: turning a parameter-grid
// plan into concrete runs, materializing their request.json input files,
// and bootstrapping the owning group document.
package sweep

import "encoding/json"

// Plan is the sweep plan document a client submits to enqueue_sweep.
type Plan struct {
	Version     int         `json:"version"`
	Kind        string      `json:"kind"`
	Workspace   string      `json:"workspace"`
	Group       GroupSpec   `json:"group"`
	BaseRequest map[string]any `json:"base_request"`
	Strategy    Strategy    `json:"strategy"`
	Execution   ExecutionSpec `json:"execution"`
}

// GroupSpec names the group the expander will create.
type GroupSpec struct {
	Name  string  `json:"name"`
	Notes *string `json:"notes"`
}

// StrategyType selects grid or list expansion.
type StrategyType string

const (
	StrategyGrid StrategyType = "grid"
	StrategyList StrategyType = "list"
)

// Parameter is one grid dimension: a dotted request path and its candidate values.
type Parameter struct {
	Path   string `json:"path"`
	Values []any  `json:"values"`
}

// Strategy selects how the plan expands into runs.
type Strategy struct {
	Type       StrategyType   `json:"type"`
	Parameters []Parameter    `json:"parameters"` // grid
	Runs       []map[string]any `json:"runs"`     // list: each map is a run's overrides
}

// ExecutionSpec carries per-sweep execution settings. Priority and
// RequiresGPU are applied uniformly to every run the sweep creates — the
// plan format has no per-run scheduling override.
type ExecutionSpec struct {
	MaxParallel  int  `json:"max_parallel"`
	FailFast     bool `json:"fail_fast"`
	StopOnCancel bool `json:"stop_on_cancel"`
	Priority     int  `json:"priority"`
	RequiresGPU  bool `json:"requires_gpu"`
}

// UnmarshalJSON decodes an execution block, defaulting stop_on_cancel to
// true when the document omits it.
func (e *ExecutionSpec) UnmarshalJSON(data []byte) error {
	type plain ExecutionSpec
	p := plain{StopOnCancel: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = ExecutionSpec(p)
	return nil
}

// RunConfig is a transient product of expansion: not persisted directly,
// its Overrides are embedded into the created request.json and into the
// owning group's runs[i].request_overrides.
type RunConfig struct {
	RunID     string
	Overrides map[string]any
}
