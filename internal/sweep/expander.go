package sweep

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bobmcallan/runforge/internal/atomicfile"
	"github.com/bobmcallan/runforge/internal/common"
	"github.com/bobmcallan/runforge/internal/groups"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Expander turns a validated Plan into concrete runs, their request.json
// input files, and the group that tracks them.
type Expander struct {
	workspace string
	logger    *common.Logger
}

// NewExpander returns an Expander rooted at workspace.
func NewExpander(workspace string, logger *common.Logger) *Expander {
	return &Expander{workspace: workspace, logger: logger}
}

// Validate returns a list of human-readable errors, empty if the plan is well-formed.
func Validate(p *Plan) []string {
	var errs []string
	if p.Version != 1 {
		errs = append(errs, "version must be 1")
	}
	if p.Kind != "sweep_plan" {
		errs = append(errs, `kind must be "sweep_plan"`)
	}
	if strings.TrimSpace(p.Workspace) == "" {
		errs = append(errs, "workspace must not be empty")
	}
	if p.BaseRequest == nil {
		errs = append(errs, "base_request is required")
	}
	switch p.Strategy.Type {
	case StrategyGrid:
		if len(p.Strategy.Parameters) == 0 {
			errs = append(errs, "grid strategy requires at least one parameter")
		}
	case StrategyList:
		// symmetric: no further constraint beyond strategy.type being recognized
	default:
		errs = append(errs, fmt.Sprintf("unsupported strategy.type %q", p.Strategy.Type))
	}
	if p.Execution.MaxParallel < 1 {
		errs = append(errs, "execution.max_parallel must be >= 1")
	}
	return errs
}

// Expand dispatches to grid or list expansion based on the plan's strategy.
func (e *Expander) Expand(p *Plan, now time.Time) ([]RunConfig, error) {
	switch p.Strategy.Type {
	case StrategyGrid:
		return expandGrid(p.Strategy.Parameters, now), nil
	case StrategyList:
		return expandList(p.Strategy.Runs, now), nil
	default:
		return nil, fmt.Errorf("unsupported strategy.type %q", p.Strategy.Type)
	}
}

// DryRun returns the run configs Expand would produce, without creating any
// files or group directory — lets a caller preview a grid's size.
func (e *Expander) DryRun(p *Plan, now time.Time) ([]RunConfig, error) {
	return e.Expand(p, now)
}

func expandGrid(params []Parameter, now time.Time) []RunConfig {
	// A parameter with an empty (or null) values list expands as the single
	// value nil, which deletes its path from the request. A bare scalar in
	// place of the values list is not wrapped: Values must decode as a list.
	normalized := make([][]any, len(params))
	total := 1
	for i, p := range params {
		vals := p.Values
		if len(vals) == 0 {
			vals = []any{nil}
		}
		normalized[i] = vals
		total *= len(vals)
	}

	prefix := now.UTC().Format("20060102-150405")
	runs := make([]RunConfig, 0, total)
	for i := 0; i < total; i++ {
		overrides := make(map[string]any, len(params))
		stride := total
		remaining := i
		for pi, p := range params {
			stride /= len(normalized[pi])
			idx := (remaining / stride) % len(normalized[pi])
			overrides[p.Path] = normalized[pi][idx]
		}
		runs = append(runs, RunConfig{
			RunID:     fmt.Sprintf("%s-sweep-%04d", prefix, i),
			Overrides: overrides,
		})
	}
	return runs
}

func expandList(entries []map[string]any, now time.Time) []RunConfig {
	prefix := now.UTC().Format("20060102-150405")
	runs := make([]RunConfig, 0, len(entries))
	for i, overrides := range entries {
		runs = append(runs, RunConfig{
			RunID:     fmt.Sprintf("%s-sweep-%04d", prefix, i),
			Overrides: overrides,
		})
	}
	return runs
}

// ApplyOverrides walks base (creating missing intermediate maps as needed)
// and assigns each dotted-path override, deleting the leaf when its value
// is nil. It never mutates base: it operates on, and returns, a deep copy.
func ApplyOverrides(base map[string]any, overrides map[string]any) (map[string]any, error) {
	result, err := deepCopyMap(base)
	if err != nil {
		return nil, fmt.Errorf("copying base request: %w", err)
	}
	for path, value := range overrides {
		applyOverride(result, path, value)
	}
	return result, nil
}

func applyOverride(root map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := root
	for i, part := range parts {
		last := i == len(parts)-1
		if last {
			if value == nil {
				delete(cur, part)
			} else {
				cur[part] = value
			}
			return
		}
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
}

func deepCopyMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var copy map[string]any
	if err := json.Unmarshal(data, &copy); err != nil {
		return nil, err
	}
	return copy, nil
}

// NewGroupID generates "grp_<yyyymmdd_HHMMSS>_<sanitized name prefix>".
func NewGroupID(name string, now time.Time) string {
	trimmed := name
	if len(trimmed) > 20 {
		trimmed = trimmed[:20]
	}
	sanitized := nonAlphanumeric.ReplaceAllString(trimmed, "_")
	return fmt.Sprintf("grp_%s_%s", now.UTC().Format("20060102_150405"), sanitized)
}

// CreateGroup bootstraps <workspace>/.runforge/groups/<gid>/: writes
// plan.json (a copy of the plan) and an initial group.json with every run
// pending.
func (e *Expander) CreateGroup(groupID string, p *Plan, runs []RunConfig, createdBy string, now time.Time) (*groups.Group, error) {
	groupDir := filepath.Join(e.workspace, ".runforge", "groups", groupID)
	planPath := filepath.Join(groupDir, "plan.json")
	if err := atomicfile.WriteJSON(planPath, p); err != nil {
		return nil, fmt.Errorf("writing plan.json for group %s: %w", groupID, err)
	}

	runEntries := make([]groups.RunEntry, 0, len(runs))
	for _, r := range runs {
		runEntries = append(runEntries, groups.RunEntry{
			RunID:            r.RunID,
			Status:           groups.RunPending,
			RequestOverrides: r.Overrides,
		})
	}

	var notes *string
	if p.Group.Notes != nil {
		notes = p.Group.Notes
	}
	planRef := "plan.json"

	g := &groups.Group{
		Version:   1,
		Kind:      "run_group",
		GroupID:   groupID,
		CreatedAt: now.UTC(),
		CreatedBy: createdBy,
		Name:      p.Group.Name,
		Notes:     notes,
		PlanRef:   &planRef,
		Status:    groups.GroupRunning,
		Execution: groups.Execution{
			MaxParallel: p.Execution.MaxParallel,
			StartedAt:   now.UTC(),
		},
		Runs:    runEntries,
		Summary: groups.Summary{Total: len(runEntries)},
	}

	groupPath := filepath.Join(groupDir, "group.json")
	if err := atomicfile.WriteJSON(groupPath, g); err != nil {
		return nil, fmt.Errorf("writing group.json for group %s: %w", groupID, err)
	}
	return g, nil
}

// CreateRunInputs materializes <workspace>/.ml/runs/<run_id>/request.json
// for each run: the base request merged with its overrides, plus injected
// bookkeeping fields.
func (e *Expander) CreateRunInputs(runs []RunConfig, baseRequest map[string]any, groupID, createdBy string, now time.Time) error {
	for _, r := range runs {
		merged, err := ApplyOverrides(baseRequest, r.Overrides)
		if err != nil {
			return fmt.Errorf("applying overrides for run %s: %w", r.RunID, err)
		}
		merged["created_at"] = now.UTC().Format(time.RFC3339)
		merged["created_by"] = createdBy
		if groupID != "" {
			merged["sweep_group_id"] = groupID
		}

		reqPath := filepath.Join(e.workspace, ".ml", "runs", r.RunID, "request.json")
		if err := os.MkdirAll(filepath.Dir(reqPath), 0755); err != nil {
			return fmt.Errorf("creating run directory for %s: %w", r.RunID, err)
		}
		if err := atomicfile.WriteJSON(reqPath, merged); err != nil {
			return fmt.Errorf("writing request.json for run %s: %w", r.RunID, err)
		}
	}
	return nil
}
