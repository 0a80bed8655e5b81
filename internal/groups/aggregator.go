package groups

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/runforge/internal/atomicfile"
	"github.com/bobmcallan/runforge/internal/common"
)

// RunResult is the subset of a worker's result.json the aggregator reads.
type RunResult struct {
	Status        string         `json:"status"`
	PrimaryMetric *PrimaryMetric `json:"primary_metric"`
}

// Aggregator updates a group's state on every job completion: locates the
// matching run, recomputes counts and the best run from scratch, and
// flips the group to a terminal status once nothing remains pending.
type Aggregator struct {
	workspace string
	groupsDir string
	logger    *common.Logger
}

// NewAggregator returns an Aggregator rooted at workspace.
func NewAggregator(workspace string, logger *common.Logger) *Aggregator {
	return &Aggregator{
		workspace: workspace,
		groupsDir: filepath.Join(workspace, ".runforge", "groups"),
		logger:    logger,
	}
}

func (a *Aggregator) groupPath(groupID string) string {
	return filepath.Join(a.groupsDir, groupID, groupFileName)
}

// OnJobCompletion applies the spec's five-step recompute-from-scratch
// algorithm for the run identified by runID within groupID.
func (a *Aggregator) OnJobCompletion(groupID, runID string, success bool) error {
	path := a.groupPath(groupID)
	g, err := atomicfile.ReadJSON[Group](path)
	if err != nil {
		return fmt.Errorf("reading group %s: %w", groupID, err)
	}
	if g.GroupID == "" {
		// Group missing: spec says no-op.
		return nil
	}

	for i := range g.Runs {
		if g.Runs[i].RunID != runID {
			continue
		}
		if success {
			g.Runs[i].Status = RunSucceeded
			a.attachResult(&g.Runs[i], runID)
		} else {
			g.Runs[i].Status = RunFailed
		}
		break
	}

	a.recomputeSummary(&g)

	pending := false
	for _, r := range g.Runs {
		if r.Status == RunPending || r.Status == RunQueued || r.Status == RunRunning {
			pending = true
			break
		}
	}
	if !pending {
		now := time.Now().UTC()
		g.Execution.FinishedAt = &now
		if g.Summary.Failed > 0 {
			g.Status = GroupFailed
		} else {
			g.Status = GroupCompleted
		}
		a.renderSummaryChart(&g)
	}

	if err := atomicfile.WriteJSON(path, &g); err != nil {
		return fmt.Errorf("writing group %s: %w", groupID, err)
	}
	return nil
}

func (a *Aggregator) attachResult(run *RunEntry, runID string) {
	resultPath := filepath.Join(a.workspace, ".ml", "runs", runID, "result.json")
	result, err := atomicfile.ReadJSON[RunResult](resultPath)
	if err != nil {
		a.logger.Warn().Str("run_id", runID).Err(err).Msg("Failed to read run result")
		return
	}
	if result.PrimaryMetric != nil {
		run.PrimaryMetric = result.PrimaryMetric
	}
	rel, err := filepath.Rel(a.workspace, resultPath)
	if err != nil {
		rel = resultPath
	}
	run.ResultRef = &rel
}

// recomputeSummary recomputes counts and the best run entirely from the
// current runs slice — never incrementally — so repeated or out-of-order
// completions can never drift the summary.
func (a *Aggregator) recomputeSummary(g *Group) {
	s := Summary{Total: len(g.Runs)}
	var best *RunEntry
	for i := range g.Runs {
		r := &g.Runs[i]
		switch r.Status {
		case RunSucceeded:
			s.Succeeded++
		case RunFailed:
			s.Failed++
		case RunCanceled:
			s.Canceled++
		}
		if r.PrimaryMetric != nil && (best == nil || r.PrimaryMetric.Value > best.PrimaryMetric.Value) {
			best = r
		}
	}
	if best != nil {
		s.BestRunID = &best.RunID
		s.BestPrimaryMetric = best.PrimaryMetric
	}
	g.Summary = s
}

// renderSummaryChart best-effort renders a bar chart of each run's primary
// metric to summary.png. Failure is logged and swallowed — this is a pure
// enrichment, not a correctness concern.
func (a *Aggregator) renderSummaryChart(g *Group) {
	var labels []string
	var values []float64
	for _, r := range g.Runs {
		if r.PrimaryMetric == nil {
			continue
		}
		labels = append(labels, r.RunID)
		values = append(values, r.PrimaryMetric.Value)
	}
	if len(values) == 0 {
		return
	}

	bars := make([]chart.Value, len(values))
	for i, v := range values {
		color := drawing.ColorFromHex("2563eb")
		if g.Summary.BestRunID != nil && labels[i] == *g.Summary.BestRunID {
			color = drawing.ColorFromHex("16a34a")
		}
		bars[i] = chart.Value{Label: labels[i], Value: v, Style: chart.Style{FillColor: color}}
	}

	graph := chart.BarChart{
		Title:      fmt.Sprintf("%s — run summary", g.Name),
		Width:      900,
		Height:     400,
		BarWidth:   40,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 40}},
		Bars:       bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		a.logger.Warn().Str("group_id", g.GroupID).Err(err).Msg("Failed to render group summary chart")
		return
	}

	chartPath := filepath.Join(a.groupsDir, g.GroupID, "summary.png")
	if err := os.WriteFile(chartPath, buf.Bytes(), 0644); err != nil {
		a.logger.Warn().Str("group_id", g.GroupID).Err(err).Msg("Failed to write group summary chart")
	}
}
