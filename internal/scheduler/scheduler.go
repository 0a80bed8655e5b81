// Package scheduler implements the scheduling policy as a pure function:
// round-robin fairness between job groups, priority within a group,
// group-pause gating, and a GPU-slot capacity dimension. It takes a
// snapshot of candidates and returns the chosen one plus the new
// round-robin cursor; it never mutates state or touches the filesystem —
// the caller (jobqueue.Store) applies the resulting transition.
package scheduler

import (
	"sort"
	"time"
)

// ungroupedKey is the pseudo-group used to partition jobs with no group id.
const ungroupedKey = "__ungrouped__"

// Candidate is the minimal view of a queued job the scheduler needs to make
// a decision. jobqueue.Job satisfies this shape; Store converts to/from it
// so this package stays decoupled from the queue's persistence model.
type Candidate struct {
	JobID       string
	GroupID     *string
	Priority    int
	RequiresGPU bool
	Queued      bool
	CreatedAt   time.Time
}

func (c *Candidate) groupKey() string {
	if c.GroupID == nil || *c.GroupID == "" {
		return ungroupedKey
	}
	return *c.GroupID
}

// Pick selects the next runnable candidate given the current pause set and
// remaining GPU capacity, and returns it along with the new
// last-served-group cursor. It returns (nil, lastServedGroup unchanged) if
// nothing is eligible.
func Pick(jobs []Candidate, paused map[string]bool, gpuAvailable int, lastServedGroup string) (*Candidate, string) {
	eligible := make([]Candidate, 0, len(jobs))
	for _, j := range jobs {
		if !j.Queued {
			continue
		}
		if j.GroupID != nil && paused[*j.GroupID] {
			continue
		}
		if j.RequiresGPU && gpuAvailable <= 0 {
			continue
		}
		eligible = append(eligible, j)
	}
	if len(eligible) == 0 {
		return nil, lastServedGroup
	}

	// Partition by group, keep each group's head after sorting by
	// (-priority, created_at ASC).
	byGroup := map[string][]Candidate{}
	var order []string
	for _, j := range eligible {
		gk := j.groupKey()
		if _, ok := byGroup[gk]; !ok {
			order = append(order, gk)
		}
		byGroup[gk] = append(byGroup[gk], j)
	}

	candidates := make([]Candidate, 0, len(order))
	for _, gk := range order {
		group := byGroup[gk]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Priority != group[j].Priority {
				return group[i].Priority > group[j].Priority
			}
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
		candidates = append(candidates, group[0])
	}

	// Round-robin: prefer a group different from the last one served, when
	// more than one group is in contention.
	final := candidates
	if lastServedGroup != "" && len(candidates) > 1 {
		var filtered []Candidate
		for _, c := range candidates {
			if c.groupKey() != lastServedGroup {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) > 0 {
			final = filtered
		}
	}

	sort.SliceStable(final, func(i, j int) bool {
		if !final[i].CreatedAt.Equal(final[j].CreatedAt) {
			return final[i].CreatedAt.Before(final[j].CreatedAt)
		}
		return final[i].JobID < final[j].JobID
	})

	chosen := final[0]
	return &chosen, chosen.groupKey()
}
