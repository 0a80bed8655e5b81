package scheduler

import (
	"testing"
	"time"
)

func strp(s string) *string { return &s }

func baseTime() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

// S1 — round-robin fairness between two groups with two jobs each served in turn.
func TestPickRoundRobinFairness(t *testing.T) {
	t0 := baseTime()
	jobs := []Candidate{
		{JobID: "g1-r1", GroupID: strp("g1"), CreatedAt: t0, Queued: true},
		{JobID: "g1-r2", GroupID: strp("g1"), CreatedAt: t0.Add(1 * time.Second), Queued: true},
		{JobID: "g2-r1", GroupID: strp("g2"), CreatedAt: t0.Add(2 * time.Second), Queued: true},
		{JobID: "g2-r2", GroupID: strp("g2"), CreatedAt: t0.Add(3 * time.Second), Queued: true},
	}

	var order []string
	last := ""
	for {
		pick, newLast := Pick(jobs, nil, 0, last)
		if pick == nil {
			break
		}
		order = append(order, pick.JobID)
		last = newLast
		for i := range jobs {
			if jobs[i].JobID == pick.JobID {
				jobs[i].Queued = false
			}
		}
	}

	want := []string{"g1-r1", "g2-r1", "g1-r2", "g2-r2"}
	if len(order) != len(want) {
		t.Fatalf("got order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("at index %d: got %s, want %s (full: %v)", i, order[i], want[i], order)
		}
	}
}

// S2 — priority within a group: high, then med, then low.
func TestPickPriorityWithinGroup(t *testing.T) {
	t0 := baseTime()
	jobs := []Candidate{
		{JobID: "low", GroupID: strp("g1"), Priority: 0, CreatedAt: t0, Queued: true},
		{JobID: "high", GroupID: strp("g1"), Priority: 10, CreatedAt: t0, Queued: true},
		{JobID: "med", GroupID: strp("g1"), Priority: 5, CreatedAt: t0, Queued: true},
	}

	expectAndConsume := func(want string) {
		pick, _ := Pick(jobs, nil, 0, "")
		if pick == nil || pick.JobID != want {
			t.Fatalf("expected %s, got %v", want, pick)
		}
		for i := range jobs {
			if jobs[i].JobID == pick.JobID {
				jobs[i].Queued = false
			}
		}
	}
	expectAndConsume("high")
	expectAndConsume("med")
	expectAndConsume("low")
}

// S3 — a paused group's jobs are never returned.
func TestPickSkipsPausedGroup(t *testing.T) {
	t0 := baseTime()
	jobs := []Candidate{
		{JobID: "r1", GroupID: strp("g_paused"), CreatedAt: t0, Queued: true},
		{JobID: "r2", GroupID: strp("g_active"), CreatedAt: t0.Add(time.Second), Queued: true},
	}
	paused := map[string]bool{"g_paused": true}

	pick, last := Pick(jobs, paused, 0, "")
	if pick == nil || pick.JobID != "r2" {
		t.Fatalf("expected r2, got %v", pick)
	}
	for i := range jobs {
		if jobs[i].JobID == pick.JobID {
			jobs[i].Queued = false
		}
	}

	pick2, _ := Pick(jobs, paused, 0, last)
	if pick2 != nil {
		t.Fatalf("expected nil on second call, got %v", pick2)
	}
}

// GPU-requiring jobs are never returned when no GPU capacity remains.
func TestPickNeverReturnsGPUJobWithoutSlots(t *testing.T) {
	t0 := baseTime()
	jobs := []Candidate{
		{JobID: "gpu-job", RequiresGPU: true, CreatedAt: t0, Queued: true},
	}

	pick, _ := Pick(jobs, nil, 0, "")
	if pick != nil {
		t.Fatalf("expected nil with 0 gpu slots, got %v", pick)
	}

	pick2, _ := Pick(jobs, nil, 1, "")
	if pick2 == nil || pick2.JobID != "gpu-job" {
		t.Fatalf("expected gpu-job with 1 gpu slot available, got %v", pick2)
	}
}

func TestPickReturnsNilWhenNothingEligible(t *testing.T) {
	pick, last := Pick(nil, nil, 0, "g1")
	if pick != nil {
		t.Fatalf("expected nil, got %v", pick)
	}
	if last != "g1" {
		t.Fatalf("expected lastServedGroup unchanged, got %q", last)
	}
}

func TestPickSingleGroupIgnoresRoundRobinRestriction(t *testing.T) {
	t0 := baseTime()
	jobs := []Candidate{
		{JobID: "only", GroupID: strp("g1"), CreatedAt: t0, Queued: true},
	}
	// Even though g1 was just served, it's the only group with work, so it
	// must still be returned (step 4's fallback-to-all-candidates rule).
	pick, _ := Pick(jobs, nil, 0, "g1")
	if pick == nil || pick.JobID != "only" {
		t.Fatalf("expected only job to be returned even though its group was last served, got %v", pick)
	}
}
