// Package estimate turns a sparse backend status snapshot into an overall
// completion estimate. Compute is pure: the same Input always yields the same
// Estimate, and an estimate never falls below Input.Previous.
package estimate

import (
	"math"
	"time"

	"dvtrack/internal/phase"
	"dvtrack/internal/progress"
)

const (
	// JobFloor is the lowest estimate reported for a submitted job.
	JobFloor = 5.0
	// QueuedCap bounds the estimate while the backend still reports the job as queued.
	QueuedCap = 11.0
	// PendingCap bounds every non-terminal estimate; only a terminal artifact yields 100.
	PendingCap = 99.0

	runningMin, runningMax = 12.0, 92.0
	failedMin, failedMax   = 25.0, 96.0
)

// Estimate is the estimator output. It doubles as the "previous best" carried
// into the next Compute call for the same job.
type Estimate struct {
	Percent        float64
	PhaseIndex     int
	PhaseStatus    progress.PhaseStatus
	PhaseStartedAt time.Time
}

// Input bundles everything Compute needs.
type Input struct {
	Snapshot progress.Snapshot
	Previous Estimate
	Profiles []phase.Profile
	Now      time.Time
}

// Compute returns the next estimate for a job.
func Compute(in Input) Estimate {
	prev := in.Previous
	snap := in.Snapshot
	last := phase.Last(in.Profiles)

	if snap.Terminal() {
		return Estimate{
			Percent:        100,
			PhaseIndex:     last,
			PhaseStatus:    progress.PhaseFinished,
			PhaseStartedAt: startedAt(prev, last, in.Now),
		}
	}

	if prev.Percent >= 100 {
		// A finished job stays finished whatever a late snapshot says.
		return prev
	}

	idx, status := resolvePhase(in.Profiles, snap, prev)
	started := startedAt(prev, idx, in.Now)

	var computed float64
	for i, p := range in.Profiles {
		var local float64
		switch {
		case i < idx:
			local = 100
		case i == idx:
			if len(snap.Nodes) > 0 {
				local = nodesProgress(snap, p.Expected, in.Now.Sub(started), in.Now)
			} else {
				local = LocalProgress(status, in.Now.Sub(started), p.Expected)
			}
		}
		computed += local / 100 * p.Weight
	}

	candidate := computed
	if snap.RawProgress != nil && *snap.RawProgress > candidate {
		candidate = *snap.RawProgress
	}
	if snap.Queued && candidate > QueuedCap {
		candidate = QueuedCap
	}

	pct := math.Max(candidate, prev.Percent)
	pct = math.Max(pct, JobFloor)
	pct = math.Min(pct, PendingCap)

	return Estimate{
		Percent:        pct,
		PhaseIndex:     idx,
		PhaseStatus:    status,
		PhaseStartedAt: started,
	}
}

// LocalProgress is the progress (0..100) within a single phase given its status
// and how long it has been running relative to its expected duration.
func LocalProgress(status progress.PhaseStatus, elapsed, expected time.Duration) float64 {
	switch status {
	case progress.PhaseFinished:
		return 100
	case progress.PhaseRunning:
		return clamp(runningMin, ratioPercent(elapsed, expected), runningMax)
	case progress.PhaseFailed:
		return clamp(failedMin, ratioPercent(elapsed, expected), failedMax)
	default:
		return 0
	}
}

// resolvePhase maps the snapshot's phase identifier to an index that never
// regresses below the previous estimate.
func resolvePhase(profiles []phase.Profile, snap progress.Snapshot, prev Estimate) (int, progress.PhaseStatus) {
	idx, known := -1, false
	if snap.PhaseIndex >= 0 && snap.PhaseIndex < len(profiles) {
		idx, known = snap.PhaseIndex, true
	} else if i, ok := phase.Index(profiles, snap.PhaseName); ok {
		idx, known = i, true
	}

	status := snap.PhaseStatus
	if status == "" {
		status = progress.PhaseRunning
	}

	if !known || idx < prev.PhaseIndex {
		// Unknown or stale phase: stay where we were.
		prevStatus := prev.PhaseStatus
		if prevStatus == "" || prevStatus == progress.PhasePending {
			prevStatus = status
		}
		return prev.PhaseIndex, prevStatus
	}
	return idx, status
}

func startedAt(prev Estimate, idx int, now time.Time) time.Time {
	if idx == prev.PhaseIndex && !prev.PhaseStartedAt.IsZero() {
		return prev.PhaseStartedAt
	}
	return now
}

// nodesProgress averages per-node local progress. Each node is measured against
// an equal share of the phase's expected duration using its own timestamps.
func nodesProgress(snap progress.Snapshot, expected, phaseElapsed time.Duration, now time.Time) float64 {
	per := expected / time.Duration(len(snap.Nodes))
	if per < time.Second {
		per = time.Second
	}
	end := now
	if !snap.ServerTime.IsZero() {
		end = snap.ServerTime
	}
	var sum float64
	for _, n := range snap.Nodes {
		elapsed := phaseElapsed
		if !n.StartedAt.IsZero() {
			stop := end
			if !n.EndedAt.IsZero() {
				stop = n.EndedAt
			}
			elapsed = stop.Sub(n.StartedAt)
		}
		sum += LocalProgress(n.Status, elapsed, per)
	}
	return sum / float64(len(snap.Nodes))
}

func ratioPercent(elapsed, expected time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	if expected <= 0 {
		return 100
	}
	return math.Round(float64(elapsed) / float64(expected) * 100)
}

func clamp(lo, v, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
