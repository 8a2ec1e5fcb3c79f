package estimate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dvtrack/internal/phase"
	"dvtrack/internal/progress"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func report() []phase.Profile       { return phase.For(progress.KindReport) }
func presentation() []phase.Profile { return phase.For(progress.KindPresentation) }

func TestLocalProgress(t *testing.T) {
	tests := []struct {
		name     string
		status   progress.PhaseStatus
		elapsed  time.Duration
		expected time.Duration
		want     float64
	}{
		{name: "pending", status: progress.PhasePending, elapsed: time.Hour, expected: time.Second, want: 0},
		{name: "finished", status: progress.PhaseFinished, want: 100},
		{name: "running just started", status: progress.PhaseRunning, elapsed: 0, expected: 10 * time.Second, want: 12},
		{name: "running midway", status: progress.PhaseRunning, elapsed: 5 * time.Second, expected: 10 * time.Second, want: 50},
		{name: "running overdue", status: progress.PhaseRunning, elapsed: time.Minute, expected: 10 * time.Second, want: 92},
		{name: "failed early", status: progress.PhaseFailed, elapsed: time.Second, expected: 10 * time.Second, want: 25},
		{name: "failed late", status: progress.PhaseFailed, elapsed: time.Minute, expected: 10 * time.Second, want: 96},
		{name: "zero expected", status: progress.PhaseRunning, elapsed: time.Second, want: 92},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LocalProgress(tt.status, tt.elapsed, tt.expected))
		})
	}
}

func TestCompute_GeneratingWithRawProgress(t *testing.T) {
	got := Compute(Input{
		Snapshot: progress.Snapshot{PhaseName: "generating", PhaseIndex: -1, RawProgress: progress.Raw(40), PhaseStatus: progress.PhaseRunning},
		Profiles: report(),
		Now:      t0,
	})
	// computed = 5 + 15 + 45*0.12 = 25.4, raw wins.
	assert.Equal(t, 40.0, got.Percent)
	assert.Equal(t, 2, got.PhaseIndex)
	assert.Equal(t, progress.PhaseRunning, got.PhaseStatus)
	assert.Equal(t, t0, got.PhaseStartedAt)
}

func TestCompute_ElapsedAdvancesWithinPhase(t *testing.T) {
	snap := progress.Snapshot{PhaseName: "generating", PhaseIndex: -1}
	first := Compute(Input{Snapshot: snap, Profiles: report(), Now: t0})
	assert.InDelta(t, 25.4, first.Percent, 1e-9)

	later := Compute(Input{Snapshot: snap, Previous: first, Profiles: report(), Now: t0.Add(45 * time.Second)})
	assert.InDelta(t, 20+45*0.5, later.Percent, 1e-9)
	assert.Equal(t, first.PhaseStartedAt, later.PhaseStartedAt)
}

func TestCompute_ExplicitIndexWins(t *testing.T) {
	got := Compute(Input{
		Snapshot: progress.Snapshot{PhaseName: "queued", PhaseIndex: 4},
		Profiles: report(),
		Now:      t0,
	})
	assert.Equal(t, 4, got.PhaseIndex)
}

func TestCompute_NeverRegressesPhase(t *testing.T) {
	prev := Estimate{Percent: 70, PhaseIndex: 3, PhaseStatus: progress.PhaseRunning, PhaseStartedAt: t0}
	got := Compute(Input{
		Snapshot: progress.Snapshot{PhaseName: "building_prompt", PhaseIndex: -1, PhaseStatus: progress.PhaseFinished},
		Previous: prev,
		Profiles: report(),
		Now:      t0.Add(time.Second),
	})
	assert.Equal(t, 3, got.PhaseIndex)
	assert.Equal(t, progress.PhaseRunning, got.PhaseStatus)
	assert.GreaterOrEqual(t, got.Percent, prev.Percent)
}

func TestCompute_UnknownPhaseKeepsPrevious(t *testing.T) {
	prev := Estimate{Percent: 30, PhaseIndex: 1, PhaseStatus: progress.PhaseRunning, PhaseStartedAt: t0}
	got := Compute(Input{
		Snapshot: progress.Snapshot{PhaseName: "reticulating", PhaseIndex: -1},
		Previous: prev,
		Profiles: report(),
		Now:      t0.Add(time.Second),
	})
	assert.Equal(t, 1, got.PhaseIndex)
	assert.Equal(t, 30.0, got.Percent)
}

func TestCompute_FloorsAndCaps(t *testing.T) {
	t.Run("fresh floor", func(t *testing.T) {
		got := Compute(Input{Snapshot: progress.Snapshot{PhaseIndex: 0, PhaseStatus: progress.PhasePending}, Profiles: report(), Now: t0})
		assert.Equal(t, JobFloor, got.Percent)
	})
	t.Run("queued cap", func(t *testing.T) {
		got := Compute(Input{
			Snapshot: progress.Snapshot{PhaseIndex: 0, Queued: true, RawProgress: progress.Raw(60)},
			Profiles: report(),
			Now:      t0,
		})
		assert.Equal(t, QueuedCap, got.Percent)
		assert.Less(t, got.Percent, 12.0)
	})
	t.Run("queued never below previous", func(t *testing.T) {
		got := Compute(Input{
			Snapshot: progress.Snapshot{PhaseIndex: 0, Queued: true},
			Previous: Estimate{Percent: 30, PhaseIndex: 1, PhaseStartedAt: t0},
			Profiles: report(),
			Now:      t0,
		})
		assert.Equal(t, 30.0, got.Percent)
	})
	t.Run("non-terminal capped at 99", func(t *testing.T) {
		got := Compute(Input{
			Snapshot: progress.Snapshot{PhaseName: "completed", PhaseIndex: -1, RawProgress: progress.Raw(100), PhaseStatus: progress.PhaseFinished},
			Profiles: report(),
			Now:      t0,
		})
		assert.Equal(t, PendingCap, got.Percent)
	})
	t.Run("finished previous is kept", func(t *testing.T) {
		prev := Compute(Input{Snapshot: progress.Snapshot{PhaseIndex: -1, TerminalURL: "report.md"}, Profiles: report(), Now: t0})
		got := Compute(Input{
			Snapshot: progress.Snapshot{PhaseName: "generating", PhaseIndex: -1, RawProgress: progress.Raw(40)},
			Previous: prev,
			Profiles: report(),
			Now:      t0.Add(time.Second),
		})
		assert.Equal(t, 100.0, got.Percent)
		assert.Equal(t, prev.PhaseIndex, got.PhaseIndex)
	})
	t.Run("terminal forces 100 and last phase", func(t *testing.T) {
		got := Compute(Input{
			Snapshot: progress.Snapshot{PhaseIndex: 0, TerminalURL: "/reports/x.pdf"},
			Profiles: presentation(),
			Now:      t0,
		})
		assert.Equal(t, 100.0, got.Percent)
		assert.Equal(t, 3, got.PhaseIndex)
		assert.Equal(t, progress.PhaseFinished, got.PhaseStatus)
	})
}

func TestCompute_Nodes(t *testing.T) {
	// Two nodes share the 180s executing budget: 90s each.
	snap := progress.Snapshot{
		PhaseName:  "executing",
		PhaseIndex: -1,
		ServerTime: t0.Add(45 * time.Second),
		Nodes: []progress.NodeStatus{
			{Name: "outline", Status: progress.PhaseFinished, StartedAt: t0, EndedAt: t0.Add(30 * time.Second)},
			{Name: "slides", Status: progress.PhaseRunning, StartedAt: t0.Add(30 * time.Second)},
		},
	}
	got := Compute(Input{Snapshot: snap, Profiles: presentation(), Now: t0.Add(time.Hour)})
	// slides: 15s of 90s = 17%; mean(100, 17) = 58.5; 10 + 70*0.585 = 50.95
	assert.InDelta(t, 50.95, got.Percent, 1e-9)
	assert.Equal(t, 1, got.PhaseIndex)
}

func TestCompute_Monotonic(t *testing.T) {
	snaps := []progress.Snapshot{
		{PhaseIndex: 0, Queued: true},
		{PhaseName: "building_prompt", PhaseIndex: -1, RawProgress: progress.Raw(20)},
		{PhaseName: "generating", PhaseIndex: -1, RawProgress: progress.Raw(65)},
		{PhaseName: "queued", PhaseIndex: -1, RawProgress: progress.Raw(5)}, // stale, out of order
		{PhaseName: "generating", PhaseIndex: -1},
		{PhaseName: "bogus", PhaseIndex: 42, RawProgress: progress.Raw(-10)},
		{PhaseName: "saving", PhaseIndex: -1, RawProgress: progress.Raw(90), PhaseStatus: progress.PhaseFailed},
		{PhaseName: "generating", PhaseIndex: -1, Queued: true},
		{PhaseName: "completed", PhaseIndex: -1, TerminalURL: "report.md"},
	}
	var prev Estimate
	now := t0
	for i, s := range snaps {
		now = now.Add(2 * time.Second)
		got := Compute(Input{Snapshot: s, Previous: prev, Profiles: report(), Now: now})
		require.GreaterOrEqual(t, got.Percent, prev.Percent, "step %d regressed", i)
		require.GreaterOrEqual(t, got.PhaseIndex, prev.PhaseIndex, "step %d regressed phase", i)
		if i < len(snaps)-1 {
			require.LessOrEqual(t, got.Percent, PendingCap, "step %d", i)
		}
		prev = got
	}
	assert.Equal(t, 100.0, prev.Percent)

	late := Compute(Input{
		Snapshot: progress.Snapshot{PhaseName: "saving", PhaseIndex: -1},
		Previous: prev,
		Profiles: report(),
		Now:      now.Add(2 * time.Second),
	})
	assert.Equal(t, prev, late, "a stale snapshot after completion changes nothing")
}

func TestCompute_Deterministic(t *testing.T) {
	in := Input{
		Snapshot: progress.Snapshot{PhaseName: "exporting", PhaseIndex: -1, RawProgress: progress.Raw(81)},
		Previous: Estimate{Percent: 60, PhaseIndex: 1, PhaseStartedAt: t0},
		Profiles: presentation(),
		Now:      t0.Add(10 * time.Second),
	}
	assert.Equal(t, Compute(in), Compute(in))
}
