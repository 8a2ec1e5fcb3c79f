package simulated

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dvtrack/internal/backend"
	"dvtrack/internal/progress"
)

type clock struct{ now time.Time }

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestReportJobAdvances(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	b := New(progress.KindReport, WithClock(clk.Now))

	sub, err := b.Submit(ctx, "s1")
	require.NoError(t, err)
	require.NotEmpty(t, sub.ExecutionID)

	snap, err := b.PollStatus(ctx, "s1", sub.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "queued", snap.PhaseName)
	assert.True(t, snap.Queued)
	require.NotNil(t, snap.RawProgress)
	assert.Equal(t, 0.0, *snap.RawProgress)

	clk.Advance(10 * time.Second)
	snap, err = b.PollStatus(ctx, "s1", sub.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "generating", snap.PhaseName)
	assert.Equal(t, 2, snap.PhaseIndex)
	assert.Equal(t, 20.0, *snap.RawProgress)

	again, err := b.Submit(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sub.ExecutionID, again.ExecutionID, "a running job is joined")

	clk.Advance(2 * time.Minute)
	snap, err = b.PollStatus(ctx, "s1", sub.ExecutionID)
	require.NoError(t, err)
	assert.True(t, snap.Terminal())
	assert.Equal(t, "sim://report/s1-report.md", snap.TerminalURL)

	rec, err := b.RecoveryStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, backend.RecoveryDone, rec.Kind)
	require.NotNil(t, rec.Artifact)
	assert.Equal(t, "s1-report.md", rec.Artifact.Name)

	next, err := b.Submit(ctx, "s1")
	require.NoError(t, err)
	assert.NotEqual(t, sub.ExecutionID, next.ExecutionID, "finished jobs are not joined")
}

func TestPresentationNodes(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	b := New(progress.KindPresentation, WithClock(clk.Now), WithSpeed(2))

	sub, err := b.Submit(ctx, "r.md")
	require.NoError(t, err)

	// uploading takes 10s of job time, 5s of wall time at speed 2; the first
	// node of executing covers the next 30s.
	clk.Advance(5*time.Second + 40*time.Second)
	snap, err := b.PollStatus(ctx, "r.md", sub.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "executing", snap.PhaseName)
	assert.Nil(t, snap.RawProgress)
	require.Len(t, snap.Nodes, 3)
	assert.Equal(t, progress.PhaseFinished, snap.Nodes[0].Status)
	assert.Equal(t, progress.PhaseRunning, snap.Nodes[1].Status)
	assert.Equal(t, progress.PhasePending, snap.Nodes[2].Status)
	assert.False(t, snap.Nodes[0].EndedAt.IsZero())
	assert.True(t, snap.Nodes[2].StartedAt.IsZero())

	rec, err := b.RecoveryStatus(ctx, "r.md")
	require.NoError(t, err)
	assert.Equal(t, backend.RecoveryInFlight, rec.Kind)
	assert.Equal(t, sub.ExecutionID, rec.ExecutionID)
}

func TestAbortStopsJob(t *testing.T) {
	ctx := context.Background()
	b := New(progress.KindPresentation, WithClock(newClock().Now))

	sub, err := b.Submit(ctx, "r.md")
	require.NoError(t, err)
	require.NoError(t, b.Abort(ctx, "r.md", "unknown"))

	snap, err := b.PollStatus(ctx, "r.md", sub.ExecutionID)
	require.NoError(t, err)
	assert.False(t, snap.Stopped)

	require.NoError(t, b.Abort(ctx, "r.md", sub.ExecutionID))
	snap, err = b.PollStatus(ctx, "r.md", sub.ExecutionID)
	require.NoError(t, err)
	assert.True(t, snap.Stopped)

	rec, err := b.RecoveryStatus(ctx, "r.md")
	require.NoError(t, err)
	assert.Equal(t, backend.RecoveryIdle, rec.Kind)
}

func TestFailure(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	b := New(progress.KindReport, WithClock(clk.Now), WithFailure("fallback"))

	sub, err := b.Submit(ctx, "s1")
	require.NoError(t, err)

	_, err = b.PollStatus(ctx, "s1", sub.ExecutionID)
	require.NoError(t, err)

	clk.Advance(96 * time.Second)
	_, err = b.PollStatus(ctx, "s1", sub.ExecutionID)
	var je *backend.JobError
	require.True(t, errors.As(err, &je))
	assert.Contains(t, je.Message, "fallback")

	rec, err := b.RecoveryStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, backend.RecoveryFailed, rec.Kind)
}

func TestMismatchAndLatency(t *testing.T) {
	b := New(progress.KindReport, WithLatency(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := b.Submit(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	fast := New(progress.KindReport)
	_, err = fast.PollStatus(context.Background(), "s1", "nope")
	assert.ErrorIs(t, err, backend.ErrMismatch)
	_, err = fast.Submit(context.Background(), "")
	assert.Error(t, err)
}
