package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dvtrack/internal/progress"
)

func TestDefaultCadence(t *testing.T) {
	rep := DefaultCadence(progress.KindReport)
	pres := DefaultCadence(progress.KindPresentation)

	assert.Less(t, rep.Interval, pres.Interval, "reports poll faster")
	assert.Equal(t, 6*time.Second, pres.Interval)
	assert.Equal(t, 200, pres.Budget)
	assert.Equal(t, 20*time.Minute, time.Duration(rep.Budget)*rep.Interval)
	assert.Equal(t, 20*time.Minute, time.Duration(pres.Budget)*pres.Interval)
}

func TestAccept(t *testing.T) {
	c := New(Cadence{Interval: time.Second, Budget: 3})
	assert.False(t, c.Accept("r1", "E1"), "nothing live")

	c.Attach(progress.JobHandle{ResourceID: "r1", ExecutionID: "E1"})
	assert.True(t, c.Accept("r1", "E1"))
	assert.False(t, c.Accept("r1", "E0"))
	assert.False(t, c.Accept("r2", "E1"))

	c.Attach(progress.JobHandle{ResourceID: "r1", ExecutionID: "E2"})
	assert.False(t, c.Accept("r1", "E1"), "superseded execution")
	assert.True(t, c.Accept("r1", "E2"))

	c.Detach()
	assert.False(t, c.Accept("r1", "E2"))
	_, ok := c.Live()
	assert.False(t, ok)
}

func TestBudget(t *testing.T) {
	c := New(Cadence{Interval: time.Second, Budget: 2})
	assert.False(t, c.NextAttempt(), "no live job")

	c.Attach(progress.JobHandle{ResourceID: "r", ExecutionID: "E"})
	assert.True(t, c.NextAttempt())
	assert.False(t, c.Exhausted())
	assert.True(t, c.NextAttempt())
	assert.True(t, c.Exhausted())
	assert.False(t, c.NextAttempt())
	assert.Equal(t, 2, c.Attempts())

	// Reattaching grants a fresh budget.
	c.Attach(progress.JobHandle{ResourceID: "r", ExecutionID: "E"})
	assert.False(t, c.Exhausted())
	assert.True(t, c.NextAttempt())
}

func TestMarkNotified_OncePerJob(t *testing.T) {
	c := New(Cadence{Interval: time.Second, Budget: 1})
	assert.False(t, c.MarkNotified())

	c.Attach(progress.JobHandle{ResourceID: "r", ExecutionID: "E"})
	assert.True(t, c.MarkNotified())
	assert.False(t, c.MarkNotified())

	c.Attach(progress.JobHandle{ResourceID: "r", ExecutionID: "F"})
	assert.True(t, c.MarkNotified())
}

func TestNew_ZeroBudget(t *testing.T) {
	c := New(Cadence{})
	assert.Equal(t, 1, c.Budget())
}
