// Package poller correlates backend status responses with the live job and
// enforces the bounded polling budget.
package poller

import (
	"time"

	"dvtrack/internal/progress"
)

// Cadence is the polling interval and attempt budget of one job kind.
type Cadence struct {
	Interval time.Duration
	Budget   int
}

// DefaultCadence returns the built-in cadence for kind. Both kinds give up
// after roughly twenty minutes.
func DefaultCadence(kind progress.Kind) Cadence {
	switch kind {
	case progress.KindReport:
		return Cadence{Interval: 2 * time.Second, Budget: 600}
	default:
		return Cadence{Interval: 6 * time.Second, Budget: 200}
	}
}

// Correlator tracks the live (resource, execution) pair of a tracker. It is not
// safe for concurrent use; trackers drive it from their update loop.
type Correlator struct {
	cadence  Cadence
	live     *progress.JobHandle
	attempts int
	notified bool
}

// New returns a Correlator with no live job.
func New(c Cadence) *Correlator {
	if c.Budget <= 0 {
		c.Budget = 1
	}
	return &Correlator{cadence: c}
}

// Attach makes h the live job and resets the attempt budget.
func (c *Correlator) Attach(h progress.JobHandle) {
	c.live = &h
	c.attempts = 0
	c.notified = false
}

// Detach forgets the live job. Every later response is rejected.
func (c *Correlator) Detach() {
	c.live = nil
	c.attempts = 0
	c.notified = false
}

// Live returns the live job handle, if any.
func (c *Correlator) Live() (progress.JobHandle, bool) {
	if c.live == nil {
		return progress.JobHandle{}, false
	}
	return *c.live, true
}

// Accept reports whether a response for (resourceID, executionID) belongs to
// the live job.
func (c *Correlator) Accept(resourceID, executionID string) bool {
	return c.live != nil &&
		c.live.ResourceID == resourceID &&
		c.live.ExecutionID == executionID
}

// NextAttempt consumes one attempt. It returns false once the budget is spent.
func (c *Correlator) NextAttempt() bool {
	if c.live == nil || c.attempts >= c.cadence.Budget {
		return false
	}
	c.attempts++
	return true
}

// Attempts returns how many polls have been issued for the live job.
func (c *Correlator) Attempts() int { return c.attempts }

// Exhausted reports whether the live job has used its whole budget.
func (c *Correlator) Exhausted() bool {
	return c.live != nil && c.attempts >= c.cadence.Budget
}

// MarkNotified returns true the first time it is called for the live job.
func (c *Correlator) MarkNotified() bool {
	if c.live == nil || c.notified {
		return false
	}
	c.notified = true
	return true
}

// Interval returns the delay between polls.
func (c *Correlator) Interval() time.Duration { return c.cadence.Interval }

// Budget returns the attempt budget per job.
func (c *Correlator) Budget() int { return c.cadence.Budget }
