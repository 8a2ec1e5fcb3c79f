// Package simulated provides an in-memory backend whose jobs advance with the
// clock. It drives the demo command and UI tests without a server.
package simulated

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dvtrack/internal/backend"
	"dvtrack/internal/phase"
	"dvtrack/internal/progress"
)

// workflowNodes are the sub-steps reported while a presentation executes.
var workflowNodes = []string{"outline", "draft slides", "render deck"}

type job struct {
	id       string
	resource string
	started  time.Time
	stopped  bool
}

// Backend simulates one job kind. It is safe for concurrent use.
type Backend struct {
	kind     progress.Kind
	profiles []phase.Profile
	now      func() time.Time
	speed    float64
	latency  time.Duration
	failAt   string

	mu   sync.Mutex
	jobs map[string]*job // by resource
}

var _ backend.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithSpeed scales how fast jobs advance. 2 runs jobs twice as fast as the
// expected phase durations.
func WithSpeed(speed float64) Option {
	return func(b *Backend) {
		if speed > 0 {
			b.speed = speed
		}
	}
}

// WithLatency delays every call by d.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// WithFailure makes jobs fail once they reach the named phase.
func WithFailure(phaseName string) Option {
	return func(b *Backend) { b.failAt = phaseName }
}

// New returns a simulated backend for kind.
func New(kind progress.Kind, opts ...Option) *Backend {
	b := &Backend{
		kind:     kind,
		profiles: phase.For(kind),
		now:      time.Now,
		speed:    1,
		jobs:     make(map[string]*job),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Submit starts a job, or joins the one still running for resourceID.
func (b *Backend) Submit(ctx context.Context, resourceID string) (backend.Submission, error) {
	if err := b.wait(ctx); err != nil {
		return backend.Submission{}, err
	}
	if resourceID == "" {
		return backend.Submission{}, fmt.Errorf("resource id is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.jobs[resourceID]; ok && !j.stopped {
		if _, done := b.progressOf(j); !done {
			return backend.Submission{ExecutionID: j.id}, nil
		}
	}
	j := &job{id: uuid.NewString(), resource: resourceID, started: b.now()}
	b.jobs[resourceID] = j
	return backend.Submission{ExecutionID: j.id}, nil
}

// PollStatus reports where the execution stands at the current clock.
func (b *Backend) PollStatus(ctx context.Context, resourceID, executionID string) (progress.Snapshot, error) {
	if err := b.wait(ctx); err != nil {
		return progress.Snapshot{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[resourceID]
	if !ok || j.id != executionID {
		return progress.Snapshot{}, fmt.Errorf("%w: %s", backend.ErrMismatch, executionID)
	}
	if j.stopped {
		return progress.Snapshot{PhaseIndex: -1, Stopped: true, Message: "stopped"}, nil
	}
	return b.snapshot(j)
}

// RecoveryStatus reports the latest job of resourceID.
func (b *Backend) RecoveryStatus(ctx context.Context, resourceID string) (backend.Recovery, error) {
	if err := b.wait(ctx); err != nil {
		return backend.Recovery{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[resourceID]
	if !ok || j.stopped {
		return backend.Recovery{Kind: backend.RecoveryIdle}, nil
	}
	snap, err := b.snapshot(j)
	switch {
	case err != nil:
		return backend.Recovery{Kind: backend.RecoveryFailed, Message: err.Error()}, nil
	case snap.Terminal():
		return backend.Recovery{Kind: backend.RecoveryDone, Artifact: &progress.Artifact{URL: snap.TerminalURL, Name: snap.Message}}, nil
	default:
		return backend.Recovery{Kind: backend.RecoveryInFlight, ExecutionID: j.id, Snapshot: snap}, nil
	}
}

// Abort stops the execution if it is still the latest one for resourceID.
func (b *Backend) Abort(ctx context.Context, resourceID, executionID string) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.jobs[resourceID]; ok && j.id == executionID {
		j.stopped = true
	}
	return nil
}

// progressOf returns the phase index reached by j and whether every phase is
// over.
func (b *Backend) progressOf(j *job) (int, bool) {
	elapsed := time.Duration(float64(b.now().Sub(j.started)) * b.speed)
	for i, p := range b.profiles {
		if elapsed < p.Expected {
			return i, false
		}
		elapsed -= p.Expected
	}
	return phase.Last(b.profiles), true
}

func (b *Backend) snapshot(j *job) (progress.Snapshot, error) {
	idx, done := b.progressOf(j)
	name := phase.Name(b.profiles, idx)
	if b.failAt != "" {
		if at, ok := phase.Index(b.profiles, b.failAt); ok && idx >= at {
			return progress.Snapshot{}, &backend.JobError{Message: fmt.Sprintf("simulated failure in %s", b.failAt)}
		}
	}
	if done {
		artifact := b.artifactName(j.resource)
		return progress.Snapshot{
			PhaseIndex:  -1,
			TerminalURL: fmt.Sprintf("sim://%s/%s", b.kind, artifact),
			Message:     artifact,
		}, nil
	}

	snap := progress.Snapshot{
		PhaseName:   name,
		PhaseIndex:  idx,
		PhaseStatus: progress.PhaseRunning,
		ServerTime:  b.now(),
		Queued:      idx == 0 && b.kind == progress.KindReport,
		Message:     name,
	}
	if b.kind == progress.KindReport {
		// The report server publishes the cumulative stage progress.
		raw := phase.Base(b.profiles, idx)
		snap.RawProgress = &raw
	}
	if b.kind == progress.KindPresentation && name == "executing" {
		snap.Nodes = b.nodes(j, idx)
	}
	return snap, nil
}

// artifactName mirrors the server: reports are markdown files named after the
// session and decks are PDFs named after their report.
func (b *Backend) artifactName(resource string) string {
	if b.kind == progress.KindPresentation {
		return strings.TrimSuffix(resource, ".md") + ".pdf"
	}
	return resource + "-report.md"
}

// nodes splits the executing phase evenly across the workflow nodes.
func (b *Backend) nodes(j *job, idx int) []progress.NodeStatus {
	phaseStart := j.started.Add(time.Duration(float64(sumExpected(b.profiles, idx)) / b.speed))
	per := time.Duration(float64(phase.Expected(b.profiles, idx)) / b.speed / float64(len(workflowNodes)))
	now := b.now()

	out := make([]progress.NodeStatus, len(workflowNodes))
	for i, name := range workflowNodes {
		start := phaseStart.Add(time.Duration(i) * per)
		end := start.Add(per)
		n := progress.NodeStatus{Name: name, Status: progress.PhasePending}
		switch {
		case !now.Before(end):
			n.Status, n.StartedAt, n.EndedAt = progress.PhaseFinished, start, end
		case !now.Before(start):
			n.Status, n.StartedAt = progress.PhaseRunning, start
		}
		out[i] = n
	}
	return out
}

func sumExpected(profiles []phase.Profile, n int) time.Duration {
	var d time.Duration
	for i := 0; i < n && i < len(profiles); i++ {
		d += profiles[i].Expected
	}
	return d
}

func (b *Backend) wait(ctx context.Context) error {
	if b.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(b.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
