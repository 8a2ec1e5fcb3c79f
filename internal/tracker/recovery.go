package tracker

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"dvtrack/internal/backend"
	"dvtrack/internal/estimate"
	"dvtrack/internal/phase"
	"dvtrack/internal/progress"
)

// Resume rebuilds the state of resourceID from a single backend query. It is
// called whenever a detail view for the resource becomes active. Resuming the
// resource that is already being tracked is a no-op, unless polling gave up on
// it, in which case polling restarts with a fresh budget.
func (t *Tracker) Resume(resourceID string) tea.Cmd {
	if t.backend == nil {
		return nil
	}
	if t.state.Lifecycle.Active() {
		if t.state.ResourceID == resourceID {
			if t.corr.Exhausted() {
				return t.rewatch()
			}
			return nil
		}
		t.supersede()
	}
	t.recoverAttempt++
	attempt := t.recoverAttempt
	ctx := t.newJobContext()
	b, id := t.backend, t.id
	t.logger.Debug("tracker.recovery.query", "resource", resourceID)
	return func() tea.Msg {
		rec, err := b.RecoveryStatus(ctx, resourceID)
		return recoveryResultMsg{tracker: id, attempt: attempt, resourceID: resourceID, rec: rec, err: err}
	}
}

func (t *Tracker) onRecoveryResult(msg recoveryResultMsg) tea.Cmd {
	if msg.attempt != t.recoverAttempt || t.state.Lifecycle.Active() {
		t.logger.Debug("tracker.recovery.discarded", "resource", msg.resourceID)
		return nil
	}
	if msg.err != nil {
		t.logger.Warn("tracker.recovery.failed", "resource", msg.resourceID, "error", msg.err)
		return nil
	}

	rec := msg.rec
	t.logger.Info("tracker.recovery", "resource", msg.resourceID, "result", rec.Kind, "execution_id", rec.ExecutionID)

	switch rec.Kind {
	case backend.RecoveryInFlight:
		return t.reattach(msg.resourceID, rec)

	case backend.RecoveryDone:
		t.state.ResourceID = msg.resourceID
		t.state.ExecutionID = ""
		t.state.Notice = nil
		a := progress.Artifact{}
		if rec.Artifact != nil {
			a = *rec.Artifact
		}
		return t.succeed(a)

	case backend.RecoveryFailed:
		t.state = progress.State{Kind: t.kind, ResourceID: msg.resourceID, Lifecycle: t.state.Lifecycle}
		t.smoother.Clear()
		return t.fail(fmt.Errorf("%w: %w", ErrJobFailed, &backend.JobError{Message: rec.Message}), progress.NoticeJobFailed)

	default:
		if !t.transition(progress.LifecycleIdle) {
			return nil
		}
		t.smoother.Clear()
		t.state = progress.State{Kind: t.kind, ResourceID: msg.resourceID, Lifecycle: progress.LifecycleIdle}
		t.publish()
		return nil
	}
}

func (t *Tracker) rewatch() tea.Cmd {
	live, _ := t.corr.Live()
	t.corr.Attach(live)
	if t.state.Notice != nil && t.state.Notice.Kind == progress.NoticeStillProcessing {
		t.state.Notice = nil
	}
	t.logger.Info("tracker.poll.rewatch", "execution_id", live.ExecutionID)
	t.publish()
	t.tickTag++
	return tea.Batch(t.scheduleTick(), t.schedulePoll())
}

// reattach resumes watching an in-flight job with progress seeded from the
// estimator rather than from the job floor.
func (t *Tracker) reattach(resourceID string, rec backend.Recovery) tea.Cmd {
	if !t.transition(progress.LifecycleRunning) {
		return nil
	}
	now := t.now()
	h := progress.JobHandle{ResourceID: resourceID, ExecutionID: rec.ExecutionID, Kind: t.kind, StartedAt: now}
	t.corr.Attach(h)
	t.lastErr = nil

	est := estimate.Compute(estimate.Input{
		Snapshot: rec.Snapshot,
		Previous: estimate.Estimate{PhaseStartedAt: now},
		Profiles: t.profiles,
		Now:      now,
	})
	t.best = est
	t.smoother.Reset(est.Percent, est.PhaseIndex, now)
	t.smoother.Retarget(est, now)

	t.tickTag++
	t.state = progress.State{
		Kind:        t.kind,
		ResourceID:  resourceID,
		ExecutionID: h.ExecutionID,
		Lifecycle:   progress.LifecycleRunning,
		Displayed:   t.smoother.Displayed(),
		PhaseIndex:  est.PhaseIndex,
		PhaseName:   phase.Name(t.profiles, est.PhaseIndex),
		PhaseStatus: est.PhaseStatus,
		Message:     rec.Snapshot.Message,
	}
	t.publish()

	if rec.Snapshot.Terminal() {
		return t.succeed(artifactFrom(rec.Snapshot))
	}
	return tea.Batch(t.scheduleTick(), t.schedulePoll())
}
