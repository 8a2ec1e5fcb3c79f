package tracker

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"dvtrack/internal/backend"
	"dvtrack/internal/estimate"
	"dvtrack/internal/phase"
	"dvtrack/internal/progress"
)

func (t *Tracker) onPollTick(msg pollTickMsg) tea.Cmd {
	if msg.tag != t.pollTag || t.state.Lifecycle != progress.LifecycleRunning {
		return nil
	}
	if !t.corr.NextAttempt() {
		t.exhausted()
		return nil
	}
	h, _ := t.corr.Live()
	b, id, ctx := t.backend, t.id, t.jobCtx
	return func() tea.Msg {
		snap, err := b.PollStatus(ctx, h.ResourceID, h.ExecutionID)
		return pollResultMsg{tracker: id, resourceID: h.ResourceID, executionID: h.ExecutionID, snap: snap, err: err}
	}
}

func (t *Tracker) onPollResult(msg pollResultMsg) tea.Cmd {
	if t.state.Lifecycle != progress.LifecycleRunning || !t.corr.Accept(msg.resourceID, msg.executionID) {
		t.logger.Debug("tracker.poll.discarded", "resource", msg.resourceID, "execution_id", msg.executionID)
		return nil
	}

	if msg.err != nil {
		var jobErr *backend.JobError
		if errors.As(msg.err, &jobErr) || errors.Is(msg.err, backend.ErrMismatch) {
			return t.fail(fmt.Errorf("%w: %w", ErrJobFailed, msg.err), progress.NoticeJobFailed)
		}
		t.logger.Debug("tracker.poll.failed", "execution_id", msg.executionID,
			"attempt", t.corr.Attempts(), "error", fmt.Errorf("%w: %w", ErrPollFailed, msg.err))
		return t.nextPoll()
	}

	snap := msg.snap
	if snap.Stopped {
		msgText := snap.Message
		if msgText == "" {
			msgText = "Stopped on the server"
		}
		return t.stoppedRemotely(msgText)
	}

	t.apply(snap)
	if snap.Terminal() {
		return t.succeed(artifactFrom(snap))
	}
	t.publish()
	return t.nextPoll()
}

// apply feeds a snapshot through the estimator and retargets the smoother.
// It always runs before the next smoothing tick.
func (t *Tracker) apply(snap progress.Snapshot) {
	now := t.now()
	est := estimate.Compute(estimate.Input{
		Snapshot: snap,
		Previous: t.best,
		Profiles: t.profiles,
		Now:      now,
	})
	t.best = est
	t.smoother.Retarget(est, now)

	t.state.PhaseIndex = est.PhaseIndex
	t.state.PhaseName = phase.Name(t.profiles, est.PhaseIndex)
	t.state.PhaseStatus = est.PhaseStatus
	if snap.Message != "" {
		t.state.Message = snap.Message
	}
	t.logger.Debug("tracker.poll.applied", "execution_id", t.state.ExecutionID,
		"phase", t.state.PhaseName, "estimate", est.Percent, "displayed", t.state.Displayed)
}

func (t *Tracker) nextPoll() tea.Cmd {
	if t.corr.Exhausted() {
		t.exhausted()
		return nil
	}
	return t.schedulePoll()
}

// exhausted stops watching without failing the job: the displayed value
// freezes and the notice is raised once per job.
func (t *Tracker) exhausted() {
	t.tickTag++
	if !t.corr.MarkNotified() {
		return
	}
	t.logger.Info("tracker.poll.exhausted", "execution_id", t.state.ExecutionID, "attempts", t.corr.Attempts())
	t.notify(progress.NoticeStillProcessing, ErrPollExhausted.Error())
	t.publish()
}
