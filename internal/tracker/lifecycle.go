package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"

	tea "github.com/charmbracelet/bubbletea"

	"dvtrack/internal/estimate"
	"dvtrack/internal/phase"
	"dvtrack/internal/progress"
)

// Start submits a new job for resourceID. It is a no-op while a job for the
// same resource is submitting or running. An active job for another resource
// is detached first; its backend work is left alone.
func (t *Tracker) Start(resourceID string) tea.Cmd {
	if t.backend == nil {
		t.logger.Error("tracker.start.no_backend", "resource", resourceID)
		return nil
	}
	if t.state.Lifecycle.Active() {
		if t.state.ResourceID == resourceID {
			t.logger.Debug("tracker.start.ignored", "resource", resourceID, "lifecycle", t.state.Lifecycle)
			return nil
		}
		t.supersede()
	}
	if !t.transition(progress.LifecycleSubmitting) {
		return nil
	}

	t.attempt++
	t.recoverAttempt++
	t.tickTag++
	t.pollTag++
	t.holdTag++
	t.newJobContext()
	t.corr.Detach()
	t.lastAborted = progress.JobHandle{}
	t.lastErr = nil

	now := t.now()
	t.best = estimate.Estimate{
		Percent:        estimate.JobFloor,
		PhaseIndex:     0,
		PhaseStatus:    progress.PhasePending,
		PhaseStartedAt: now,
	}
	t.smoother.Reset(estimate.JobFloor, 0, now)
	t.state = progress.State{
		Kind:        t.kind,
		ResourceID:  resourceID,
		Lifecycle:   progress.LifecycleSubmitting,
		Displayed:   t.smoother.Displayed(),
		PhaseIndex:  0,
		PhaseName:   phase.Name(t.profiles, 0),
		PhaseStatus: progress.PhasePending,
	}
	t.logger.Info("tracker.start", "resource", resourceID, "attempt", t.attempt)
	t.publish()

	return tea.Batch(t.scheduleTick(), t.submitCmd(t.submitCtx, resourceID, t.attempt))
}

// Cancel stops the active job: timers stop, progress drops to zero and an
// abort is sent in the background. In the stopped state Cancel resends the
// abort. Other states ignore it.
func (t *Tracker) Cancel() tea.Cmd {
	switch t.state.Lifecycle {
	case progress.LifecycleSubmitting, progress.LifecycleRunning:
		live, hasLive, ok := t.stopLocally()
		if !ok {
			return nil
		}
		cmds := []tea.Cmd{t.scheduleHold(t.cfg.HoldStopped)}
		if hasLive {
			t.lastAborted = live
			cmds = append(cmds, t.abortCmd(live.ResourceID, live.ExecutionID))
		}
		return tea.Batch(cmds...)

	case progress.LifecycleStopped:
		if t.lastAborted.ExecutionID == "" {
			return nil
		}
		t.logger.Debug("tracker.cancel.resend", "execution_id", t.lastAborted.ExecutionID)
		return t.abortCmd(t.lastAborted.ResourceID, t.lastAborted.ExecutionID)
	}
	return nil
}

// Shutdown stops an active job outside the program loop and waits for the
// abort to reach the backend. Used on process exit, when no further messages
// will be delivered.
func (t *Tracker) Shutdown(ctx context.Context) error {
	if !t.state.Lifecycle.Active() {
		return nil
	}
	t.dropSubmissions()
	live, hasLive, ok := t.stopLocally()
	if !ok || !hasLive {
		return nil
	}
	t.lastAborted = live
	ctx, cancel := context.WithTimeout(ctx, t.cfg.AbortTimeout)
	defer cancel()
	if err := t.backend.Abort(ctx, live.ResourceID, live.ExecutionID); err != nil {
		return fmt.Errorf("%w: %w", ErrAbortFailed, err)
	}
	return nil
}

// stopLocally tears the active job down and moves to stopped. It returns the
// job to abort, if one was known.
func (t *Tracker) stopLocally() (live progress.JobHandle, hasLive, ok bool) {
	live, hasLive = t.corr.Live()
	t.teardown()
	t.smoother.Clear()
	t.recoverAttempt++
	if !t.transition(progress.LifecycleStopped) {
		return live, hasLive, false
	}
	t.state.Displayed = 0
	t.state.Message = "Stopped by user"
	t.state.Notice = nil
	t.logger.Info("tracker.cancel", "resource", t.state.ResourceID, "execution_id", live.ExecutionID)
	t.publish()
	return live, hasLive, true
}

// transition moves the lifecycle to target when allowed. Invalid moves are
// logged and ignored.
func (t *Tracker) transition(target progress.Lifecycle) bool {
	from := t.state.Lifecycle
	if !from.CanTransitionTo(target) {
		t.logger.Warn("tracker.transition.invalid", "from", from, "to", target)
		return false
	}
	if from.Terminal() && target != from {
		t.holdTag++
	}
	t.state.Lifecycle = target
	return true
}

// teardown stops both timers, forgets the live job and cancels its in-flight
// calls.
func (t *Tracker) teardown() {
	t.tickTag++
	t.pollTag++
	t.corr.Detach()
	t.newJobContext()
}

// supersede detaches the active job without aborting it and returns to idle.
func (t *Tracker) supersede() {
	t.logger.Info("tracker.superseded", "resource", t.state.ResourceID, "execution_id", t.state.ExecutionID)
	t.teardown()
	t.dropSubmissions()
	t.smoother.Clear()
	t.transition(progress.LifecycleIdle)
	t.state = progress.State{Kind: t.kind, Lifecycle: progress.LifecycleIdle}
}

func (t *Tracker) submitCmd(ctx context.Context, resourceID string, attempt int) tea.Cmd {
	b, id := t.backend, t.id
	return func() tea.Msg {
		sub, err := b.Submit(ctx, resourceID)
		return submitResultMsg{tracker: id, attempt: attempt, resourceID: resourceID, sub: sub, err: err}
	}
}

func (t *Tracker) onSubmitResult(msg submitResultMsg) tea.Cmd {
	if msg.attempt != t.attempt || t.state.Lifecycle != progress.LifecycleSubmitting || msg.resourceID != t.state.ResourceID {
		if msg.err == nil && msg.sub.ExecutionID != "" {
			// Accepted after the user moved on: nobody will watch it.
			t.logger.Info("tracker.submit.orphaned", "resource", msg.resourceID, "execution_id", msg.sub.ExecutionID)
			if msg.resourceID == t.state.ResourceID && t.state.Lifecycle == progress.LifecycleStopped {
				t.lastAborted = progress.JobHandle{ResourceID: msg.resourceID, ExecutionID: msg.sub.ExecutionID, Kind: t.kind}
			}
			return t.abortCmd(msg.resourceID, msg.sub.ExecutionID)
		}
		t.logger.Debug("tracker.submit.discarded", "resource", msg.resourceID, "attempt", msg.attempt)
		return nil
	}

	if msg.err != nil {
		return t.fail(fmt.Errorf("%w: %w", ErrSubmissionFailed, msg.err), progress.NoticeSubmissionFailed)
	}

	switch {
	case msg.sub.Artifact != nil:
		return t.succeed(*msg.sub.Artifact)
	case msg.sub.Stopped:
		return t.stoppedRemotely("Stopped on the server")
	case msg.sub.ExecutionID == "":
		return t.fail(fmt.Errorf("%w: backend returned no execution id", ErrSubmissionFailed), progress.NoticeSubmissionFailed)
	}

	if !t.transition(progress.LifecycleRunning) {
		return nil
	}
	h := progress.JobHandle{
		ResourceID:  msg.resourceID,
		ExecutionID: msg.sub.ExecutionID,
		Kind:        t.kind,
		StartedAt:   t.now(),
	}
	t.corr.Attach(h)
	t.state.ExecutionID = h.ExecutionID
	t.logger.Info("tracker.submit.accepted", "resource", h.ResourceID, "execution_id", h.ExecutionID)
	t.publish()
	return t.schedulePoll()
}

// succeed completes the job: displayed jumps to exactly 100.
func (t *Tracker) succeed(a progress.Artifact) tea.Cmd {
	if !t.transition(progress.LifecycleSuccess) {
		return nil
	}
	t.teardown()
	t.smoother.Complete()
	last := phase.Last(t.profiles)
	t.best = estimate.Estimate{Percent: 100, PhaseIndex: last, PhaseStatus: progress.PhaseFinished}
	t.state.Displayed = 100
	t.state.PhaseIndex = last
	t.state.PhaseName = phase.Name(t.profiles, last)
	t.state.PhaseStatus = progress.PhaseFinished
	t.state.LastError = ""
	t.state.Result = &a
	t.state.Message = ""
	t.logger.Info("tracker.success", "resource", t.state.ResourceID, "execution_id", t.state.ExecutionID, "url", a.URL)
	t.publish()
	return t.scheduleHold(t.cfg.HoldSuccess)
}

// fail moves to error with the last progress frozen and raises one notice.
func (t *Tracker) fail(err error, kind progress.NoticeKind) tea.Cmd {
	if !t.transition(progress.LifecycleError) {
		return nil
	}
	t.teardown()
	t.smoother.Freeze()
	t.lastErr = err
	t.state.LastError = err.Error()
	t.state.PhaseStatus = progress.PhaseFailed
	t.state.Message = ""
	t.logger.Warn("tracker.error", "resource", t.state.ResourceID, "execution_id", t.state.ExecutionID, "error", err)
	t.notify(kind, err.Error())
	t.publish()
	return t.scheduleHold(t.cfg.HoldError)
}

// stoppedRemotely handles a stop the backend reports on its own.
func (t *Tracker) stoppedRemotely(message string) tea.Cmd {
	if !t.transition(progress.LifecycleStopped) {
		return nil
	}
	t.teardown()
	t.smoother.Clear()
	t.state.Displayed = 0
	t.state.Message = message
	t.logger.Info("tracker.stopped_remotely", "resource", t.state.ResourceID, "execution_id", t.state.ExecutionID)
	t.publish()
	return t.scheduleHold(t.cfg.HoldStopped)
}

func (t *Tracker) onHoldExpired(msg holdExpiredMsg) tea.Cmd {
	if msg.tag != t.holdTag || !t.state.Lifecycle.Terminal() {
		return nil
	}
	if !t.transition(progress.LifecycleIdle) {
		return nil
	}
	t.state.Displayed = 0
	t.state.PhaseIndex = 0
	t.state.PhaseName = ""
	t.state.PhaseStatus = ""
	t.state.ExecutionID = ""
	t.state.Message = ""
	t.publish()
	return nil
}

func (t *Tracker) abortCmd(resourceID, executionID string) tea.Cmd {
	b, id, timeout := t.backend, t.id, t.cfg.AbortTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := b.Abort(ctx, resourceID, executionID)
		return abortResultMsg{tracker: id, resourceID: resourceID, executionID: executionID, err: err}
	}
}

func (t *Tracker) onAbortResult(msg abortResultMsg) tea.Cmd {
	if msg.err == nil {
		t.logger.Debug("tracker.abort.delivered", "resource", msg.resourceID, "execution_id", msg.executionID)
		return nil
	}
	err := fmt.Errorf("%w: %w", ErrAbortFailed, msg.err)
	t.logger.Warn("tracker.abort.failed", "resource", msg.resourceID, "execution_id", msg.executionID, "error", err)
	if msg.resourceID != t.state.ResourceID || errors.Is(msg.err, context.Canceled) {
		return nil
	}
	t.notify(progress.NoticeAbortFailed, err.Error())
	t.publish()
	return nil
}

// artifactFrom names a terminal URL after its last path segment.
func artifactFrom(snap progress.Snapshot) progress.Artifact {
	name := snap.Message
	if u, err := url.Parse(snap.TerminalURL); err == nil && name == "" {
		if base := path.Base(u.Path); base != "." && base != "/" {
			name = base
		}
	}
	return progress.Artifact{URL: snap.TerminalURL, Name: name}
}
