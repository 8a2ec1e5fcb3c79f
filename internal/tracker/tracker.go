// Package tracker drives the lifecycle of one backend job kind on the Bubble
// Tea update loop.
//
// A Tracker is a sub-model: the owning tea.Model forwards every message to
// Update and runs the returned commands. All state changes happen inside
// Start, Cancel, Resume and Update, so no locking is needed. Network calls
// run as tea.Cmds and come back as messages; timers are tea.Tick commands
// tagged with a generation so superseded timers are ignored when they fire.
package tracker

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"dvtrack/internal/backend"
	"dvtrack/internal/estimate"
	"dvtrack/internal/phase"
	"dvtrack/internal/poller"
	"dvtrack/internal/progress"
	"dvtrack/internal/smoothing"
)

var lastID int64

func nextID() int64 {
	return atomic.AddInt64(&lastID, 1)
}

// AfterFunc schedules fn to produce a message after d. tea.Tick satisfies it.
type AfterFunc func(d time.Duration, fn func(time.Time) tea.Msg) tea.Cmd

// Config holds the timing knobs of a tracker.
type Config struct {
	Cadence      poller.Cadence
	Smoothing    smoothing.Config
	Tick         time.Duration
	HoldSuccess  time.Duration
	HoldError    time.Duration
	HoldStopped  time.Duration
	AbortTimeout time.Duration
}

// DefaultConfig returns the defaults for kind.
func DefaultConfig(kind progress.Kind) Config {
	return Config{
		Cadence:      poller.DefaultCadence(kind),
		Smoothing:    smoothing.DefaultConfig(),
		Tick:         180 * time.Millisecond,
		HoldSuccess:  8 * time.Second,
		HoldError:    12 * time.Second,
		HoldStopped:  4 * time.Second,
		AbortTimeout: 15 * time.Second,
	}
}

// Tracker owns the progress state of one job kind.
type Tracker struct {
	id       int64
	kind     progress.Kind
	profiles []phase.Profile
	cfg      Config

	backend  backend.Backend
	now      func() time.Time
	after    AfterFunc
	logger   *slog.Logger
	reporter progress.Reporter

	state    progress.State
	best     estimate.Estimate
	smoother *smoothing.Smoother
	corr     *poller.Correlator

	// lastAborted is the execution a user cancel targeted; Cancel in the
	// stopped state resends its abort.
	lastAborted progress.JobHandle
	lastErr     error

	attempt        int
	recoverAttempt int
	tickTag        int
	pollTag        int
	holdTag        int

	jobCtx    context.Context
	jobCancel context.CancelFunc
	// submitCtx survives a user cancel; supersede and Shutdown cancel it.
	submitCtx    context.Context
	submitCancel context.CancelFunc
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBackend sets the backend jobs are submitted to.
func WithBackend(b backend.Backend) Option {
	return func(t *Tracker) { t.backend = b }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithTimer replaces tea.Tick for scheduling timers.
func WithTimer(after AfterFunc) Option {
	return func(t *Tracker) { t.after = after }
}

// WithLogger sets the logger. Trackers log nothing by default.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithReporter registers an observer for state changes and notices.
func WithReporter(r progress.Reporter) Option {
	return func(t *Tracker) { t.reporter = r }
}

// WithConfig overrides the timing defaults.
func WithConfig(cfg Config) Option {
	return func(t *Tracker) { t.cfg = cfg }
}

// New returns an idle tracker for kind.
func New(kind progress.Kind, opts ...Option) *Tracker {
	t := &Tracker{
		id:       nextID(),
		kind:     kind,
		profiles: phase.For(kind),
		cfg:      DefaultConfig(kind),
		now:      time.Now,
		after:    tea.Tick,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("kind", string(kind))
	t.smoother = smoothing.New(t.profiles, t.cfg.Smoothing)
	t.corr = poller.New(t.cfg.Cadence)
	t.state = progress.State{Kind: kind, Lifecycle: progress.LifecycleIdle}
	t.jobCtx, t.jobCancel = context.WithCancel(context.Background())
	t.submitCtx, t.submitCancel = context.WithCancel(context.Background())
	return t
}

// ID returns the unique id of the tracker.
func (t *Tracker) ID() int64 { return t.id }

// Kind returns the job kind tracked.
func (t *Tracker) Kind() progress.Kind { return t.kind }

// State returns a copy of the published state.
func (t *Tracker) State() progress.State { return t.state }

// Err returns the error behind the current state: the terminal failure in the
// error state, ErrPollExhausted while a job is running unwatched, else nil.
func (t *Tracker) Err() error {
	switch {
	case t.state.Lifecycle == progress.LifecycleError:
		return t.lastErr
	case t.state.Lifecycle == progress.LifecycleRunning && t.corr.Exhausted():
		return ErrPollExhausted
	}
	return nil
}

// DismissNotice clears the current notice.
func (t *Tracker) DismissNotice() {
	if t.state.Notice == nil {
		return
	}
	t.state.Notice = nil
	t.publish()
}

// Update handles messages addressed to this tracker and ignores the rest.
func (t *Tracker) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tickMsg:
		if msg.tracker == t.id {
			return t.onTick(msg)
		}
	case pollTickMsg:
		if msg.tracker == t.id {
			return t.onPollTick(msg)
		}
	case holdExpiredMsg:
		if msg.tracker == t.id {
			return t.onHoldExpired(msg)
		}
	case submitResultMsg:
		if msg.tracker == t.id {
			return t.onSubmitResult(msg)
		}
	case pollResultMsg:
		if msg.tracker == t.id {
			return t.onPollResult(msg)
		}
	case recoveryResultMsg:
		if msg.tracker == t.id {
			return t.onRecoveryResult(msg)
		}
	case abortResultMsg:
		if msg.tracker == t.id {
			return t.onAbortResult(msg)
		}
	}
	return nil
}

func (t *Tracker) onTick(msg tickMsg) tea.Cmd {
	if msg.tag != t.tickTag || !t.state.Lifecycle.Active() {
		return nil
	}
	d := t.smoother.Tick(t.now())
	if d > t.state.Displayed {
		t.state.Displayed = d
		t.publish()
	}
	return t.scheduleTick()
}

func (t *Tracker) scheduleTick() tea.Cmd {
	id, tag := t.id, t.tickTag
	return t.after(t.cfg.Tick, func(at time.Time) tea.Msg {
		return tickMsg{tracker: id, tag: tag, at: at}
	})
}

func (t *Tracker) schedulePoll() tea.Cmd {
	t.pollTag++
	id, tag := t.id, t.pollTag
	return t.after(t.corr.Interval(), func(time.Time) tea.Msg {
		return pollTickMsg{tracker: id, tag: tag}
	})
}

func (t *Tracker) scheduleHold(d time.Duration) tea.Cmd {
	t.holdTag++
	id, tag := t.id, t.holdTag
	return t.after(d, func(time.Time) tea.Msg {
		return holdExpiredMsg{tracker: id, tag: tag}
	})
}

// newJobContext cancels in-flight calls of the previous job and returns a
// context for the next one.
func (t *Tracker) newJobContext() context.Context {
	t.jobCancel()
	t.jobCtx, t.jobCancel = context.WithCancel(context.Background())
	return t.jobCtx
}

// dropSubmissions cancels every pending Submit call.
func (t *Tracker) dropSubmissions() {
	t.submitCancel()
	t.submitCtx, t.submitCancel = context.WithCancel(context.Background())
}

func (t *Tracker) publish() {
	if t.reporter != nil {
		t.reporter.Update(t.state)
	}
}

func (t *Tracker) notify(kind progress.NoticeKind, message string) {
	n := progress.Notice{Kind: kind, Message: message, At: t.now()}
	t.state.Notice = &n
	if t.reporter != nil {
		t.reporter.Notify(n)
	}
}
