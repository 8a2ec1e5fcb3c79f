package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"dvtrack/internal/backend"
	"dvtrack/internal/progress"
)

var t0 = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

// fakeBackend answers from scripts and records every call.
type fakeBackend struct {
	mu sync.Mutex

	nextID    int
	submitFn  func(resourceID string) (backend.Submission, error)
	pollFn    func(resourceID, executionID string) (progress.Snapshot, error)
	recovery  backend.Recovery
	recErr    error
	abortErr  error
	submits   []string
	polls     []string
	aborts    []string
	recovered int
}

func (f *fakeBackend) Submit(_ context.Context, resourceID string) (backend.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, resourceID)
	if f.submitFn != nil {
		return f.submitFn(resourceID)
	}
	f.nextID++
	return backend.Submission{ExecutionID: fmt.Sprintf("E%d", f.nextID)}, nil
}

func (f *fakeBackend) PollStatus(_ context.Context, resourceID, executionID string) (progress.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, resourceID+"/"+executionID)
	if f.pollFn != nil {
		return f.pollFn(resourceID, executionID)
	}
	return progress.Snapshot{PhaseIndex: -1}, nil
}

func (f *fakeBackend) RecoveryStatus(context.Context, string) (backend.Recovery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered++
	return f.recovery, f.recErr
}

func (f *fakeBackend) Abort(_ context.Context, resourceID, executionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts = append(f.aborts, resourceID+"/"+executionID)
	return f.abortErr
}

// heldSubmit blocks Submit until released and gives up when its context ends,
// like the HTTP adapters do.
type heldSubmit struct {
	*fakeBackend
	entered chan struct{}
	release chan struct{}
}

func newHeldSubmit(be *fakeBackend) *heldSubmit {
	return &heldSubmit{fakeBackend: be, entered: make(chan struct{}), release: make(chan struct{})}
}

func (h *heldSubmit) Submit(ctx context.Context, resourceID string) (backend.Submission, error) {
	close(h.entered)
	select {
	case <-h.release:
	case <-ctx.Done():
		return backend.Submission{}, ctx.Err()
	}
	return h.fakeBackend.Submit(ctx, resourceID)
}

type recordingReporter struct {
	updates []progress.State
	notices []progress.Notice
}

func (r *recordingReporter) Update(s progress.State) { r.updates = append(r.updates, s) }
func (r *recordingReporter) Notify(n progress.Notice) { r.notices = append(r.notices, n) }

func (r *recordingReporter) noticeCount(kind progress.NoticeKind) int {
	n := 0
	for _, x := range r.notices {
		if x.Kind == kind {
			n++
		}
	}
	return n
}

type pendingTimer struct {
	at  time.Time
	seq int
	fn  func(time.Time) tea.Msg
}

// harness drives a Tracker on a virtual clock. Commands run synchronously;
// timers fire in order when the clock advances.
type harness struct {
	t      *testing.T
	now    time.Time
	be     *fakeBackend
	rep    *recordingReporter
	tr     *Tracker
	timers []pendingTimer
	seq    int
}

func newHarness(t *testing.T, kind progress.Kind, be *fakeBackend, tune ...func(*Config)) *harness {
	t.Helper()
	return newHarnessWith(t, kind, be, be, tune...)
}

// newHarnessWith wires b into the tracker and keeps be for call records.
func newHarnessWith(t *testing.T, kind progress.Kind, be *fakeBackend, b backend.Backend, tune ...func(*Config)) *harness {
	t.Helper()
	h := &harness{t: t, now: t0, be: be, rep: &recordingReporter{}}
	cfg := DefaultConfig(kind)
	for _, fn := range tune {
		fn(&cfg)
	}
	h.tr = New(kind,
		WithBackend(b),
		WithClock(func() time.Time { return h.now }),
		WithTimer(h.after),
		WithReporter(h.rep),
		WithConfig(cfg),
	)
	return h
}

func (h *harness) after(d time.Duration, fn func(time.Time) tea.Msg) tea.Cmd {
	h.seq++
	h.timers = append(h.timers, pendingTimer{at: h.now.Add(d), seq: h.seq, fn: fn})
	return nil
}

// collect runs cmd and returns the messages it produced without delivering them.
func (h *harness) collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, h.collect(c)...)
		}
		return out
	}
	if msg == nil {
		return nil
	}
	return []tea.Msg{msg}
}

func (h *harness) run(cmd tea.Cmd) {
	for _, msg := range h.collect(cmd) {
		h.deliver(msg)
	}
}

func (h *harness) deliver(msg tea.Msg) {
	h.run(h.tr.Update(msg))
}

// advance moves the clock forward by d, firing due timers in order.
func (h *harness) advance(d time.Duration) {
	target := h.now.Add(d)
	for {
		sort.SliceStable(h.timers, func(i, j int) bool {
			if h.timers[i].at.Equal(h.timers[j].at) {
				return h.timers[i].seq < h.timers[j].seq
			}
			return h.timers[i].at.Before(h.timers[j].at)
		})
		if len(h.timers) == 0 || h.timers[0].at.After(target) {
			break
		}
		next := h.timers[0]
		h.timers = h.timers[1:]
		h.now = next.at
		h.deliver(next.fn(next.at))
	}
	h.now = target
}

func (h *harness) state() progress.State { return h.tr.State() }

// pendingTicks counts smoothing ticks waiting on the clock.
func (h *harness) pendingTicks() int {
	n := 0
	for _, p := range h.timers {
		if _, ok := p.fn(p.at).(tickMsg); ok {
			n++
		}
	}
	return n
}
