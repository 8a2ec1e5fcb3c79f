package ui

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"dvtrack/internal/backend"
	"dvtrack/internal/progress"
	"dvtrack/internal/tracker"
)

// Options configures the detail view of one interview session.
type Options struct {
	Session string // resource of report jobs
	Report  string // report file name, resource of presentation jobs

	ReportBackend       backend.Backend
	PresentationBackend backend.Backend

	// Config returns the tracker timing per kind. Defaults apply when nil.
	Config func(progress.Kind) tracker.Config
	Logger *slog.Logger
	// TrackerOptions are applied after the ones derived from the fields above.
	TrackerOptions []tracker.Option

	// Follow starts a job of this kind at launch and quits once it settles.
	Follow progress.Kind
	// Plain turns the renderer off and prints progress lines to Out instead.
	Plain bool
	Out   io.Writer
}

type Model struct {
	session string
	report  string

	panels []panel // report first, presentation second
	focus  int
	follow progress.Kind
	status string

	keys   keyMap
	help   help.Model
	styles Styles
	width  int
}

// NewModel builds the view and its two trackers.
func NewModel(opts Options) Model {
	sty := defaultStyles()

	mk := func(kind progress.Kind, b backend.Backend) *tracker.Tracker {
		var to []tracker.Option
		if b != nil {
			to = append(to, tracker.WithBackend(b))
		}
		if opts.Logger != nil {
			to = append(to, tracker.WithLogger(opts.Logger))
		}
		if opts.Config != nil {
			to = append(to, tracker.WithConfig(opts.Config(kind)))
		}
		if opts.Plain {
			to = append(to, tracker.WithReporter(newLineReporter(opts.out(), nil)))
		}
		return tracker.New(kind, append(to, opts.TrackerOptions...)...)
	}

	m := Model{
		session: opts.Session,
		report:  opts.Report,
		panels: []panel{
			newPanel("Report", mk(progress.KindReport, opts.ReportBackend), sty),
			newPanel("Presentation", mk(progress.KindPresentation, opts.PresentationBackend), sty),
		},
		follow: opts.Follow,
		keys:   defaultKeys(),
		help:   help.New(),
		styles: sty,
	}
	if opts.Follow == progress.KindPresentation {
		m.focus = 1
	}
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := make([]tea.Cmd, 0, len(m.panels)+2)
	for _, p := range m.panels {
		cmds = append(cmds, p.spinner.Tick)
	}
	if m.follow != "" {
		cmds = append(cmds, m.start(m.follow))
	} else {
		cmds = append(cmds, m.recoverAll())
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Report):
			cmds = append(cmds, m.start(progress.KindReport))
		case key.Matches(msg, m.keys.Presentation):
			cmds = append(cmds, m.start(progress.KindPresentation))
		case key.Matches(msg, m.keys.Cancel):
			cmds = append(cmds, m.panels[m.focus].tr.Cancel())
		case key.Matches(msg, m.keys.Recover):
			cmds = append(cmds, m.recoverAll())
		case key.Matches(msg, m.keys.Focus):
			m.focus = (m.focus + 1) % len(m.panels)
		case key.Matches(msg, m.keys.Dismiss):
			m.panels[m.focus].tr.DismissNotice()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
	case startRefusedMsg:
		m.status = msg.reason
	}

	for i := range m.panels {
		if cmd := m.panels[i].tr.Update(msg); cmd != nil {
			cmds = append(cmds, cmd)
		}
		var c tea.Cmd
		m.panels[i].spinner, c = m.panels[i].spinner.Update(msg)
		if c != nil {
			cmds = append(cmds, c)
		}
	}

	m.adoptReport()
	if m.settled() {
		cmds = append(cmds, tea.Quit)
	}
	return m, tea.Batch(cmds...)
}

type startRefusedMsg struct{ reason string }

func (m Model) start(kind progress.Kind) tea.Cmd {
	p := m.panel(kind)
	resource := m.session
	if kind == progress.KindPresentation {
		resource = m.report
	}
	if resource == "" {
		reason := "no session selected"
		if kind == progress.KindPresentation {
			reason = "no report yet: generate one first"
		}
		return func() tea.Msg { return startRefusedMsg{reason: reason} }
	}
	return p.tr.Start(resource)
}

// recoverAll rebuilds both trackers from the backend. Trackers without a
// resource stay idle.
func (m Model) recoverAll() tea.Cmd {
	var cmds []tea.Cmd
	if m.session != "" {
		cmds = append(cmds, m.panel(progress.KindReport).tr.Resume(m.session))
	}
	if m.report != "" {
		cmds = append(cmds, m.panel(progress.KindPresentation).tr.Resume(m.report))
	}
	return tea.Batch(cmds...)
}

// adoptReport makes a freshly generated report the resource of presentation
// jobs when none was given.
func (m *Model) adoptReport() {
	if m.report != "" {
		return
	}
	st := m.panel(progress.KindReport).state()
	if st.Result == nil || !strings.HasSuffix(st.Result.Name, ".md") {
		return
	}
	m.report = st.Result.Name
}

// settled reports whether a followed job has stopped moving: it ended, never
// started, or outlived the poll budget.
func (m Model) settled() bool {
	if m.follow == "" {
		return false
	}
	p := m.panel(m.follow)
	if errors.Is(p.tr.Err(), tracker.ErrPollExhausted) {
		return true
	}
	return !p.state().Lifecycle.Active()
}

func (m Model) panel(kind progress.Kind) panel {
	if kind == progress.KindPresentation {
		return m.panels[1]
	}
	return m.panels[0]
}

// Tracker returns the tracker of kind.
func (m Model) Tracker(kind progress.Kind) *tracker.Tracker {
	return m.panel(kind).tr
}

// Report returns the report file presentation jobs run against.
func (m Model) Report() string { return m.report }
