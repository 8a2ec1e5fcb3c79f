package ui

import (
	"context"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"dvtrack/internal/progress"
)

// Result is what both trackers looked like when the program exited.
type Result struct {
	Report       progress.State
	Presentation progress.State
	// ReportFile is the report presentation jobs ran against, possibly adopted
	// from a report generated during the run.
	ReportFile string
	// Err is the error of the followed tracker.
	Err error
}

// Followed returns the state of kind.
func (r Result) Followed(kind progress.Kind) progress.State {
	if kind == progress.KindPresentation {
		return r.Presentation
	}
	return r.Report
}

// Run launches the detail view and blocks until the user quits, the followed
// job settles or ctx is done.
func Run(ctx context.Context, opts Options) (Result, error) {
	m := NewModel(opts)
	popts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Plain {
		popts = append(popts, tea.WithoutRenderer(), tea.WithInput(nil))
	}
	prog := tea.NewProgram(m, popts...)
	final, err := prog.Run()

	fm, ok := final.(Model)
	if !ok {
		fm = m
	}
	res := Result{
		Report:       fm.Tracker(progress.KindReport).State(),
		Presentation: fm.Tracker(progress.KindPresentation).State(),
		ReportFile:   fm.Report(),
	}
	if opts.Follow != "" {
		res.Err = fm.Tracker(opts.Follow).Err()
	}

	// A killed program delivers no more messages, so abort synchronously.
	if ctx.Err() != nil {
		for _, kind := range []progress.Kind{progress.KindReport, progress.KindPresentation} {
			if serr := fm.Tracker(kind).Shutdown(context.Background()); serr != nil && opts.Logger != nil {
				opts.Logger.Warn("ui.shutdown", "kind", kind, "err", serr)
			}
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("ui: %w", err)
	}
	if opts.Plain {
		fmt.Fprintln(opts.out(), summary(res.Followed(opts.Follow)))
	}
	return res, nil
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}
