package ui

import (
	"fmt"
	"io"
	"time"

	"dvtrack/internal/progress"
	"dvtrack/internal/util/format"
)

// lineReporter prints one line per visible change when no terminal renderer
// is attached: a new lifecycle, a new phase, or another ten percent.
type lineReporter struct {
	w     io.Writer
	now   func() time.Time
	start time.Time
	last  progress.State
	step  int
}

func newLineReporter(w io.Writer, now func() time.Time) *lineReporter {
	if now == nil {
		now = time.Now
	}
	return &lineReporter{w: w, now: now, last: progress.State{Lifecycle: progress.LifecycleIdle}}
}

func (r *lineReporter) Update(s progress.State) {
	if s.Lifecycle == progress.LifecycleSubmitting && r.last.Lifecycle != progress.LifecycleSubmitting {
		r.start = r.now()
	}
	step := int(s.Displayed) / 10
	changed := s.Lifecycle != r.last.Lifecycle || s.PhaseName != r.last.PhaseName || step != r.step
	idle := s.Lifecycle == progress.LifecycleIdle
	r.last, r.step = s, step
	if !changed || idle {
		return
	}

	line := fmt.Sprintf("%s %s  %5s  %s", s.Kind, s.ResourceID, progress.PercentText(s), progress.Label(s))
	if !r.start.IsZero() {
		line += "  (" + format.Elapsed(r.now().Sub(r.start)) + ")"
	}
	switch {
	case s.Lifecycle == progress.LifecycleSuccess && s.Result != nil:
		line += "\n  -> " + s.Result.URL
	case s.Lifecycle == progress.LifecycleError && s.LastError != "":
		line += "\n  error: " + s.LastError
	}
	fmt.Fprintln(r.w, line)
}

func (r *lineReporter) Notify(n progress.Notice) {
	fmt.Fprintf(r.w, "%s %s  ! %s\n", r.last.Kind, r.last.ResourceID, n.Message)
}
