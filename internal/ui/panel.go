package ui

import (
	bubblesprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"

	"dvtrack/internal/progress"
	"dvtrack/internal/tracker"
)

// panel renders one tracker. The bar is drawn with ViewAs, so it shows the
// smoothed value exactly instead of running its own animation.
type panel struct {
	title   string
	tr      *tracker.Tracker
	spinner spinner.Model
	bar     bubblesprogress.Model
}

func newPanel(title string, tr *tracker.Tracker, styles Styles) panel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner
	return panel{
		title:   title,
		tr:      tr,
		spinner: sp,
		bar: bubblesprogress.New(
			bubblesprogress.WithDefaultGradient(),
			bubblesprogress.WithWidth(40),
			bubblesprogress.WithoutPercentage(),
		),
	}
}

func (p panel) state() progress.State { return p.tr.State() }
