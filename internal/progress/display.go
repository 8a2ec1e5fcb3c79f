package progress

import (
	"fmt"
	"math"
	"strings"
)

// PercentText renders the displayed progress as a whole percentage. It floors,
// so "100%" is only shown once the job has actually succeeded.
func PercentText(s State) string {
	return fmt.Sprintf("%d%%", wholePercent(s))
}

// BarWidth returns how many of total cells a progress bar should fill.
func BarWidth(s State, total int) int {
	if total <= 0 {
		return 0
	}
	w := int(math.Floor(clamp01(s.Displayed/100) * float64(total)))
	if w == total && s.Lifecycle != LifecycleSuccess {
		w = total - 1
	}
	return w
}

// Fraction returns the displayed progress as 0..1 for bubbles' progress bar.
func Fraction(s State) float64 {
	return clamp01(float64(wholePercent(s)) / 100)
}

// Label returns a short human label for the lifecycle of s.
func Label(s State) string {
	noun := "Job"
	switch s.Kind {
	case KindReport:
		noun = "Report"
	case KindPresentation:
		noun = "Presentation"
	}
	switch s.Lifecycle {
	case LifecycleSubmitting:
		return "Submitting " + strings.ToLower(noun) + "…"
	case LifecycleRunning:
		if s.PhaseName != "" {
			return fmt.Sprintf("Generating %s: %s", strings.ToLower(noun), s.PhaseName)
		}
		return "Generating " + strings.ToLower(noun) + "…"
	case LifecycleSuccess:
		return noun + " ready"
	case LifecycleError:
		return noun + " failed"
	case LifecycleStopped:
		return noun + " stopped"
	default:
		return "Idle"
	}
}

func wholePercent(s State) int {
	p := int(math.Floor(s.Displayed))
	if p < 0 {
		p = 0
	}
	if p >= 100 {
		if s.Lifecycle == LifecycleSuccess {
			return 100
		}
		return 99
	}
	return p
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
