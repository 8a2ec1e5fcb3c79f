package ui

import (
	"fmt"
	"strings"

	"dvtrack/internal/progress"
)

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString("\n\n")
	for i, p := range m.panels {
		if m.follow != "" && p.tr.Kind() != m.follow {
			continue
		}
		b.WriteString(m.viewPanel(p, i == m.focus && m.follow == ""))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(m.styles.Warning.Render(m.status))
		b.WriteString("\n")
	}
	if m.follow == "" {
		b.WriteString(m.help.View(m.keys))
	}
	return b.String()
}

func (m Model) viewHeader() string {
	title := m.styles.Title.Render("dvtrack · deep-vision jobs")
	parts := []string{"session " + orDash(m.session), "report " + orDash(m.report)}
	return title + "\n" + m.styles.Subtitle.Render(strings.Join(parts, " • "))
}

func (m Model) viewPanel(p panel, focused bool) string {
	st := p.state()
	box := m.styles.Box
	if focused {
		box = m.styles.Focused
	}

	head := m.styles.Header.Render(p.title)
	if st.ResourceID != "" {
		head += "  " + m.styles.Resource.Render(truncate(st.ResourceID, 40))
	}

	var bar string
	switch st.Lifecycle {
	case progress.LifecycleIdle:
		bar = m.styles.Faint.Render("idle")
	case progress.LifecycleSubmitting:
		bar = m.styles.Spinner.Render(p.spinner.View()) + " " + p.bar.ViewAs(progress.Fraction(st)) + " " + progress.PercentText(st)
	default:
		bar = p.bar.ViewAs(progress.Fraction(st)) + " " + progress.PercentText(st)
	}

	label := m.styles.lifecycleStyle(st.Lifecycle).Render(progress.Label(st))
	if st.Message != "" && st.Lifecycle.Active() {
		label += m.styles.Faint.Render("  " + truncate(st.Message, 48))
	}

	lines := []string{head, bar, label}
	switch {
	case st.Lifecycle == progress.LifecycleError && st.LastError != "":
		lines = append(lines, m.styles.Error.Render("✗ "+st.LastError))
	case st.Result != nil && st.Lifecycle != progress.LifecycleError:
		lines = append(lines, m.styles.Success.Render("✓ "+st.Result.URL))
	}
	if st.Notice != nil && st.Notice.Kind != progress.NoticeJobFailed && st.Notice.Kind != progress.NoticeSubmissionFailed {
		lines = append(lines, m.styles.Warning.Render("! "+st.Notice.Message))
	}
	return box.Render(strings.Join(lines, "\n"))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if n <= 0 || len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}

// summary is printed after the program exits.
func summary(st progress.State) string {
	switch {
	case st.Result != nil && st.LastError == "":
		return fmt.Sprintf("%s: %s", progress.Label(progressState(st, progress.LifecycleSuccess)), st.Result.URL)
	case st.LastError != "":
		return fmt.Sprintf("%s: %s", progress.Label(progressState(st, progress.LifecycleError)), st.LastError)
	default:
		return progress.Label(st)
	}
}

func progressState(st progress.State, l progress.Lifecycle) progress.State {
	st.Lifecycle = l
	return st
}
