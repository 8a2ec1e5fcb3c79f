package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dvtrack/internal/backend"
	"dvtrack/internal/progress"
	"dvtrack/internal/tracker"
	"dvtrack/internal/ui"
)

func newGenerateCmd(a *app) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "generate <report|presentation> <resource>",
		Short: "Start a job and follow it until it settles",
		Long: "generate report <session-id> writes a new interview report.\n" +
			"generate presentation <report-file> turns a report into a slide deck.\n\n" +
			"The command exits 0 once the artifact exists, 3 if the job failed or was stopped, and 4 " +
			"if it was still running when polling gave up.",
		Example: "  dvtrack generate report 20260301-ux-interview\n" +
			"  dvtrack generate presentation 20260301-ux-interview-report.md",
		ValidArgs: []string{string(progress.KindReport), string(progress.KindPresentation)},
		Args:      cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			b, err := a.backend(kind)
			if err != nil {
				return err
			}
			return a.follow(cmd, kind, args[1], b, plain)
		},
	}
	bindViewFlags(cmd.Flags(), &plain)
	return cmd
}

// follow runs the view on one job of kind and turns its outcome into an exit
// code.
func (a *app) follow(cmd *cobra.Command, kind progress.Kind, resource string, b backend.Backend, plain bool) error {
	opts := ui.Options{
		Config: a.cfg.Tracker,
		Logger: a.logger,
		Follow: kind,
		Plain:  plain || !a.terminal(),
		Out:    cmd.OutOrStdout(),
	}
	if kind == progress.KindPresentation {
		opts.Report, opts.PresentationBackend = resource, b
	} else {
		opts.Session, opts.ReportBackend = resource, b
	}

	res, err := ui.Run(cmd.Context(), opts)
	if errors.Is(err, context.Canceled) {
		return &ExitError{Code: ExitJobFailed, Err: errors.New("interrupted: job stopped")}
	}
	if err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	return exitFor(res.Followed(kind), res.Err)
}

func exitFor(st progress.State, err error) error {
	switch {
	case errors.Is(err, tracker.ErrPollExhausted):
		return &ExitError{Code: ExitStillRunning, Err: err}
	case st.Lifecycle == progress.LifecycleSuccess, st.Result != nil && st.LastError == "":
		return nil
	case st.Lifecycle == progress.LifecycleStopped:
		return &ExitError{Code: ExitJobFailed, Err: fmt.Errorf("%s stopped", st.Kind)}
	case errors.Is(err, tracker.ErrSubmissionFailed):
		if ee := backendError(err); ee.Code == ExitUnreachable {
			return ee
		}
		return &ExitError{Code: ExitJobFailed, Err: err}
	case err != nil:
		return &ExitError{Code: ExitJobFailed, Err: err}
	case st.LastError != "":
		return &ExitError{Code: ExitJobFailed, Err: errors.New(st.LastError)}
	}
	return &ExitError{Code: ExitCLIError, Err: fmt.Errorf("%s did not start", st.Kind)}
}
