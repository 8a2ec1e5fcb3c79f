package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"dvtrack/internal/ui"
)

func newWatchCmd(a *app) *cobra.Command {
	var session, report string
	var plain bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open the detail view of an interview session",
		Long: "watch shows the report and presentation jobs of one session. Jobs already running on " +
			"the server are picked up on launch. Press g to generate a report, p for a presentation, " +
			"x to cancel the focused job.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if session == "" && report == "" {
				return &ExitError{Code: ExitCLIError, Err: errors.New("either --session or --report is required")}
			}
			rb, pb, err := a.backends()
			if err != nil {
				return err
			}
			_, err = ui.Run(cmd.Context(), ui.Options{
				Session:             session,
				Report:              report,
				ReportBackend:       rb,
				PresentationBackend: pb,
				Config:              a.cfg.Tracker,
				Logger:              a.logger,
				Plain:               plain || !a.terminal(),
				Out:                 cmd.OutOrStdout(),
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "Interview session id")
	cmd.Flags().StringVarP(&report, "report", "r", "", "Report file presentations are generated from")
	bindViewFlags(cmd.Flags(), &plain)
	return cmd
}

func (a *app) terminal() bool {
	return a.isTerminal != nil && a.isTerminal()
}
