package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"dvtrack/internal/backend/simulated"
	"dvtrack/internal/progress"
	"dvtrack/internal/ui"
)

func newDemoCmd(a *app) *cobra.Command {
	var speed float64
	var failAt string
	var plain bool
	cmd := &cobra.Command{
		Use:   "demo [report|presentation]",
		Short: "Run the progress view against a simulated server",
		Long: "demo drives the detail view with an in-memory backend whose jobs advance with the clock. " +
			"With a job kind it follows one job of that kind like generate does.",
		ValidArgs: []string{string(progress.KindReport), string(progress.KindPresentation)},
		Args:      cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []simulated.Option{simulated.WithSpeed(speed)}
			if failAt != "" {
				opts = append(opts, simulated.WithFailure(failAt))
			}
			if len(args) == 1 {
				kind, err := parseKind(args[0])
				if err != nil {
					return err
				}
				resource := "demo-session"
				if kind == progress.KindPresentation {
					resource = "demo-session-report.md"
				}
				return a.follow(cmd, kind, resource, simulated.New(kind, opts...), plain)
			}

			_, err := ui.Run(cmd.Context(), ui.Options{
				Session:             "demo-session",
				ReportBackend:       simulated.New(progress.KindReport, opts...),
				PresentationBackend: simulated.New(progress.KindPresentation, opts...),
				Config:              a.cfg.Tracker,
				Logger:              a.logger,
				Plain:               plain || !a.terminal(),
				Out:                 cmd.OutOrStdout(),
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&speed, "speed", 10, "How many times faster than real jobs the simulation runs")
	cmd.Flags().StringVar(&failAt, "fail-at", "", "Fail jobs once they reach this phase (e.g. generating)")
	bindViewFlags(cmd.Flags(), &plain)
	return cmd
}
