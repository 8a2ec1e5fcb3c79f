package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dvtrack/internal/backend"
	"dvtrack/internal/progress"
)

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <report|presentation> <resource>",
		Short: "Stop the job running for a resource",
		Long: "cancel looks up the execution running for the resource and asks the server to stop it. " +
			"Nothing happens when no job is running.",
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
			resource := args[1]
			rec, err := b.RecoveryStatus(cmd.Context(), resource)
			if err != nil {
				return backendError(err)
			}
			out := cmd.OutOrStdout()
			if rec.Kind != backend.RecoveryInFlight || rec.ExecutionID == "" {
				fmt.Fprintf(out, "%s %s: nothing to cancel (%s)\n", kind, resource, rec.Kind)
				return nil
			}

			a.logger.Info("cli.cancel", "kind", kind, "resource", resource, "execution_id", rec.ExecutionID)
			err = b.Abort(cmd.Context(), resource, rec.ExecutionID)
			switch {
			case errors.Is(err, backend.ErrAbortUnconfirmed):
				fmt.Fprintf(out, "%s %s: stop recorded, runner did not confirm\n", kind, resource)
				return nil
			case err != nil:
				return backendError(fmt.Errorf("abort %s: %w", rec.ExecutionID, err))
			}
			fmt.Fprintf(out, "%s %s: stopped execution %s\n", kind, resource, rec.ExecutionID)
			return nil
		},
	}
}
