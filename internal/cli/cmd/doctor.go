package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"dvtrack/internal/dirs"
)

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the deep-vision server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server:    %s\n", c.BaseURL())
			if cfg, err := dirs.ConfigDir(); err == nil {
				fmt.Fprintf(out, "Config:    %s\n", cfg)
			}

			st, err := c.Status(cmd.Context())
			if err != nil {
				return backendError(fmt.Errorf("server not reachable: %w", err))
			}
			fmt.Fprintf(out, "Status:    %s\n", st.Status)
			fmt.Fprintf(out, "AI:        %s\n", availability(st.AIAvailable, st.Model))
			if st.ReportsDir != "" {
				fmt.Fprintf(out, "Reports:   %s\n", st.ReportsDir)
			}
			if !st.AIAvailable {
				fmt.Fprintln(out, "warning: reports fall back to the template without a model")
			}
			return nil
		},
	}
}

func availability(ok bool, model string) string {
	switch {
	case !ok:
		return "unavailable"
	case model != "":
		return "available (" + model + ")"
	default:
		return "available"
	}
}
