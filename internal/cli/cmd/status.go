package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/spf13/cobra"

	"dvtrack/internal/backend"
	"dvtrack/internal/estimate"
	"dvtrack/internal/phase"
	"dvtrack/internal/progress"
)

// statusReport is the --json shape of the status command.
type statusReport struct {
	Kind        progress.Kind        `json:"kind"`
	Resource    string               `json:"resource"`
	State       backend.RecoveryKind `json:"state"`
	ExecutionID string               `json:"execution_id,omitempty"`
	Phase       string               `json:"phase,omitempty"`
	Percent     *int                 `json:"percent,omitempty"`
	URL         string               `json:"url,omitempty"`
	Message     string               `json:"message,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:       "status <report|presentation> <resource>",
		Short:     "Ask the server once what it knows about a job",
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
			rec, err := b.RecoveryStatus(cmd.Context(), args[1])
			if err != nil {
				return backendError(err)
			}
			rep := describe(kind, args[1], rec, time.Now())
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return &ExitError{Code: ExitCLIError, Err: err}
				}
			} else {
				printStatus(cmd.OutOrStdout(), rep)
			}
			if rec.Kind == backend.RecoveryFailed {
				return &ExitError{Code: ExitJobFailed, Err: errors.New(rep.Message)}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

// describe summarizes a recovery answer. The percent of a running job is a
// one-off estimate from the snapshot alone, so it ignores time already spent
// in the phase.
func describe(kind progress.Kind, resource string, rec backend.Recovery, now time.Time) statusReport {
	rep := statusReport{Kind: kind, Resource: resource, State: rec.Kind, Message: rec.Message}
	switch rec.Kind {
	case backend.RecoveryInFlight:
		rep.ExecutionID = rec.ExecutionID
		profiles := phase.For(kind)
		est := estimate.Compute(estimate.Input{
			Snapshot: rec.Snapshot,
			Previous: estimate.Estimate{Percent: estimate.JobFloor, PhaseStartedAt: now},
			Profiles: profiles,
			Now:      now,
		})
		pct := int(math.Floor(est.Percent))
		rep.Percent = &pct
		rep.Phase = phase.Name(profiles, est.PhaseIndex)
		if rec.Snapshot.Message != "" {
			rep.Message = rec.Snapshot.Message
		}
	case backend.RecoveryDone:
		if rec.Artifact != nil {
			rep.URL = rec.Artifact.URL
		}
	}
	return rep
}

func printStatus(w io.Writer, r statusReport) {
	switch r.State {
	case backend.RecoveryIdle:
		fmt.Fprintf(w, "%s %s: no job\n", r.Kind, r.Resource)
	case backend.RecoveryInFlight:
		fmt.Fprintf(w, "%s %s: running (execution %s)\n", r.Kind, r.Resource, r.ExecutionID)
		fmt.Fprintf(w, "  phase:    %s\n", r.Phase)
		fmt.Fprintf(w, "  estimate: ~%d%%\n", *r.Percent)
		if r.Message != "" {
			fmt.Fprintf(w, "  message:  %s\n", r.Message)
		}
	case backend.RecoveryDone:
		fmt.Fprintf(w, "%s %s: ready\n  %s\n", r.Kind, r.Resource, r.URL)
	case backend.RecoveryFailed:
		fmt.Fprintf(w, "%s %s: failed: %s\n", r.Kind, r.Resource, r.Message)
	}
}
