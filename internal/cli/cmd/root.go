package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"dvtrack/internal/backend"
	"dvtrack/internal/backend/httpapi"
	"dvtrack/internal/config"
	"dvtrack/internal/logging"
	"dvtrack/internal/progress"
)

const (
	ExitOK           = 0
	ExitCLIError     = 1
	ExitUnreachable  = 2
	ExitJobFailed    = 3
	ExitStillRunning = 4
)

// ExitError wraps an error with a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// app carries what PersistentPreRunE loaded to the subcommands.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	closer io.Closer

	// isTerminal is replaced in tests.
	isTerminal func() bool
}

func (a *app) close() {
	if a.closer != nil {
		_ = a.closer.Close()
		a.closer = nil
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "dvtrack",
		Short: "Follow deep-vision report and presentation jobs",
		Long: "dvtrack starts, follows and cancels the long-running report and presentation jobs of a " +
			"deep-vision interview server. Progress is estimated per phase and smoothed, so the bar keeps " +
			"moving between status polls without ever claiming a job is done before it is.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Init(cmd.Root()); err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			cfg, err := config.Load()
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: fmt.Errorf("config: %w", err)}
			}
			logger, closer, err := logging.New(cfg.Log, cfg.Verbose)
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			a.cfg, a.logger, a.closer = cfg, logger, closer
			logger.Debug("cli.start", "command", cmd.CommandPath(), "server", cfg.Server.BaseURL)
			return nil
		},
	}

	// Persistent flags available to all subcommands
	root.PersistentFlags().String("server", "", "deep-vision server base URL (default http://127.0.0.1:5001)")
	root.PersistentFlags().BoolP("verbose", "v", false, "Write debug records to the log file")
	root.PersistentFlags().String("log-file", "", "Log file path (default in the state dir)")

	root.AddCommand(newWatchCmd(a))
	root.AddCommand(newGenerateCmd(a))
	root.AddCommand(newStatusCmd(a))
	root.AddCommand(newCancelCmd(a))
	root.AddCommand(newDoctorCmd(a))
	root.AddCommand(newDemoCmd(a))
	root.AddCommand(newCompletionCmd())

	return root
}

// Execute runs the CLI with the provided context.
func Execute(ctx context.Context) error {
	a := &app{isTerminal: stdoutIsTerminal}
	defer a.close()
	return newRootCmd(a).ExecuteContext(ctx)
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// bindViewFlags adds the flags of every command that shows job progress.
func bindViewFlags(fs *pflag.FlagSet, plain *bool) {
	fs.BoolVar(plain, "plain", false, "Print progress lines instead of the interactive view (implied without a terminal)")
}

// client builds the shared HTTP transport from the loaded settings.
func (a *app) client() (*httpapi.Client, error) {
	c, err := httpapi.NewClient(a.cfg.Server.BaseURL,
		httpapi.WithTimeout(a.cfg.Server.Timeout),
		httpapi.WithRateLimit(a.cfg.Server.RateLimit, a.cfg.Server.Burst),
		httpapi.WithLogger(a.logger),
	)
	if err != nil {
		return nil, &ExitError{Code: ExitCLIError, Err: err}
	}
	return c, nil
}

// backends returns the report and presentation adapters over one client.
func (a *app) backends() (report, presentation backend.Backend, err error) {
	c, err := a.client()
	if err != nil {
		return nil, nil, err
	}
	return httpapi.NewReportClient(c), httpapi.NewPresentationClient(c), nil
}

func (a *app) backend(kind progress.Kind) (backend.Backend, error) {
	report, presentation, err := a.backends()
	if err != nil {
		return nil, err
	}
	if kind == progress.KindPresentation {
		return presentation, nil
	}
	return report, nil
}

// parseKind accepts the job kind argument of generate, status and cancel.
func parseKind(s string) (progress.Kind, error) {
	switch progress.Kind(s) {
	case progress.KindReport, progress.KindPresentation:
		return progress.Kind(s), nil
	}
	return "", &ExitError{Code: ExitCLIError, Err: fmt.Errorf("invalid job kind %q (valid: report|presentation)", s)}
}

// backendError maps a backend call failure to an exit code.
func backendError(err error) *ExitError {
	var ue *url.Error
	var se *httpapi.StatusError
	switch {
	case errors.As(err, &ue):
		return &ExitError{Code: ExitUnreachable, Err: err}
	case errors.As(err, &se) && se.Temporary():
		return &ExitError{Code: ExitUnreachable, Err: err}
	}
	return &ExitError{Code: ExitCLIError, Err: err}
}
