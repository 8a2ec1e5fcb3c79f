package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dvtrack/internal/dirs"
	"dvtrack/internal/poller"
	"dvtrack/internal/progress"
	"dvtrack/internal/smoothing"
	"dvtrack/internal/tracker"
)

// Config is the typed view of every setting dvtrack reads.
type Config struct {
	Server       Server
	Report       Polling
	Presentation Polling
	Smoothing    Smoothing
	Hold         Hold
	Log          Log
	Verbose      bool
}

type Server struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

type Polling struct {
	Interval time.Duration
	Budget   int
}

type Smoothing struct {
	Tick         time.Duration
	StepFraction float64
	MinStep      float64
}

type Hold struct {
	Success time.Duration
	Error   time.Duration
	Stopped time.Duration
}

type Log struct {
	Level string
	File  string
}

func setDefaults() {
	viper.SetDefault("server.base_url", "http://127.0.0.1:5001")
	viper.SetDefault("server.timeout", 30*time.Second)
	viper.SetDefault("server.rate_limit", 4.0)
	viper.SetDefault("server.burst", 4)

	viper.SetDefault("report.poll_interval", 2*time.Second)
	viper.SetDefault("report.poll_budget", 600)
	viper.SetDefault("presentation.poll_interval", 6*time.Second)
	viper.SetDefault("presentation.poll_budget", 200)

	viper.SetDefault("smoothing.tick", 180*time.Millisecond)
	viper.SetDefault("smoothing.step_fraction", 0.18)
	viper.SetDefault("smoothing.min_step", 0.4)

	viper.SetDefault("hold.success", 8*time.Second)
	viper.SetDefault("hold.error", 12*time.Second)
	viper.SetDefault("hold.stopped", 4*time.Second)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "")
}

// Init wires Viper with config paths, env, defaults, and flag bindings.
// It is non-fatal: any errors are returned for optional handling by caller.
func Init(root *cobra.Command) error {
	_ = dirs.EnsureAll()

	if cfgDir, err := dirs.ConfigDir(); err == nil {
		viper.AddConfigPath(cfgDir)
	}
	viper.SetConfigName("config") // supports config.{yaml|yml|json|toml}

	// Environment variables: DVTRACK_SERVER_BASE_URL, DVTRACK_REPORT_POLL_BUDGET, ...
	viper.SetEnvPrefix("DVTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	setDefaults()

	_ = viper.BindPFlag("server.base_url", root.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log.file", root.PersistentFlags().Lookup("log-file"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Load returns the current settings and validates them.
func Load() (Config, error) {
	setDefaults()
	c := Config{
		Server: Server{
			BaseURL:   viper.GetString("server.base_url"),
			Timeout:   viper.GetDuration("server.timeout"),
			RateLimit: viper.GetFloat64("server.rate_limit"),
			Burst:     viper.GetInt("server.burst"),
		},
		Report: Polling{
			Interval: viper.GetDuration("report.poll_interval"),
			Budget:   viper.GetInt("report.poll_budget"),
		},
		Presentation: Polling{
			Interval: viper.GetDuration("presentation.poll_interval"),
			Budget:   viper.GetInt("presentation.poll_budget"),
		},
		Smoothing: Smoothing{
			Tick:         viper.GetDuration("smoothing.tick"),
			StepFraction: viper.GetFloat64("smoothing.step_fraction"),
			MinStep:      viper.GetFloat64("smoothing.min_step"),
		},
		Hold: Hold{
			Success: viper.GetDuration("hold.success"),
			Error:   viper.GetDuration("hold.error"),
			Stopped: viper.GetDuration("hold.stopped"),
		},
		Log: Log{
			Level: viper.GetString("log.level"),
			File:  viper.GetString("log.file"),
		},
		Verbose: viper.GetBool("verbose"),
	}
	return c, c.Validate()
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Server.BaseURL == "":
		return fmt.Errorf("server.base_url is empty")
	case c.Server.RateLimit < 0:
		return fmt.Errorf("server.rate_limit must not be negative")
	case c.Report.Interval <= 0 || c.Presentation.Interval <= 0:
		return fmt.Errorf("poll intervals must be positive")
	case c.Report.Budget < 1 || c.Presentation.Budget < 1:
		return fmt.Errorf("poll budgets must be at least 1")
	case c.Smoothing.Tick <= 0:
		return fmt.Errorf("smoothing.tick must be positive")
	case c.Smoothing.StepFraction <= 0 || c.Smoothing.StepFraction > 1:
		return fmt.Errorf("smoothing.step_fraction must be in (0, 1], got %v", c.Smoothing.StepFraction)
	case c.Smoothing.MinStep < 0:
		return fmt.Errorf("smoothing.min_step must not be negative")
	}
	return nil
}

// Tracker returns the tracker timing for kind.
func (c Config) Tracker(kind progress.Kind) tracker.Config {
	tc := tracker.DefaultConfig(kind)
	p := c.Report
	if kind == progress.KindPresentation {
		p = c.Presentation
	}
	tc.Cadence = poller.Cadence{Interval: p.Interval, Budget: p.Budget}
	tc.Smoothing = smoothing.Config{StepFraction: c.Smoothing.StepFraction, MinStep: c.Smoothing.MinStep}
	tc.Tick = c.Smoothing.Tick
	tc.HoldSuccess = c.Hold.Success
	tc.HoldError = c.Hold.Error
	tc.HoldStopped = c.Hold.Stopped
	return tc
}
