// Package smoothing animates the displayed progress toward the latest estimate.
//
// The smoother never moves backwards, never crosses the ceiling of the current
// phase and only reaches 100 through Complete.
package smoothing

import (
	"math"
	"time"

	"dvtrack/internal/estimate"
	"dvtrack/internal/phase"
)

// Config tunes the step applied on each tick.
type Config struct {
	// StepFraction is the share of the remaining gap covered per tick.
	StepFraction float64
	// MinStep is added to every step so small gaps still close.
	MinStep float64
}

// DefaultConfig returns the step constants used when none are configured.
func DefaultConfig() Config {
	return Config{StepFraction: 0.18, MinStep: 0.4}
}

// Smoother holds the animation state for a single job.
type Smoother struct {
	profiles []phase.Profile
	cfg      Config

	displayed    float64
	target       float64
	phase        int
	phaseStarted time.Time
	running      bool
}

// New returns a stopped smoother for the given phase profiles.
func New(profiles []phase.Profile, cfg Config) *Smoother {
	if cfg.StepFraction <= 0 || cfg.StepFraction > 1 {
		cfg.StepFraction = DefaultConfig().StepFraction
	}
	if cfg.MinStep < 0 {
		cfg.MinStep = 0
	}
	return &Smoother{profiles: profiles, cfg: cfg}
}

// Reset starts a new job at seed in phase idx.
func (s *Smoother) Reset(seed float64, idx int, now time.Time) {
	s.phase = clampIndex(idx, len(s.profiles))
	s.phaseStarted = now
	s.displayed = math.Max(0, math.Min(seed, phase.Ceiling(s.profiles, s.phase)))
	s.target = s.displayed
	s.running = true
}

// Retarget applies a new estimator output. Targets and phases only move forward.
func (s *Smoother) Retarget(est estimate.Estimate, now time.Time) {
	if !s.running {
		return
	}
	if est.Percent > s.target {
		s.target = est.Percent
	}
	if idx := clampIndex(est.PhaseIndex, len(s.profiles)); idx > s.phase {
		s.phase = idx
		s.phaseStarted = now
		if !est.PhaseStartedAt.IsZero() && est.PhaseStartedAt.Before(now) {
			s.phaseStarted = est.PhaseStartedAt
		}
	}
}

// Tick advances the displayed value one step and returns it.
func (s *Smoother) Tick(now time.Time) float64 {
	if !s.running {
		return s.displayed
	}
	goal := s.Goal(now)
	gap := goal - s.displayed
	if gap <= 0 {
		return s.displayed
	}
	if step := gap*s.cfg.StepFraction + s.cfg.MinStep; step < gap {
		s.displayed += step
	} else {
		s.displayed = goal
	}
	return s.displayed
}

// Goal is the value the next ticks move toward: the soft target capped by the
// ceiling of the current phase.
func (s *Smoother) Goal(now time.Time) float64 {
	var ratio float64
	if exp := phase.Expected(s.profiles, s.phase); exp > 0 {
		ratio = math.Min(1, math.Max(0, float64(now.Sub(s.phaseStarted))/float64(exp)))
	}
	timeBased := phase.Base(s.profiles, s.phase) + phase.Weight(s.profiles, s.phase)*ratio
	soft := math.Max(s.target, timeBased)
	return math.Min(phase.Ceiling(s.profiles, s.phase), soft)
}

// Complete pins the displayed value at 100 and stops.
func (s *Smoother) Complete() {
	s.displayed = 100
	s.target = 100
	s.running = false
}

// Freeze stops the animation and keeps the last displayed value.
func (s *Smoother) Freeze() {
	s.running = false
}

// Clear stops the animation and drops the displayed value to zero.
func (s *Smoother) Clear() {
	s.displayed = 0
	s.target = 0
	s.phase = 0
	s.running = false
}

// Displayed returns the current displayed value.
func (s *Smoother) Displayed() float64 { return s.displayed }

// Phase returns the phase index the ceiling is currently taken from.
func (s *Smoother) Phase() int { return s.phase }

// Running reports whether ticks still advance the value.
func (s *Smoother) Running() bool { return s.running }

func clampIndex(i, n int) int {
	if i < 0 || n == 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
