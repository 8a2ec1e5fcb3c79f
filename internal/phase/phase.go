// Package phase holds the static phase profiles of each job kind.
package phase

import (
	"math"
	"strings"
	"time"

	"dvtrack/internal/progress"
)

// Profile describes one ordered stage of backend work.
type Profile struct {
	Name     string
	Weight   float64 // share of overall progress, 0..100
	Expected time.Duration
}

const (
	minCeiling = 94.0
	maxCeiling = 99.0
)

// Report phases mirror the server's report generation stages. Weights are the
// deltas between the server's cumulative stage progress (5, 20, 65, 78, 90, 100).
var reportProfiles = []Profile{
	{Name: "queued", Weight: 5, Expected: 1 * time.Second},
	{Name: "building_prompt", Weight: 15, Expected: 4 * time.Second},
	{Name: "generating", Weight: 45, Expected: 90 * time.Second},
	{Name: "fallback", Weight: 13, Expected: 8 * time.Second},
	{Name: "saving", Weight: 12, Expected: 3 * time.Second},
	{Name: "completed", Weight: 10, Expected: 1 * time.Second},
}

var presentationProfiles = []Profile{
	{Name: "uploading", Weight: 10, Expected: 10 * time.Second},
	{Name: "executing", Weight: 70, Expected: 180 * time.Second},
	{Name: "exporting", Weight: 15, Expected: 40 * time.Second},
	{Name: "publishing", Weight: 5, Expected: 10 * time.Second},
}

// For returns the ordered profiles of kind. The returned slice must not be
// modified. Unknown kinds have no phases.
func For(kind progress.Kind) []Profile {
	switch kind {
	case progress.KindReport:
		return reportProfiles
	case progress.KindPresentation:
		return presentationProfiles
	default:
		return nil
	}
}

// Base returns the cumulative weight of all phases before index i.
func Base(profiles []Profile, i int) float64 {
	var sum float64
	for j := 0; j < i && j < len(profiles); j++ {
		sum += profiles[j].Weight
	}
	return sum
}

// Weight returns the weight of phase i, or 0 when out of range.
func Weight(profiles []Profile, i int) float64 {
	if i < 0 || i >= len(profiles) {
		return 0
	}
	return profiles[i].Weight
}

// Expected returns the expected duration of phase i, or 0 when out of range.
func Expected(profiles []Profile, i int) time.Duration {
	if i < 0 || i >= len(profiles) {
		return 0
	}
	return profiles[i].Expected
}

// Index maps a phase name to its position. Matching ignores case and
// surrounding whitespace.
func Index(profiles []Profile, name string) (int, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return 0, false
	}
	for i, p := range profiles {
		if p.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Name returns the name of phase i, or "" when out of range.
func Name(profiles []Profile, i int) string {
	if i < 0 || i >= len(profiles) {
		return ""
	}
	return profiles[i].Name
}

// Last returns the index of the final phase.
func Last(profiles []Profile) int {
	if len(profiles) == 0 {
		return 0
	}
	return len(profiles) - 1
}

// Ceiling is the hard cap the displayed progress may not cross while phase i is
// current and success has not been confirmed. It rises linearly from 94 on the
// first phase to 99 on the last and is always strictly below 100.
func Ceiling(profiles []Profile, i int) float64 {
	n := len(profiles)
	if n <= 1 || i <= 0 {
		return minCeiling
	}
	if i >= n-1 {
		return maxCeiling
	}
	step := (maxCeiling - minCeiling) * float64(i) / float64(n-1)
	return math.Round(minCeiling + step)
}

// TotalWeight sums all phase weights; it is 100 for every registered kind.
func TotalWeight(profiles []Profile) float64 {
	return Base(profiles, len(profiles))
}
