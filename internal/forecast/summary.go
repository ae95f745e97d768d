package forecast

import (
	"github.com/rewired-gh/evforecast/internal/models"
)

// DefaultThreshold is the electoral-vote majority of a 538-vote college.
const DefaultThreshold = 270

// Analyzer reduces trial results to a summary.
type Analyzer interface {
	Summarize(results []models.TrialResult) models.Summary
}

var _ Analyzer = MajorityAnalyzer{}

// MajorityAnalyzer counts a trial for the first side reaching Threshold.
type MajorityAnalyzer struct {
	Threshold int
}

// Summarize implements Analyzer. A zero Threshold means DefaultThreshold.
func (a MajorityAnalyzer) Summarize(results []models.TrialResult) models.Summary {
	threshold := a.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	return Summarize(results, threshold)
}

// Summarize counts A when votesA reaches threshold, else B when votesB does,
// else Ties. Ties covers exact splits and any trial where neither side
// reaches the threshold.
func Summarize(results []models.TrialResult, threshold int) models.Summary {
	var s models.Summary
	for _, r := range results {
		switch {
		case r.VotesA >= threshold:
			s.A++
		case r.VotesB >= threshold:
			s.B++
		default:
			s.Ties++
		}
	}
	return s
}
