package models

import "time"

// Side identifies one of the two candidates.
type Side int

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	if s == SideA {
		return "A"
	}
	return "B"
}

// TrialResult is the electoral-vote tally of one Monte Carlo trial.
type TrialResult struct {
	VotesA int `json:"votes_a"`
	VotesB int `json:"votes_b"`
}

// Summary counts trials won by each side and trials where neither reached the threshold.
type Summary struct {
	A    int `json:"a"`
	B    int `json:"b"`
	Ties int `json:"ties"`
}

// Total returns the number of summarized trials.
func (s Summary) Total() int {
	return s.A + s.B + s.Ties
}

// WinProbability returns the fraction of trials won by side.
func (s Summary) WinProbability(side Side) float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	if side == SideA {
		return float64(s.A) / float64(total)
	}
	return float64(s.B) / float64(total)
}

// RunSummary is the archived record of one forecast run.
type RunSummary struct {
	ID                    string
	StartedAt             time.Time
	Duration              time.Duration
	Seed                  uint64
	Trials                int
	UncertaintyMultiplier float64
	Summary               Summary
	MeanVotesA            float64
	StdDevVotesA          float64
}
