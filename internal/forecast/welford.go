package forecast

import (
	"math"

	"github.com/rewired-gh/evforecast/internal/models"
)

// VoteStats tracks a running mean and variance with Welford's method.
type VoteStats struct {
	Count int
	Mean  float64
	M2    float64
}

func (v *VoteStats) Update(x float64) {
	v.Count++
	delta := x - v.Mean
	v.Mean += delta / float64(v.Count)
	delta2 := x - v.Mean
	v.M2 += delta * delta2
}

// StdDev returns the sample standard deviation, or 0 with fewer than two values.
func (v *VoteStats) StdDev() float64 {
	if v.Count < 2 {
		return 0
	}
	return math.Sqrt(v.M2 / float64(v.Count-1))
}

// Distribution summarizes side A's electoral votes across trials.
func Distribution(results []models.TrialResult) VoteStats {
	var v VoteStats
	for _, r := range results {
		v.Update(float64(r.VotesA))
	}
	return v
}
