// Package forecast turns weighted state polls into electoral-college outcome
// distributions by Monte Carlo sampling.
package forecast

import (
	"math"

	"github.com/rewired-gh/evforecast/internal/models"
)

const (
	// z95 converts a 95% margin of error into a standard deviation.
	z95 = 1.96

	MinUncertainty   = 1.0
	NoPollsPrior     = 50.0
	NoPollsUncertain = 2.0
)

// Support is the aggregated view of a state's polls.
type Support struct {
	A           float64
	B           float64
	Uncertainty float64
}

// Aggregate computes weight-averaged support for both sides and an
// uncertainty derived from the weighted margin of error, floored at
// MinUncertainty. No polls yields the neutral prior 50/50 with uncertainty 2.
func Aggregate(polls []models.Poll) Support {
	var totalWeight, sumA, sumB, sumMOE float64
	for _, p := range polls {
		w := float64(p.Weight)
		totalWeight += w
		sumA += p.SupportA * w
		sumB += p.SupportB * w
		sumMOE += p.MarginOfError * w
	}
	if totalWeight == 0 {
		return Support{A: NoPollsPrior, B: NoPollsPrior, Uncertainty: NoPollsUncertain}
	}

	return Support{
		A:           sumA / totalWeight,
		B:           sumB / totalWeight,
		Uncertainty: math.Max(MinUncertainty, (sumMOE/totalWeight)/z95),
	}
}

// CalculateWeightedSupport recomputes a state's support and uncertainty from
// its polls. Calling it again on an unchanged poll list gives the same result.
func CalculateWeightedSupport(state *models.StateRecord) {
	s := Aggregate(state.Polls)
	state.SupportA = s.A
	state.SupportB = s.B
	state.Uncertainty = s.Uncertainty
}
