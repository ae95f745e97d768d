// Package backtest scores per-state predictions against historical winners.
package backtest

import (
	"github.com/rewired-gh/evforecast/internal/models"
)

// Labels maps each side to the winner label used in historical results.
type Labels struct {
	A string
	B string
}

func (l Labels) of(side models.Side) string {
	if side == models.SideA {
		return l.A
	}
	return l.B
}

// Accuracy is the outcome of a backtest.
type Accuracy struct {
	Correct int
	Total   int
	Misses  []string
}

// Percent returns Correct/Total*100, or 0 when nothing was comparable.
func (a Accuracy) Percent() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Correct) / float64(a.Total) * 100
}

// Evaluate compares predictions with actual winners. Only states present in
// both are counted. Misses lists the mispredicted states in no particular order.
func Evaluate(predicted map[string]models.Side, actual map[string]string, labels Labels) Accuracy {
	var acc Accuracy
	for state, winner := range actual {
		side, ok := predicted[state]
		if !ok {
			continue
		}
		acc.Total++
		if labels.of(side) == winner {
			acc.Correct++
		} else {
			acc.Misses = append(acc.Misses, state)
		}
	}
	return acc
}
