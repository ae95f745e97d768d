package forecast

import (
	"context"

	"github.com/rewired-gh/evforecast/internal/models"
)

// StateWins counts trials carried by each side in a single state.
type StateWins struct {
	A int
	B int
}

// Winner returns the side carrying the state in more trials; an even split goes to A.
func (w StateWins) Winner() models.Side {
	if w.A >= w.B {
		return models.SideA
	}
	return models.SideB
}

// PredictWinners returns the majority-vote winner of every state.
func PredictWinners(ctx context.Context, e StateEngine, states []*models.StateRecord, trials int, p Params) (map[string]models.Side, error) {
	wins, err := e.StateWins(ctx, states, trials, p)
	if err != nil {
		return nil, err
	}
	predictions := make(map[string]models.Side, len(wins))
	for name, w := range wins {
		predictions[name] = w.Winner()
	}
	return predictions, nil
}
