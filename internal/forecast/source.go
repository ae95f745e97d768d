package forecast

import (
	"context"

	"github.com/rewired-gh/evforecast/internal/models"
)

// DataSource supplies one election universe: state records already
// aggregated with safe-state overrides applied, and the sampling parameters
// to run them with.
type DataSource interface {
	Load(ctx context.Context) ([]*models.StateRecord, Params, error)
}

// StaticSource serves a fixed universe.
type StaticSource struct {
	States []*models.StateRecord
	Params Params
}

func (s StaticSource) Load(context.Context) ([]*models.StateRecord, Params, error) {
	return s.States, s.Params, nil
}
