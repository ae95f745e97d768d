package forecast

import (
	"fmt"

	"github.com/rewired-gh/evforecast/internal/models"
)

// Fixed figures for safe states. The favoured side gets SafeSupport.
const (
	SafeSupport     = 60.0
	SafeOpponent    = 35.0
	SafeUncertainty = 2.0
)

// Scenario holds the exogenous overrides applied around a simulation.
// Safe lists are applied at load time; the multiplier and turnout shift are
// applied per trial and never written back to the state records.
type Scenario struct {
	SafeA       []string `yaml:"safe_a"`
	SafeB       []string `yaml:"safe_b"`
	Competitive []string `yaml:"competitive"`

	// UncertaintyMultiplier is nil when unset, so an explicit 0 survives merging.
	UncertaintyMultiplier *float64           `yaml:"uncertainty_multiplier"`
	TurnoutShift          map[string]float64 `yaml:"turnout_shift"`
}

// DefaultScenario returns a scenario with no overrides.
func DefaultScenario() Scenario {
	return Scenario{UncertaintyMultiplier: Multiplier(1.0)}
}

// Multiplier returns a pointer for Scenario.UncertaintyMultiplier.
func Multiplier(v float64) *float64 {
	return &v
}

// Params returns the sampling-time part of the scenario. An unset
// multiplier is 1.
func (sc Scenario) Params() Params {
	p := Params{UncertaintyMultiplier: 1.0, TurnoutShift: sc.TurnoutShift}
	if sc.UncertaintyMultiplier != nil {
		p.UncertaintyMultiplier = *sc.UncertaintyMultiplier
	}
	return p
}

// ApplySafeOverride replaces a state's figures with the fixed safe-state
// values for side. Poll-derived values are discarded, not blended.
func ApplySafeOverride(state *models.StateRecord, side models.Side) {
	if side == models.SideA {
		state.SupportA, state.SupportB = SafeSupport, SafeOpponent
	} else {
		state.SupportA, state.SupportB = SafeOpponent, SafeSupport
	}
	state.Uncertainty = SafeUncertainty
	state.Safe = true
}

// Assemble builds the state records for one election universe.
//
// Order: roster, safe-state overrides, polls, aggregation. Only competitive
// states are aggregated; when no competitive list is given every non-safe
// state is. This departs from reading an empty list as "aggregate nothing",
// which would leave every unlisted state at the 50/50 default.
//
// Safe states are never aggregated. Names in the overrides or polls that are
// not on the roster are ignored. An invalid poll weight aborts the load. The
// returned slice follows roster order.
func Assemble(roster []models.RosterEntry, polls []models.PollRecord, sc Scenario) ([]*models.StateRecord, error) {
	states := make([]*models.StateRecord, 0, len(roster))
	byName := make(map[string]*models.StateRecord, len(roster))
	for _, entry := range roster {
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("invalid roster entry: %w", err)
		}
		if _, exists := byName[entry.Name]; exists {
			return nil, fmt.Errorf("%w: %s", models.ErrDuplicateState, entry.Name)
		}
		s := models.NewStateRecord(entry.Name, entry.ElectoralVotes)
		states = append(states, s)
		byName[entry.Name] = s
	}

	for _, name := range sc.SafeA {
		if s, ok := byName[name]; ok {
			ApplySafeOverride(s, models.SideA)
		}
	}
	for _, name := range sc.SafeB {
		if s, ok := byName[name]; ok {
			ApplySafeOverride(s, models.SideB)
		}
	}

	for i, rec := range polls {
		s, ok := byName[rec.StateName]
		if !ok {
			continue
		}
		if err := s.AddPoll(rec.SupportA, rec.SupportB, rec.Weight, rec.MarginOfError); err != nil {
			return nil, fmt.Errorf("poll %d for %s: %w", i+1, rec.StateName, err)
		}
	}

	if len(sc.Competitive) == 0 {
		for _, s := range states {
			if !s.Safe {
				CalculateWeightedSupport(s)
			}
		}
		return states, nil
	}
	for _, name := range sc.Competitive {
		if s, ok := byName[name]; ok && !s.Safe {
			CalculateWeightedSupport(s)
		}
	}
	return states, nil
}
