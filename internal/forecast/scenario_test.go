package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/evforecast/internal/models"
)

func testRoster() []models.RosterEntry {
	return []models.RosterEntry{
		{Name: "California", ElectoralVotes: 54},
		{Name: "Texas", ElectoralVotes: 40},
		{Name: "Arizona", ElectoralVotes: 11},
		{Name: "Ohio", ElectoralVotes: 17},
	}
}

func byName(states []*models.StateRecord) map[string]*models.StateRecord {
	m := make(map[string]*models.StateRecord, len(states))
	for _, s := range states {
		m[s.Name] = s
	}
	return m
}

func TestAssemble_SafeOverridesAndCompetitive(t *testing.T) {
	polls := []models.PollRecord{
		{StateName: "Arizona", Poll: models.Poll{SupportA: 47, SupportB: 51, Weight: 8, MarginOfError: 3.0}},
		{StateName: "California", Poll: models.Poll{SupportA: 40, SupportB: 55, Weight: 5, MarginOfError: 3.0}},
		{StateName: "Atlantis", Poll: models.Poll{SupportA: 90, SupportB: 10, Weight: 5, MarginOfError: 3.0}},
	}
	sc := Scenario{
		SafeA:       []string{"California", "Narnia"},
		SafeB:       []string{"Texas"},
		Competitive: []string{"Arizona", "California"},
	}

	states, err := Assemble(testRoster(), polls, sc)
	require.NoError(t, err)
	require.Len(t, states, 4)
	assert.Equal(t, "California", states[0].Name, "roster order preserved")

	m := byName(states)

	ca := m["California"]
	assert.True(t, ca.Safe)
	assert.Equal(t, 60.0, ca.SupportA, "safe override is not blended with polls")
	assert.Equal(t, 35.0, ca.SupportB)
	assert.Equal(t, 2.0, ca.Uncertainty)
	assert.Len(t, ca.Polls, 1, "polls are kept for safe states")

	tx := m["Texas"]
	assert.Equal(t, 35.0, tx.SupportA)
	assert.Equal(t, 60.0, tx.SupportB)

	az := m["Arizona"]
	assert.Equal(t, 47.0, az.SupportA)
	assert.Equal(t, 51.0, az.SupportB)
	assert.InDelta(t, 3.0/1.96, az.Uncertainty, 1e-12)

	oh := m["Ohio"]
	assert.Equal(t, 50.0, oh.SupportA, "non-competitive state keeps the prior")
	assert.Equal(t, models.DefaultUncertainty, oh.Uncertainty)
}

func TestAssemble_NoCompetitiveListAggregatesNonSafe(t *testing.T) {
	polls := []models.PollRecord{
		{StateName: "Arizona", Poll: models.Poll{SupportA: 47, SupportB: 51, Weight: 8, MarginOfError: 3.0}},
	}
	states, err := Assemble(testRoster(), polls, Scenario{SafeA: []string{"California"}})
	require.NoError(t, err)

	m := byName(states)
	assert.Equal(t, 47.0, m["Arizona"].SupportA)
	assert.Equal(t, 2.0, m["Ohio"].Uncertainty, "no polls falls back to the neutral prior")
	assert.Equal(t, 60.0, m["California"].SupportA)
}

func TestAssemble_InvalidWeightFails(t *testing.T) {
	polls := []models.PollRecord{
		{StateName: "Arizona", Poll: models.Poll{SupportA: 47, SupportB: 51, Weight: 11, MarginOfError: 3.0}},
	}
	_, err := Assemble(testRoster(), polls, DefaultScenario())
	require.ErrorIs(t, err, models.ErrInvalidWeight)
}

func TestAssemble_RosterErrors(t *testing.T) {
	_, err := Assemble([]models.RosterEntry{{Name: "Ohio", ElectoralVotes: 17}, {Name: "Ohio", ElectoralVotes: 17}}, nil, DefaultScenario())
	require.ErrorIs(t, err, models.ErrDuplicateState)

	_, err = Assemble([]models.RosterEntry{{Name: "Ohio", ElectoralVotes: 0}}, nil, DefaultScenario())
	require.ErrorIs(t, err, models.ErrInvalidElectoralVotes)
}

func TestScenarioParams(t *testing.T) {
	sc := Scenario{UncertaintyMultiplier: Multiplier(1.5), TurnoutShift: map[string]float64{"Ohio": -2}}
	p := sc.Params()
	assert.Equal(t, 1.5, p.UncertaintyMultiplier)
	assert.Equal(t, -2.0, p.TurnoutShift["Ohio"])

	assert.Equal(t, 1.0, Scenario{}.Params().UncertaintyMultiplier)
	assert.Equal(t, 0.0, Scenario{UncertaintyMultiplier: Multiplier(0)}.Params().UncertaintyMultiplier)
}
