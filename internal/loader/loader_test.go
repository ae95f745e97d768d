package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/evforecast/internal/forecast"
	"github.com/rewired-gh/evforecast/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadRoster(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "states.csv", "name,electoral_votes\nAlpha,3\nBeta, 10\n")

	roster, err := ReadRoster(path)
	require.NoError(t, err)
	assert.Equal(t, []models.RosterEntry{{Name: "Alpha", ElectoralVotes: 3}, {Name: "Beta", ElectoralVotes: 10}}, roster)
}

func TestReadRoster_BadNumber(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "states.csv", "name,electoral_votes\nAlpha,three\n")

	_, err := ReadRoster(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "states.csv:2")
}

func TestReadRoster_MissingColumn(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "states.csv", "name\nAlpha\n")

	_, err := ReadRoster(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "electoral_votes")
}

func TestReadStateList(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "states.txt", "Alpha\n\n  Beta  \n")

	names, err := ReadStateList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Beta"}, names)

	names, err = ReadStateList(filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestReadPolls(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "polls.csv", "state_name,support_a,support_b,weight,moe\nAlpha,52.0,48.0,3,4.0\n")

	polls, err := ReadPolls(path)
	require.NoError(t, err)
	require.Len(t, polls, 1)
	assert.Equal(t, "Alpha", polls[0].StateName)
	assert.Equal(t, 3, polls[0].Weight)
	assert.Equal(t, 52.0, polls[0].SupportA)
}

func TestWritePolls_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "polls.csv")
	polls := []models.PollRecord{
		{StateName: "North Carolina", Poll: models.Poll{SupportA: 49, SupportB: 48, Weight: 8, MarginOfError: 3.1}},
	}

	require.NoError(t, WritePolls(path, polls))
	got, err := ReadPolls(path)
	require.NoError(t, err)
	assert.Equal(t, polls, got)
}

func TestReadTurnoutAndHistorical(t *testing.T) {
	dir := t.TempDir()
	turnout := writeFile(t, dir, "turnout.csv", "state_name,margin_shift\nAlpha,1.5\nBeta,-2\n")
	historical := writeFile(t, dir, "hist.csv", "state_name,winner\nAlpha,Democrat\n")

	shifts, err := ReadTurnout(turnout)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Alpha": 1.5, "Beta": -2}, shifts)

	winners, err := ReadHistorical(historical)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Alpha": "Democrat"}, winners)
}

func newTestDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "states_info.csv", "name,electoral_votes\nAlpha,54\nBeta,40\nGamma,11\n")
	writeFile(t, dir, "safe_states_a.txt", "Alpha\n")
	writeFile(t, dir, "safe_states_b.txt", "Beta\n")
	writeFile(t, dir, "competitive_states.txt", "Gamma\n")
	writeFile(t, dir, "polling_data.csv", strings.Join([]string{
		"state_name,support_a,support_b,weight,moe",
		"Gamma,55,45,2,3",
		"Gamma,50,50,1,4",
		"Nowhere,50,50,1,4",
	}, "\n")+"\n")
	return dir
}

func TestDirSource_Load(t *testing.T) {
	dir := newTestDir(t)
	states, params, err := NewDirSource(dir).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 3)

	assert.Equal(t, 60.0, states[0].SupportA)
	assert.Equal(t, 60.0, states[1].SupportB)
	assert.InDelta(t, 53.33, states[2].SupportA, 0.005)
	assert.InDelta(t, 1.70, states[2].Uncertainty, 0.005)
	assert.Equal(t, 1.0, params.UncertaintyMultiplier)
}

func TestDirSource_InvalidWeightFails(t *testing.T) {
	dir := newTestDir(t)
	writeFile(t, dir, "polling_data.csv", "state_name,support_a,support_b,weight,moe\nGamma,55,45,0,3\n")

	_, _, err := NewDirSource(dir).Load(context.Background())
	require.ErrorIs(t, err, models.ErrInvalidWeight)
}

func TestDirSource_ScenarioFileOverrides(t *testing.T) {
	dir := newTestDir(t)
	writeFile(t, dir, "turnout.csv", "state_name,margin_shift\nGamma,1\nBeta,2\n")
	writeFile(t, dir, "scenario.yaml", `
safe_a: [Alpha, Gamma]
uncertainty_multiplier: 1.5
turnout_shift:
  Gamma: -3
`)
	src := NewDirSource(dir)
	src.Files.Turnout = "turnout.csv"
	src.Files.Scenario = "scenario.yaml"

	_, _, sc, err := src.Inputs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Gamma"}, sc.SafeA)
	assert.Equal(t, []string{"Beta"}, sc.SafeB)
	require.NotNil(t, sc.UncertaintyMultiplier)
	assert.Equal(t, 1.5, *sc.UncertaintyMultiplier)
	assert.Equal(t, map[string]float64{"Gamma": -3, "Beta": 2}, sc.TurnoutShift)

	states, params, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, states[2].Safe)
	assert.Equal(t, 60.0, states[2].SupportA)
	assert.Equal(t, 1.5, params.UncertaintyMultiplier)
	assert.Equal(t, -3.0, params.TurnoutShift["Gamma"])
}

func TestDirSource_MultiplierPrecedence(t *testing.T) {
	tests := []struct {
		name      string
		base      *float64
		file      string
		overrides *float64
		want      float64
	}{
		{"base only", forecast.Multiplier(1.0), "", nil, 1.0},
		{"file beats base", forecast.Multiplier(1.0), "uncertainty_multiplier: 1.5\n", nil, 1.5},
		{"file zero beats base", forecast.Multiplier(1.0), "uncertainty_multiplier: 0\n", nil, 0},
		{"file without multiplier keeps base", forecast.Multiplier(2.0), "safe_a: [Alpha]\n", nil, 2.0},
		{"override beats file", forecast.Multiplier(1.0), "uncertainty_multiplier: 1.5\n", forecast.Multiplier(0.5), 0.5},
		{"override zero beats file", forecast.Multiplier(1.0), "uncertainty_multiplier: 1.5\n", forecast.Multiplier(0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newTestDir(t)
			src := NewDirSource(dir)
			src.Base.UncertaintyMultiplier = tt.base
			src.Overrides.UncertaintyMultiplier = tt.overrides
			if tt.file != "" {
				writeFile(t, dir, "scenario.yaml", tt.file)
				src.Files.Scenario = "scenario.yaml"
			}

			_, params, err := src.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, params.UncertaintyMultiplier)
		})
	}
}

func TestDirSource_AbsoluteTurnoutPath(t *testing.T) {
	dir := newTestDir(t)
	elsewhere := writeFile(t, t.TempDir(), "turnout.csv", "state_name,margin_shift\nGamma,2.5\n")
	require.True(t, filepath.IsAbs(elsewhere))

	src := NewDirSource(dir)
	src.Files.Turnout = elsewhere
	_, params, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.5, params.TurnoutShift["Gamma"])
}

func TestReadScenario_NegativeMultiplier(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "scenario.yaml", "uncertainty_multiplier: -1\n")
	_, err := ReadScenario(path)
	require.ErrorIs(t, err, forecast.ErrInvalidMultiplier)

	path = writeFile(t, dir, "inf.yaml", "uncertainty_multiplier: .inf\n")
	_, err = ReadScenario(path)
	require.ErrorIs(t, err, forecast.ErrInvalidMultiplier)
}

func TestWritePolls_RemovesTempFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "polling_data.csv")
	// A non-empty directory at the target makes the final rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(target, "occupied"), 0o755))

	err := WritePolls(target, []models.PollRecord{
		{StateName: "Ohio", Poll: models.Poll{SupportA: 45, SupportB: 50, Weight: 2, MarginOfError: 3.5}},
	})
	require.Error(t, err)
	assert.NoFileExists(t, target+".tmp")
}
