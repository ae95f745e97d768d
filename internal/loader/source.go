package loader

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rewired-gh/evforecast/internal/forecast"
	"github.com/rewired-gh/evforecast/internal/models"
)

// Files names the inputs inside a data directory. Empty optional names are skipped.
type Files struct {
	States      string
	SafeA       string
	SafeB       string
	Competitive string
	Polls       string
	Turnout     string
	Scenario    string
}

// DefaultFiles returns the conventional file names.
func DefaultFiles() Files {
	return Files{
		States:      "states_info.csv",
		SafeA:       "safe_states_a.txt",
		SafeB:       "safe_states_b.txt",
		Competitive: "competitive_states.txt",
		Polls:       "polling_data.csv",
	}
}

// DirSource loads an election universe from a data directory.
type DirSource struct {
	Dir   string
	Files Files
	// Base supplies the sampling parameters used when no scenario file sets them.
	Base forecast.Scenario
	// Overrides is merged last, over the scenario file.
	Overrides forecast.Scenario
}

var _ forecast.DataSource = (*DirSource)(nil)

// NewDirSource creates a source over dir using the default file names.
func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir, Files: DefaultFiles(), Base: forecast.DefaultScenario()}
}

func (d *DirSource) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.Dir, name)
}

// Inputs reads the roster, polls and the merged scenario.
func (d *DirSource) Inputs(ctx context.Context) ([]models.RosterEntry, []models.PollRecord, forecast.Scenario, error) {
	sc := d.Base
	if err := ctx.Err(); err != nil {
		return nil, nil, sc, err
	}

	roster, err := ReadRoster(d.path(d.Files.States))
	if err != nil {
		return nil, nil, sc, fmt.Errorf("failed to read roster: %w", err)
	}

	lists := []struct {
		name string
		dst  *[]string
	}{
		{d.Files.SafeA, &sc.SafeA},
		{d.Files.SafeB, &sc.SafeB},
		{d.Files.Competitive, &sc.Competitive},
	}
	for _, l := range lists {
		if l.name == "" {
			continue
		}
		names, err := ReadStateList(d.path(l.name))
		if err != nil {
			return nil, nil, sc, err
		}
		*l.dst = names
	}

	polls, err := ReadPolls(d.path(d.Files.Polls))
	if err != nil {
		return nil, nil, sc, fmt.Errorf("failed to read polls: %w", err)
	}

	if d.Files.Turnout != "" {
		shifts, err := ReadTurnout(d.path(d.Files.Turnout))
		if err != nil {
			return nil, nil, sc, fmt.Errorf("failed to read turnout adjustments: %w", err)
		}
		sc.TurnoutShift = shifts
	}

	if d.Files.Scenario != "" {
		file, err := ReadScenario(d.path(d.Files.Scenario))
		if err != nil {
			return nil, nil, sc, err
		}
		sc = MergeScenario(sc, file)
	}
	sc = MergeScenario(sc, d.Overrides)

	return roster, polls, sc, nil
}

// Load implements forecast.DataSource.
func (d *DirSource) Load(ctx context.Context) ([]*models.StateRecord, forecast.Params, error) {
	roster, polls, sc, err := d.Inputs(ctx)
	if err != nil {
		return nil, forecast.Params{}, err
	}
	states, err := forecast.Assemble(roster, polls, sc)
	if err != nil {
		return nil, forecast.Params{}, fmt.Errorf("failed to assemble states from %s: %w", d.Dir, err)
	}
	return states, sc.Params(), nil
}

// ReadScenario parses a YAML scenario file.
func ReadScenario(path string) (forecast.Scenario, error) {
	var sc forecast.Scenario
	data, err := os.ReadFile(path)
	if err != nil {
		return sc, fmt.Errorf("failed to read scenario file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("failed to parse scenario file %s: %w", path, err)
	}
	if m := sc.UncertaintyMultiplier; m != nil && (*m < 0 || math.IsNaN(*m) || math.IsInf(*m, 0)) {
		return sc, fmt.Errorf("scenario file %s: %w", path, forecast.ErrInvalidMultiplier)
	}
	return sc, nil
}

// MergeScenario overlays the fields that are set in file onto base. A
// multiplier is set when non-nil, so an explicit 0 wins.
// Turnout shifts are merged per state.
func MergeScenario(base, file forecast.Scenario) forecast.Scenario {
	out := base
	if len(file.SafeA) > 0 {
		out.SafeA = file.SafeA
	}
	if len(file.SafeB) > 0 {
		out.SafeB = file.SafeB
	}
	if len(file.Competitive) > 0 {
		out.Competitive = file.Competitive
	}
	if file.UncertaintyMultiplier != nil {
		out.UncertaintyMultiplier = file.UncertaintyMultiplier
	}
	if len(file.TurnoutShift) > 0 {
		merged := make(map[string]float64, len(base.TurnoutShift)+len(file.TurnoutShift))
		for k, v := range base.TurnoutShift {
			merged[k] = v
		}
		for k, v := range file.TurnoutShift {
			merged[k] = v
		}
		out.TurnoutShift = merged
	}
	return out
}
