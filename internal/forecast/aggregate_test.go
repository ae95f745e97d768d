package forecast

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/evforecast/internal/models"
)

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func mustPoll(t *testing.T, a, b float64, weight int, moe float64) models.Poll {
	t.Helper()
	p, err := models.NewPoll(a, b, weight, moe)
	require.NoError(t, err)
	return p
}

func TestAggregate_WeightedExample(t *testing.T) {
	polls := []models.Poll{
		mustPoll(t, 55, 45, 2, 3),
		mustPoll(t, 50, 50, 1, 4),
	}

	got := Aggregate(polls)

	assert.Equal(t, 53.33, round2(got.A))
	assert.Equal(t, 46.67, round2(got.B))
	assert.Equal(t, 1.70, round2(got.Uncertainty))
}

func TestAggregate_NoPolls(t *testing.T) {
	got := Aggregate(nil)
	assert.Equal(t, Support{A: 50, B: 50, Uncertainty: 2}, got)
}

func TestAggregate_UncertaintyFloor(t *testing.T) {
	tests := []struct {
		name  string
		polls []models.Poll
	}{
		{name: "zero moe", polls: []models.Poll{{SupportA: 48, SupportB: 47, Weight: 3, MarginOfError: 0}}},
		{name: "small moe", polls: []models.Poll{{SupportA: 48, SupportB: 47, Weight: 3, MarginOfError: 1.5}}},
		{name: "mixed", polls: []models.Poll{
			{SupportA: 48, SupportB: 47, Weight: 10, MarginOfError: 0.2},
			{SupportA: 52, SupportB: 44, Weight: 1, MarginOfError: 2.5},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate(tt.polls)
			assert.GreaterOrEqual(t, got.Uncertainty, MinUncertainty)
		})
	}
}

func TestAggregate_SupportsNeedNotSumTo100(t *testing.T) {
	got := Aggregate([]models.Poll{{SupportA: 45, SupportB: 47, Weight: 5, MarginOfError: 3}})
	assert.Equal(t, 45.0, got.A)
	assert.Equal(t, 47.0, got.B)
}

func TestCalculateWeightedSupport_Idempotent(t *testing.T) {
	s := models.NewStateRecord("Pennsylvania", 19)
	require.NoError(t, s.AddPoll(50, 48, 7, 3.4))
	require.NoError(t, s.AddPoll(49, 49, 7, 4.4))
	require.NoError(t, s.AddPoll(47, 50, 8, 3.0))

	CalculateWeightedSupport(s)
	first := *s
	CalculateWeightedSupport(s)

	assert.Equal(t, math.Float64bits(first.SupportA), math.Float64bits(s.SupportA))
	assert.Equal(t, math.Float64bits(first.SupportB), math.Float64bits(s.SupportB))
	assert.Equal(t, math.Float64bits(first.Uncertainty), math.Float64bits(s.Uncertainty))
	assert.Len(t, s.Polls, 3)
}
