package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/evforecast/internal/models"
)

const (
	DefaultTrials = 1000

	// ctxCheckEvery bounds how many trials a worker runs between context checks.
	ctxCheckEvery = 256
)

var (
	ErrInvalidTrials     = errors.New("trial count must be at least 1")
	ErrInvalidMultiplier = errors.New("uncertainty multiplier must be a finite non-negative number")
)

// Params are the sampling-time adjustments of a run.
type Params struct {
	// UncertaintyMultiplier scales every state's uncertainty. Zero makes
	// every draw equal its mean.
	UncertaintyMultiplier float64
	// TurnoutShift adds a signed margin delta, in points favouring side A,
	// to the named states.
	TurnoutShift map[string]float64
}

// DefaultParams returns a multiplier of 1 and no turnout shift.
func DefaultParams() Params {
	return Params{UncertaintyMultiplier: 1.0}
}

func (p Params) validate() error {
	if math.IsNaN(p.UncertaintyMultiplier) || math.IsInf(p.UncertaintyMultiplier, 0) || p.UncertaintyMultiplier < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidMultiplier, p.UncertaintyMultiplier)
	}
	return nil
}

// Engine runs simulation trials over a set of states.
type Engine interface {
	Run(ctx context.Context, states []*models.StateRecord, trials int, p Params) ([]models.TrialResult, error)
}

// StateEngine is an Engine that can also count per-state wins.
type StateEngine interface {
	Engine
	StateWins(ctx context.Context, states []*models.StateRecord, trials int, p Params) (map[string]StateWins, error)
}

var _ StateEngine = (*MonteCarloEngine)(nil)

// MonteCarloEngine samples each state's margin from a normal distribution
// once per trial. Trial i draws from its own PCG stream keyed by (seed, i),
// so results depend only on the seed and inputs, never on the worker count.
type MonteCarloEngine struct {
	seed    uint64
	workers int
}

// NewMonteCarloEngine creates an engine. workers <= 0 uses GOMAXPROCS.
func NewMonteCarloEngine(seed uint64, workers int) *MonteCarloEngine {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &MonteCarloEngine{seed: seed, workers: workers}
}

// RandomSeed returns a fresh seed for callers that did not configure one.
func RandomSeed() uint64 {
	return rand.Uint64()
}

// Seed returns the engine's base seed.
func (e *MonteCarloEngine) Seed() uint64 {
	return e.seed
}

// sampler is a state prepared for repeated draws.
type sampler struct {
	votes int
	mean  float64
	sigma float64
}

func prepare(states []*models.StateRecord, p Params) []sampler {
	out := make([]sampler, len(states))
	for i, s := range states {
		out[i] = sampler{
			votes: s.ElectoralVotes,
			mean:  s.Margin() + p.TurnoutShift[s.Name],
			sigma: s.Uncertainty * p.UncertaintyMultiplier,
		}
	}
	return out
}

// draw returns one sample from N(mean, sigma). A zero sigma yields the mean.
func (s sampler) draw(r *rand.Rand) float64 {
	return s.mean + s.sigma*r.NormFloat64()
}

func (e *MonteCarloEngine) trialRand(trial int) *rand.Rand {
	return rand.New(rand.NewPCG(e.seed, uint64(trial)))
}

// Run executes trials and returns one result per trial, in trial order.
// A sample strictly above zero awards the state to side A; zero or below
// goes to side B.
func (e *MonteCarloEngine) Run(ctx context.Context, states []*models.StateRecord, trials int, p Params) ([]models.TrialResult, error) {
	if trials < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTrials, trials)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	samplers := prepare(states, p)
	results := make([]models.TrialResult, trials)

	err := e.forEachChunk(ctx, trials, func(ctx context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			if (i-lo)%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			r := e.trialRand(i)
			var res models.TrialResult
			for _, s := range samplers {
				if s.draw(r) > 0 {
					res.VotesA += s.votes
				} else {
					res.VotesB += s.votes
				}
			}
			results[i] = res
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("simulation aborted: %w", err)
	}
	return results, nil
}

// StateWins counts, per state, the trials in which each side carried it.
// Draws are identical to those of Run for the same seed and inputs.
func (e *MonteCarloEngine) StateWins(ctx context.Context, states []*models.StateRecord, trials int, p Params) (map[string]StateWins, error) {
	if trials < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTrials, trials)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	samplers := prepare(states, p)
	chunks := e.chunkCount(trials)
	partial := make([][]StateWins, chunks)

	err := e.forEachChunk(ctx, trials, func(ctx context.Context, lo, hi int) error {
		counts := make([]StateWins, len(samplers))
		for i := lo; i < hi; i++ {
			if (i-lo)%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			r := e.trialRand(i)
			for j, s := range samplers {
				if s.draw(r) > 0 {
					counts[j].A++
				} else {
					counts[j].B++
				}
			}
		}
		partial[lo/e.chunkSize(trials)] = counts
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("simulation aborted: %w", err)
	}

	wins := make(map[string]StateWins, len(states))
	for _, counts := range partial {
		for j, c := range counts {
			w := wins[states[j].Name]
			w.A += c.A
			w.B += c.B
			wins[states[j].Name] = w
		}
	}
	return wins, nil
}

func (e *MonteCarloEngine) chunkSize(trials int) int {
	return (trials + e.workers - 1) / e.workers
}

func (e *MonteCarloEngine) chunkCount(trials int) int {
	size := e.chunkSize(trials)
	return (trials + size - 1) / size
}

// forEachChunk splits [0, trials) into contiguous chunks and runs fn on each
// concurrently, at most e.workers at a time.
func (e *MonteCarloEngine) forEachChunk(ctx context.Context, trials int, fn func(ctx context.Context, lo, hi int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	size := e.chunkSize(trials)
	for lo := 0; lo < trials; lo += size {
		hi := min(lo+size, trials)
		g.Go(func() error {
			return fn(gctx, lo, hi)
		})
	}
	return g.Wait()
}
