// Package pipeline runs forecast cycles: feed ingestion, simulation,
// archiving and notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/evforecast/internal/backtest"
	"github.com/rewired-gh/evforecast/internal/forecast"
	"github.com/rewired-gh/evforecast/internal/loader"
	"github.com/rewired-gh/evforecast/internal/logger"
	"github.com/rewired-gh/evforecast/internal/metrics"
	"github.com/rewired-gh/evforecast/internal/models"
	"github.com/rewired-gh/evforecast/internal/pollfeed"
)

var (
	ErrNoRun   = errors.New("no forecast run yet")
	ErrNoPolls = errors.New("feed returned no usable polls")
)

// Feed fetches fresh polls.
type Feed interface {
	Fetch(ctx context.Context) ([]models.PollRecord, pollfeed.Report, error)
	SourceURL() string
}

// Archive records ingested polls and finished runs.
type Archive interface {
	SavePollSnapshot(source string, fetchedAt time.Time, polls []models.PollRecord) (string, error)
	LatestPolls() ([]models.PollRecord, time.Time, error)
	SaveRun(run *models.RunSummary) error
}

// EngineFactory builds the engine for one run from its resolved seed.
type EngineFactory func(seed uint64) forecast.StateEngine

// Notifier is told about finished runs and failing cycles.
type Notifier interface {
	SendForecast(run *models.RunSummary) error
	SendError(err error) error
	SendRecovery(failureCount int) error
}

type Config struct {
	Trials    int
	Seed      uint64 // 0 = fresh random seed per run
	Workers   int
	Threshold int
	// PollsPath receives ingested polls; the source reads them back.
	PollsPath string
}

// Deps are the optional collaborators. Nil members are skipped, except
// Engine and Analyzer which default to the Monte Carlo engine and the
// majority analyzer.
type Deps struct {
	Engine   EngineFactory
	Analyzer forecast.Analyzer
	Feed     Feed
	Archive  Archive
	Metrics  *metrics.Metrics
	Notifier Notifier
}

type Pipeline struct {
	source forecast.DataSource
	config Config
	deps   Deps

	mu     sync.RWMutex
	latest *models.RunSummary
}

func New(source forecast.DataSource, config Config, deps Deps) *Pipeline {
	if config.Trials <= 0 {
		config.Trials = forecast.DefaultTrials
	}
	if deps.Engine == nil {
		workers := config.Workers
		deps.Engine = func(seed uint64) forecast.StateEngine {
			return forecast.NewMonteCarloEngine(seed, workers)
		}
	}
	if deps.Analyzer == nil {
		deps.Analyzer = forecast.MajorityAnalyzer{Threshold: config.Threshold}
	}
	return &Pipeline{
		source: source,
		config: config,
		deps:   deps,
	}
}

// seed returns the configured seed, or a fresh random one when it is 0.
func (p *Pipeline) seed() uint64 {
	if p.config.Seed != 0 {
		return p.config.Seed
	}
	seed := forecast.RandomSeed()
	logger.Info("No seed configured, using random seed %d", seed)
	return seed
}

func (p *Pipeline) states(ctx context.Context) ([]*models.StateRecord, forecast.Params, error) {
	states, params, err := p.source.Load(ctx)
	if err != nil {
		return nil, forecast.Params{}, fmt.Errorf("failed to load inputs: %w", err)
	}
	logger.Debug("Loaded %d states", len(states))
	return states, params, nil
}

// RunOnce loads the inputs, simulates, summarizes, and records the run.
// Archive and notification failures are logged, not returned.
func (p *Pipeline) RunOnce(ctx context.Context) (*models.RunSummary, error) {
	start := time.Now()
	run, err := p.simulate(ctx, start)
	if err != nil {
		if p.deps.Metrics != nil {
			p.deps.Metrics.ObserveRunFailure(time.Since(start))
		}
		return nil, err
	}

	logger.Info("Forecast %s: A=%d B=%d ties=%d over %d trials (seed %d) in %v",
		run.ID, run.Summary.A, run.Summary.B, run.Summary.Ties, run.Trials, run.Seed, run.Duration)

	p.mu.Lock()
	p.latest = run
	p.mu.Unlock()

	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveRun(run)
	}
	if p.deps.Archive != nil {
		if err := p.deps.Archive.SaveRun(run); err != nil {
			logger.Warn("Failed to archive run %s: %v", run.ID, err)
		}
	}
	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.SendForecast(run); err != nil {
			logger.Error("Failed to send forecast notification: %v", err)
		}
	}
	return run, nil
}

func (p *Pipeline) simulate(ctx context.Context, start time.Time) (*models.RunSummary, error) {
	states, params, err := p.states(ctx)
	if err != nil {
		return nil, err
	}

	seed := p.seed()
	results, err := p.deps.Engine(seed).Run(ctx, states, p.config.Trials, params)
	if err != nil {
		return nil, err
	}

	dist := forecast.Distribution(results)
	return &models.RunSummary{
		ID:                    uuid.NewString(),
		StartedAt:             start,
		Duration:              time.Since(start),
		Seed:                  seed,
		Trials:                len(results),
		UncertaintyMultiplier: params.UncertaintyMultiplier,
		Summary:               p.deps.Analyzer.Summarize(results),
		MeanVotesA:            dist.Mean,
		StdDevVotesA:          dist.StdDev(),
	}, nil
}

// Latest returns the most recent successful run of this process.
func (p *Pipeline) Latest() (*models.RunSummary, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return nil, ErrNoRun
	}
	return p.latest, nil
}

// Ingest fetches the feed and replaces the polls file. Without a feed it is
// a no-op. When the feed fails and the archive holds a snapshot, the polls
// file is restored from it and the cycle goes on.
func (p *Pipeline) Ingest(ctx context.Context) error {
	if p.deps.Feed == nil {
		return nil
	}

	polls, report, err := p.deps.Feed.Fetch(ctx)
	if err != nil {
		p.ingestFailed()
		return p.restoreSnapshot(fmt.Errorf("failed to fetch polls: %w", err))
	}
	logger.Info("Fetched %d feed rows: %d kept, %d incomplete, %d invalid",
		report.Rows, report.Kept, report.Incomplete, report.Invalid)
	if len(polls) == 0 {
		p.ingestFailed()
		return p.restoreSnapshot(ErrNoPolls)
	}

	if err := loader.WritePolls(p.config.PollsPath, polls); err != nil {
		p.ingestFailed()
		return fmt.Errorf("failed to write polls: %w", err)
	}

	if p.deps.Archive != nil {
		id, err := p.deps.Archive.SavePollSnapshot(p.deps.Feed.SourceURL(), time.Now(), polls)
		if err != nil {
			logger.Warn("Failed to archive poll snapshot: %v", err)
		} else {
			logger.Debug("Archived poll snapshot %s", id)
		}
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveIngest(report.Kept, report.Incomplete, report.Invalid)
	}
	return nil
}

// restoreSnapshot writes the newest archived polls to the polls file.
// It returns cause when there is nothing to restore.
func (p *Pipeline) restoreSnapshot(cause error) error {
	if p.deps.Archive == nil {
		return cause
	}
	polls, fetchedAt, err := p.deps.Archive.LatestPolls()
	if err != nil || len(polls) == 0 {
		return cause
	}
	if err := loader.WritePolls(p.config.PollsPath, polls); err != nil {
		return fmt.Errorf("%w (restoring snapshot: %v)", cause, err)
	}
	logger.Warn("%v; forecasting from snapshot fetched %s", cause, fetchedAt.Format(time.RFC3339))
	return nil
}

func (p *Pipeline) ingestFailed() {
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveIngestFailure()
	}
}

// Cycle ingests and then forecasts.
func (p *Pipeline) Cycle(ctx context.Context) (*models.RunSummary, error) {
	if err := p.Ingest(ctx); err != nil {
		return nil, err
	}
	return p.RunOnce(ctx)
}

// Serve runs a cycle immediately and then every interval until ctx is done.
// The notifier hears about the first failure of a streak and about recovery.
func (p *Pipeline) Serve(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutiveFailures := 0
	handleCycleResult := func(err error) {
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveFailures++
			logger.Error("Forecast cycle failed: %v", err)
			if consecutiveFailures == 1 && p.deps.Notifier != nil {
				if sendErr := p.deps.Notifier.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 && p.deps.Notifier != nil {
			if sendErr := p.deps.Notifier.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification: %v", sendErr)
			}
		}
		consecutiveFailures = 0
	}

	logger.Info("Starting forecast service (interval: %v, trials: %d)", interval, p.config.Trials)
	_, err := p.Cycle(ctx)
	handleCycleResult(err)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return nil
		case <-ticker.C:
			logger.Debug("Starting scheduled forecast cycle")
			_, err := p.Cycle(ctx)
			handleCycleResult(err)
		}
	}
}

// Backtest predicts every state's winner and scores the predictions against actual.
func (p *Pipeline) Backtest(ctx context.Context, actual map[string]string, labels backtest.Labels) (backtest.Accuracy, error) {
	states, params, err := p.states(ctx)
	if err != nil {
		return backtest.Accuracy{}, err
	}
	predicted, err := forecast.PredictWinners(ctx, p.deps.Engine(p.seed()), states, p.config.Trials, params)
	if err != nil {
		return backtest.Accuracy{}, err
	}
	acc := backtest.Evaluate(predicted, actual, labels)
	logger.Info("Backtest: %d of %d states correct", acc.Correct, acc.Total)
	if len(acc.Misses) > 0 {
		logger.Debug("Mispredicted states: %v", acc.Misses)
	}
	return acc, nil
}
