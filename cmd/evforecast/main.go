package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rewired-gh/evforecast/internal/backtest"
	"github.com/rewired-gh/evforecast/internal/config"
	"github.com/rewired-gh/evforecast/internal/forecast"
	"github.com/rewired-gh/evforecast/internal/loader"
	"github.com/rewired-gh/evforecast/internal/logger"
	"github.com/rewired-gh/evforecast/internal/metrics"
	"github.com/rewired-gh/evforecast/internal/models"
	"github.com/rewired-gh/evforecast/internal/pipeline"
	"github.com/rewired-gh/evforecast/internal/pollfeed"
	"github.com/rewired-gh/evforecast/internal/storage"
	"github.com/rewired-gh/evforecast/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

const usage = `Usage: evforecast [-config path] <command> [flags]

Commands:
  simulate   run a forecast and print the outcome tally
  backtest   score per-state predictions against historical results
  serve      ingest polls and forecast on a schedule
  history    list archived runs, or show one with -id
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "simulate":
		err = runSimulate(cfg, args)
	case "backtest":
		err = runBacktest(cfg, args)
	case "serve":
		err = runServe(cfg, args)
	case "history":
		err = runHistory(cfg, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("%s failed: %v", cmd, err)
	}
}

// setup validates the final configuration and initializes logging.
func setup(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)
	return nil
}

// newSource builds the data source; overrides win over the scenario file.
func newSource(cfg *config.Config, overrides forecast.Scenario) *loader.DirSource {
	src := loader.NewDirSource(cfg.Data.Dir)
	src.Files = loader.Files{
		States:      cfg.Data.StatesFile,
		SafeA:       cfg.Data.SafeAFile,
		SafeB:       cfg.Data.SafeBFile,
		Competitive: cfg.Data.CompetitiveFile,
		Polls:       cfg.Data.PollsFile,
		Turnout:     cfg.Data.TurnoutFile,
		Scenario:    cfg.Data.ScenarioFile,
	}
	src.Base.UncertaintyMultiplier = forecast.Multiplier(cfg.Simulation.UncertaintyMultiplier)
	src.Overrides = overrides
	return src
}

func dataPath(cfg *config.Config, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(cfg.Data.Dir, name)
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Trials:    cfg.Simulation.Trials,
		Seed:      cfg.Simulation.Seed,
		Workers:   cfg.Simulation.Workers,
		Threshold: cfg.Simulation.Threshold,
		PollsPath: dataPath(cfg, cfg.Data.PollsFile),
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// parseSimulateFlags applies the simulate flags to cfg. A -turnout-file
// path is taken relative to the working directory, not data.dir. An explicit
// -poll-uncertainty is returned as an override so it beats the scenario file.
func parseSimulateFlags(cfg *config.Config, args []string) (forecast.Scenario, error) {
	var overrides forecast.Scenario

	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	trials := fs.Int("trials", cfg.Simulation.Trials, "Number of simulation trials")
	uncertainty := fs.Float64("poll-uncertainty", cfg.Simulation.UncertaintyMultiplier, "Uncertainty multiplier")
	turnoutFile := fs.String("turnout-file", cfg.Data.TurnoutFile, "CSV of per-state margin shifts, relative to the working directory")
	seed := fs.Uint64("seed", cfg.Simulation.Seed, "Random seed (0 = random)")
	if err := fs.Parse(args); err != nil {
		return overrides, err
	}

	var visitErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "poll-uncertainty":
			cfg.Simulation.UncertaintyMultiplier = *uncertainty
			overrides.UncertaintyMultiplier = forecast.Multiplier(*uncertainty)
		case "turnout-file":
			if *turnoutFile == "" {
				cfg.Data.TurnoutFile = ""
				return
			}
			abs, err := filepath.Abs(*turnoutFile)
			if err != nil {
				visitErr = fmt.Errorf("failed to resolve turnout file: %w", err)
				return
			}
			cfg.Data.TurnoutFile = abs
		}
	})
	cfg.Simulation.Trials = *trials
	cfg.Simulation.Seed = *seed
	return overrides, visitErr
}

func runSimulate(cfg *config.Config, args []string) error {
	overrides, err := parseSimulateFlags(cfg, args)
	if err != nil {
		return err
	}
	if err := setup(cfg); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	run, err := pipeline.New(newSource(cfg, overrides), pipelineConfig(cfg), pipeline.Deps{}).RunOnce(ctx)
	if err != nil {
		return err
	}
	printRun(os.Stdout, run, cfg)
	return nil
}

func printRun(w io.Writer, run *models.RunSummary, cfg *config.Config) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Out of %d simulations:\n", run.Trials)
	p.Fprintf(w, "%s wins: %d times\n", cfg.Candidates.A.Name, run.Summary.A)
	p.Fprintf(w, "%s wins: %d times\n", cfg.Candidates.B.Name, run.Summary.B)
	p.Fprintf(w, "Ties or no majority: %d times\n", run.Summary.Ties)
	p.Fprintf(w, "Win probability: %s %.1f%%, %s %.1f%%\n",
		cfg.Candidates.A.Name, run.Summary.WinProbability(models.SideA)*100,
		cfg.Candidates.B.Name, run.Summary.WinProbability(models.SideB)*100)
	p.Fprintf(w, "%s electoral votes: mean %.1f, std dev %.1f (seed %s)\n",
		cfg.Candidates.A.Name, run.MeanVotesA, run.StdDevVotesA, strconv.FormatUint(run.Seed, 10))
}

// runStore is the part of the archive the history command reads.
type runStore interface {
	GetRun(id string) (*models.RunSummary, error)
	LatestRuns(k int) ([]*models.RunSummary, error)
}

// printHistory shows the run with id, or lists the newest n runs when id is empty.
func printHistory(w io.Writer, store runStore, cfg *config.Config, id string, n int) error {
	if id != "" {
		run, err := store.GetRun(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Run %s at %s\n", run.ID, run.StartedAt.Format(time.RFC3339))
		printRun(w, run, cfg)
		return nil
	}

	runs, err := store.LatestRuns(n)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No archived runs.")
		return nil
	}
	p := message.NewPrinter(language.English)
	for _, run := range runs {
		p.Fprintf(w, "%s  %s  A %.1f%%  B %.1f%%  ties %d  (%d trials, seed %s)\n",
			run.ID, run.StartedAt.Format(time.RFC3339),
			run.Summary.WinProbability(models.SideA)*100,
			run.Summary.WinProbability(models.SideB)*100,
			run.Summary.Ties, run.Trials, strconv.FormatUint(run.Seed, 10))
	}
	return nil
}

func runHistory(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	n := fs.Int("n", 10, "Number of runs to list")
	id := fs.String("id", "", "Show a single run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := setup(cfg); err != nil {
		return err
	}

	store, err := storage.New(cfg.Storage.MaxHistory, cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	return printHistory(os.Stdout, store, cfg, *id, *n)
}

func runBacktest(cfg *config.Config, args []string) error {
	defaultSeed := cfg.Simulation.Seed
	if defaultSeed == 0 {
		defaultSeed = 42
	}
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	trials := fs.Int("trials", cfg.Simulation.Trials, "Number of simulation trials")
	seed := fs.Uint64("seed", defaultSeed, "Random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Simulation.Trials = *trials
	cfg.Simulation.Seed = *seed
	if err := setup(cfg); err != nil {
		return err
	}

	actual, err := loader.ReadHistorical(dataPath(cfg, cfg.Data.HistoricalFile))
	if err != nil {
		return fmt.Errorf("failed to read historical results: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	labels := backtest.Labels{A: cfg.Candidates.A.Party, B: cfg.Candidates.B.Party}
	acc, err := pipeline.New(newSource(cfg, forecast.Scenario{}), pipelineConfig(cfg), pipeline.Deps{}).Backtest(ctx, actual, labels)
	if err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	p.Printf("Predicted correctly for %d out of %d states.\n", acc.Correct, acc.Total)
	p.Printf("Accuracy: %.2f%%\n", acc.Percent())
	return nil
}

func runServe(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	once := fs.Bool("once", false, "Run a single cycle and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := setup(cfg); err != nil {
		return err
	}

	store, err := storage.New(cfg.Storage.MaxHistory, cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	deps := pipeline.Deps{Archive: store}

	feed := pollfeed.NewClient(cfg.Feed.URL, cfg.Feed.Timeout, pollfeed.ClientConfig{
		MaxRetries:     cfg.Feed.MaxRetries,
		RetryDelayBase: cfg.Feed.RetryDelayBase,
	})
	if feed.SourceURL() != "" {
		deps.Feed = feed
		logger.Info("Polling feed: %s", feed.SourceURL())
	} else {
		logger.Info("No polling feed configured, forecasting from %s", cfg.Data.PollsFile)
	}

	deps.Metrics = metrics.New()

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		telegramClient.SetCandidates(cfg.Candidates.A.Name, cfg.Candidates.B.Name)
		deps.Notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	pipe := pipeline.New(newSource(cfg, forecast.Scenario{}), pipelineConfig(cfg), deps)

	ctx, cancel := signalContext()
	defer cancel()

	if *once {
		_, err := pipe.Cycle(ctx)
		return err
	}

	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", deps.Metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("Serving metrics on %s/metrics", cfg.Metrics.ListenAddr)
	}

	if telegramClient != nil {
		telegramClient.SetLatestRun(func() (*models.RunSummary, error) {
			if run, err := pipe.Latest(); err == nil {
				return run, nil
			}
			runs, err := store.LatestRuns(1)
			if err != nil || len(runs) == 0 {
				return nil, pipeline.ErrNoRun
			}
			return runs[0], nil
		})
		telegramClient.SetRunLookup(store.GetRun)
		telegramClient.ListenForCommands(ctx)
	}

	return pipe.Serve(ctx, cfg.Feed.Interval)
}
