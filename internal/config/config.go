package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Candidates CandidatesConfig `mapstructure:"candidates"`
	Data       DataConfig       `mapstructure:"data"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CandidateConfig names one side of the race
type CandidateConfig struct {
	Name  string `mapstructure:"name"`
	Party string `mapstructure:"party"` // winner label in historical results
}

// CandidatesConfig holds both sides
type CandidatesConfig struct {
	A CandidateConfig `mapstructure:"a"`
	B CandidateConfig `mapstructure:"b"`
}

// DataConfig locates the input files; names are relative to Dir unless absolute
type DataConfig struct {
	Dir             string `mapstructure:"dir"`
	StatesFile      string `mapstructure:"states_file"`
	SafeAFile       string `mapstructure:"safe_a_file"`
	SafeBFile       string `mapstructure:"safe_b_file"`
	CompetitiveFile string `mapstructure:"competitive_file"`
	PollsFile       string `mapstructure:"polls_file"`
	HistoricalFile  string `mapstructure:"historical_file"`
	TurnoutFile     string `mapstructure:"turnout_file"`
	ScenarioFile    string `mapstructure:"scenario_file"`
}

// SimulationConfig holds Monte Carlo parameters
type SimulationConfig struct {
	Trials                int     `mapstructure:"trials"`
	UncertaintyMultiplier float64 `mapstructure:"uncertainty_multiplier"`
	Seed                  uint64  `mapstructure:"seed"` // 0 = random
	Workers               int     `mapstructure:"workers"`
	Threshold             int     `mapstructure:"threshold"`
}

// FeedConfig holds polling feed ingestion configuration
type FeedConfig struct {
	URL            string        `mapstructure:"url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	Interval       time.Duration `mapstructure:"interval"`
}

// StorageConfig holds archive configuration
type StorageConfig struct {
	DBPath     string `mapstructure:"db_path"`
	MaxHistory int    `mapstructure:"max_history"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// EVFORECAST_SIMULATION_TRIALS overrides simulation.trials
	v.SetEnvPrefix("EVFORECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("candidates.a.name", "Kamala Harris")
	v.SetDefault("candidates.a.party", "Democrat")
	v.SetDefault("candidates.b.name", "Donald Trump")
	v.SetDefault("candidates.b.party", "Republican")

	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.states_file", "states_info.csv")
	v.SetDefault("data.safe_a_file", "safe_states_a.txt")
	v.SetDefault("data.safe_b_file", "safe_states_b.txt")
	v.SetDefault("data.competitive_file", "competitive_states.txt")
	v.SetDefault("data.polls_file", "polling_data.csv")
	v.SetDefault("data.historical_file", "historical_results.csv")
	v.SetDefault("data.turnout_file", "")
	v.SetDefault("data.scenario_file", "")

	v.SetDefault("simulation.trials", 1000)
	v.SetDefault("simulation.uncertainty_multiplier", 1.0)
	v.SetDefault("simulation.seed", 0)
	v.SetDefault("simulation.workers", 0) // 0 = GOMAXPROCS
	v.SetDefault("simulation.threshold", 270)

	v.SetDefault("feed.url", "")
	v.SetDefault("feed.timeout", "30s")
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.retry_delay_base", "1s")
	v.SetDefault("feed.interval", "24h")

	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.max_history", 500)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Candidates.A.Name == "" || c.Candidates.B.Name == "" {
		return fmt.Errorf("candidates.a.name and candidates.b.name are required")
	}

	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Data.StatesFile == "" {
		return fmt.Errorf("data.states_file is required")
	}
	if c.Data.PollsFile == "" {
		return fmt.Errorf("data.polls_file is required")
	}

	if c.Simulation.Trials < 1 {
		return fmt.Errorf("simulation.trials must be at least 1")
	}
	if c.Simulation.UncertaintyMultiplier < 0 {
		return fmt.Errorf("simulation.uncertainty_multiplier must not be negative")
	}
	if c.Simulation.Workers < 0 {
		return fmt.Errorf("simulation.workers must not be negative")
	}
	if c.Simulation.Threshold < 1 {
		return fmt.Errorf("simulation.threshold must be at least 1")
	}

	if c.Feed.Timeout <= 0 {
		return fmt.Errorf("feed.timeout must be positive")
	}
	if c.Feed.Interval < 1*time.Minute {
		return fmt.Errorf("feed.interval must be at least 1 minute")
	}

	if c.Storage.MaxHistory < 1 {
		return fmt.Errorf("storage.max_history must be at least 1")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
