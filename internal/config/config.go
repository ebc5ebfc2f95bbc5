package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	General   GeneralConfig   `toml:"general"`
	Schedule  ScheduleConfig  `toml:"schedule"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Spike     SpikeConfig     `toml:"spike"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Kelly     KellyConfig     `toml:"kelly"`
	Risk      RiskConfig      `toml:"risk"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Paper     PaperConfig     `toml:"paper"`
	API       APIConfig       `toml:"api"`
}

type GeneralConfig struct {
	DBPath   string `toml:"db_path"`
	LogLevel string `toml:"log_level"`
}

type ScheduleConfig struct {
	ScanInterval        Duration `toml:"scan_interval"`
	SnapshotInterval    Duration `toml:"snapshot_interval"`
	PerformanceInterval Duration `toml:"performance_interval"`
}

type ScannerConfig struct {
	Limit             int64    `toml:"limit"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	CacheTTL          Duration `toml:"cache_ttl"`
}

// SpikeConfig holds detector sizing plus the default detection settings.
// Threshold is expected in 0.01-0.2.
type SpikeConfig struct {
	WindowSize  int      `toml:"window_size"`
	Threshold   float64  `toml:"threshold"`
	Cooldown    Duration `toml:"cooldown"`
	RecentLimit int      `toml:"recent_limit"`
}

type ArbitrageConfig struct {
	Fee                  float64  `toml:"fee"`
	Retention            Duration `toml:"retention"`
	MaxOpportunities     int      `toml:"max_opportunities"`
	MultiMarketThreshold float64  `toml:"multi_market_threshold"`
	CrossPlatformNoise   float64  `toml:"cross_platform_noise"`
}

// KellyConfig: Fraction is expected in 0.1-1.0.
type KellyConfig struct {
	Fraction        float64 `toml:"fraction"`
	MaxPositionPct  float64 `toml:"max_position_pct"`
	HistorySize     int     `toml:"history_size"`
	MinTrades       int     `toml:"min_trades"`
	ScalingFactor   float64 `toml:"scaling_factor"`
	DefaultFraction float64 `toml:"default_fraction"`
	MaxFraction     float64 `toml:"max_fraction"`
}

// RiskConfig is the set of risk limits. All values are fractions of bankroll
// or of entry price.
type RiskConfig struct {
	MaxTotalExposure  float64 `toml:"max_total_exposure"`
	MaxPositionSize   float64 `toml:"max_position_size"`
	MaxDailyLoss      float64 `toml:"max_daily_loss"`
	MaxCorrelation    float64 `toml:"max_correlation"`
	DefaultStopLoss   float64 `toml:"default_stop_loss"`
	DefaultTakeProfit float64 `toml:"default_take_profit"`
}

type BacktestConfig struct {
	MaxResults       int    `toml:"max_results"`
	Seed             uint64 `toml:"seed"`
	SyntheticMarkets int    `toml:"synthetic_markets"`
}

type PaperConfig struct {
	Bankroll      float64 `toml:"bankroll"`
	MinConfidence float64 `toml:"min_confidence"`
}

type APIConfig struct {
	Enabled     bool     `toml:"enabled"`
	BindAddress string   `toml:"bind_address"`
	CORSOrigins []string `toml:"cors_origins"`
}

// Duration wraps time.Duration for TOML unmarshaling.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// SlogLevel maps general.log_level onto a slog level, defaulting to info.
func (g GeneralConfig) SlogLevel() slog.Level {
	switch strings.ToLower(g.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			DBPath:   "./data/quantedge.db",
			LogLevel: "info",
		},
		Schedule: ScheduleConfig{
			ScanInterval:        Duration{1 * time.Minute},
			SnapshotInterval:    Duration{15 * time.Minute},
			PerformanceInterval: Duration{1 * time.Hour},
		},
		Scanner: ScannerConfig{
			Limit:             200,
			RequestsPerSecond: 5,
			CacheTTL:          Duration{10 * time.Minute},
		},
		Spike: SpikeConfig{
			WindowSize:  30,
			Threshold:   0.05,
			Cooldown:    Duration{5 * time.Minute},
			RecentLimit: 100,
		},
		Arbitrage: ArbitrageConfig{
			Fee:                  0.02,
			Retention:            Duration{5 * time.Minute},
			MaxOpportunities:     50,
			MultiMarketThreshold: 0.98,
			CrossPlatformNoise:   0.03,
		},
		Kelly: KellyConfig{
			Fraction:        0.5,
			MaxPositionPct:  0.05,
			HistorySize:     40,
			MinTrades:       10,
			ScalingFactor:   0.5,
			DefaultFraction: 0.02,
			MaxFraction:     0.25,
		},
		Risk: RiskConfig{
			MaxTotalExposure:  0.50,
			MaxPositionSize:   0.10,
			MaxDailyLoss:      0.05,
			MaxCorrelation:    0.50,
			DefaultStopLoss:   0.10,
			DefaultTakeProfit: 0.20,
		},
		Backtest: BacktestConfig{
			MaxResults:       20,
			Seed:             42,
			SyntheticMarkets: 25,
		},
		Paper: PaperConfig{
			Bankroll:      10000,
			MinConfidence: 0.6,
		},
		API: APIConfig{
			Enabled:     false,
			BindAddress: "127.0.0.1:8090",
			CORSOrigins: []string{"http://localhost:3000"},
		},
	}
}
