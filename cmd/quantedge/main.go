package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonnyspicer/mango"

	"quantedge/internal/api"
	"quantedge/internal/arbitrage"
	"quantedge/internal/backtest"
	"quantedge/internal/classify"
	"quantedge/internal/collector"
	"quantedge/internal/config"
	"quantedge/internal/db"
	"quantedge/internal/execution"
	"quantedge/internal/kelly"
	"quantedge/internal/market"
	"quantedge/internal/risk"
	"quantedge/internal/scheduler"
	"quantedge/internal/spike"
)

const calibrationDays = 90

func main() {
	backtestMode := flag.Bool("backtest", false, "Run a backtest instead of the paper trading loop")
	backtestStrategy := flag.String("strategy", "spike", "Backtest strategy: spike, arbitrage, kelly or statistical")
	backtestFrom := flag.String("from", "", "Backtest start date (YYYY-MM-DD)")
	backtestTo := flag.String("to", "", "Backtest end date (YYYY-MM-DD)")
	backtestBalance := flag.Float64("balance", 10000, "Starting capital for backtest simulation")
	synthetic := flag.Bool("synthetic", false, "Backtest against generated history instead of collected snapshots")
	flag.Parse()

	configPath := "config.toml"
	if p := os.Getenv("QE_CONFIG_PATH"); p != "" {
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.General.SlogLevel(),
	})))
	slog.Info("quantedge starting", "config", configPath)

	database, err := db.Open(cfg.General.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database initialized", "path", cfg.General.DBPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *backtestMode {
		if err := runBacktest(ctx, cfg, database, *backtestStrategy, *backtestFrom, *backtestTo, *backtestBalance, *synthetic); err != nil {
			slog.Error("backtest failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := runLive(ctx, cfg, database); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("scheduler error", "error", err)
		os.Exit(1)
	}
	slog.Info("quantedge stopped")
}

func runBacktest(ctx context.Context, cfg *config.Config, database *sql.DB, strategy, fromStr, toStr string, balance float64, synthetic bool) error {
	from, to, err := backtest.ParseDateRange(fromStr, toStr, time.Now())
	if err != nil {
		return err
	}

	settings, err := backtest.DefaultSettings(strategy)
	if err != nil {
		return err
	}
	switch s := settings.(type) {
	case backtest.SpikeSettings:
		s.SpikeThreshold = cfg.Spike.Threshold
		settings = s
	case backtest.KellySettings:
		s.KellyFraction = cfg.Kelly.Fraction
		s.MaxPositionPercent = cfg.Kelly.MaxPositionPct
		settings = s
	}

	var history []backtest.Day
	if synthetic {
		rng := rand.New(rand.NewPCG(cfg.Backtest.Seed, cfg.Backtest.Seed))
		history = backtest.Synthesize(from, to, cfg.Backtest.SyntheticMarkets, rng)
	} else {
		history, err = backtest.LoadHistory(ctx, database, from, to)
		if err != nil {
			return fmt.Errorf("loading history: %w", err)
		}
	}
	if len(history) == 0 {
		return fmt.Errorf("no market history in range %s to %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	slog.Info("backtest starting",
		"strategy", strategy,
		"from", from.Format(time.DateOnly),
		"to", to.Format(time.DateOnly),
		"days", len(history),
		"synthetic", synthetic,
	)

	engine := backtest.NewEngine(cfg.Backtest)
	result, err := engine.Run(backtest.Config{
		Name:           fmt.Sprintf("%s %s..%s", strategy, from.Format(time.DateOnly), to.Format(time.DateOnly)),
		Start:          from,
		End:            to,
		InitialCapital: balance,
		Settings:       settings,
	}, history)
	if err != nil {
		return err
	}
	return backtest.SaveResult(ctx, database, result)
}

func runLive(ctx context.Context, cfg *config.Config, database *sql.DB) error {
	mc := mango.DefaultClientInstance()
	slog.Info("manifold client initialized")

	scanner := market.NewScanner(mc, cfg.Scanner.RequestsPerSecond)
	cache := market.NewCache(cfg.Scanner.CacheTTL.Duration)
	detector := spike.NewDetector(cfg.Spike)
	arb := arbitrage.NewScanner(cfg.Arbitrage, classify.KeywordGrouper{})
	sizer := kelly.NewSizer(cfg.Kelly)
	riskMgr := risk.NewManager(cfg.Risk, classify.NewKeywordClassifier())
	portfolio := risk.NewPortfolio(cfg.Paper.Bankroll)
	paper := execution.NewPaper(database, sizer, riskMgr, portfolio, cfg.Paper.MinConfidence)
	coll := collector.NewCollector(database)
	engine := backtest.NewEngine(cfg.Backtest)

	go runCalibrationBacktests(ctx, cfg, database, engine)

	if cfg.API.Enabled {
		srv := api.NewServer(cfg.API, detector, arb, engine, cache, riskMgr, portfolio, sizer)
		go func() {
			if err := srv.Run(ctx); err != nil {
				slog.Error("api server failed", "error", err)
			}
		}()
	}

	sched := scheduler.New(scanner, cache, detector, arb, paper, portfolio, riskMgr, coll, *cfg)
	return sched.Run(ctx)
}

// runCalibrationBacktests runs every strategy once over synthetic history in
// the background so the API has recent results to show.
func runCalibrationBacktests(ctx context.Context, cfg *config.Config, database *sql.DB, engine *backtest.Engine) {
	to := time.Now()
	from := to.AddDate(0, 0, -calibrationDays)
	history := backtest.Synthesize(from, to, cfg.Backtest.SyntheticMarkets,
		rand.New(rand.NewPCG(cfg.Backtest.Seed, cfg.Backtest.Seed)))

	for _, name := range []string{"spike", "arbitrage", "kelly", "statistical"} {
		if ctx.Err() != nil {
			return
		}
		settings, err := backtest.DefaultSettings(name)
		if err != nil {
			slog.Error("calibration settings", "strategy", name, "error", err)
			continue
		}
		result, err := engine.Run(backtest.Config{
			Name:           "calibration " + name,
			InitialCapital: cfg.Paper.Bankroll,
			Settings:       settings,
		}, history)
		if err != nil {
			slog.Error("calibration backtest failed", "strategy", name, "error", err)
			continue
		}
		if err := backtest.SaveResult(ctx, database, result); err != nil {
			slog.Warn("saving calibration result failed", "strategy", name, "error", err)
		}
	}
}
