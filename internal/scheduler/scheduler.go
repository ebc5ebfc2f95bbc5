package scheduler

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"quantedge/internal/arbitrage"
	"quantedge/internal/collector"
	"quantedge/internal/config"
	"quantedge/internal/execution"
	"quantedge/internal/market"
	"quantedge/internal/performance"
	"quantedge/internal/ringbuf"
	"quantedge/internal/risk"
	"quantedge/internal/spike"
)

// maxOutcomes bounds the closed-trade history behind the paper report.
const maxOutcomes = 1000

// Source supplies the current batch of market snapshots.
type Source interface {
	ScanBinary(ctx context.Context, limit int64) ([]market.Snapshot, error)
}

// Scheduler orchestrates the paper trading loop.
type Scheduler struct {
	source    Source
	cache     *market.Cache
	detector  *spike.Detector
	arb       *arbitrage.Scanner
	paper     *execution.Paper
	portfolio *risk.Portfolio
	riskMgr   *risk.Manager
	collector *collector.Collector
	cfg       config.Config
	rng       *rand.Rand

	outcomes *ringbuf.Buffer[performance.Outcome]
	drawdown *performance.Drawdown
	now      func() time.Time
}

// New creates a new Scheduler with all dependencies.
func New(
	source Source,
	cache *market.Cache,
	detector *spike.Detector,
	arb *arbitrage.Scanner,
	paper *execution.Paper,
	portfolio *risk.Portfolio,
	riskMgr *risk.Manager,
	coll *collector.Collector,
	cfg config.Config,
) *Scheduler {
	return &Scheduler{
		source:    source,
		cache:     cache,
		detector:  detector,
		arb:       arb,
		paper:     paper,
		portfolio: portfolio,
		riskMgr:   riskMgr,
		collector: coll,
		cfg:       cfg,
		rng:       rand.New(rand.NewPCG(cfg.Backtest.Seed, cfg.Backtest.Seed+1)),
		outcomes:  ringbuf.New[performance.Outcome](maxOutcomes),
		drawdown:  performance.NewDrawdown(portfolio.Equity()),
		now:       time.Now,
	}
}

// Run starts all periodic loops and blocks until context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	sched := s.cfg.Schedule
	slog.Info("scheduler starting",
		"scan_interval", sched.ScanInterval.Duration,
		"snapshot_interval", sched.SnapshotInterval.Duration,
		"performance_interval", sched.PerformanceInterval.Duration,
	)

	s.riskMgr.UpdateEquity(s.portfolio.Equity())

	// Run first cycle immediately.
	s.RunCycle(ctx)
	s.runCollection(ctx)

	scanTicker := time.NewTicker(sched.ScanInterval.Duration)
	snapshotTicker := time.NewTicker(sched.SnapshotInterval.Duration)
	perfTicker := time.NewTicker(sched.PerformanceInterval.Duration)
	midnight := time.NewTimer(untilMidnight(s.now()))
	defer scanTicker.Stop()
	defer snapshotTicker.Stop()
	defer perfTicker.Stop()
	defer midnight.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler shutting down")
			s.runPerformanceReport()
			return ctx.Err()
		case <-scanTicker.C:
			s.RunCycle(ctx)
		case <-snapshotTicker.C:
			s.runCollection(ctx)
		case <-perfTicker.C:
			s.runPerformanceReport()
		case <-midnight.C:
			s.riskMgr.ResetDailyPnL()
			midnight.Reset(untilMidnight(s.now()))
		}
	}
}

// RunCycle scans once, settles triggered positions, then acts on new spikes
// and refreshes the arbitrage registry.
func (s *Scheduler) RunCycle(ctx context.Context) {
	slog.Info("starting trading cycle")

	markets, err := s.source.ScanBinary(ctx, s.cfg.Scanner.Limit)
	if err != nil {
		slog.Error("binary scan failed", "error", err)
		return
	}
	s.cache.SetAll(markets)

	s.portfolio.MarkToMarket(markets)
	closed, err := s.paper.Settle(ctx)
	if err != nil {
		slog.Error("settling paper positions failed", "error", err)
	}
	for _, c := range closed {
		s.outcomes.Push(performance.Outcome{
			ProfitLoss:    c.Trade.ProfitLoss,
			ReturnPercent: c.ReturnPercent(),
		})
	}
	s.drawdown.Observe(s.portfolio.Equity())

	byID := make(map[string]market.Snapshot, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
	}

	events := s.detector.AnalyzeMarkets(markets, spike.SettingsFrom(s.cfg.Spike))
	opened := 0
	for _, ev := range events {
		if ev.Action == spike.Wait {
			continue
		}
		if !s.riskMgr.IsTradingAllowed() {
			slog.Warn("trading halted, skipping spike", "market", ev.MarketID)
			continue
		}
		out, err := s.paper.ExecuteSpike(ctx, ev, byID[ev.MarketID])
		if err != nil {
			slog.Error("paper execution failed", "market", ev.MarketID, "error", err)
			continue
		}
		if out.Opened {
			opened++
		}
	}

	binary := s.arb.ScanBinary(markets)
	multi := s.arb.ScanMultiMarket(markets)
	cross := s.arb.SimulateCrossPlatform(markets, s.rng)

	slog.Info("trading cycle complete",
		"markets", len(markets),
		"spikes", len(events),
		"positions_opened", opened,
		"positions_closed", len(closed),
		"binary_arbs", len(binary),
		"multi_market_arbs", len(multi),
		"cross_platform_arbs", len(cross),
		"active_opportunities", len(s.arb.ActiveOpportunities()),
		"equity", s.portfolio.Equity(),
	)
}

func (s *Scheduler) runCollection(ctx context.Context) {
	slog.Info("starting data collection")
	if _, err := s.collector.Collect(ctx, s.cache.All()); err != nil {
		slog.Error("collection failed", "error", err)
	}
}

func (s *Scheduler) runPerformanceReport() {
	positions := s.portfolio.Positions()
	equity := s.portfolio.Equity()
	metrics := s.riskMgr.CalculateMetrics(positions, equity)
	slog.Info("risk metrics",
		"positions", len(positions),
		"exposure", metrics.TotalExposure,
		"exposure_pct", metrics.ExposurePercent,
		"heat", metrics.PortfolioHeat,
		"correlation", metrics.CorrelationRisk,
		"correlation_exceeded", metrics.CorrelationExceeded,
		"var", metrics.ValueAtRisk,
		"drawdown", metrics.CurrentDrawdown,
		"score", metrics.RiskScore,
		"trading_allowed", s.riskMgr.IsTradingAllowed(),
	)
	if metrics.CorrelationExceeded {
		slog.Warn("portfolio concentrated in one category",
			"correlation", metrics.CorrelationRisk,
			"limit", s.riskMgr.Limits().MaxCorrelation,
		)
	}
	performance.LogReport(performance.Summarize("paper", s.cfg.Paper.Bankroll, equity, s.outcomes.Slice(), s.drawdown.Max))
}

// untilMidnight is the wait until the next local midnight.
func untilMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}
