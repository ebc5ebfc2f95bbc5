// Package backtest replays a day-indexed market history through simplified
// spike, arbitrage and Kelly strategies and reports the resulting equity path.
package backtest

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantedge/internal/config"
	"quantedge/internal/market"
	"quantedge/internal/performance"
	"quantedge/internal/ringbuf"
)

var ErrInvalidConfig = errors.New("invalid backtest config")

type State string

const (
	Idle     State = "idle"
	Running  State = "running"
	Complete State = "complete"
)

const defaultMaxResults = 20

// Config is the immutable input of one run. Zero Start or End leaves that
// side of the history unbounded.
type Config struct {
	Name           string
	Start          time.Time
	End            time.Time
	InitialCapital float64
	Settings       Settings
}

// Day is every market observed on one calendar date.
type Day struct {
	Date    time.Time
	Markets []market.Snapshot
}

type Trade struct {
	Day           int       `json:"day"`
	Date          time.Time `json:"date"`
	MarketID      string    `json:"market_id"`
	Strategy      Strategy  `json:"strategy"`
	Side          string    `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     float64   `json:"exit_price"`
	Size          float64   `json:"size"`
	ProfitLoss    float64   `json:"profit_loss"`
	ReturnPercent float64   `json:"return_percent"`
}

type EquityPoint struct {
	Day      int       `json:"day"`
	Date     time.Time `json:"date"`
	Equity   float64   `json:"equity"`
	Drawdown float64   `json:"drawdown"`
}

// Result is the immutable output of one run. ProfitFactor is +Inf when the
// run had winners and no losers.
type Result struct {
	ID                 string
	Strategy           Strategy
	Config             Config
	FinalEquity        float64
	TotalReturn        float64
	TotalReturnPercent float64
	MaxDrawdown        float64
	SharpeRatio        float64
	WinRate            float64
	TotalTrades        int
	ProfitFactor       float64
	EquityCurve        []EquityPoint
	Trades             []Trade
	RunAt              time.Time
}

func (r Result) Report() performance.Report {
	return performance.Summarize(r.Config.Name, r.Config.InitialCapital, r.FinalEquity, outcomes(r.Trades), r.MaxDrawdown)
}

func outcomes(trades []Trade) []performance.Outcome {
	out := make([]performance.Outcome, len(trades))
	for i, t := range trades {
		out[i] = performance.Outcome{ProfitLoss: t.ProfitLoss, ReturnPercent: t.ReturnPercent}
	}
	return out
}

// Engine runs backtests one at a time and keeps the most recent results.
// The random source only feeds the Kelly simulator and is seeded from config
// so runs are reproducible.
type Engine struct {
	runMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	state   State
	results *ringbuf.Buffer[Result]
	now     func() time.Time
}

func NewEngine(cfg config.BacktestConfig) *Engine {
	capacity := cfg.MaxResults
	if capacity <= 0 {
		capacity = defaultMaxResults
	}
	return &Engine{
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed)),
		state:   Idle,
		results: ringbuf.New[Result](capacity),
		now:     time.Now,
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Results returns retained results, newest first.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results.Newest(0)
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run simulates cfg over history and records the result. Days outside
// [cfg.Start, cfg.End] are ignored. Day 0 only serves as the reference for
// day 1, so the equity curve has one point per remaining day.
func (e *Engine) Run(cfg Config, history []Day) (Result, error) {
	if err := validate(cfg); err != nil {
		return Result{}, err
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.setState(Running)

	days := window(history, cfg.Start, cfg.End)
	if len(days) < 2 {
		slog.Warn("backtest history too short to trade", "name", cfg.Name, "days", len(days))
	}

	equity := cfg.InitialCapital
	dd := performance.NewDrawdown(equity)
	curve := make([]EquityPoint, 0, max(len(days)-1, 0))
	var trades []Trade

	for i := 1; i < len(days); i++ {
		var dayTrades []Trade
		switch s := cfg.Settings.(type) {
		case SpikeSettings:
			dayTrades = simulateSpike(days[i-1], days[i], equity, s)
		case ArbitrageSettings:
			dayTrades = simulateArbitrage(days[i], equity, s)
		case KellySettings:
			dayTrades = simulateKelly(days[i], equity, s, e.rng)
		case StatisticalSettings:
		}

		for j := range dayTrades {
			dayTrades[j].Day = i
			dayTrades[j].Date = days[i].Date
			equity += dayTrades[j].ProfitLoss
		}
		trades = append(trades, dayTrades...)

		curve = append(curve, EquityPoint{
			Day:      i,
			Date:     days[i].Date,
			Equity:   equity,
			Drawdown: dd.Observe(equity),
		})
	}

	report := performance.Summarize(cfg.Name, cfg.InitialCapital, equity, outcomes(trades), dd.Max)
	result := Result{
		ID:                 uuid.NewString(),
		Strategy:           cfg.Settings.Strategy(),
		Config:             cfg,
		FinalEquity:        equity,
		TotalReturn:        report.TotalReturn,
		TotalReturnPercent: report.TotalReturnPercent,
		MaxDrawdown:        report.MaxDrawdown,
		SharpeRatio:        report.SharpeRatio,
		WinRate:            report.WinRate,
		TotalTrades:        report.TotalTrades,
		ProfitFactor:       report.ProfitFactor,
		EquityCurve:        curve,
		Trades:             trades,
		RunAt:              e.now(),
	}

	e.mu.Lock()
	e.results.Push(result)
	e.state = Complete
	e.mu.Unlock()

	slog.Info("backtest complete", "id", result.ID, "strategy", result.Strategy, "days", len(days))
	performance.LogReport(report)
	return result, nil
}

func validate(cfg Config) error {
	if cfg.Settings == nil {
		return fmt.Errorf("%w: no strategy settings", ErrInvalidConfig)
	}
	switch cfg.Settings.(type) {
	case SpikeSettings, ArbitrageSettings, KellySettings, StatisticalSettings:
	default:
		return fmt.Errorf("%w: unsupported settings %T", ErrInvalidConfig, cfg.Settings)
	}
	if !(cfg.InitialCapital > 0) || math.IsInf(cfg.InitialCapital, 1) {
		return fmt.Errorf("%w: initial capital must be positive, got %v", ErrInvalidConfig, cfg.InitialCapital)
	}
	if !cfg.Start.IsZero() && !cfg.End.IsZero() && cfg.End.Before(cfg.Start) {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidConfig,
			cfg.End.Format(time.DateOnly), cfg.Start.Format(time.DateOnly))
	}
	return nil
}

func window(history []Day, start, end time.Time) []Day {
	if start.IsZero() && end.IsZero() {
		return history
	}
	out := make([]Day, 0, len(history))
	for _, d := range history {
		if !start.IsZero() && d.Date.Before(start) {
			continue
		}
		if !end.IsZero() && d.Date.After(end) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// simulateSpike fades any day-over-day move above the threshold and exits
// after half the move reverts.
func simulateSpike(prev, cur Day, equity float64, s SpikeSettings) []Trade {
	before := make(map[string]float64, len(prev.Markets))
	for _, m := range prev.Markets {
		before[m.ID] = m.YesPrice()
	}

	var trades []Trade
	for _, m := range cur.Markets {
		p0, ok := before[m.ID]
		if !ok {
			continue
		}
		p1 := m.YesPrice()
		delta := p1 - p0
		if math.Abs(delta)/market.ClampPrice(p0) <= s.SpikeThreshold {
			continue
		}

		size := equity * s.PositionPercent
		reversion := 0.5 * math.Abs(delta)
		// Prices are recorded on the leg that was bought.
		side, entry, exit := "NO", 1-p1, 1-(p1-reversion)
		if delta < 0 {
			side, entry, exit = "YES", p1, p1+reversion
		}
		pnl := size * reversion / market.ClampPrice(p1)
		trades = append(trades, Trade{
			MarketID:      m.ID,
			Strategy:      StrategySpike,
			Side:          side,
			EntryPrice:    entry,
			ExitPrice:     exit,
			Size:          size,
			ProfitLoss:    pnl,
			ReturnPercent: returnPercent(pnl, size),
		})
	}
	return trades
}

// simulateArbitrage buys both outcomes whenever they cost less than the
// payout by more than MinProfit.
func simulateArbitrage(cur Day, equity float64, s ArbitrageSettings) []Trade {
	var trades []Trade
	for _, m := range cur.Markets {
		cost := m.YesPrice() + m.NoPrice()
		if cost >= 1-s.MinProfit {
			continue
		}
		size := equity * s.PositionPercent
		pnl := (1 - cost) * size
		trades = append(trades, Trade{
			MarketID:      m.ID,
			Strategy:      StrategyArbitrage,
			Side:          "BOTH",
			EntryPrice:    cost,
			ExitPrice:     1,
			Size:          size,
			ProfitLoss:    pnl,
			ReturnPercent: returnPercent(pnl, size),
		})
	}
	return trades
}

// simulateKelly is a Monte Carlo approximation: the probability estimate is
// drawn at random around 0.5 and the outcome is drawn from that estimate.
func simulateKelly(cur Day, equity float64, s KellySettings, rng *rand.Rand) []Trade {
	var trades []Trade
	for _, m := range cur.Markets {
		estimate := 0.5 + (rng.Float64()*2-1)*0.15
		price := market.ClampPrice(m.YesPrice())
		edge := estimate - price
		if edge <= s.MinEdge {
			continue
		}

		fraction := min(edge/price*s.KellyFraction, s.MaxPositionPercent)
		size := equity * fraction
		if size <= 0 {
			continue
		}

		pnl, exit := -size, 0.0
		if rng.Float64() < estimate {
			pnl, exit = size*(1-price)/price, 1.0
		}
		trades = append(trades, Trade{
			MarketID:      m.ID,
			Strategy:      StrategyKelly,
			Side:          "YES",
			EntryPrice:    price,
			ExitPrice:     exit,
			Size:          size,
			ProfitLoss:    pnl,
			ReturnPercent: returnPercent(pnl, size),
		})
	}
	return trades
}

func returnPercent(pnl, size float64) float64 {
	if size == 0 {
		return 0
	}
	return pnl / size * 100
}
