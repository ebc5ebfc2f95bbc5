package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"quantedge/internal/classify"
	"quantedge/internal/config"
	"quantedge/internal/market"
	"quantedge/internal/performance"
)

const (
	varZScore      = 1.65 // 95% one-tailed
	defaultStdDev  = 0.1
	heatPercentage = 100
)

type Side string

const (
	Yes Side = "YES"
	No  Side = "NO"
)

// Position is owned by the portfolio; the manager only reads it.
// StopLoss and TakeProfit are price levels, zero when unset.
type Position struct {
	ID           string
	MarketID     string
	Question     string
	Side         Side
	EntryPrice   float64
	CurrentPrice float64
	Quantity     float64
	StopLoss     float64
	TakeProfit   float64
	OpenedAt     time.Time
}

// Cost is the capital committed at entry.
func (p Position) Cost() float64 { return p.EntryPrice * p.Quantity }

// UnrealizedReturn is the fractional move from entry to current price.
func (p Position) UnrealizedReturn() float64 {
	return (p.CurrentPrice - p.EntryPrice) / market.ClampPrice(p.EntryPrice)
}

// Trade is a realized result fed into daily P&L.
type Trade struct {
	MarketID   string
	ProfitLoss float64
	ClosedAt   time.Time
}

type Level string

const (
	Low      Level = "low"
	Medium   Level = "medium"
	High     Level = "high"
	Critical Level = "critical"
)

// Metrics are computed on demand and never stored.
type Metrics struct {
	TotalExposure   float64
	ExposurePercent float64
	LargestPosition float64
	PortfolioHeat   float64
	CorrelationRisk float64
	ValueAtRisk     float64
	MaxDrawdown     float64
	CurrentDrawdown float64
	RiskScore       Level

	// CorrelationExceeded is set when two or more positions concentrate in
	// one category beyond MaxCorrelation.
	CorrelationExceeded bool
}

// Validation is the result of a pre-trade check. AdjustedSize is non-zero
// only when the requested size was reduced to fit a limit.
type Validation struct {
	Allowed      bool
	Reason       string
	AdjustedSize float64
}

// Manager holds limits, the equity high-water mark and the daily loss
// circuit breaker. All state-mutating calls serialize on one lock.
type Manager struct {
	mu         sync.Mutex
	limits     config.RiskConfig
	classifier classify.Classifier
	drawdown   *performance.Drawdown
	equity     float64
	dailyPnL   float64
	halted     bool
}

func NewManager(limits config.RiskConfig, classifier classify.Classifier) *Manager {
	if classifier == nil {
		classifier = classify.NewKeywordClassifier()
	}
	return &Manager{
		limits:     limits,
		classifier: classifier,
		drawdown:   performance.NewDrawdown(0),
	}
}

func (m *Manager) Limits() config.RiskConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits
}

func (m *Manager) SetLimits(limits config.RiskConfig) {
	m.mu.Lock()
	m.limits = limits
	m.mu.Unlock()
	slog.Info("risk limits updated",
		"max_total_exposure", limits.MaxTotalExposure,
		"max_position_size", limits.MaxPositionSize,
		"max_daily_loss", limits.MaxDailyLoss,
	)
}

// UpdateEquity sets current equity and raises the peak if exceeded.
func (m *Manager) UpdateEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = equity
	m.drawdown.Observe(equity)
}

// RecordTrade accumulates daily P&L and trips the halt once the day's net
// move in either direction reaches MaxDailyLoss of current equity. Call
// exactly once per realized trade.
func (m *Manager) RecordTrade(t Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyPnL += t.ProfitLoss
	if m.halted {
		return
	}

	movePct := math.Inf(1)
	if m.equity > 0 {
		movePct = math.Abs(m.dailyPnL) / m.equity
	}
	if movePct >= m.limits.MaxDailyLoss {
		m.halted = true
		slog.Warn("trading halted: daily pnl limit reached",
			"daily_pnl", m.dailyPnL,
			"equity", m.equity,
			"limit", m.limits.MaxDailyLoss,
		)
	}
}

func (m *Manager) IsTradingAllowed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.halted
}

func (m *Manager) DailyPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyPnL
}

// ResetDailyPnL is the only way out of a halt.
func (m *Manager) ResetDailyPnL() {
	m.mu.Lock()
	wasHalted := m.halted
	m.dailyPnL = 0
	m.halted = false
	m.mu.Unlock()
	slog.Info("daily risk counters reset", "was_halted", wasHalted)
}

// CalculateMetrics aggregates exposure, heat, concentration and VaR over the
// given positions.
func (m *Manager) CalculateMetrics(positions []Position, bankroll float64) Metrics {
	m.mu.Lock()
	limits := m.limits
	dd := *m.drawdown
	m.mu.Unlock()

	var met Metrics
	var heat float64
	counts := make(map[classify.Category]int)
	returns := make([]float64, 0, len(positions))

	for _, p := range positions {
		cost := p.Cost()
		met.TotalExposure += cost
		met.LargestPosition = math.Max(met.LargestPosition, cost)

		stopDistance := limits.DefaultStopLoss
		if p.StopLoss > 0 {
			stopDistance = math.Abs(p.EntryPrice-p.StopLoss) / market.ClampPrice(p.EntryPrice)
		}
		if bankroll > 0 {
			heat += cost * stopDistance / bankroll
		}

		counts[m.classifier.Classify(p.Question)]++
		returns = append(returns, p.UnrealizedReturn())
	}

	if bankroll > 0 {
		met.ExposurePercent = met.TotalExposure / bankroll
	}
	met.PortfolioHeat = heat * heatPercentage

	if len(positions) > 0 {
		var largest int
		for _, c := range counts {
			largest = max(largest, c)
		}
		met.CorrelationRisk = float64(largest) / float64(len(positions))
		met.CorrelationExceeded = len(positions) > 1 && limits.MaxCorrelation > 0 &&
			met.CorrelationRisk > limits.MaxCorrelation
	}

	sd := performance.StdDev(returns)
	if len(returns) < 2 || sd == 0 || math.IsNaN(sd) {
		sd = defaultStdDev
	}
	met.ValueAtRisk = met.TotalExposure * sd * varZScore

	met.CurrentDrawdown = dd.Current
	met.MaxDrawdown = dd.Max
	met.RiskScore = score(met.ExposurePercent, met.CurrentDrawdown)
	return met
}

func score(exposure, drawdown float64) Level {
	switch {
	case exposure > 0.4 || drawdown > 0.2:
		return Critical
	case exposure > 0.25 || drawdown > 0.1:
		return High
	case exposure > 0.15 || drawdown > 0.05:
		return Medium
	default:
		return Low
	}
}

// ValidatePosition is the final gate before opening a position. Total
// exposure is checked before the single-position cap and only the first
// triggered adjustment is returned.
func (m *Manager) ValidatePosition(size, bankroll float64, existing []Position) Validation {
	m.mu.Lock()
	halted := m.halted
	limits := m.limits
	m.mu.Unlock()

	if halted {
		return Validation{Allowed: false, Reason: "trading halted: daily loss limit reached"}
	}
	if bankroll <= 0 {
		return Validation{Allowed: false, Reason: "no bankroll"}
	}
	if size <= 0 {
		return Validation{Allowed: false, Reason: "position size must be positive"}
	}

	var exposure float64
	for _, p := range existing {
		exposure += p.Cost()
	}

	maxExposure := bankroll * limits.MaxTotalExposure
	if exposure+size > maxExposure {
		headroom := maxExposure - exposure
		if headroom <= 0 {
			return Validation{Allowed: false, Reason: fmt.Sprintf(
				"total exposure limit reached (%.0f%% of bankroll)", limits.MaxTotalExposure*100)}
		}
		return Validation{
			Allowed:      true,
			Reason:       "size reduced to fit total exposure limit",
			AdjustedSize: headroom,
		}
	}

	maxPosition := bankroll * limits.MaxPositionSize
	if size > maxPosition {
		return Validation{
			Allowed:      true,
			Reason:       "size reduced to single position limit",
			AdjustedSize: maxPosition,
		}
	}

	return Validation{Allowed: true}
}

// CalculateStopLoss returns entry*(1-pct); pct <= 0 uses the configured default.
func (m *Manager) CalculateStopLoss(entry, pct float64) float64 {
	if pct <= 0 {
		pct = m.Limits().DefaultStopLoss
	}
	return entry * (1 - pct)
}

// CalculateTakeProfit returns entry*(1+pct); pct <= 0 uses the configured default.
func (m *Manager) CalculateTakeProfit(entry, pct float64) float64 {
	if pct <= 0 {
		pct = m.Limits().DefaultTakeProfit
	}
	return entry * (1 + pct)
}

func ShouldTriggerStopLoss(p Position) bool {
	return p.StopLoss > 0 && p.CurrentPrice <= p.StopLoss
}

func ShouldTriggerTakeProfit(p Position) bool {
	return p.TakeProfit > 0 && p.CurrentPrice >= p.TakeProfit
}
