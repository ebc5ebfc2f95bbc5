// Package kelly converts a probability edge into a bounded position size and
// estimates an empirically optimal risk fraction from recent trade outcomes.
package kelly

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"quantedge/internal/config"
	"quantedge/internal/market"
	"quantedge/internal/ringbuf"
)

type Recommendation string

const (
	StrongBuy Recommendation = "strong_buy"
	Buy       Recommendation = "buy"
	Hold      Recommendation = "hold"
	Avoid     Recommendation = "avoid"
)

const (
	strongBuyFraction  = 0.04
	buyFraction        = 0.02
	fullConfidenceEdge = 0.15
)

// Input is supplied per calculation. KellyFraction is expected in 0.1-1.0.
type Input struct {
	CurrentPrice         float64
	EstimatedProbability float64
	Bankroll             float64
	KellyFraction        float64
	MaxPositionPercent   float64
}

type Result struct {
	Edge           float64
	RawKelly       float64
	AdjustedKelly  float64
	Fraction       float64 // capped, always within [0, MaxPositionPercent]
	PositionSize   float64 // bankroll * Fraction, rounded to cents
	Confidence     float64
	Recommendation Recommendation
}

// Calculate sizes a YES position at CurrentPrice given an estimated
// probability. A non-positive edge always yields a zero-size Avoid result.
func Calculate(in Input) Result {
	price := market.ClampPrice(in.CurrentPrice)
	edge := in.EstimatedProbability - price
	if !(edge > 0) {
		return Result{Edge: edge, Recommendation: Avoid}
	}

	raw := edge / price
	adjusted := raw * in.KellyFraction
	capped := math.Max(0, math.Min(adjusted, in.MaxPositionPercent))

	size, _ := decimal.NewFromFloat(in.Bankroll).
		Mul(decimal.NewFromFloat(capped)).
		Round(2).
		Float64()

	return Result{
		Edge:           edge,
		RawKelly:       raw,
		AdjustedKelly:  adjusted,
		Fraction:       capped,
		PositionSize:   size,
		Confidence:     math.Min(edge/fullConfidenceEdge, 1),
		Recommendation: recommend(capped),
	}
}

func recommend(fraction float64) Recommendation {
	switch {
	case fraction >= strongBuyFraction:
		return StrongBuy
	case fraction >= buyFraction:
		return Buy
	case fraction > 0:
		return Hold
	default:
		return Avoid
	}
}

// Trade is a realized outcome kept for statistical estimation only.
type Trade struct {
	ProfitLoss float64
	Capital    float64
}

type Metrics struct {
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64
	AvgWin      float64
	AvgLoss     float64 // absolute value
	Expectancy  float64
}

// Sizer keeps a bounded rolling trade history alongside the pure Calculate.
type Sizer struct {
	mu     sync.RWMutex
	cfg    config.KellyConfig
	trades *ringbuf.Buffer[Trade]
}

func NewSizer(cfg config.KellyConfig) *Sizer {
	if cfg.Fraction <= 0 {
		cfg.Fraction = 0.5
	}
	if cfg.MaxPositionPct <= 0 {
		cfg.MaxPositionPct = 0.05
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 40
	}
	if cfg.MinTrades <= 0 {
		cfg.MinTrades = 10
	}
	if cfg.ScalingFactor <= 0 {
		cfg.ScalingFactor = 0.5
	}
	if cfg.DefaultFraction <= 0 {
		cfg.DefaultFraction = 0.02
	}
	if cfg.MaxFraction <= 0 {
		cfg.MaxFraction = 0.25
	}
	return &Sizer{cfg: cfg, trades: ringbuf.New[Trade](cfg.HistorySize)}
}

// Recommend sizes a position with the configured fraction and cap.
func (s *Sizer) Recommend(price, probability, bankroll float64) Result {
	return Calculate(Input{
		CurrentPrice:         price,
		EstimatedProbability: probability,
		Bankroll:             bankroll,
		KellyFraction:        s.cfg.Fraction,
		MaxPositionPercent:   s.cfg.MaxPositionPct,
	})
}

func (s *Sizer) AddTrade(profitLoss, capital float64) {
	s.mu.Lock()
	s.trades.Push(Trade{ProfitLoss: profitLoss, Capital: capital})
	s.mu.Unlock()
}

func (s *Sizer) Trades() []Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trades.Slice()
}

// HistoricalMetrics reports false until MinTrades outcomes are recorded.
func (s *Sizer) HistoricalMetrics() (Metrics, bool) {
	s.mu.RLock()
	trades := s.trades.Slice()
	s.mu.RUnlock()

	if len(trades) < s.cfg.MinTrades {
		return Metrics{}, false
	}

	var m Metrics
	var winSum, lossSum float64
	for _, t := range trades {
		if t.ProfitLoss > 0 {
			m.Wins++
			winSum += t.ProfitLoss
		} else {
			m.Losses++
			lossSum += math.Abs(t.ProfitLoss)
		}
	}
	m.TotalTrades = len(trades)
	m.WinRate = float64(m.Wins) / float64(m.TotalTrades)
	if m.Wins > 0 {
		m.AvgWin = winSum / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = lossSum / float64(m.Losses)
	}
	m.Expectancy = m.WinRate*m.AvgWin - (1-m.WinRate)*m.AvgLoss
	return m, true
}

// OptimalFraction applies the classical Kelly formula to the rolling
// history, scaled and clamped to [0, MaxFraction]. It falls back to
// DefaultFraction when history is short or there are no losses to measure.
func (s *Sizer) OptimalFraction() float64 {
	m, ok := s.HistoricalMetrics()
	if !ok || m.AvgLoss == 0 {
		return s.cfg.DefaultFraction
	}
	rewardRisk := m.AvgWin / m.AvgLoss
	if rewardRisk == 0 {
		return 0
	}
	f := (m.WinRate*rewardRisk - (1 - m.WinRate)) / rewardRisk
	f *= s.cfg.ScalingFactor
	return math.Max(0, math.Min(f, s.cfg.MaxFraction))
}
