package api

import (
	"math"
	"time"

	"quantedge/internal/arbitrage"
	"quantedge/internal/backtest"
	"quantedge/internal/market"
	"quantedge/internal/risk"
	"quantedge/internal/spike"
)

// finite maps non-finite values to JSON null.
func finite(f float64) *float64 {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return &f
}

type spikeJSON struct {
	ID             string    `json:"id"`
	MarketID       string    `json:"market_id"`
	Question       string    `json:"question"`
	PriceChange    float64   `json:"price_change"`
	ChangePercent  float64   `json:"change_percent"`
	Direction      string    `json:"direction"`
	ReferencePrice float64   `json:"reference_price"`
	CurrentPrice   float64   `json:"current_price"`
	Confidence     float64   `json:"confidence"`
	Action         string    `json:"action"`
	DetectedAt     time.Time `json:"detected_at"`
}

func toSpike(e spike.Event) spikeJSON {
	return spikeJSON{
		ID:             e.ID,
		MarketID:       e.MarketID,
		Question:       e.Question,
		PriceChange:    e.PriceChange,
		ChangePercent:  e.ChangePercent,
		Direction:      string(e.Direction),
		ReferencePrice: e.ReferencePrice,
		CurrentPrice:   e.CurrentPrice,
		Confidence:     e.Confidence,
		Action:         string(e.Action),
		DetectedAt:     e.DetectedAt,
	}
}

type legJSON struct {
	MarketID string  `json:"market_id"`
	Question string  `json:"question"`
	Outcome  string  `json:"outcome"`
	Price    float64 `json:"price"`
	Platform string  `json:"platform"`
}

type opportunityJSON struct {
	ID               string    `json:"id"`
	Kind             string    `json:"type"`
	Legs             []legJSON `json:"legs"`
	TotalCost        float64   `json:"total_cost"`
	GuaranteedPayout float64   `json:"guaranteed_payout"`
	Profit           float64   `json:"profit"`
	ProfitPercent    float64   `json:"profit_percent"`
	Status           string    `json:"status"`
	DetectedAt       time.Time `json:"detected_at"`
}

func toOpportunity(o arbitrage.Opportunity) opportunityJSON {
	legs := make([]legJSON, len(o.Legs))
	for i, l := range o.Legs {
		legs[i] = legJSON{MarketID: l.MarketID, Question: l.Question, Outcome: l.Outcome, Price: l.Price, Platform: l.Platform}
	}
	return opportunityJSON{
		ID:               o.ID,
		Kind:             string(o.Kind),
		Legs:             legs,
		TotalCost:        o.TotalCost,
		GuaranteedPayout: o.GuaranteedPayout,
		Profit:           o.Profit,
		ProfitPercent:    o.ProfitPercent,
		Status:           string(o.Status),
		DetectedAt:       o.DetectedAt,
	}
}

type backtestJSON struct {
	ID                 string                 `json:"id"`
	Name               string                 `json:"name"`
	Strategy           string                 `json:"strategy"`
	Settings           backtest.Settings      `json:"settings"`
	InitialCapital     float64                `json:"initial_capital"`
	FinalEquity        float64                `json:"final_equity"`
	TotalReturn        float64                `json:"total_return"`
	TotalReturnPercent float64                `json:"total_return_percent"`
	MaxDrawdown        float64                `json:"max_drawdown"`
	SharpeRatio        float64                `json:"sharpe_ratio"`
	WinRate            float64                `json:"win_rate"`
	TotalTrades        int                    `json:"total_trades"`
	ProfitFactor       *float64               `json:"profit_factor"`
	EquityCurve        []backtest.EquityPoint `json:"equity_curve"`
	Trades             []backtest.Trade       `json:"trades,omitempty"`
	RunAt              time.Time              `json:"run_at"`
}

func toBacktest(r backtest.Result, withTrades bool) backtestJSON {
	out := backtestJSON{
		ID:                 r.ID,
		Name:               r.Config.Name,
		Strategy:           string(r.Strategy),
		Settings:           r.Config.Settings,
		InitialCapital:     r.Config.InitialCapital,
		FinalEquity:        r.FinalEquity,
		TotalReturn:        r.TotalReturn,
		TotalReturnPercent: r.TotalReturnPercent,
		MaxDrawdown:        r.MaxDrawdown,
		SharpeRatio:        r.SharpeRatio,
		WinRate:            r.WinRate,
		TotalTrades:        r.TotalTrades,
		ProfitFactor:       finite(r.ProfitFactor),
		EquityCurve:        r.EquityCurve,
		RunAt:              r.RunAt,
	}
	if withTrades {
		out.Trades = r.Trades
	}
	return out
}

type marketJSON struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	YesPrice   float64   `json:"yes_price"`
	NoPrice    float64   `json:"no_price"`
	Volume     float64   `json:"volume"`
	Liquidity  float64   `json:"liquidity"`
	Active     bool      `json:"active"`
	Platform   string    `json:"platform"`
	ObservedAt time.Time `json:"observed_at"`
}

func toMarket(s market.Snapshot) marketJSON {
	return marketJSON{
		ID:         s.ID,
		Question:   s.Question,
		YesPrice:   s.YesPrice(),
		NoPrice:    s.NoPrice(),
		Volume:     s.Volume,
		Liquidity:  s.Liquidity,
		Active:     s.Active,
		Platform:   s.Platform,
		ObservedAt: s.ObservedAt,
	}
}

type positionJSON struct {
	ID           string    `json:"id"`
	MarketID     string    `json:"market_id"`
	Question     string    `json:"question"`
	Side         string    `json:"side"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	Quantity     float64   `json:"quantity"`
	StopLoss     float64   `json:"stop_loss,omitempty"`
	TakeProfit   float64   `json:"take_profit,omitempty"`
	OpenedAt     time.Time `json:"opened_at"`
}

type riskJSON struct {
	TradingAllowed      bool           `json:"trading_allowed"`
	DailyPnL            float64        `json:"daily_pnl"`
	Equity              float64        `json:"equity"`
	Cash                float64        `json:"cash"`
	TotalExposure       float64        `json:"total_exposure"`
	ExposurePercent     float64        `json:"exposure_percent"`
	LargestPosition     float64        `json:"largest_position"`
	PortfolioHeat       float64        `json:"portfolio_heat"`
	CorrelationRisk     float64        `json:"correlation_risk"`
	CorrelationExceeded bool           `json:"correlation_exceeded"`
	ValueAtRisk         float64        `json:"value_at_risk"`
	MaxDrawdown         float64        `json:"max_drawdown"`
	CurrentDrawdown     float64        `json:"current_drawdown"`
	RiskScore           string         `json:"risk_score"`
	OptimalFraction     float64        `json:"optimal_fraction"`
	Positions           []positionJSON `json:"positions"`
}

func toPositions(ps []risk.Position) []positionJSON {
	out := make([]positionJSON, len(ps))
	for i, p := range ps {
		out[i] = positionJSON{
			ID:           p.ID,
			MarketID:     p.MarketID,
			Question:     p.Question,
			Side:         string(p.Side),
			EntryPrice:   p.EntryPrice,
			CurrentPrice: p.CurrentPrice,
			Quantity:     p.Quantity,
			StopLoss:     p.StopLoss,
			TakeProfit:   p.TakeProfit,
			OpenedAt:     p.OpenedAt,
		}
	}
	return out
}
