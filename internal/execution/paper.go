// Package execution turns signals into paper positions. Nothing here routes
// orders to a venue.
package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quantedge/internal/db"
	"quantedge/internal/kelly"
	"quantedge/internal/market"
	"quantedge/internal/risk"
	"quantedge/internal/spike"
)

const sourceSpike = "spike"

// Proposal is a sized, risk-checked intent to open a position.
type Proposal struct {
	ID                   string
	MarketID             string
	Question             string
	Source               string
	SourceID             string
	Side                 risk.Side
	Price                float64
	EstimatedProbability float64
	Kelly                kelly.Result
	RequestedSize        float64
	ApprovedSize         float64
	RiskReason           string
	ProposedAt           time.Time
}

// Outcome records what happened to one proposal.
type Outcome struct {
	Proposal Proposal
	Position risk.Position
	Opened   bool
	Reason   string
}

// Paper sizes signals with the Kelly sizer, gates them through the risk
// manager and opens positions in the paper portfolio.
type Paper struct {
	db            *sql.DB
	sizer         *kelly.Sizer
	riskMgr       *risk.Manager
	portfolio     *risk.Portfolio
	minConfidence float64
	now           func() time.Time
}

func NewPaper(database *sql.DB, sizer *kelly.Sizer, riskMgr *risk.Manager, portfolio *risk.Portfolio, minConfidence float64) *Paper {
	return &Paper{
		db:            database,
		sizer:         sizer,
		riskMgr:       riskMgr,
		portfolio:     portfolio,
		minConfidence: minConfidence,
		now:           time.Now,
	}
}

// ExecuteSpike fades a spike toward its reference price. The reference is
// taken as the fair YES probability, so a BUY_NO after an upward move is
// sized on 1-reference against the market's NO price.
func (p *Paper) ExecuteSpike(ctx context.Context, ev spike.Event, snap market.Snapshot) (Outcome, error) {
	var side risk.Side
	var price, estimate float64
	switch ev.Action {
	case spike.BuyYes:
		side, price, estimate = risk.Yes, snap.YesPrice(), ev.ReferencePrice
	case spike.BuyNo:
		side, price, estimate = risk.No, snap.NoPrice(), 1-ev.ReferencePrice
	default:
		return Outcome{Reason: "no action"}, nil
	}
	if ev.Confidence < p.minConfidence {
		return Outcome{Reason: "confidence below minimum"}, nil
	}
	if p.portfolio.HoldsMarket(ev.MarketID) {
		return Outcome{Reason: "market already held"}, nil
	}

	now := p.now()
	bankroll := p.portfolio.Equity()
	sizing := p.sizer.Recommend(price, estimate, bankroll)
	prop := Proposal{
		ID:                   uuid.NewString(),
		MarketID:             ev.MarketID,
		Question:             snap.Question,
		Source:               sourceSpike,
		SourceID:             ev.ID,
		Side:                 side,
		Price:                market.ClampPrice(price),
		EstimatedProbability: estimate,
		Kelly:                sizing,
		RequestedSize:        sizing.PositionSize,
		ProposedAt:           now,
	}
	if sizing.Recommendation == kelly.Avoid || sizing.PositionSize <= 0 {
		return Outcome{Proposal: prop, Reason: "no edge"}, nil
	}

	v := p.riskMgr.ValidatePosition(sizing.PositionSize, bankroll, p.portfolio.Positions())
	prop.RiskReason = v.Reason
	if v.Allowed {
		prop.ApprovedSize = sizing.PositionSize
		if v.AdjustedSize > 0 {
			prop.ApprovedSize = v.AdjustedSize
		}
	}

	if err := p.ensureMarket(ctx, snap); err != nil {
		return Outcome{}, err
	}
	if err := p.recordProposal(ctx, prop); err != nil {
		return Outcome{}, err
	}
	if !v.Allowed {
		slog.Info("paper proposal rejected by risk", "market", prop.MarketID, "reason", v.Reason)
		return Outcome{Proposal: prop, Reason: v.Reason}, nil
	}

	qty, _ := decimal.NewFromFloat(prop.ApprovedSize / prop.Price).Truncate(2).Float64()
	pos := risk.Position{
		ID:           prop.ID,
		MarketID:     prop.MarketID,
		Question:     prop.Question,
		Side:         side,
		EntryPrice:   prop.Price,
		CurrentPrice: prop.Price,
		Quantity:     qty,
		StopLoss:     p.riskMgr.CalculateStopLoss(prop.Price, 0),
		TakeProfit:   min(p.riskMgr.CalculateTakeProfit(prop.Price, 0), market.MaxPrice),
		OpenedAt:     now,
	}
	if err := p.portfolio.Open(pos); err != nil {
		return Outcome{Proposal: prop, Reason: err.Error()}, nil
	}

	slog.Info("paper position opened",
		"position", pos.ID,
		"market", pos.MarketID,
		"side", pos.Side,
		"price", pos.EntryPrice,
		"quantity", pos.Quantity,
		"kelly_fraction", sizing.Fraction,
		"recommendation", sizing.Recommendation,
	)
	return Outcome{Proposal: prop, Position: pos, Opened: true}, nil
}

// Closed is a position realized by Settle.
type Closed struct {
	Position risk.Position
	Trade    risk.Trade
	Reason   string
}

// ReturnPercent is the realized P&L as a percentage of entry cost.
func (c Closed) ReturnPercent() float64 {
	cost := c.Position.Cost()
	if cost == 0 {
		return 0
	}
	return c.Trade.ProfitLoss / cost * 100
}

// Settle closes every position whose stop-loss or take-profit has triggered
// at its current mark, feeds each realized trade to the risk manager and the
// Kelly history, and refreshes equity.
func (p *Paper) Settle(ctx context.Context) ([]Closed, error) {
	now := p.now()
	var closed []Closed
	for _, pos := range p.portfolio.Positions() {
		reason := ""
		switch {
		case risk.ShouldTriggerStopLoss(pos):
			reason = "stop_loss"
		case risk.ShouldTriggerTakeProfit(pos):
			reason = "take_profit"
		default:
			continue
		}

		tr, ok := p.portfolio.Close(pos.ID, now)
		if !ok {
			continue
		}
		p.riskMgr.RecordTrade(tr)
		p.sizer.AddTrade(tr.ProfitLoss, pos.Cost())
		closed = append(closed, Closed{Position: pos, Trade: tr, Reason: reason})

		if err := p.recordTrade(ctx, pos, tr, reason); err != nil {
			return closed, err
		}
	}
	p.riskMgr.UpdateEquity(p.portfolio.Equity())
	return closed, nil
}

func (p *Paper) ensureMarket(ctx context.Context, s market.Snapshot) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO markets (id, question, platform, is_active)
		VALUES (?, ?, ?, 1)`,
		s.ID, s.Question, s.Platform,
	)
	if err != nil {
		return fmt.Errorf("ensuring market %s: %w", s.ID, err)
	}
	return nil
}

func (p *Paper) recordProposal(ctx context.Context, prop Proposal) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO paper_proposals (id, market_id, source, source_id, side, price, estimated_prob,
			kelly_fraction, requested_size, approved_size, risk_reason, proposed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		prop.ID, prop.MarketID, prop.Source, prop.SourceID, string(prop.Side), prop.Price,
		prop.EstimatedProbability, prop.Kelly.Fraction, prop.RequestedSize, prop.ApprovedSize,
		nullString(prop.RiskReason), db.FormatTime(prop.ProposedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting paper proposal: %w", err)
	}
	return nil
}

func (p *Paper) recordTrade(ctx context.Context, pos risk.Position, tr risk.Trade, reason string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO paper_trades (position_id, market_id, side, entry_price, exit_price, quantity, pnl, exit_reason, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.ID, pos.MarketID, string(pos.Side), pos.EntryPrice, pos.CurrentPrice, pos.Quantity,
		tr.ProfitLoss, reason, db.FormatTime(tr.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting paper trade: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
