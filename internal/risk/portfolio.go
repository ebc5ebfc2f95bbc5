package risk

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"quantedge/internal/market"
)

// Portfolio is the paper book: cash plus open positions. It stands in for
// the external portfolio store the risk manager reads from.
type Portfolio struct {
	mu        sync.RWMutex
	cash      float64
	positions map[string]Position
}

func NewPortfolio(cash float64) *Portfolio {
	return &Portfolio{cash: cash, positions: make(map[string]Position)}
}

// Open debits the position's cost from cash.
func (p *Portfolio) Open(pos Position) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cost := pos.Cost()
	if cost <= 0 {
		return fmt.Errorf("position %s has no cost", pos.ID)
	}
	if cost > p.cash {
		return fmt.Errorf("insufficient cash: need %.2f, have %.2f", cost, p.cash)
	}
	if _, exists := p.positions[pos.ID]; exists {
		return fmt.Errorf("position %s already open", pos.ID)
	}
	if pos.CurrentPrice == 0 {
		pos.CurrentPrice = pos.EntryPrice
	}
	p.cash -= cost
	p.positions[pos.ID] = pos
	return nil
}

// Positions returns open positions, oldest first.
func (p *Portfolio) Positions() []Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (p *Portfolio) HoldsMarket(marketID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, pos := range p.positions {
		if pos.MarketID == marketID {
			return true
		}
	}
	return false
}

// MarkToMarket refreshes current prices from the latest snapshots. A NO
// position is marked at the market's NO price.
func (p *Portfolio) MarkToMarket(snapshots []market.Snapshot) {
	byID := make(map[string]market.Snapshot, len(snapshots))
	for _, s := range snapshots {
		byID[s.ID] = s
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, pos := range p.positions {
		s, ok := byID[pos.MarketID]
		if !ok {
			continue
		}
		if pos.Side == No {
			pos.CurrentPrice = s.NoPrice()
		} else {
			pos.CurrentPrice = s.YesPrice()
		}
		p.positions[id] = pos
	}
}

// Close realizes a position at its current price.
func (p *Portfolio) Close(id string, at time.Time) (Trade, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[id]
	if !ok {
		return Trade{}, false
	}
	delete(p.positions, id)
	p.cash += pos.CurrentPrice * pos.Quantity

	t := Trade{
		MarketID:   pos.MarketID,
		ProfitLoss: (pos.CurrentPrice - pos.EntryPrice) * pos.Quantity,
		ClosedAt:   at,
	}
	slog.Info("paper position closed",
		"position", id,
		"market", pos.MarketID,
		"side", pos.Side,
		"entry", pos.EntryPrice,
		"exit", pos.CurrentPrice,
		"pnl", t.ProfitLoss,
	)
	return t, true
}

func (p *Portfolio) Cash() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Equity is cash plus open positions at their current price.
func (p *Portfolio) Equity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	equity := p.cash
	for _, pos := range p.positions {
		equity += pos.CurrentPrice * pos.Quantity
	}
	return equity
}
