// Package arbitrage finds markets, or pairs of markets, whose combined
// pricing guarantees a payout above cost after fees.
package arbitrage

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantedge/internal/classify"
	"quantedge/internal/config"
	"quantedge/internal/market"
)

type Kind string

const (
	Binary        Kind = "binary"
	MultiMarket   Kind = "multi_market"
	CrossPlatform Kind = "cross_platform"
)

type Status string

const (
	Active   Status = "active"
	Expired  Status = "expired"
	Executed Status = "executed"
)

const guaranteedPayout = 1.0

// Leg is one side of an opportunity.
type Leg struct {
	MarketID string
	Question string
	Outcome  string // "YES" or "NO"
	Price    float64
	Platform string
}

type Opportunity struct {
	ID               string
	Kind             Kind
	Legs             []Leg
	TotalCost        float64
	GuaranteedPayout float64
	Profit           float64
	ProfitPercent    float64
	Status           Status
	DetectedAt       time.Time
}

// key identifies the same mispricing across scan cycles.
func (o Opportunity) key() string {
	parts := make([]string, 0, len(o.Legs)+1)
	parts = append(parts, string(o.Kind))
	for _, l := range o.Legs {
		parts = append(parts, l.Platform+"/"+l.MarketID+"/"+l.Outcome)
	}
	return strings.Join(parts, "|")
}

// Scanner owns the opportunity registry: newest first, bounded, with entries
// older than the retention window dropped on every merge.
type Scanner struct {
	mu       sync.RWMutex
	cfg      config.ArbitrageConfig
	grouper  classify.Grouper
	registry []Opportunity
	now      func() time.Time
}

func NewScanner(cfg config.ArbitrageConfig, grouper classify.Grouper) *Scanner {
	if grouper == nil {
		grouper = classify.KeywordGrouper{}
	}
	if cfg.MaxOpportunities <= 0 {
		cfg.MaxOpportunities = 50
	}
	if cfg.Retention.Duration <= 0 {
		cfg.Retention.Duration = 5 * time.Minute
	}
	if cfg.MultiMarketThreshold <= 0 {
		cfg.MultiMarketThreshold = 0.98
	}
	return &Scanner{cfg: cfg, grouper: grouper, now: time.Now}
}

func newOpportunity(kind Kind, legs []Leg, cost float64, at time.Time) Opportunity {
	profit := guaranteedPayout - cost
	return Opportunity{
		ID:               uuid.New().String(),
		Kind:             kind,
		Legs:             legs,
		TotalCost:        cost,
		GuaranteedPayout: guaranteedPayout,
		Profit:           profit,
		ProfitPercent:    profit / cost * 100,
		Status:           Active,
		DetectedAt:       at,
	}
}

// ScanBinary flags markets where YES + NO + fee costs less than the payout.
func (s *Scanner) ScanBinary(markets []market.Snapshot) []Opportunity {
	now := s.now()
	var found []Opportunity
	for _, m := range markets {
		yes, no := m.YesPrice(), m.NoPrice()
		netCost := yes + no + s.cfg.Fee
		if netCost <= 0 || netCost >= guaranteedPayout {
			continue
		}
		found = append(found, newOpportunity(Binary, []Leg{
			{MarketID: m.ID, Question: m.Question, Outcome: "YES", Price: yes, Platform: m.Platform},
			{MarketID: m.ID, Question: m.Question, Outcome: "NO", Price: no, Platform: m.Platform},
		}, netCost, now))
	}

	s.merge(found)
	slog.Info("binary arbitrage scan complete", "markets", len(markets), "opportunities", len(found))
	return found
}

// ScanMultiMarket pairs markets whose questions share a grouping key and flags
// pairs where YES on the first plus NO on the second is below the slack
// threshold. The grouping is heuristic; paired markets are not guaranteed to
// be equivalent.
func (s *Scanner) ScanMultiMarket(markets []market.Snapshot) []Opportunity {
	now := s.now()
	groups := make(map[string][]market.Snapshot)
	var keys []string
	for _, m := range markets {
		k := s.grouper.GroupKey(m.Question)
		if k == "" {
			continue
		}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], m)
	}
	sort.Strings(keys)

	var found []Opportunity
	for _, k := range keys {
		group := groups[k]
		if len(group) < 2 {
			continue
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				m1, m2 := group[i], group[j]
				if m1.YesPrice() <= 0 || m2.NoPrice() <= 0 {
					continue
				}
				cost := m1.YesPrice() + m2.NoPrice()
				if cost >= s.cfg.MultiMarketThreshold {
					continue
				}
				found = append(found, newOpportunity(MultiMarket, []Leg{
					{MarketID: m1.ID, Question: m1.Question, Outcome: "YES", Price: m1.YesPrice(), Platform: m1.Platform},
					{MarketID: m2.ID, Question: m2.Question, Outcome: "NO", Price: m2.NoPrice(), Platform: m2.Platform},
				}, cost, now))
			}
		}
	}

	s.merge(found)
	slog.Info("multi-market arbitrage scan complete", "groups", len(keys), "opportunities", len(found))
	return found
}

// SimulateCrossPlatform models a second venue by perturbing each market's
// prices with uniform noise of up to CrossPlatformNoise, then flags YES on one
// venue plus NO on the other when it costs less than the payout after fee.
func (s *Scanner) SimulateCrossPlatform(markets []market.Snapshot, rng *rand.Rand) []Opportunity {
	now := s.now()
	noise := s.cfg.CrossPlatformNoise
	var found []Opportunity
	for _, m := range markets {
		alt := market.Snapshot{
			ID:       m.ID,
			Question: m.Question,
			Platform: "simulated",
			OutcomePrices: [2]float64{
				market.ClampPrice(m.YesPrice() + (rng.Float64()*2-1)*noise),
				market.ClampPrice(m.NoPrice() + (rng.Float64()*2-1)*noise),
			},
		}
		pairs := [][2]market.Snapshot{{m, alt}, {alt, m}}
		for _, p := range pairs {
			yes, no := p[0].YesPrice(), p[1].NoPrice()
			cost := yes + no + s.cfg.Fee
			if cost <= 0 || cost >= guaranteedPayout {
				continue
			}
			found = append(found, newOpportunity(CrossPlatform, []Leg{
				{MarketID: p[0].ID, Question: m.Question, Outcome: "YES", Price: yes, Platform: p[0].Platform},
				{MarketID: p[1].ID, Question: m.Question, Outcome: "NO", Price: no, Platform: p[1].Platform},
			}, cost, now))
			break
		}
	}

	s.merge(found)
	slog.Info("cross-platform simulation complete", "markets", len(markets), "opportunities", len(found))
	return found
}

// merge puts fresh opportunities ahead of unexpired prior ones, replacing any
// prior entry for the same legs, and caps the registry.
func (s *Scanner) merge(fresh []Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	seen := make(map[string]bool, len(fresh))
	merged := make([]Opportunity, 0, len(fresh)+len(s.registry))
	for _, o := range fresh {
		seen[o.key()] = true
		merged = append(merged, o)
	}
	for _, o := range s.registry {
		if now.Sub(o.DetectedAt) >= s.cfg.Retention.Duration {
			continue
		}
		if seen[o.key()] {
			continue
		}
		merged = append(merged, o)
	}
	if len(merged) > s.cfg.MaxOpportunities {
		merged = merged[:s.cfg.MaxOpportunities]
	}
	s.registry = merged
}

// MarkExecuted flags an opportunity as executed. Unknown ids are ignored.
func (s *Scanner) MarkExecuted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.registry {
		if s.registry[i].ID == id {
			s.registry[i].Status = Executed
			return true
		}
	}
	return false
}

// Opportunities returns the registry, newest first, with expired entries
// reported as Expired.
func (s *Scanner) Opportunities() []Opportunity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]Opportunity, len(s.registry))
	for i, o := range s.registry {
		if o.Status == Active && now.Sub(o.DetectedAt) >= s.cfg.Retention.Duration {
			o.Status = Expired
		}
		out[i] = o
	}
	return out
}

// ActiveOpportunities returns unexpired, unexecuted entries newest first.
func (s *Scanner) ActiveOpportunities() []Opportunity {
	var out []Opportunity
	for _, o := range s.Opportunities() {
		if o.Status == Active {
			out = append(out, o)
		}
	}
	return out
}
