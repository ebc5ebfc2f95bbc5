package arbitrage

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"quantedge/internal/classify"
	"quantedge/internal/config"
	"quantedge/internal/market"
)

func newTestScanner() (*Scanner, *time.Time) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s := NewScanner(config.ArbitrageConfig{
		Fee:                  0.02,
		Retention:            config.Duration{Duration: 5 * time.Minute},
		MaxOpportunities:     50,
		MultiMarketThreshold: 0.98,
		CrossPlatformNoise:   0.03,
	}, classify.KeywordGrouper{})
	s.now = func() time.Time { return now }
	return s, &now
}

func snap(id, question string, yes, no float64) market.Snapshot {
	return market.Snapshot{ID: id, Question: question, OutcomePrices: [2]float64{yes, no}, Platform: "manifold"}
}

func TestScanBinary_FlagsUnderpricedPair(t *testing.T) {
	s, _ := newTestScanner()
	found := s.ScanBinary([]market.Snapshot{
		snap("cheap", "Cheap?", 0.45, 0.50),
		snap("fair", "Fair?", 0.50, 0.52),
	})
	if len(found) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(found))
	}
	o := found[0]
	if o.Legs[0].MarketID != "cheap" {
		t.Errorf("expected cheap market, got %s", o.Legs[0].MarketID)
	}
	if math.Abs(o.TotalCost-0.97) > 1e-9 {
		t.Errorf("expected cost 0.97, got %f", o.TotalCost)
	}
	if math.Abs(o.Profit-0.03) > 1e-9 {
		t.Errorf("expected profit 0.03, got %f", o.Profit)
	}
	if math.Abs(o.ProfitPercent-0.03/0.97*100) > 1e-9 {
		t.Errorf("unexpected profit percent %f", o.ProfitPercent)
	}
	if o.Status != Active || o.GuaranteedPayout != 1 {
		t.Errorf("unexpected status/payout %s/%f", o.Status, o.GuaranteedPayout)
	}
}

func TestScanBinary_FlagsZeroPricedLeg(t *testing.T) {
	s, _ := newTestScanner()
	found := s.ScanBinary([]market.Snapshot{snap("thin", "Thin?", 0, 0.50)})
	if len(found) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(found))
	}
	if math.Abs(found[0].TotalCost-0.52) > 1e-9 {
		t.Errorf("expected cost 0.52, got %f", found[0].TotalCost)
	}
	if math.IsInf(found[0].ProfitPercent, 0) || math.IsNaN(found[0].ProfitPercent) {
		t.Errorf("expected finite profit percent, got %f", found[0].ProfitPercent)
	}
}

func TestNewScanner_ZeroConfigDefaults(t *testing.T) {
	s := NewScanner(config.ArbitrageConfig{}, nil)
	found := s.ScanBinary([]market.Snapshot{snap("a", "A?", 0.40, 0.40)})
	if len(found) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(found))
	}
	if got := len(s.ActiveOpportunities()); got != 1 {
		t.Errorf("expected fresh opportunity to stay active, got %d", got)
	}
	if s.cfg.Retention.Duration != 5*time.Minute || s.cfg.MaxOpportunities != 50 {
		t.Errorf("unexpected defaults %+v", s.cfg)
	}
}

func TestScanBinary_RegistryRetention(t *testing.T) {
	s, now := newTestScanner()
	s.ScanBinary([]market.Snapshot{snap("a", "A?", 0.40, 0.40)})

	*now = now.Add(2 * time.Minute)
	s.ScanBinary([]market.Snapshot{snap("b", "B?", 0.40, 0.40)})
	if got := len(s.ActiveOpportunities()); got != 2 {
		t.Fatalf("expected 2 active opportunities, got %d", got)
	}

	*now = now.Add(4 * time.Minute)
	s.ScanBinary(nil)
	active := s.ActiveOpportunities()
	if len(active) != 1 || active[0].Legs[0].MarketID != "b" {
		t.Fatalf("expected only b to survive retention, got %+v", active)
	}
}

func TestScanBinary_SameMarketReplacesPrior(t *testing.T) {
	s, now := newTestScanner()
	first := s.ScanBinary([]market.Snapshot{snap("a", "A?", 0.40, 0.40)})
	*now = now.Add(time.Minute)
	second := s.ScanBinary([]market.Snapshot{snap("a", "A?", 0.41, 0.40)})

	active := s.ActiveOpportunities()
	if len(active) != 1 {
		t.Fatalf("expected 1 opportunity after rescan, got %d", len(active))
	}
	if active[0].ID != second[0].ID || active[0].ID == first[0].ID {
		t.Error("expected rescan to replace prior opportunity")
	}
}

func TestScanBinary_CapsRegistry(t *testing.T) {
	s, _ := newTestScanner()
	var markets []market.Snapshot
	for i := 0; i < 60; i++ {
		markets = append(markets, snap(string(rune('A'+i%26))+string(rune('a'+i/26)), "Q?", 0.40, 0.40))
	}
	s.ScanBinary(markets)
	if got := len(s.Opportunities()); got != 50 {
		t.Errorf("expected registry capped at 50, got %d", got)
	}
}

func TestScanMultiMarket_PairsGroupedQuestions(t *testing.T) {
	s, _ := newTestScanner()
	found := s.ScanMultiMarket([]market.Snapshot{
		snap("m1", "Will Bitcoin close above 100k in March?", 0.40, 0.60),
		snap("m2", "Bitcoin close above 100k on March 31", 0.65, 0.35),
		snap("m3", "Will the Lakers win tonight?", 0.10, 0.10),
	})
	if len(found) != 1 {
		t.Fatalf("expected 1 pair opportunity, got %d", len(found))
	}
	o := found[0]
	if o.Kind != MultiMarket {
		t.Errorf("expected multi_market, got %s", o.Kind)
	}
	if o.Legs[0].MarketID != "m1" || o.Legs[1].MarketID != "m2" {
		t.Errorf("unexpected legs %+v", o.Legs)
	}
	if math.Abs(o.TotalCost-0.75) > 1e-9 {
		t.Errorf("expected cost 0.75, got %f", o.TotalCost)
	}
}

func TestScanMultiMarket_AboveSlackNotFlagged(t *testing.T) {
	s, _ := newTestScanner()
	found := s.ScanMultiMarket([]market.Snapshot{
		snap("m1", "Will Bitcoin close above 100k in March?", 0.60, 0.40),
		snap("m2", "Bitcoin close above 100k on March 31", 0.61, 0.39),
	})
	if len(found) != 0 {
		t.Errorf("expected no opportunity at cost 0.99, got %d", len(found))
	}
}

func TestMarkExecuted(t *testing.T) {
	s, _ := newTestScanner()
	found := s.ScanBinary([]market.Snapshot{snap("a", "A?", 0.40, 0.40)})

	if s.MarkExecuted("does-not-exist") {
		t.Error("expected unknown id to be a no-op")
	}
	if !s.MarkExecuted(found[0].ID) {
		t.Fatal("expected known id to be marked")
	}
	if !s.MarkExecuted(found[0].ID) {
		t.Error("expected repeat mark to succeed")
	}
	if len(s.ActiveOpportunities()) != 0 {
		t.Error("executed opportunity should not be active")
	}
	all := s.Opportunities()
	if len(all) != 1 || all[0].Status != Executed {
		t.Errorf("expected executed entry to remain in registry, got %+v", all)
	}
}

func TestSimulateCrossPlatform_Deterministic(t *testing.T) {
	markets := []market.Snapshot{snap("a", "A?", 0.47, 0.49), snap("b", "B?", 0.70, 0.30)}

	s1, _ := newTestScanner()
	s2, _ := newTestScanner()
	r1 := s1.SimulateCrossPlatform(markets, rand.New(rand.NewPCG(7, 7)))
	r2 := s2.SimulateCrossPlatform(markets, rand.New(rand.NewPCG(7, 7)))
	if len(r1) != len(r2) {
		t.Fatalf("same seed produced %d and %d opportunities", len(r1), len(r2))
	}
	for i := range r1 {
		if r1[i].TotalCost != r2[i].TotalCost {
			t.Errorf("opportunity %d differs between runs", i)
		}
		if r1[i].TotalCost >= 1 {
			t.Errorf("flagged opportunity with cost %f", r1[i].TotalCost)
		}
		if r1[i].Kind != CrossPlatform {
			t.Errorf("expected cross_platform, got %s", r1[i].Kind)
		}
	}
}

func TestActiveOpportunities_Idempotent(t *testing.T) {
	s, _ := newTestScanner()
	s.ScanBinary([]market.Snapshot{snap("a", "A?", 0.40, 0.40), snap("b", "B?", 0.30, 0.30)})
	first := s.ActiveOpportunities()
	second := s.ActiveOpportunities()
	if len(first) != len(second) {
		t.Fatal("repeated reads differ in length")
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("index %d differs between reads", i)
		}
	}
}
