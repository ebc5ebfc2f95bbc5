package backtest

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"quantedge/internal/config"
	"quantedge/internal/db"
	"quantedge/internal/market"
)

func newTestEngine() *Engine {
	return NewEngine(config.BacktestConfig{MaxResults: 20, Seed: 7})
}

var day0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func snap(id string, yes, no float64) market.Snapshot {
	return market.Snapshot{ID: id, Question: id, OutcomePrices: [2]float64{yes, no}, Active: true}
}

func day(i int, markets ...market.Snapshot) Day {
	return Day{Date: day0.AddDate(0, 0, i), Markets: markets}
}

func TestRun_SpikeFadesMove(t *testing.T) {
	e := newTestEngine()
	history := []Day{
		day(0, snap("a", 0.50, 0.50), snap("b", 0.40, 0.60)),
		day(1, snap("a", 0.60, 0.40), snap("b", 0.41, 0.59), snap("c", 0.9, 0.1)),
	}
	res, err := e.Run(Config{
		Name:           "spike",
		InitialCapital: 1000,
		Settings:       SpikeSettings{SpikeThreshold: 0.05, PositionPercent: 0.02},
	}, history)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Trades) != 1 {
		t.Fatalf("expected one spike trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.MarketID != "a" || tr.Side != "NO" {
		t.Errorf("expected NO fade on a, got %+v", tr)
	}
	// NO leg bought at 1-0.60 and sold once YES reverts to 0.55.
	if math.Abs(tr.EntryPrice-0.40) > 1e-9 || math.Abs(tr.ExitPrice-0.45) > 1e-9 {
		t.Errorf("expected NO entry 0.40 exit 0.45, got %f/%f", tr.EntryPrice, tr.ExitPrice)
	}
	if tr.ExitPrice <= tr.EntryPrice {
		t.Error("expected a winning NO leg to exit above entry")
	}
	// 20 * 0.05 / 0.6
	if math.Abs(tr.ProfitLoss-20*0.05/0.6) > 1e-9 {
		t.Errorf("unexpected pnl %f", tr.ProfitLoss)
	}
	if !math.IsInf(res.ProfitFactor, 1) {
		t.Errorf("expected +Inf profit factor with no losers, got %f", res.ProfitFactor)
	}
	if res.WinRate != 1 {
		t.Errorf("expected win rate 1, got %f", res.WinRate)
	}
}

func TestRun_SpikeDropBuysYes(t *testing.T) {
	e := newTestEngine()
	history := []Day{
		day(0, snap("a", 0.50, 0.50)),
		day(1, snap("a", 0.40, 0.60)),
	}
	res, err := e.Run(Config{
		InitialCapital: 1000,
		Settings:       SpikeSettings{SpikeThreshold: 0.05, PositionPercent: 0.02},
	}, history)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected one spike trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Side != "YES" || math.Abs(tr.EntryPrice-0.40) > 1e-9 || math.Abs(tr.ExitPrice-0.45) > 1e-9 {
		t.Errorf("expected YES entry 0.40 exit 0.45, got %+v", tr)
	}
}

func TestRun_ArbitrageCapturesSpread(t *testing.T) {
	e := newTestEngine()
	history := []Day{
		day(0, snap("a", 0.45, 0.50)),
		day(1, snap("a", 0.45, 0.50), snap("b", 0.50, 0.49)),
	}
	res, err := e.Run(Config{
		InitialCapital: 1000,
		Settings:       ArbitrageSettings{MinProfit: 0.02, PositionPercent: 0.1},
	}, history)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalTrades != 1 {
		t.Fatalf("expected one arbitrage trade, got %d", res.TotalTrades)
	}
	if math.Abs(res.TotalReturn-0.05*100) > 1e-9 {
		t.Errorf("expected return 5, got %f", res.TotalReturn)
	}
}

func TestRun_EquityCurveLengthAndDrawdown(t *testing.T) {
	e := newTestEngine()
	rng := rand.New(rand.NewPCG(1, 2))
	history := Synthesize(day0, day0.AddDate(0, 0, 59), 20, rng)
	if len(history) != 60 {
		t.Fatalf("expected 60 synthetic days, got %d", len(history))
	}

	res, err := e.Run(Config{
		InitialCapital: 10000,
		Settings:       KellySettings{KellyFraction: 0.5, MaxPositionPercent: 0.05, MinEdge: 0.05},
	}, history)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.EquityCurve) != len(history)-1 {
		t.Fatalf("expected %d curve points, got %d", len(history)-1, len(res.EquityCurve))
	}

	peak, maxDD := 10000.0, 0.0
	for _, p := range res.EquityCurve {
		peak = math.Max(peak, p.Equity)
		maxDD = math.Max(maxDD, (peak-p.Equity)/peak)
		if math.Abs(p.Drawdown-(peak-p.Equity)/peak) > 1e-9 {
			t.Fatalf("day %d: drawdown %f does not match peak %f", p.Day, p.Drawdown, peak)
		}
	}
	if math.Abs(res.MaxDrawdown-maxDD) > 1e-9 {
		t.Errorf("expected max drawdown %f, got %f", maxDD, res.MaxDrawdown)
	}
	if res.TotalTrades == 0 {
		t.Error("expected some kelly trades over 60 days")
	}
}

func TestRun_KellySeededIsDeterministic(t *testing.T) {
	history := Synthesize(day0, day0.AddDate(0, 0, 29), 10, rand.New(rand.NewPCG(3, 3)))
	cfg := Config{
		InitialCapital: 5000,
		Settings:       KellySettings{KellyFraction: 0.5, MaxPositionPercent: 0.05, MinEdge: 0.05},
	}

	a, err := newTestEngine().Run(cfg, history)
	if err != nil {
		t.Fatal(err)
	}
	b, err := newTestEngine().Run(cfg, history)
	if err != nil {
		t.Fatal(err)
	}
	if a.FinalEquity != b.FinalEquity || a.TotalTrades != b.TotalTrades {
		t.Errorf("expected identical runs, got %f/%d and %f/%d",
			a.FinalEquity, a.TotalTrades, b.FinalEquity, b.TotalTrades)
	}
}

func TestRun_StatisticalIsNoop(t *testing.T) {
	e := newTestEngine()
	history := Synthesize(day0, day0.AddDate(0, 0, 4), 5, rand.New(rand.NewPCG(1, 1)))
	res, err := e.Run(Config{InitialCapital: 100, Settings: StatisticalSettings{}}, history)
	if err != nil {
		t.Fatalf("expected statistical to run, got %v", err)
	}
	if res.TotalTrades != 0 || res.FinalEquity != 100 || res.ProfitFactor != 0 {
		t.Errorf("expected flat no-trade result, got %+v", res)
	}
	if len(res.EquityCurve) != 4 {
		t.Errorf("expected 4 curve points, got %d", len(res.EquityCurve))
	}
	if e.State() != Complete {
		t.Errorf("expected complete, got %s", e.State())
	}
}

func TestRun_RejectsInvalidConfig(t *testing.T) {
	e := newTestEngine()
	if e.State() != Idle {
		t.Fatalf("expected idle engine, got %s", e.State())
	}
	cases := []Config{
		{InitialCapital: 100},
		{InitialCapital: 0, Settings: SpikeSettings{}},
		{InitialCapital: 100, Settings: SpikeSettings{}, Start: day0.AddDate(0, 0, 2), End: day0},
	}
	for _, cfg := range cases {
		if _, err := e.Run(cfg, nil); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig for %+v, got %v", cfg, err)
		}
	}
	if len(e.Results()) != 0 {
		t.Error("rejected runs must not be recorded")
	}
}

func TestRun_WindowsHistory(t *testing.T) {
	e := newTestEngine()
	history := Synthesize(day0, day0.AddDate(0, 0, 9), 3, rand.New(rand.NewPCG(5, 5)))
	res, err := e.Run(Config{
		InitialCapital: 100,
		Start:          day0.AddDate(0, 0, 2),
		End:            day0.AddDate(0, 0, 5),
		Settings:       StatisticalSettings{},
	}, history)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.EquityCurve) != 3 {
		t.Errorf("expected 3 curve points for a 4-day window, got %d", len(res.EquityCurve))
	}
}

func TestResults_BoundedNewestFirst(t *testing.T) {
	e := newTestEngine()
	for i := range 25 {
		if _, err := e.Run(Config{Name: string(rune('a' + i)), InitialCapital: 100, Settings: StatisticalSettings{}}, nil); err != nil {
			t.Fatal(err)
		}
	}
	results := e.Results()
	if len(results) != 20 {
		t.Fatalf("expected 20 retained results, got %d", len(results))
	}
	if results[0].Config.Name != string(rune('a'+24)) {
		t.Errorf("expected newest first, got %q", results[0].Config.Name)
	}
	again := e.Results()
	for i := range results {
		if results[i].ID != again[i].ID {
			t.Fatal("expected repeated reads to match")
		}
	}
}

func TestSynthesize_Deterministic(t *testing.T) {
	a := Synthesize(day0, day0.AddDate(0, 0, 9), 4, rand.New(rand.NewPCG(9, 9)))
	b := Synthesize(day0, day0.AddDate(0, 0, 9), 4, rand.New(rand.NewPCG(9, 9)))
	for i := range a {
		for j := range a[i].Markets {
			if a[i].Markets[j].OutcomePrices != b[i].Markets[j].OutcomePrices {
				t.Fatalf("day %d market %d differs", i, j)
			}
			p := a[i].Markets[j].YesPrice()
			if p < priceFloor || p > priceCeiling {
				t.Fatalf("price %f out of bounds", p)
			}
		}
	}
	if Synthesize(day0, day0.AddDate(0, 0, -1), 4, rand.New(rand.NewPCG(1, 1))) != nil {
		t.Error("expected nil history for inverted range")
	}
}

func TestLoadHistory_LastObservationPerDay(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	if _, err := database.Exec(`INSERT INTO markets (id, question, platform) VALUES ('m1', 'Q?', 'manifold')`); err != nil {
		t.Fatal(err)
	}
	insert := func(at time.Time, yes float64) {
		t.Helper()
		_, err := database.Exec(`
			INSERT INTO market_snapshots (market_id, yes_price, no_price, volume, liquidity, snapshot_at)
			VALUES ('m1', ?, ?, 0, 0, ?)`, yes, 1-yes, db.FormatTime(at))
		if err != nil {
			t.Fatal(err)
		}
	}
	insert(day0.Add(9*time.Hour), 0.40)
	insert(day0.Add(18*time.Hour), 0.45)
	insert(day0.AddDate(0, 0, 1).Add(time.Hour), 0.60)
	insert(day0.AddDate(0, 0, 5), 0.10) // outside range

	days, err := LoadHistory(context.Background(), database, day0, day0.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(days))
	}
	if got := days[0].Markets[0].YesPrice(); got != 0.45 {
		t.Errorf("expected last observation 0.45, got %f", got)
	}
	if !days[1].Date.Equal(day0.AddDate(0, 0, 1)) || days[1].Markets[0].YesPrice() != 0.60 {
		t.Errorf("unexpected second day %+v", days[1])
	}
}

func TestSaveAndLoadResults(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	e := newTestEngine()
	history := []Day{
		day(0, snap("a", 0.50, 0.50)),
		day(1, snap("a", 0.60, 0.40)),
	}
	spike, err := e.Run(Config{
		Name:           "fade",
		Start:          day0,
		End:            day0.AddDate(0, 0, 1),
		InitialCapital: 1000,
		Settings:       SpikeSettings{SpikeThreshold: 0.05, PositionPercent: 0.02},
	}, history)
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveResult(context.Background(), database, spike); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadResults(context.Background(), database, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 result, got %d", len(loaded))
	}
	got := loaded[0]
	if got.ID != spike.ID || got.Config.Name != "fade" || got.Strategy != StrategySpike {
		t.Errorf("unexpected identity %+v", got)
	}
	if !math.IsInf(got.ProfitFactor, 1) {
		t.Errorf("expected +Inf profit factor round trip, got %f", got.ProfitFactor)
	}
	s, ok := got.Config.Settings.(SpikeSettings)
	if !ok || s.SpikeThreshold != 0.05 {
		t.Errorf("expected spike settings back, got %#v", got.Config.Settings)
	}
	if len(got.Trades) != 1 || len(got.EquityCurve) != 1 {
		t.Errorf("expected trades and curve back, got %d and %d", len(got.Trades), len(got.EquityCurve))
	}
	if !got.Config.Start.Equal(day0) {
		t.Errorf("expected start %v, got %v", day0, got.Config.Start)
	}
}

func TestParseDateRange(t *testing.T) {
	now := time.Date(2026, 6, 15, 13, 0, 0, 0, time.UTC)
	from, to, err := ParseDateRange("", "", now)
	if err != nil {
		t.Fatal(err)
	}
	if !from.Equal(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected defaults %v %v", from, to)
	}
	if _, _, err := ParseDateRange("2026-13-01", "", now); err == nil {
		t.Error("expected error for bad month")
	}
}

func TestDefaultSettings(t *testing.T) {
	s, err := DefaultSettings("kelly")
	if err != nil {
		t.Fatal(err)
	}
	if s.Strategy() != StrategyKelly {
		t.Errorf("expected kelly, got %s", s.Strategy())
	}
	if _, err := DefaultSettings("martingale"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
