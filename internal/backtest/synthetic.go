package backtest

import (
	"fmt"
	"math/rand/v2"
	"time"

	"quantedge/internal/market"
)

const (
	platformSynthetic = "synthetic"

	dailyVolatility  = 0.02
	shockProbability = 0.05
	mispriceChance   = 0.08
	priceFloor       = 0.02
	priceCeiling     = 0.98
)

var syntheticQuestions = []string{
	"Will Bitcoin close above $%dk this month?",
	"Will the incumbent win the %d election?",
	"Will the Nasdaq gain %d%% this quarter?",
	"Will the home team win game %d of the finals?",
	"Will the rover mission launch %d days early?",
}

// Synthesize builds one Day per calendar date from from to to inclusive. Each
// market follows a random walk with occasional shocks; on some days the NO
// side is underpriced so YES+NO falls below one.
func Synthesize(from, to time.Time, markets int, rng *rand.Rand) []Day {
	start := truncateDay(from)
	end := truncateDay(to)
	if end.Before(start) || markets <= 0 {
		return nil
	}

	ids := make([]string, markets)
	questions := make([]string, markets)
	prices := make([]float64, markets)
	for i := range markets {
		ids[i] = fmt.Sprintf("syn-%03d", i)
		questions[i] = fmt.Sprintf(syntheticQuestions[i%len(syntheticQuestions)], 10+i)
		prices[i] = 0.2 + rng.Float64()*0.6
	}

	var days []Day
	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		snaps := make([]market.Snapshot, markets)
		for i := range markets {
			if len(days) > 0 {
				prices[i] = step(prices[i], rng)
			}
			yes := prices[i]
			no := 1 - yes + rng.Float64()*0.02
			if rng.Float64() < mispriceChance {
				no = 1 - yes - (0.03 + rng.Float64()*0.05)
			}
			snaps[i] = market.Snapshot{
				ID:            ids[i],
				Question:      questions[i],
				OutcomePrices: [2]float64{yes, market.ClampPrice(no)},
				Volume:        1000 + rng.Float64()*9000,
				Liquidity:     500 + rng.Float64()*4500,
				Active:        true,
				Platform:      platformSynthetic,
				ObservedAt:    date,
			}
		}
		days = append(days, Day{Date: date, Markets: snaps})
	}
	return days
}

func step(p float64, rng *rand.Rand) float64 {
	p += rng.NormFloat64() * dailyVolatility
	if rng.Float64() < shockProbability {
		shock := 0.06 + rng.Float64()*0.09
		if rng.IntN(2) == 0 {
			shock = -shock
		}
		p += shock
	}
	return min(max(p, priceFloor), priceCeiling)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
