// Package performance holds the return statistics shared by backtests and the
// live paper book.
package performance

import (
	"math"
)

const tradingDaysPerYear = 252

func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev is the sample standard deviation. It returns 0 below two samples.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// Sharpe annualizes mean/stddev of per-trade returns over 252 trading days.
// It is 0 for fewer than two returns or zero variance.
func Sharpe(returns []float64) float64 {
	sd := StdDev(returns)
	if len(returns) < 2 || sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return Mean(returns) / sd * math.Sqrt(tradingDaysPerYear)
}

// ProfitFactor is gross profit over gross loss. With no losses it is +Inf
// when there is any profit and 0 otherwise.
func ProfitFactor(pnls []float64) float64 {
	var gains, losses float64
	for _, p := range pnls {
		if p > 0 {
			gains += p
		} else {
			losses += -p
		}
	}
	if losses == 0 {
		if gains > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return gains / losses
}

// Drawdown tracks a running peak and the largest peak-to-trough fraction
// seen. Max never decreases.
type Drawdown struct {
	Peak    float64
	Current float64
	Max     float64
}

func NewDrawdown(initial float64) *Drawdown {
	return &Drawdown{Peak: initial}
}

// Observe records a new equity value and returns the current drawdown.
func (d *Drawdown) Observe(equity float64) float64 {
	if equity > d.Peak {
		d.Peak = equity
	}
	d.Current = 0
	if d.Peak > 0 {
		d.Current = (d.Peak - equity) / d.Peak
	}
	if d.Current > d.Max {
		d.Max = d.Current
	}
	return d.Current
}

// Outcome is one closed trade.
type Outcome struct {
	ProfitLoss    float64
	ReturnPercent float64
}

// Report summarizes a sequence of closed trades against a starting capital.
type Report struct {
	Label              string
	InitialCapital     float64
	FinalEquity        float64
	TotalTrades        int
	Wins               int
	WinRate            float64
	TotalReturn        float64
	TotalReturnPercent float64
	ProfitFactor       float64
	SharpeRatio        float64
	MaxDrawdown        float64
}

// Summarize builds a Report. maxDrawdown comes from the caller because only
// the caller knows the equity path between trades.
func Summarize(label string, initial, final float64, outcomes []Outcome, maxDrawdown float64) Report {
	r := Report{
		Label:          label,
		InitialCapital: initial,
		FinalEquity:    final,
		TotalTrades:    len(outcomes),
		TotalReturn:    final - initial,
		MaxDrawdown:    maxDrawdown,
	}
	if initial != 0 {
		r.TotalReturnPercent = r.TotalReturn / initial * 100
	}

	pnls := make([]float64, len(outcomes))
	returns := make([]float64, len(outcomes))
	for i, o := range outcomes {
		pnls[i] = o.ProfitLoss
		returns[i] = o.ReturnPercent
		if o.ProfitLoss > 0 {
			r.Wins++
		}
	}
	if r.TotalTrades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.TotalTrades)
	}
	r.ProfitFactor = ProfitFactor(pnls)
	r.SharpeRatio = Sharpe(returns)
	return r
}
