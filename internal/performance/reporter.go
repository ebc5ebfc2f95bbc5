package performance

import (
	"log/slog"
	"math"
)

// LogReport logs the performance report as structured JSON.
func LogReport(r Report) {
	profitFactor := any(r.ProfitFactor)
	if math.IsInf(r.ProfitFactor, 1) {
		profitFactor = "inf"
	}
	slog.Info("=== PERFORMANCE REPORT ===",
		"label", r.Label,
		"initial_capital", r.InitialCapital,
		"final_equity", r.FinalEquity,
		"total_trades", r.TotalTrades,
		"win_rate", r.WinRate,
		"total_return", r.TotalReturn,
		"total_return_pct", r.TotalReturnPercent,
		"profit_factor", profitFactor,
		"sharpe", r.SharpeRatio,
		"max_drawdown", r.MaxDrawdown,
	)
}
