package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"quantedge/internal/db"
	"quantedge/internal/market"
)

// ParseDateRange parses YYYY-MM-DD bounds. An empty from defaults to one year
// before now and an empty to defaults to today.
func ParseDateRange(fromStr, toStr string, now time.Time) (time.Time, time.Time, error) {
	from := truncateDay(now.AddDate(-1, 0, 0))
	to := truncateDay(now)

	if fromStr != "" {
		var err error
		from, err = time.Parse(time.DateOnly, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing from date: %w", err)
		}
	}
	if toStr != "" {
		var err error
		to, err = time.Parse(time.DateOnly, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing to date: %w", err)
		}
	}
	return from, to, nil
}

// LoadHistory rebuilds a day-indexed history from collected snapshots,
// keeping the last observation of each market on each UTC date.
func LoadHistory(ctx context.Context, database *sql.DB, from, to time.Time) ([]Day, error) {
	rows, err := database.QueryContext(ctx, `
		SELECT s.market_id, m.question, m.platform, m.is_active,
		       s.yes_price, s.no_price, s.volume, s.liquidity, s.snapshot_at
		FROM market_snapshots s
		JOIN markets m ON m.id = s.market_id
		WHERE s.snapshot_at >= ? AND s.snapshot_at < ?
		ORDER BY s.snapshot_at, s.id`,
		db.FormatTime(truncateDay(from)),
		db.FormatTime(truncateDay(to).AddDate(0, 0, 1)),
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	byDay := make(map[time.Time]map[string]market.Snapshot)
	for rows.Next() {
		var (
			s        market.Snapshot
			active   int
			observed string
		)
		if err := rows.Scan(&s.ID, &s.Question, &s.Platform, &active,
			&s.OutcomePrices[0], &s.OutcomePrices[1], &s.Volume, &s.Liquidity, &observed); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		s.Active = active == 1
		if s.ObservedAt, err = db.ParseTime(observed); err != nil {
			return nil, err
		}

		date := truncateDay(s.ObservedAt)
		if byDay[date] == nil {
			byDay[date] = make(map[string]market.Snapshot)
		}
		byDay[date][s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading snapshots: %w", err)
	}

	days := make([]Day, 0, len(byDay))
	for date, markets := range byDay {
		d := Day{Date: date, Markets: make([]market.Snapshot, 0, len(markets))}
		for _, s := range markets {
			d.Markets = append(d.Markets, s)
		}
		sort.Slice(d.Markets, func(i, j int) bool { return d.Markets[i].ID < d.Markets[j].ID })
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days, nil
}

// SaveResult persists a finished run. A non-finite profit factor is stored
// as NULL.
func SaveResult(ctx context.Context, database *sql.DB, r Result) error {
	settings, err := marshalSettings(r.Config.Settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	curve, err := json.Marshal(r.EquityCurve)
	if err != nil {
		return fmt.Errorf("encoding equity curve: %w", err)
	}
	trades, err := json.Marshal(r.Trades)
	if err != nil {
		return fmt.Errorf("encoding trades: %w", err)
	}

	var profitFactor sql.NullFloat64
	if !math.IsInf(r.ProfitFactor, 0) && !math.IsNaN(r.ProfitFactor) {
		profitFactor = sql.NullFloat64{Float64: r.ProfitFactor, Valid: true}
	}

	_, err = database.ExecContext(ctx, `
		INSERT INTO backtest_results (id, name, strategy, start_date, end_date, initial_capital,
			total_return, total_return_pct, max_drawdown, sharpe_ratio, win_rate, total_trades,
			profit_factor, settings, equity_curve, trades, run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Config.Name, string(r.Strategy),
		formatDate(r.Config.Start), formatDate(r.Config.End), r.Config.InitialCapital,
		r.TotalReturn, r.TotalReturnPercent, r.MaxDrawdown, r.SharpeRatio, r.WinRate, r.TotalTrades,
		profitFactor, string(settings), string(curve), string(trades), db.FormatTime(r.RunAt),
	)
	if err != nil {
		return fmt.Errorf("inserting backtest result %s: %w", r.ID, err)
	}
	return nil
}

// LoadResults returns up to limit stored results, newest first. A NULL
// profit factor loads as +Inf.
func LoadResults(ctx context.Context, database *sql.DB, limit int) ([]Result, error) {
	rows, err := database.QueryContext(ctx, `
		SELECT id, name, strategy, start_date, end_date, initial_capital,
		       total_return, total_return_pct, max_drawdown, sharpe_ratio, win_rate, total_trades,
		       profit_factor, settings, equity_curve, trades, run_at
		FROM backtest_results
		ORDER BY run_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying backtest results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r                           Result
			strategy, start, end, runAt string
			settings, curve, trades     string
			profitFactor                sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Config.Name, &strategy, &start, &end, &r.Config.InitialCapital,
			&r.TotalReturn, &r.TotalReturnPercent, &r.MaxDrawdown, &r.SharpeRatio, &r.WinRate, &r.TotalTrades,
			&profitFactor, &settings, &curve, &trades, &runAt); err != nil {
			return nil, fmt.Errorf("scanning backtest result: %w", err)
		}

		r.Strategy = Strategy(strategy)
		if r.Config.Settings, err = unmarshalSettings(strategy, []byte(settings)); err != nil {
			return nil, fmt.Errorf("decoding settings of %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(curve), &r.EquityCurve); err != nil {
			return nil, fmt.Errorf("decoding equity curve of %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(trades), &r.Trades); err != nil {
			return nil, fmt.Errorf("decoding trades of %s: %w", r.ID, err)
		}
		if r.Config.Start, err = parseDate(start); err != nil {
			return nil, err
		}
		if r.Config.End, err = parseDate(end); err != nil {
			return nil, err
		}
		if r.RunAt, err = db.ParseTime(runAt); err != nil {
			return nil, err
		}

		r.ProfitFactor = math.Inf(1)
		if profitFactor.Valid {
			r.ProfitFactor = profitFactor.Float64
		}
		r.FinalEquity = r.Config.InitialCapital + r.TotalReturn
		results = append(results, r)
	}
	return results, rows.Err()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}
