package collector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"quantedge/internal/db"
	"quantedge/internal/market"
)

// Collector snapshots market data into sqlite for backtesting.
type Collector struct {
	db *sql.DB
}

func NewCollector(database *sql.DB) *Collector {
	return &Collector{db: database}
}

// Collect upserts each market and appends one snapshot row per market in a
// single transaction. It returns the number of snapshots written.
func (c *Collector) Collect(ctx context.Context, snapshots []market.Snapshot) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning collection: %w", err)
	}
	defer tx.Rollback()

	written := 0
	for _, s := range snapshots {
		if s.ID == "" {
			slog.Warn("skipping snapshot without market id", "question", s.Question)
			continue
		}
		if err := upsertMarket(ctx, tx, s); err != nil {
			return 0, fmt.Errorf("upserting market %s: %w", s.ID, err)
		}
		if err := insertSnapshot(ctx, tx, s); err != nil {
			return 0, fmt.Errorf("snapshotting market %s: %w", s.ID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing collection: %w", err)
	}
	slog.Info("collection complete", "snapshots_taken", written)
	return written, nil
}

func upsertMarket(ctx context.Context, tx *sql.Tx, s market.Snapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO markets (id, question, platform, is_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question = excluded.question,
			is_active = excluded.is_active,
			last_updated_at = datetime('now')`,
		s.ID, s.Question, s.Platform, boolToInt(s.Active),
	)
	return err
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, s market.Snapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO market_snapshots (market_id, yes_price, no_price, volume, liquidity, snapshot_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.YesPrice(), s.NoPrice(), s.Volume, s.Liquidity, db.FormatTime(s.ObservedAt),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
