package db

import (
	"testing"
	"time"
)

func TestMigrate_CreatesAllTables(t *testing.T) {
	database, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	if err := Migrate(database); err != nil {
		t.Fatal(err)
	}

	tables := []string{
		"schema_version",
		"markets",
		"market_snapshots",
		"paper_proposals",
		"paper_trades",
		"backtest_results",
	}

	for _, table := range tables {
		row := database.QueryRow(
			`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, table)
		var count int
		if err := row.Scan(&count); err != nil {
			t.Fatalf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	database, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	if err := Migrate(database); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(database); err != nil {
		t.Fatal(err)
	}
}

func TestMigrate_InsertAndQuery(t *testing.T) {
	database, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	_, err = database.Exec(`INSERT INTO markets (id, question, platform) VALUES ('m1', 'Test?', 'manifold')`)
	if err != nil {
		t.Fatal(err)
	}

	at := FormatTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	_, err = database.Exec(`
		INSERT INTO market_snapshots (market_id, yes_price, no_price, volume, liquidity, snapshot_at)
		VALUES ('m1', 0.65, 0.35, 500, 200, ?)`, at)
	if err != nil {
		t.Fatal(err)
	}

	// Snapshots must reference a known market.
	_, err = database.Exec(`
		INSERT INTO market_snapshots (market_id, yes_price, no_price, volume, liquidity, snapshot_at)
		VALUES ('missing', 0.5, 0.5, 0, 0, ?)`, at)
	if err == nil {
		t.Error("expected foreign key violation")
	}

	var count int
	row := database.QueryRow(`SELECT COUNT(*) FROM market_snapshots`)
	if err := row.Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 snapshot, got %d", count)
	}
}

func TestParseTime_RoundTrip(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 30, 15, 250_000_000, time.UTC)
	got, err := ParseTime(FormatTime(want))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	got, err = ParseTime("2026-03-01 12:30:15")
	if err != nil {
		t.Fatal(err)
	}
	if got.Second() != 15 {
		t.Errorf("unexpected parse %v", got)
	}

	if _, err := ParseTime("yesterday"); err == nil {
		t.Error("expected error for bad timestamp")
	}
}
