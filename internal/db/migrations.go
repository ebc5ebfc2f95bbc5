package db

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS markets (
    id TEXT PRIMARY KEY,
    question TEXT NOT NULL,
    platform TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    first_seen_at TEXT NOT NULL DEFAULT (datetime('now')),
    last_updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS market_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    market_id TEXT NOT NULL REFERENCES markets(id),
    yes_price REAL NOT NULL,
    no_price REAL NOT NULL,
    volume REAL NOT NULL,
    liquidity REAL NOT NULL,
    snapshot_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_time ON market_snapshots(snapshot_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_market_time ON market_snapshots(market_id, snapshot_at);

CREATE TABLE IF NOT EXISTS paper_proposals (
    id TEXT PRIMARY KEY,
    market_id TEXT NOT NULL REFERENCES markets(id),
    source TEXT NOT NULL,
    source_id TEXT NOT NULL,
    side TEXT NOT NULL,
    price REAL NOT NULL,
    estimated_prob REAL NOT NULL,
    kelly_fraction REAL NOT NULL,
    requested_size REAL NOT NULL,
    approved_size REAL NOT NULL,
    risk_reason TEXT,
    proposed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proposals_market ON paper_proposals(market_id);

CREATE TABLE IF NOT EXISTS paper_trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id TEXT NOT NULL REFERENCES paper_proposals(id),
    market_id TEXT NOT NULL REFERENCES markets(id),
    side TEXT NOT NULL,
    entry_price REAL NOT NULL,
    exit_price REAL NOT NULL,
    quantity REAL NOT NULL,
    pnl REAL NOT NULL,
    exit_reason TEXT NOT NULL,
    closed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_results (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    strategy TEXT NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    initial_capital REAL NOT NULL,
    total_return REAL NOT NULL,
    total_return_pct REAL NOT NULL,
    max_drawdown REAL NOT NULL,
    sharpe_ratio REAL NOT NULL,
    win_rate REAL NOT NULL,
    total_trades INTEGER NOT NULL,
    profit_factor REAL,
    settings TEXT NOT NULL,
    equity_curve TEXT NOT NULL,
    trades TEXT NOT NULL,
    run_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtest_results_run ON backtest_results(run_at);
`
