package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS trades (
    trade_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    entry_price REAL NOT NULL,
    entry_quantity REAL NOT NULL,
    entry_commission REAL DEFAULT 0,
    entry_order_id INTEGER,
    entry_time DATETIME,
    leverage INTEGER DEFAULT 1,
    risk_amount REAL DEFAULT 0,
    stop_loss REAL DEFAULT 0,
    take_profits TEXT,
    remaining_quantity REAL,
    total_closed_quantity REAL,
    dca_count INTEGER DEFAULT 0,
    exit_price REAL,
    exit_quantity REAL,
    exit_commission REAL,
    exit_order_id INTEGER,
    exit_time DATETIME,
    exit_reason TEXT,
    gross_profit REAL,
    commission REAL,
    net_profit REAL,
    status TEXT NOT NULL DEFAULT 'OPEN',
    signal_hash TEXT,
    source_author_name TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_open_user_symbol
    ON trades(user_id, symbol) WHERE status = 'OPEN';
CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_signal_hash
    ON trades(signal_hash, user_id, created_at);

CREATE TABLE IF NOT EXISTS trade_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trade_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    venue_order_id INTEGER,
    side TEXT,
    type TEXT,
    price REAL DEFAULT 0,
    quantity REAL DEFAULT 0,
    success INTEGER DEFAULT 1,
    error_message TEXT,
    detail TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(trade_id) REFERENCES trades(trade_id)
);

CREATE INDEX IF NOT EXISTS idx_trade_events_trade ON trade_events(trade_id);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    api_key_enc TEXT NOT NULL DEFAULT '',
    api_secret_enc TEXT NOT NULL DEFAULT '',
    key_version INTEGER DEFAULT 1,
    auto_trade_enabled INTEGER DEFAULT 1,
    enabled INTEGER DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_settings (
    user_id TEXT PRIMARY KEY,
    risk_percent REAL,
    max_position_usdt REAL,
    max_daily_loss_usdt REAL,
    max_dca_per_symbol INTEGER,
    dca_risk_multiplier REAL,
    fixed_leverage INTEGER,
    allowed_symbols TEXT,
    dedup_enabled INTEGER,
    default_symbol TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(user_id) REFERENCES users(id)
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "trades", "signal_hash", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "source_author_name", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "risk_amount", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "users", "key_version", "INTEGER DEFAULT 1"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "user_settings", "default_symbol", "TEXT"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
