package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// verify_schema inspects a live database file against the schema the engine
// expects. Usage:
//
//	go run ./scripts/verify_schema [path/to/trading.db]

var expected = map[string][]string{
	"trades": {
		"trade_id", "user_id", "symbol", "side",
		"entry_price", "entry_quantity", "entry_commission", "entry_order_id", "entry_time",
		"leverage", "risk_amount", "stop_loss", "take_profits",
		"remaining_quantity", "total_closed_quantity", "dca_count",
		"exit_price", "exit_quantity", "exit_commission", "exit_order_id", "exit_time", "exit_reason",
		"gross_profit", "commission", "net_profit",
		"status", "signal_hash", "source_author_name",
	},
	"trade_events": {
		"trade_id", "event_type", "venue_order_id", "side", "type",
		"price", "quantity", "success", "error_message",
	},
	"users": {
		"id", "display_name", "api_key_enc", "api_secret_enc",
		"key_version", "auto_trade_enabled", "enabled",
	},
	"user_settings": {
		"user_id", "risk_percent", "max_position_usdt", "max_daily_loss_usdt",
		"max_dca_per_symbol", "dca_risk_multiplier", "fixed_leverage",
		"allowed_symbols", "dedup_enabled", "default_symbol",
	},
}

func main() {
	dbPath := "./data/trading.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	failures := 0
	for table, columns := range expected {
		fmt.Printf("\nTable %s:\n", table)
		have, err := tableColumns(db, table)
		if err != nil {
			log.Fatalf("inspect %s: %v", table, err)
		}
		if len(have) == 0 {
			fmt.Printf("  ❌ table MISSING\n")
			failures++
			continue
		}
		for _, col := range columns {
			if have[col] {
				fmt.Printf("  ✓ %s\n", col)
			} else {
				fmt.Printf("  ❌ %s MISSING\n", col)
				failures++
			}
		}
	}

	fmt.Println("\nIndexes:")
	for _, idx := range []string{
		"idx_trades_open_user_symbol",
		"idx_trades_signal_hash",
		"idx_trade_events_trade",
	} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&name)
		switch {
		case err == sql.ErrNoRows:
			fmt.Printf("  ❌ %s MISSING\n", idx)
			failures++
		case err != nil:
			log.Fatalf("index query: %v", err)
		default:
			fmt.Printf("  ✓ %s\n", idx)
		}
	}

	var open int
	if err := db.QueryRow("SELECT COUNT(*) FROM trades WHERE status='OPEN'").Scan(&open); err == nil {
		fmt.Printf("\nOpen trades: %d\n", open)
	}

	if failures > 0 {
		fmt.Printf("\n%s\n", strings.Repeat("=", 40))
		log.Fatalf("%d schema check(s) FAILED", failures)
	}
	fmt.Println("\nAll schema checks passed ✓")
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
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
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
