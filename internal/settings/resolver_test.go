package settings

import (
	"context"
	"database/sql"
	"testing"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/config"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
)

func newResolver(t *testing.T) (*Resolver, *db.UserQueries) {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	users := db.NewUserQueries(database.DB)
	return NewResolver(config.DefaultSettings(), users), users
}

func TestResolveWithoutOverrides(t *testing.T) {
	r, _ := newResolver(t)

	eff := r.Resolve(context.Background(), "user-a")
	def := config.DefaultSettings().Risk

	if eff.RiskPercent != def.RiskPercent {
		t.Errorf("RiskPercent = %v, want global %v", eff.RiskPercent, def.RiskPercent)
	}
	if eff.Leverage != def.FixedLeverage {
		t.Errorf("Leverage = %d, want global %d", eff.Leverage, def.FixedLeverage)
	}
	if !eff.DedupEnabled {
		t.Error("dedup defaults on")
	}
	if !eff.SymbolAllowed("BTCUSDT") || !eff.SymbolAllowed("btcusdt") {
		t.Error("global whitelist should allow BTCUSDT case-insensitively")
	}
	if eff.SymbolAllowed("DOGEUSDT") {
		t.Error("DOGEUSDT is not on the default whitelist")
	}
}

func TestResolveAppliesNonNullOverrides(t *testing.T) {
	r, users := newResolver(t)
	ctx := context.Background()

	if err := users.Upsert(ctx, &db.User{ID: "user-a", Enabled: true}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if err := users.UpsertSettings(ctx, &db.UserSettings{
		UserID:         "user-a",
		RiskPercent:    sql.NullFloat64{Float64: 0.05, Valid: true},
		FixedLeverage:  sql.NullInt64{Int64: 25, Valid: true},
		AllowedSymbols: sql.NullString{String: `["solusdt", "BTCUSDT"]`, Valid: true},
		DedupEnabled:   sql.NullBool{Bool: false, Valid: true},
	}); err != nil {
		t.Fatalf("upsert settings: %v", err)
	}

	eff := r.Resolve(ctx, "user-a")
	if eff.RiskPercent != 0.05 {
		t.Errorf("RiskPercent = %v, want override 0.05", eff.RiskPercent)
	}
	if eff.Leverage != 25 {
		t.Errorf("Leverage = %d, want override 25", eff.Leverage)
	}
	if eff.DedupEnabled {
		t.Error("explicit false must win over the global true")
	}
	if !eff.SymbolAllowed("SOLUSDT") {
		t.Error("override whitelist should be normalised to upper case")
	}
	if eff.SymbolAllowed("ETHUSDT") {
		t.Error("override whitelist replaces the global one")
	}

	// NULL fields still inherit.
	def := config.DefaultSettings().Risk
	if eff.MaxDcaLayers != def.MaxDcaLayers {
		t.Errorf("MaxDcaLayers = %d, want global %d", eff.MaxDcaLayers, def.MaxDcaLayers)
	}
}

func TestResolveIgnoresBadSymbolList(t *testing.T) {
	r, users := newResolver(t)
	ctx := context.Background()

	for _, raw := range []string{`[]`, `not json`, `["  "]`} {
		if err := users.UpsertSettings(ctx, &db.UserSettings{
			UserID:         "user-a",
			AllowedSymbols: sql.NullString{String: raw, Valid: true},
		}); err != nil {
			t.Fatalf("upsert settings: %v", err)
		}

		eff := r.Resolve(ctx, "user-a")
		if !eff.SymbolAllowed("BTCUSDT") {
			t.Errorf("raw %q should fall back to the global whitelist", raw)
		}
	}
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name string
		row  db.UserSettings
		ok   bool
	}{
		{"all null", db.UserSettings{}, true},
		{"risk in range", db.UserSettings{RiskPercent: sql.NullFloat64{Float64: 0.02, Valid: true}}, true},
		{"risk too low", db.UserSettings{RiskPercent: sql.NullFloat64{Float64: 0.005, Valid: true}}, false},
		{"risk too high", db.UserSettings{RiskPercent: sql.NullFloat64{Float64: 1.5, Valid: true}}, false},
		{"leverage max", db.UserSettings{FixedLeverage: sql.NullInt64{Int64: 125, Valid: true}}, true},
		{"leverage zero", db.UserSettings{FixedLeverage: sql.NullInt64{Int64: 0, Valid: true}}, false},
		{"dca layers high", db.UserSettings{MaxDcaPerSymbol: sql.NullInt64{Int64: 11, Valid: true}}, false},
		{"dca multiplier low", db.UserSettings{DcaRiskMultiplier: sql.NullFloat64{Float64: 0.5, Valid: true}}, false},
		{"position too small", db.UserSettings{MaxPositionUsdt: sql.NullFloat64{Float64: 50, Valid: true}}, false},
		{"daily loss zero disables", db.UserSettings{MaxDailyLossUsdt: sql.NullFloat64{Float64: 0, Valid: true}}, true},
		{"symbols bad json", db.UserSettings{AllowedSymbols: sql.NullString{String: `{`, Valid: true}}, false},
		{"symbols ok", db.UserSettings{AllowedSymbols: sql.NullString{String: `["BTCUSDT"]`, Valid: true}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.row)
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
