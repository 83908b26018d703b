// Package settings resolves the effective trading configuration for a user:
// global defaults from settings.yaml overlaid with per-user database rows.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/config"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
)

// EffectiveConfig is the fully resolved configuration the executor reads.
// Every field is concrete; NULL overrides have already fallen back.
type EffectiveConfig struct {
	UserID            string
	RiskPercent       float64
	MaxPositionUsdt   float64
	MaxDailyLossUsdt  float64
	MaxDcaLayers      int
	DcaRiskMultiplier float64
	Leverage          int
	AllowedSymbols    []string
	DedupEnabled      bool
	DefaultSymbol     string
}

// SymbolAllowed reports whether a symbol is on the user's whitelist.
// An empty whitelist allows nothing.
func (c *EffectiveConfig) SymbolAllowed(symbol string) bool {
	for _, s := range c.AllowedSymbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// Resolver merges global settings with per-user overrides.
type Resolver struct {
	global config.Settings
	users  *db.UserQueries
}

// NewResolver creates a Resolver over the loaded global settings.
func NewResolver(global config.Settings, users *db.UserQueries) *Resolver {
	return &Resolver{global: global, users: users}
}

// Global returns the resolved configuration with no user overrides applied.
func (r *Resolver) Global() EffectiveConfig {
	g := r.global.Risk
	return EffectiveConfig{
		RiskPercent:       g.RiskPercent,
		MaxPositionUsdt:   g.MaxPositionUsdt,
		MaxDailyLossUsdt:  g.MaxDailyLossUsdt,
		MaxDcaLayers:      g.MaxDcaLayers,
		DcaRiskMultiplier: g.DcaRiskMultiplier,
		Leverage:          g.FixedLeverage,
		AllowedSymbols:    append([]string(nil), g.AllowedSymbols...),
		DedupEnabled:      r.global.Dedup.Enabled,
		DefaultSymbol:     g.DefaultSymbol,
	}
}

// Resolve returns the effective configuration for a user. A user with no
// settings row gets the globals unchanged; a settings row overrides only its
// non-NULL fields. A resolver failure never blocks trading with defaults.
func (r *Resolver) Resolve(ctx context.Context, userID string) EffectiveConfig {
	eff := r.Global()
	eff.UserID = userID

	row, err := r.users.GetSettings(ctx, userID)
	if err != nil {
		return eff
	}

	if row.RiskPercent.Valid {
		eff.RiskPercent = row.RiskPercent.Float64
	}
	if row.MaxPositionUsdt.Valid {
		eff.MaxPositionUsdt = row.MaxPositionUsdt.Float64
	}
	if row.MaxDailyLossUsdt.Valid {
		eff.MaxDailyLossUsdt = row.MaxDailyLossUsdt.Float64
	}
	if row.MaxDcaPerSymbol.Valid {
		eff.MaxDcaLayers = int(row.MaxDcaPerSymbol.Int64)
	}
	if row.DcaRiskMultiplier.Valid {
		eff.DcaRiskMultiplier = row.DcaRiskMultiplier.Float64
	}
	if row.FixedLeverage.Valid {
		eff.Leverage = int(row.FixedLeverage.Int64)
	}
	if row.DedupEnabled.Valid {
		eff.DedupEnabled = row.DedupEnabled.Bool
	}
	if row.DefaultSymbol.Valid && row.DefaultSymbol.String != "" {
		eff.DefaultSymbol = row.DefaultSymbol.String
	}
	if row.AllowedSymbols.Valid {
		if syms, ok := parseSymbolList(row.AllowedSymbols.String); ok {
			eff.AllowedSymbols = syms
		}
		// Empty array or unparseable JSON keeps the global whitelist.
	}

	return eff
}

func parseSymbolList(raw string) ([]string, bool) {
	var syms []string
	if err := json.Unmarshal([]byte(raw), &syms); err != nil {
		return nil, false
	}
	out := syms[:0]
	for _, s := range syms {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// Validation bounds for per-user overrides. Writes outside these ranges are
// rejected before touching the database.
const (
	minRiskPercent       = 0.01
	maxRiskPercent       = 1.0
	minLeverage          = 1
	maxLeverage          = 125
	minDcaLayers         = 0
	maxDcaLayers         = 10
	minDcaRiskMultiplier = 1.0
	maxDcaRiskMultiplier = 10.0
	minPositionUsdt      = 100
	maxPositionUsdt      = 1_000_000
	minDailyLossUsdt     = 0
	maxDailyLossUsdt     = 1_000_000
)

// Validate checks a per-user settings row before it is written. NULL fields
// are not validated; they inherit the global value.
func Validate(s *db.UserSettings) error {
	if s.RiskPercent.Valid {
		if v := s.RiskPercent.Float64; v < minRiskPercent || v > maxRiskPercent {
			return fmt.Errorf("risk_percent %v out of range [%v, %v]", v, minRiskPercent, maxRiskPercent)
		}
	}
	if s.FixedLeverage.Valid {
		if v := s.FixedLeverage.Int64; v < minLeverage || v > maxLeverage {
			return fmt.Errorf("leverage %d out of range [%d, %d]", v, minLeverage, maxLeverage)
		}
	}
	if s.MaxDcaPerSymbol.Valid {
		if v := s.MaxDcaPerSymbol.Int64; v < minDcaLayers || v > maxDcaLayers {
			return fmt.Errorf("max_dca_per_symbol %d out of range [%d, %d]", v, minDcaLayers, maxDcaLayers)
		}
	}
	if s.DcaRiskMultiplier.Valid {
		if v := s.DcaRiskMultiplier.Float64; v < minDcaRiskMultiplier || v > maxDcaRiskMultiplier {
			return fmt.Errorf("dca_risk_multiplier %v out of range [%v, %v]", v, minDcaRiskMultiplier, maxDcaRiskMultiplier)
		}
	}
	if s.MaxPositionUsdt.Valid {
		if v := s.MaxPositionUsdt.Float64; v < minPositionUsdt || v > maxPositionUsdt {
			return fmt.Errorf("max_position_usdt %v out of range [%v, %v]", v, minPositionUsdt, maxPositionUsdt)
		}
	}
	if s.MaxDailyLossUsdt.Valid {
		if v := s.MaxDailyLossUsdt.Float64; v < minDailyLossUsdt || v > maxDailyLossUsdt {
			return fmt.Errorf("max_daily_loss_usdt %v out of range [%v, %v]", v, minDailyLossUsdt, maxDailyLossUsdt)
		}
	}
	if s.AllowedSymbols.Valid {
		var syms []string
		if err := json.Unmarshal([]byte(s.AllowedSymbols.String), &syms); err != nil {
			return fmt.Errorf("allowed_symbols is not a JSON string array: %w", err)
		}
	}
	return nil
}
