package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// RiskSettings are the global trading defaults; per-user overrides live in
// the database and are resolved at execution time.
type RiskSettings struct {
	RiskPercent       float64  `yaml:"risk_percent"`
	MaxPositionUsdt   float64  `yaml:"max_position_usdt"`
	MaxDailyLossUsdt  float64  `yaml:"max_daily_loss_usdt"`
	MaxDcaLayers      int      `yaml:"max_dca_layers"`
	DcaRiskMultiplier float64  `yaml:"dca_risk_multiplier"`
	FixedLeverage     int      `yaml:"fixed_leverage"`
	AllowedSymbols    []string `yaml:"allowed_symbols"`
	DefaultSymbol     string   `yaml:"default_symbol"`
}

// DedupSettings control signal deduplication.
type DedupSettings struct {
	Enabled       bool `yaml:"enabled"`
	WindowSeconds int  `yaml:"window_seconds"`
}

// StreamSettings tune the user-data stream reconnect machine.
type StreamSettings struct {
	ReconnectBaseMs int `yaml:"reconnect_base_ms"`
	ReconnectMaxMs  int `yaml:"reconnect_max_ms"`
	MaxAttempts     int `yaml:"max_attempts"`
}

// CleanupSettings tune the stale-trade sweep.
type CleanupSettings struct {
	IntervalMinutes int `yaml:"interval_minutes"`
}

// Settings is the top-level settings.yaml structure.
type Settings struct {
	Risk    RiskSettings    `yaml:"risk"`
	Dedup   DedupSettings   `yaml:"dedup"`
	Stream  StreamSettings  `yaml:"stream"`
	Cleanup CleanupSettings `yaml:"cleanup"`
}

// DefaultSettings returns the built-in defaults used when settings.yaml is
// absent or leaves a field unset.
func DefaultSettings() Settings {
	return Settings{
		Risk: RiskSettings{
			RiskPercent:       0.02,
			MaxPositionUsdt:   50000,
			MaxDailyLossUsdt:  0,
			MaxDcaLayers:      3,
			DcaRiskMultiplier: 1.0,
			FixedLeverage:     10,
			AllowedSymbols:    []string{"BTCUSDT", "ETHUSDT"},
			DefaultSymbol:     "BTCUSDT",
		},
		Dedup: DedupSettings{
			Enabled:       true,
			WindowSeconds: 60,
		},
		Stream: StreamSettings{
			ReconnectBaseMs: 1000,
			ReconnectMaxMs:  60000,
			MaxAttempts:     20,
		},
		Cleanup: CleanupSettings{
			IntervalMinutes: 30,
		},
	}
}

// LoadSettings reads settings.yaml over the defaults. Fields present in the
// file override; absent fields keep their defaults. A missing file is not an
// error. RISK_ALLOWED_SYMBOLS / RISK_PERCENT / RISK_MAX_DAILY_LOSS_USDT
// environment variables override last.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&s)
			return s, nil
		}
		return s, err
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), err
	}
	applyEnvOverrides(&s)
	return s, nil
}

func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("RISK_ALLOWED_SYMBOLS"); v != "" {
		if syms := splitAndTrim(v); len(syms) > 0 {
			s.Risk.AllowedSymbols = syms
		}
	}
	if v := getEnvFloat("RISK_PERCENT", 0); v > 0 {
		s.Risk.RiskPercent = v
	}
	if v := getEnvFloat("RISK_MAX_DAILY_LOSS_USDT", 0); v > 0 {
		s.Risk.MaxDailyLossUsdt = v
	}
}
