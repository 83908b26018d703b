package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading engine.
type Config struct {
	Port string

	// Venue
	BinanceTestnet  bool
	VenueRESTBase   string
	VenueWSBase     string
	VenueRecvWindow int64

	// Database
	DBPath string

	// Secrets
	MasterEncryptionKey  string
	JWTSecret            string
	OperatorPasswordHash string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string

	// API rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Settings file (risk/dedup/stream defaults)
	SettingsPath string

	// Localization
	Language string // "en" or "zh"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/trading.db")
	}

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		BinanceTestnet:       getEnv("BINANCE_TESTNET", "false") == "true",
		VenueRESTBase:        os.Getenv("VENUE_REST_BASE_URL"),
		VenueWSBase:          os.Getenv("VENUE_WS_BASE_URL"),
		VenueRecvWindow:      int64(getEnvInt("VENUE_RECV_WINDOW_MS", 5000)),
		DBPath:               dbPath,
		MasterEncryptionKey:  os.Getenv("MASTER_ENCRYPTION_KEY"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		OperatorPasswordHash: os.Getenv("OPERATOR_PASSWORD_HASH"),
		TelegramBotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:       os.Getenv("TELEGRAM_CHAT_ID"),
		RateLimitRPS:         getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:       getEnvInt("RATE_LIMIT_BURST", 20),
		SettingsPath:         getEnv("SETTINGS_PATH", "settings.yaml"),
		Language:             getEnv("LANGUAGE", "en"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
