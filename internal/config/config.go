package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	Backend              string
	SQLitePath           string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	PriceTier1           decimal.Decimal
	PriceTier2           decimal.Decimal
	ReopenOnUnderpayment bool
	StaffVisibilityDays  int
	PhoneRegion          string
	AuthSecret           string
	SessionTTLMinutes    int
	LogLevel             string
	LogPretty            bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first without overriding variables already set, and
// LEDGER_CONFIG may name a YAML file whose keys are the variable names.
// Variables set in the environment win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	file := map[string]string{}
	if path := strings.TrimSpace(os.Getenv("LEDGER_CONFIG")); path != "" {
		var err error
		file, err = readFile(path)
		if err != nil {
			return Config{}, err
		}
	}
	getEnv := func(key string, fallback string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		if val, ok := file[key]; ok && val != "" {
			return val
		}
		return fallback
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	visibility, err := strconv.Atoi(getEnv("STAFF_VISIBILITY_DAYS", "2"))
	if err != nil || visibility < 1 {
		visibility = 2
	}
	sessionTTL, err := strconv.Atoi(getEnv("SESSION_TTL_MINUTES", "480"))
	if err != nil || sessionTTL < 1 {
		sessionTTL = 480
	}
	reopen, _ := strconv.ParseBool(getEnv("REOPEN_ON_UNDERPAYMENT", "false"))
	pretty, _ := strconv.ParseBool(getEnv("LOG_PRETTY", "false"))

	backend := strings.ToLower(getEnv("LEDGER_BACKEND", BackendSQLite))
	switch backend {
	case BackendMemory, BackendSQLite, BackendPostgres:
	default:
		return Config{}, fmt.Errorf("LEDGER_BACKEND must be one of memory, sqlite, postgres; got %q", backend)
	}

	cfg := Config{
		Backend:              backend,
		SQLitePath:           getEnv("LEDGER_SQLITE_PATH", "ledger.db"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              redisDB,
		PriceTier1:           price(getEnv("PRICE_TIER_1", ""), 250),
		PriceTier2:           price(getEnv("PRICE_TIER_2", ""), 270),
		ReopenOnUnderpayment: reopen,
		StaffVisibilityDays:  visibility,
		PhoneRegion:          strings.ToUpper(getEnv("PHONE_REGION", "NG")),
		AuthSecret:           strings.TrimSpace(getEnv("AUTH_SECRET", "")),
		SessionTTLMinutes:    sessionTTL,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogPretty:            pretty,
	}
	if cfg.Backend == BackendPostgres && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	return cfg, nil
}

// readFile decodes a flat YAML mapping of variable names to scalar values.
func readFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var values map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	out := make(map[string]string, len(values))
	for key, node := range values {
		if node.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("config %s: %s must be a scalar", path, key)
		}
		out[strings.ToUpper(key)] = node.Value
	}
	return out, nil
}

// price parses a positive tier price, falling back to the default.
func price(raw string, fallback int64) decimal.Decimal {
	if raw == "" {
		return decimal.NewFromInt(fallback)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !d.IsPositive() {
		return decimal.NewFromInt(fallback)
	}
	return d
}
