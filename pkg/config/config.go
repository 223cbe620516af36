package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the trading bot.
type Config struct {
	Port   string
	APIKey string // X-API-Key for the HTTP surface; empty disables auth

	// Bithumb
	BithumbAPIKey    string
	BithumbSecretKey string

	// Execution
	DryRun           bool
	DryRunInitialKRW float64
	DryRunFeeRate    float64
	UseMockFeed      bool
	StreamMaxRetry   int

	// Telegram
	TelegramBotToken         string // short-term channel
	TelegramLongTermBotToken string // long-term channel
	TelegramChatID           int64

	// Storage / logging
	DBPath   string
	LogFile  string
	LogLevel string
	Language string // "en" or "ko"

	Trading Trading
}

// Trading carries the tunables of the position lifecycle. They can be
// overridden from a YAML file pointed to by TRADING_CONFIG.
type Trading struct {
	Timeframe            string   `yaml:"timeframe"`
	TopN                 int      `yaml:"top_n"`
	HoldingLimit         int      `yaml:"holding_limit"`
	PerTradeKRW          float64  `yaml:"per_trade_krw"`
	StopLossPct          float64  `yaml:"stop_loss_pct"`
	TrailingStopPct      float64  `yaml:"trailing_stop_pct"`
	TrailingStopFraction float64  `yaml:"trailing_stop_fraction"`
	ProfitTargetPct      float64  `yaml:"profit_target_pct"`
	ProfitTargetFraction float64  `yaml:"profit_target_fraction"`
	SplitSellLimit       int      `yaml:"split_sell_limit"`
	InterestSymbols      []string `yaml:"interest_symbols"`
	Strategy             string   `yaml:"strategy"` // turtle or channel
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     getEnv("PORT", "8000"),
		APIKey:                   os.Getenv("API_KEY"),
		BithumbAPIKey:            os.Getenv("BITHUMB_API_KEY"),
		BithumbSecretKey:         os.Getenv("BITHUMB_SECRET_KEY"),
		DryRun:                   getEnvBool("DRY_RUN", true),
		DryRunInitialKRW:         getEnvFloat("DRY_RUN_INITIAL_KRW", 1_000_000),
		DryRunFeeRate:            getEnvFloat("DRY_RUN_FEE_RATE", 0.0025),
		UseMockFeed:              getEnvBool("USE_MOCK_FEED", false),
		StreamMaxRetry:           getEnvInt("STREAM_MAX_RETRY", 10),
		TelegramBotToken:         os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramLongTermBotToken: os.Getenv("TELEGRAM_LONG_TERM_BOT_TOKEN"),
		TelegramChatID:           int64(getEnvInt("TELEGRAM_BOT_ID", 0)),
		DBPath:                   getEnv("DB_PATH", "./data/trading.db"),
		LogFile:                  getEnv("LOG_FILE", "./logs/trading_bot.log"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		Language:                 getEnv("LANGUAGE", "ko"),
		Trading: Trading{
			Timeframe:            getEnv("TIMEFRAME", "1h"),
			TopN:                 getEnvInt("TOP_N", 10),
			HoldingLimit:         getEnvInt("HOLDING_LIMIT", 3),
			PerTradeKRW:          getEnvFloat("PER_TRADE_KRW", 10_000),
			StopLossPct:          getEnvFloat("STOP_LOSS_PCT", 0.02),
			TrailingStopPct:      getEnvFloat("TRAILING_STOP_PCT", 0.02),
			TrailingStopFraction: getEnvFloat("TRAILING_STOP_FRACTION", 1.0),
			ProfitTargetPct:      getEnvFloat("PROFIT_TARGET_PCT", 5),
			ProfitTargetFraction: getEnvFloat("PROFIT_TARGET_FRACTION", 0.5),
			SplitSellLimit:       getEnvInt("SPLIT_SELL_LIMIT", 1),
			InterestSymbols:      splitAndTrim(getEnv("INTEREST_SYMBOLS", "")),
			Strategy:             getEnv("STRATEGY", "turtle"),
		},
	}

	if path := os.Getenv("TRADING_CONFIG"); path != "" {
		if err := cfg.Trading.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Trading.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays non-zero YAML values onto t.
func (t *Trading) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read trading config: %w", err)
	}
	var file Trading
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse trading config: %w", err)
	}
	if file.Timeframe != "" {
		t.Timeframe = file.Timeframe
	}
	if file.TopN > 0 {
		t.TopN = file.TopN
	}
	if file.HoldingLimit > 0 {
		t.HoldingLimit = file.HoldingLimit
	}
	if file.PerTradeKRW > 0 {
		t.PerTradeKRW = file.PerTradeKRW
	}
	if file.StopLossPct > 0 {
		t.StopLossPct = file.StopLossPct
	}
	if file.TrailingStopPct > 0 {
		t.TrailingStopPct = file.TrailingStopPct
	}
	if file.TrailingStopFraction > 0 {
		t.TrailingStopFraction = file.TrailingStopFraction
	}
	if file.ProfitTargetPct > 0 {
		t.ProfitTargetPct = file.ProfitTargetPct
	}
	if file.ProfitTargetFraction > 0 {
		t.ProfitTargetFraction = file.ProfitTargetFraction
	}
	if file.SplitSellLimit > 0 {
		t.SplitSellLimit = file.SplitSellLimit
	}
	if len(file.InterestSymbols) > 0 {
		t.InterestSymbols = file.InterestSymbols
	}
	if file.Strategy != "" {
		t.Strategy = file.Strategy
	}
	return nil
}

// Validate rejects tunables that would make the risk math meaningless.
func (t Trading) Validate() error {
	switch {
	case t.StopLossPct <= 0 || t.StopLossPct >= 1:
		return fmt.Errorf("stop_loss_pct must be in (0,1), got %v", t.StopLossPct)
	case t.TrailingStopPct <= 0 || t.TrailingStopPct >= 1:
		return fmt.Errorf("trailing_stop_pct must be in (0,1), got %v", t.TrailingStopPct)
	case t.TrailingStopFraction <= 0 || t.TrailingStopFraction > 1:
		return fmt.Errorf("trailing_stop_fraction must be in (0,1], got %v", t.TrailingStopFraction)
	case t.ProfitTargetFraction <= 0 || t.ProfitTargetFraction > 1:
		return fmt.Errorf("profit_target_fraction must be in (0,1], got %v", t.ProfitTargetFraction)
	case t.HoldingLimit <= 0:
		return fmt.Errorf("holding_limit must be positive, got %d", t.HoldingLimit)
	case t.PerTradeKRW <= 0:
		return fmt.Errorf("per_trade_krw must be positive, got %v", t.PerTradeKRW)
	}
	return nil
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
			out = append(out, strings.ToUpper(t))
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

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
