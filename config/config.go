package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"CryptoSignalEngine/internal/models"

	"github.com/joho/godotenv"
)

const DefaultParamsFile = "config/params.yaml"

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	env := models.Env(strings.ToLower(getEnv("TRADING_ENV", string(models.EnvPaper))))
	if env != models.EnvPaper && env != models.EnvLive {
		return nil, fmt.Errorf("invalid TRADING_ENV: %q", env)
	}

	market := models.Market(strings.ToLower(getEnv("BINANCE_MARKET", string(models.MarketFutures))))
	if market != models.MarketSpot && market != models.MarketFutures {
		return nil, fmt.Errorf("invalid BINANCE_MARKET: %q", market)
	}

	dbEnabled, err := strconv.ParseBool(getEnv("DB_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_ENABLED: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	candleLimit, err := strconv.Atoi(getEnv("CANDLE_LIMIT", "300"))
	if err != nil {
		return nil, fmt.Errorf("invalid CANDLE_LIMIT: %w", err)
	}

	orderUSDT, err := strconv.ParseFloat(getEnv("ORDER_USDT", "0"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ORDER_USDT: %w", err)
	}

	enableTrading, err := strconv.ParseBool(getEnv("ENABLE_TRADING", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid ENABLE_TRADING: %w", err)
	}

	dryRun, err := strconv.ParseBool(getEnv("DRY_RUN", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid DRY_RUN: %w", err)
	}

	interval, err := time.ParseDuration(getEnv("RUN_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid RUN_INTERVAL: %w", err)
	}

	chatID, err := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	paramsFile := getEnv("PARAMS_FILE", DefaultParamsFile)
	params, err := LoadParams(paramsFile)
	if err != nil {
		return nil, err
	}
	params.Sizing.Market = market
	if orderUSDT > 0 {
		params.Sizing.TargetNotional = orderUSDT
	}

	cfg := &Config{
		Exchange: ExchangeConfig{
			Market:        market,
			TestAPIKey:    os.Getenv("BINANCE_TEST_API_KEY"),
			TestSecretKey: os.Getenv("BINANCE_TEST_SECRET_KEY"),
			LiveAPIKey:    os.Getenv("BINANCE_LIVE_API_KEY"),
			LiveSecretKey: os.Getenv("BINANCE_LIVE_SECRET_KEY"),
			QuoteAsset:    getEnv("QUOTE_ASSET", "USDT"),
		},
		Database: DatabaseConfig{
			Enabled:  dbEnabled,
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			DBName:   getEnv("DB_NAME", "signal_engine"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Run: RunConfig{
			Env:           env,
			Symbols:       getSymbols(),
			TimeFrame:     getEnv("TIMEFRAME", models.TimeFrame1h),
			HTFTimeFrame:  getEnv("HTF_TIMEFRAME", models.TimeFrame4h),
			CandleLimit:   candleLimit,
			OrderUSDT:     orderUSDT,
			EnableTrading: enableTrading,
			DryRun:        dryRun,
			Interval:      interval,
			StateDir:      getEnv("STATE_DIR", "logs"),
			LogLevel:      getEnv("LOG_LEVEL", "info"),
			MetricsAddr:   os.Getenv("METRICS_ADDR"),
		},
		Notify: NotifyConfig{
			TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
			TelegramChatID: chatID,
		},
		ParamsFile: paramsFile,
		Params:     params,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the fields a run cannot start without.
func (c *Config) Validate() error {
	if len(c.Run.Symbols) == 0 {
		return fmt.Errorf("TRADING_SYMBOLS is empty")
	}
	if c.Run.CandleLimit <= 0 {
		return fmt.Errorf("CANDLE_LIMIT must be positive")
	}
	if c.Database.Enabled && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required when DB_ENABLED is set")
	}
	if c.Run.Env == models.EnvLive && !c.Run.DryRun {
		key, secret := c.Exchange.Keys(models.EnvLive)
		if key == "" || secret == "" {
			return fmt.Errorf("BINANCE_LIVE_API_KEY / BINANCE_LIVE_SECRET_KEY are required for live trading")
		}
	}
	return c.Params.Validate(c.Run.Env)
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// helper to get symbols
func getSymbols() []string {
	raw := os.Getenv("TRADING_SYMBOLS")
	if raw == "" {
		return []string{"BTCUSDT", "ETHUSDT"} // Default pairs if none specified
	}
	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}
