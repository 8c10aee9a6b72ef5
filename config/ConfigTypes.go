package config

import (
	"time"

	"CryptoSignalEngine/internal/models"
)

type Config struct {
	Exchange   ExchangeConfig
	Database   DatabaseConfig
	Run        RunConfig
	Notify     NotifyConfig
	ParamsFile string
	Params     Params
}

type ExchangeConfig struct {
	Market        models.Market
	TestAPIKey    string
	TestSecretKey string
	LiveAPIKey    string
	LiveSecretKey string
	QuoteAsset    string
}

// Keys returns the credential pair for env.
func (e ExchangeConfig) Keys(env models.Env) (string, string) {
	if env == models.EnvLive {
		return e.LiveAPIKey, e.LiveSecretKey
	}
	return e.TestAPIKey, e.TestSecretKey
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RunConfig struct {
	Env           models.Env
	Symbols       []string
	TimeFrame     string
	HTFTimeFrame  string
	CandleLimit   int
	OrderUSDT     float64
	EnableTrading bool
	DryRun        bool
	Interval      time.Duration
	StateDir      string
	LogLevel      string
	MetricsAddr   string
}

type NotifyConfig struct {
	TelegramToken  string
	TelegramChatID int64
}

// Params holds every tunable of the signal and risk pipeline. It is loaded
// once per run and treated as immutable afterwards.
type Params struct {
	Strategy StrategyParams `yaml:"strategy"`
	Filters  FilterParams   `yaml:"filters"`
	Sizing   SizingParams   `yaml:"sizing"`
	Risk     RiskParams     `yaml:"risk"`
	Ledger   LedgerParams   `yaml:"ledger"`
}

const (
	ModeEmaDivergence = "ema_divergence"
	ModeTrendPullback = "trend_pullback"
)

type StrategyParams struct {
	Mode          string              `yaml:"mode"`
	EmaDivergence EmaDivergenceParams `yaml:"ema_divergence"`
	TrendPullback TrendPullbackParams `yaml:"trend_pullback"`
}

type EmaDivergenceParams struct {
	FastPeriod    int     `yaml:"fast_period"`
	SlowPeriod    int     `yaml:"slow_period"`
	FlatThreshold float64 `yaml:"flat_threshold"`
	// Trend score breakpoints on |fast-slow|/slow.
	TrendMidPct    float64 `yaml:"trend_mid_pct"`
	TrendStrongPct float64 `yaml:"trend_strong_pct"`
	// RequireCross only fires on the bar where fast crosses slow.
	RequireCross bool `yaml:"require_cross"`
}

type TrendPullbackParams struct {
	HTFFastPeriod    int     `yaml:"htf_fast_period"`
	HTFSlowPeriod    int     `yaml:"htf_slow_period"`
	EntryPeriod1     int     `yaml:"entry_period1"`
	EntryPeriod2     int     `yaml:"entry_period2"`
	GuardPeriod      int     `yaml:"guard_period"`
	PullbackNearPct  float64 `yaml:"pullback_near_pct"`
	GuardBreakPct    float64 `yaml:"guard_break_pct"`
	RequireStructure bool    `yaml:"require_structure"`
	TrendMidPct      float64 `yaml:"trend_mid_pct"`
	TrendStrongPct   float64 `yaml:"trend_strong_pct"`
}

type FilterParams struct {
	HTFTrend   HTFTrendFilterParams   `yaml:"htf_trend"`
	RSI        RSIFilterParams        `yaml:"rsi"`
	Crash      CrashFilterParams      `yaml:"crash"`
	Breakout   BreakoutFilterParams   `yaml:"breakout"`
	Volatility VolatilityFilterParams `yaml:"volatility"`
	Slope      SlopeFilterParams      `yaml:"slope"`
}

type HTFTrendFilterParams struct {
	Enabled bool `yaml:"enabled"`
	Period  int  `yaml:"period"`
}

type RSIFilterParams struct {
	Enabled        bool    `yaml:"enabled"`
	Period         int     `yaml:"period"`
	LongOverbought float64 `yaml:"long_overbought"`
	ShortOversold  float64 `yaml:"short_oversold"`
}

type CrashFilterParams struct {
	Enabled   bool    `yaml:"enabled"`
	Lookback  int     `yaml:"lookback"`
	Threshold float64 `yaml:"threshold"`
}

type BreakoutFilterParams struct {
	Enabled  bool `yaml:"enabled"`
	Lookback int  `yaml:"lookback"`
}

type VolatilityFilterParams struct {
	Enabled   bool    `yaml:"enabled"`
	ATRPeriod int     `yaml:"atr_period"`
	MinPct    float64 `yaml:"min_pct"`
}

type SlopeFilterParams struct {
	Enabled  bool    `yaml:"enabled"`
	Lookback int     `yaml:"lookback"`
	MinAbs   float64 `yaml:"min_abs"`
}

// LeverageTier applies from MinScore upwards until the next tier.
type LeverageTier struct {
	MinScore int `yaml:"min_score"`
	Leverage int `yaml:"leverage"`
}

type SizingParams struct {
	Market         models.Market  `yaml:"market"`
	TargetNotional float64        `yaml:"target_notional"`
	LeverageTiers  []LeverageTier `yaml:"leverage_tiers"`
}

// RiskLimits is the per-environment risk budget.
type RiskLimits struct {
	NotionalCap     float64 `yaml:"notional_cap"`
	RiskPerTrade    float64 `yaml:"risk_per_trade"`
	MaxOrdersPerRun int     `yaml:"max_orders_per_run"`
	MinFreeBalance  float64 `yaml:"min_free_balance"`
	// DefaultNotional replaces an unknown notional in paper mode.
	DefaultNotional float64 `yaml:"default_notional"`
}

type RiskParams struct {
	Paper RiskLimits `yaml:"paper"`
	Live  RiskLimits `yaml:"live"`
}

// For returns the limits of env.
func (r RiskParams) For(env models.Env) RiskLimits {
	if env == models.EnvLive {
		return r.Live
	}
	return r.Paper
}

const (
	FlipModeReopen = "reopen"
	FlipModeNet    = "net"
)

type LedgerParams struct {
	FlipMode string `yaml:"flip_mode"`
}
