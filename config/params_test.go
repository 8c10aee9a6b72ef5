package config

import (
	"os"
	"path/filepath"
	"testing"

	"CryptoSignalEngine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParamsAreValid(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Validate(models.EnvPaper))
	require.NoError(t, p.Validate(models.EnvLive))
}

func TestLoadParamsMissingFileUsesDefaults(t *testing.T) {
	p, err := LoadParams(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultParams(), p)
}

func TestLoadParamsOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	content := `
strategy:
  mode: trend_pullback
filters:
  rsi:
    long_overbought: 80
  crash:
    lookback: 6
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := LoadParams(path)
	require.NoError(t, err)
	assert.Equal(t, ModeTrendPullback, p.Strategy.Mode)
	assert.Equal(t, 80.0, p.Filters.RSI.LongOverbought)
	assert.Equal(t, 6, p.Filters.Crash.Lookback)
	// untouched fields keep their defaults
	assert.Equal(t, 30.0, p.Filters.RSI.ShortOversold)
	assert.Equal(t, 14, p.Filters.RSI.Period)
	assert.Equal(t, 12, p.Strategy.EmaDivergence.FastPeriod)
}

func TestLoadParamsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategy: [unclosed"), 0o644))

	_, err := LoadParams(path)
	assert.Error(t, err)
}

func TestSaveParamsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	p := DefaultParams()
	p.Filters.Crash.Threshold = -0.05

	require.NoError(t, SaveParams(path, p))
	loaded, err := LoadParams(path)
	require.NoError(t, err)
	assert.Equal(t, -0.05, loaded.Filters.Crash.Threshold)
}

func TestRepoParamsFileIsValid(t *testing.T) {
	p, err := LoadParams("params.yaml")
	require.NoError(t, err)
	assert.NoError(t, p.Validate(models.EnvLive))
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		env    models.Env
		mutate func(p *Params)
	}{
		{"fast not below slow", models.EnvPaper, func(p *Params) { p.Strategy.EmaDivergence.FastPeriod = 30 }},
		{"unknown mode", models.EnvPaper, func(p *Params) { p.Strategy.Mode = "macd" }},
		{"positive crash threshold", models.EnvPaper, func(p *Params) { p.Filters.Crash.Threshold = 0.05 }},
		{"rsi bands inverted", models.EnvPaper, func(p *Params) { p.Filters.RSI.ShortOversold = 90 }},
		{"no tiers", models.EnvPaper, func(p *Params) { p.Sizing.LeverageTiers = nil }},
		{"tiers decreasing leverage", models.EnvPaper, func(p *Params) {
			p.Sizing.LeverageTiers = []LeverageTier{{MinScore: 0, Leverage: 5}, {MinScore: 2, Leverage: 2}}
		}},
		{"tiers unordered scores", models.EnvPaper, func(p *Params) {
			p.Sizing.LeverageTiers = []LeverageTier{{MinScore: 2, Leverage: 2}, {MinScore: 1, Leverage: 3}}
		}},
		{"unknown flip mode", models.EnvPaper, func(p *Params) { p.Ledger.FlipMode = "partial" }},
		{"zero max orders", models.EnvPaper, func(p *Params) { p.Risk.Paper.MaxOrdersPerRun = 0 }},
		{"live without cap", models.EnvLive, func(p *Params) { p.Risk.Live.NotionalCap = 0 }},
		{"live without risk per trade", models.EnvLive, func(p *Params) { p.Risk.Live.RiskPerTrade = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(tt.env), ErrInvalidParams)
		})
	}
}

func TestPaperIgnoresLiveRiskLimits(t *testing.T) {
	p := DefaultParams()
	p.Risk.Live.NotionalCap = 0
	assert.NoError(t, p.Validate(models.EnvPaper))
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TRADING_ENV", "paper")
	t.Setenv("BINANCE_MARKET", "spot")
	t.Setenv("TRADING_SYMBOLS", " btcusdt, ethusdt ,,")
	t.Setenv("ORDER_USDT", "25")
	t.Setenv("PARAMS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Run.Symbols)
	assert.Equal(t, models.MarketSpot, cfg.Params.Sizing.Market)
	assert.Equal(t, 25.0, cfg.Params.Sizing.TargetNotional)
	assert.True(t, cfg.Run.DryRun)
}

func TestLoadRejectsUnknownEnv(t *testing.T) {
	t.Setenv("TRADING_ENV", "staging")
	_, err := Load()
	assert.Error(t, err)
}
