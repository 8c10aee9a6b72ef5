package config

import (
	"errors"
	"fmt"
	"os"

	"CryptoSignalEngine/internal/models"

	"gopkg.in/yaml.v3"
)

var ErrInvalidParams = errors.New("invalid params")

// DefaultParams returns the built-in tuning. The optimizer job overwrites
// individual fields through the params file.
func DefaultParams() Params {
	return Params{
		Strategy: StrategyParams{
			Mode: ModeEmaDivergence,
			EmaDivergence: EmaDivergenceParams{
				FastPeriod:     12,
				SlowPeriod:     26,
				FlatThreshold:  0.0003,
				TrendMidPct:    0.002,
				TrendStrongPct: 0.006,
			},
			TrendPullback: TrendPullbackParams{
				HTFFastPeriod:    50,
				HTFSlowPeriod:    200,
				EntryPeriod1:     20,
				EntryPeriod2:     30,
				GuardPeriod:      50,
				PullbackNearPct:  0.003,
				GuardBreakPct:    0.002,
				RequireStructure: true,
				TrendMidPct:      0.005,
				TrendStrongPct:   0.02,
			},
		},
		Filters: FilterParams{
			HTFTrend:   HTFTrendFilterParams{Enabled: true, Period: 50},
			RSI:        RSIFilterParams{Enabled: true, Period: 14, LongOverbought: 70, ShortOversold: 30},
			Crash:      CrashFilterParams{Enabled: true, Lookback: 4, Threshold: -0.07},
			Breakout:   BreakoutFilterParams{Enabled: true, Lookback: 20},
			Volatility: VolatilityFilterParams{Enabled: true, ATRPeriod: 14, MinPct: 0.001},
			Slope:      SlopeFilterParams{Enabled: true, Lookback: 3, MinAbs: 0.0005},
		},
		Sizing: SizingParams{
			Market:         models.MarketFutures,
			TargetNotional: 50,
			LeverageTiers: []LeverageTier{
				{MinScore: 0, Leverage: 2},
				{MinScore: 2, Leverage: 3},
				{MinScore: 3, Leverage: 5},
			},
		},
		Risk: RiskParams{
			Paper: RiskLimits{
				NotionalCap:     200,
				MaxOrdersPerRun: 5,
				DefaultNotional: 50,
			},
			Live: RiskLimits{
				NotionalCap:     100,
				RiskPerTrade:    0.02,
				MaxOrdersPerRun: 3,
				MinFreeBalance:  20,
			},
		},
		Ledger: LedgerParams{FlipMode: FlipModeReopen},
	}
}

// LoadParams overlays the YAML file at path on DefaultParams. A missing
// file yields the defaults.
func LoadParams(path string) (Params, error) {
	params := DefaultParams()
	if path == "" {
		return params, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return params, nil
		}
		return params, fmt.Errorf("failed to read params file: %w", err)
	}

	if err := yaml.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("failed to parse params file %s: %w", path, err)
	}
	return params, nil
}

// SaveParams writes params back as YAML, the format the optimizer edits.
func SaveParams(path string, params Params) error {
	data, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects parameter sets the engine cannot run safely. Risk
// limits are only mandatory for live.
func (p Params) Validate(env models.Env) error {
	switch p.Strategy.Mode {
	case ModeEmaDivergence:
		ed := p.Strategy.EmaDivergence
		if ed.FastPeriod <= 0 || ed.SlowPeriod <= 0 {
			return fmt.Errorf("%w: ema periods must be positive", ErrInvalidParams)
		}
		if ed.FastPeriod >= ed.SlowPeriod {
			return fmt.Errorf("%w: fast period %d must be below slow period %d", ErrInvalidParams, ed.FastPeriod, ed.SlowPeriod)
		}
		if ed.FlatThreshold < 0 {
			return fmt.Errorf("%w: flat threshold must not be negative", ErrInvalidParams)
		}
	case ModeTrendPullback:
		tp := p.Strategy.TrendPullback
		if tp.HTFFastPeriod <= 0 || tp.HTFSlowPeriod <= 0 || tp.EntryPeriod1 <= 0 || tp.EntryPeriod2 <= 0 || tp.GuardPeriod <= 0 {
			return fmt.Errorf("%w: trend pullback periods must be positive", ErrInvalidParams)
		}
		if tp.HTFFastPeriod >= tp.HTFSlowPeriod {
			return fmt.Errorf("%w: htf fast period must be below htf slow period", ErrInvalidParams)
		}
	default:
		return fmt.Errorf("%w: unknown strategy mode %q", ErrInvalidParams, p.Strategy.Mode)
	}

	f := p.Filters
	if f.HTFTrend.Enabled && f.HTFTrend.Period <= 0 {
		return fmt.Errorf("%w: htf trend period must be positive", ErrInvalidParams)
	}
	if f.RSI.Enabled && (f.RSI.Period <= 0 || f.RSI.ShortOversold >= f.RSI.LongOverbought) {
		return fmt.Errorf("%w: rsi filter misconfigured", ErrInvalidParams)
	}
	if f.Crash.Enabled && (f.Crash.Lookback <= 0 || f.Crash.Threshold >= 0) {
		return fmt.Errorf("%w: crash filter needs positive lookback and negative threshold", ErrInvalidParams)
	}
	if f.Breakout.Enabled && f.Breakout.Lookback <= 0 {
		return fmt.Errorf("%w: breakout lookback must be positive", ErrInvalidParams)
	}
	if f.Volatility.Enabled && f.Volatility.ATRPeriod <= 0 {
		return fmt.Errorf("%w: atr period must be positive", ErrInvalidParams)
	}
	if f.Slope.Enabled && f.Slope.Lookback <= 0 {
		return fmt.Errorf("%w: slope lookback must be positive", ErrInvalidParams)
	}

	if err := validateTiers(p.Sizing.LeverageTiers); err != nil {
		return err
	}
	if p.Sizing.TargetNotional <= 0 {
		return fmt.Errorf("%w: target notional must be positive", ErrInvalidParams)
	}

	if p.Ledger.FlipMode != FlipModeReopen && p.Ledger.FlipMode != FlipModeNet {
		return fmt.Errorf("%w: unknown ledger flip mode %q", ErrInvalidParams, p.Ledger.FlipMode)
	}

	limits := p.Risk.For(env)
	if limits.MaxOrdersPerRun <= 0 {
		return fmt.Errorf("%w: max orders per run must be positive", ErrInvalidParams)
	}
	if env == models.EnvLive {
		if limits.NotionalCap <= 0 || limits.RiskPerTrade <= 0 || limits.RiskPerTrade > 1 {
			return fmt.Errorf("%w: live risk limits need a positive notional cap and risk per trade in (0,1]", ErrInvalidParams)
		}
	}
	return nil
}

func validateTiers(tiers []LeverageTier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: at least one leverage tier is required", ErrInvalidParams)
	}
	for i, t := range tiers {
		if t.Leverage < 1 {
			return fmt.Errorf("%w: tier %d leverage must be >= 1", ErrInvalidParams, i)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if t.MinScore <= prev.MinScore || t.Leverage < prev.Leverage {
			return fmt.Errorf("%w: leverage tiers must be ordered by score with non-decreasing leverage", ErrInvalidParams)
		}
	}
	return nil
}
