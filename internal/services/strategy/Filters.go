package strategy

import (
	"math"

	"CryptoSignalEngine/config"
	"CryptoSignalEngine/internal/services/indicators"
)

// Filter names, also used as the vetoed_by value.
const (
	FilterHTFTrend   = "htf_trend"
	FilterRSI        = "rsi"
	FilterCrash      = "crash"
	FilterBreakout   = "breakout"
	FilterVolatility = "volatility"
	FilterSlope      = "slope"
)

// Filter may veto a raw signal. Filters only ever move a signal to None.
type Filter interface {
	Name() string
	Apply(sig *Signal, sc *SignalContext)
}

// FilterChain runs filters in order. Every filter still records its
// measurements after an earlier veto, but a vetoed signal stays None.
type FilterChain struct {
	filters []Filter
}

// NewFilterChain builds the enabled filters in their fixed order.
// fastPeriod feeds the momentum-slope filter.
func NewFilterChain(p config.FilterParams, fastPeriod int) *FilterChain {
	var filters []Filter
	if p.HTFTrend.Enabled {
		filters = append(filters, &HTFTrendFilter{params: p.HTFTrend})
	}
	if p.RSI.Enabled {
		filters = append(filters, &RSIFilter{params: p.RSI})
	}
	if p.Crash.Enabled {
		filters = append(filters, &CrashFilter{params: p.Crash})
	}
	if p.Breakout.Enabled {
		filters = append(filters, &BreakoutFilter{params: p.Breakout})
	}
	if p.Volatility.Enabled {
		filters = append(filters, &VolatilityFilter{params: p.Volatility})
	}
	if p.Slope.Enabled {
		filters = append(filters, &SlopeFilter{params: p.Slope, fastPeriod: fastPeriod})
	}
	return &FilterChain{filters: filters}
}

func NewFilterChainFrom(filters ...Filter) *FilterChain {
	return &FilterChain{filters: filters}
}

func (c *FilterChain) Apply(sig *Signal, sc *SignalContext) {
	raw := sig.Direction
	for _, f := range c.filters {
		vetoed := !sig.IsDirectional()
		f.Apply(sig, sc)
		// a filter can only ever take the direction away
		if vetoed || sig.Direction != raw {
			sig.Direction = DirectionNone
		}
	}
}

func (c *FilterChain) Names() []string {
	names := make([]string, len(c.filters))
	for i, f := range c.filters {
		names[i] = f.Name()
	}
	return names
}

// HTFTrendFilter blocks longs in a higher-timeframe downtrend and shorts in an uptrend.
type HTFTrendFilter struct {
	params config.HTFTrendFilterParams
}

func (f *HTFTrendFilter) Name() string { return FilterHTFTrend }

func (f *HTFTrendFilter) Apply(sig *Signal, sc *SignalContext) {
	trend := DetectHTFTrend(sc.HTFCloses, f.params.Period)
	sc.Diagnostics["htf_trend"] = trend

	switch {
	case sig.Direction == DirectionLong && trend == "down":
		sig.Veto(f.Name(), KeyBlockedByHTFTrend, "long_blocked_in_downtrend")
	case sig.Direction == DirectionShort && trend == "up":
		sig.Veto(f.Name(), KeyBlockedByHTFTrend, "short_blocked_in_uptrend")
	}
}

// DetectHTFTrend compares the last higher-timeframe close with its EMA.
// Returns "unknown" when there is not enough history.
func DetectHTFTrend(htf []float64, period int) string {
	if len(htf) == 0 || len(htf) < period {
		return "unknown"
	}
	ma, _ := indicators.LastEMA(htf, period)
	last := htf[len(htf)-1]
	switch {
	case last > ma:
		return "up"
	case last < ma:
		return "down"
	default:
		return "flat"
	}
}

// RSIFilter blocks longs into overbought and shorts into oversold.
type RSIFilter struct {
	params config.RSIFilterParams
}

func (f *RSIFilter) Name() string { return FilterRSI }

func (f *RSIFilter) Apply(sig *Signal, sc *SignalContext) {
	rsi, ok := indicators.LastRSI(sc.Closes, f.params.Period)
	if !ok {
		sc.Diagnostics["rsi"] = nil
		return
	}
	sc.Diagnostics["rsi"] = rsi

	switch {
	case sig.Direction == DirectionLong && rsi >= f.params.LongOverbought:
		sig.Veto(f.Name(), KeyBlockedByRSI, "long_blocked_overbought")
	case sig.Direction == DirectionShort && rsi <= f.params.ShortOversold:
		sig.Veto(f.Name(), KeyBlockedByRSI, "short_blocked_oversold")
	}
}

// CrashFilter blocks longs after a sharp drop. Shorts pass.
type CrashFilter struct {
	params config.CrashFilterParams
}

func (f *CrashFilter) Name() string { return FilterCrash }

func (f *CrashFilter) Apply(sig *Signal, sc *SignalContext) {
	change, ok := indicators.PctChange(sc.Closes, f.params.Lookback)
	crashed := ok && change <= f.params.Threshold
	sc.Diagnostics["crashed"] = crashed
	if ok {
		sc.Diagnostics["crash_change"] = change
	}

	if crashed && sig.Direction == DirectionLong {
		sig.Veto(f.Name(), KeyBlockedByCrash, "long_blocked_after_crash")
	}
}

// BreakoutFilter requires the last close beyond the prior lookback-bar range.
type BreakoutFilter struct {
	params config.BreakoutFilterParams
}

func (f *BreakoutFilter) Name() string { return FilterBreakout }

func (f *BreakoutFilter) Apply(sig *Signal, sc *SignalContext) {
	high, low, ok := indicators.RecentHighLow(sc.Closes, f.params.Lookback)
	if !ok {
		sig.Veto(f.Name(), KeyBlockedByBreakout, "breakout_not_ready")
		return
	}
	last := sc.LastClose()
	sc.Diagnostics["recent_high"] = high
	sc.Diagnostics["recent_low"] = low

	switch sig.Direction {
	case DirectionLong:
		if last > high {
			sig.EntryScore++
		} else {
			sig.Veto(f.Name(), KeyBlockedByBreakout, "long_no_breakout")
		}
	case DirectionShort:
		if last < low {
			sig.EntryScore++
		} else {
			sig.Veto(f.Name(), KeyBlockedByBreakout, "short_no_breakdown")
		}
	}
}

// VolatilityFilter blocks any signal while ATR% is under the floor.
type VolatilityFilter struct {
	params config.VolatilityFilterParams
}

func (f *VolatilityFilter) Name() string { return FilterVolatility }

func (f *VolatilityFilter) Apply(sig *Signal, sc *SignalContext) {
	atr, ok := indicators.ATRFromCloses(sc.Closes, f.params.ATRPeriod)
	last := sc.LastClose()
	if !ok || last <= 0 {
		sig.Veto(f.Name(), KeyBlockedByVolatility, "atr_not_ready")
		return
	}
	atrPct := atr / last
	sc.Diagnostics["atr_pct"] = atrPct

	if atrPct < f.params.MinPct {
		sig.Veto(f.Name(), KeyBlockedByVolatility, "atr_below_min")
	}
}

// SlopeFilter requires the fast EMA to move with the signal.
type SlopeFilter struct {
	params     config.SlopeFilterParams
	fastPeriod int
}

func (f *SlopeFilter) Name() string { return FilterSlope }

func (f *SlopeFilter) Apply(sig *Signal, sc *SignalContext) {
	slope, ok := indicators.Slope(indicators.EMA(sc.Closes, f.fastPeriod), f.params.Lookback)
	if !ok {
		sig.Veto(f.Name(), KeyBlockedBySlope, "slope_not_ready")
		return
	}
	sc.Diagnostics["slope"] = slope

	switch {
	case math.Abs(slope) < f.params.MinAbs:
		sig.Veto(f.Name(), KeyBlockedBySlope, "slope_flat")
	case sig.Direction == DirectionLong && slope < 0:
		sig.Veto(f.Name(), KeyBlockedBySlope, "long_blocked_negative_slope")
	case sig.Direction == DirectionShort && slope > 0:
		sig.Veto(f.Name(), KeyBlockedBySlope, "short_blocked_positive_slope")
	case sig.IsDirectional() && f.params.MinAbs > 0 && math.Abs(slope) >= 2*f.params.MinAbs:
		sig.EntryScore++
	}
}
