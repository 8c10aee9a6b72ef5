package strategy

import (
	"math"

	"CryptoSignalEngine/config"
	"CryptoSignalEngine/internal/services/indicators"
)

// TrendPullback trades in the direction of the higher-timeframe trend after
// a pullback to the entry EMAs and a confirmation candle. It carries its
// own checks and bypasses the filter chain.
type TrendPullback struct {
	params config.TrendPullbackParams
}

func NewTrendPullback(params config.TrendPullbackParams) *TrendPullback {
	return &TrendPullback{params: params}
}

func (s *TrendPullback) Name() string {
	return config.ModeTrendPullback
}

func (s *TrendPullback) RequiredBars() int {
	longest := s.params.GuardPeriod
	if s.params.EntryPeriod2 > longest {
		longest = s.params.EntryPeriod2
	}
	return longest + 5
}

func (s *TrendPullback) UsesFilterChain() bool {
	return false
}

func (s *TrendPullback) Generate(sc *SignalContext) *Signal {
	sig := sc.newSignal()
	diag := sc.Diagnostics

	if len(sc.Closes) < s.RequiredBars() {
		diag[KeyReason] = ReasonNotEnoughData
		diag["bars"] = len(sc.Closes)
		diag["bars_required"] = s.RequiredBars()
		return sig
	}
	if len(sc.HTFCloses) < s.params.HTFSlowPeriod {
		diag[KeyReason] = ReasonNotEnoughHTFData
		diag["htf_bars"] = len(sc.HTFCloses)
		return sig
	}

	trend, trendScore := s.macroTrend(sc.HTFCloses, diag)
	diag["htf_trend"] = trend.String()
	if trend == DirectionNone {
		diag[KeyReason] = ReasonNoHTFTrend
		return sig
	}

	n := len(sc.Closes)
	pb := n - 2 // pullback bar
	cf := n - 1 // confirmation bar

	ema1 := indicators.EMA(sc.Closes, s.params.EntryPeriod1)
	ema2 := indicators.EMA(sc.Closes, s.params.EntryPeriod2)
	guard := indicators.EMA(sc.Closes, s.params.GuardPeriod)

	pullbackClose := sc.Closes[pb]
	diag["pullback_close"] = pullbackClose
	diag["ema_entry1"] = ema1[pb]
	diag["ema_entry2"] = ema2[pb]
	diag["ema_guard"] = guard[pb]

	if !near(pullbackClose, ema1[pb], s.params.PullbackNearPct) && !near(pullbackClose, ema2[pb], s.params.PullbackNearPct) {
		return s.fail(sig, ReasonNotNearEMA)
	}

	if trend == DirectionLong && pullbackClose < guard[pb]*(1-s.params.GuardBreakPct) {
		return s.fail(sig, ReasonGuardBroken)
	}
	if trend == DirectionShort && pullbackClose > guard[pb]*(1+s.params.GuardBreakPct) {
		return s.fail(sig, ReasonGuardBroken)
	}

	if s.params.RequireStructure {
		prior := sc.Closes[pb-1]
		if trend == DirectionLong && !(prior > pullbackClose) {
			return s.fail(sig, ReasonNoStructure)
		}
		if trend == DirectionShort && !(prior < pullbackClose) {
			return s.fail(sig, ReasonNoStructure)
		}
	}

	confirm := sc.Candles[cf]
	pullbackBar := sc.Candles[pb]
	entryScore := 0
	if trend == DirectionLong {
		if !(confirm.Close > confirm.Open) {
			return s.fail(sig, ReasonNoConfirmation)
		}
		if confirm.Close > pullbackBar.High {
			entryScore++
		}
	} else {
		if !(confirm.Close < confirm.Open) {
			return s.fail(sig, ReasonNoConfirmation)
		}
		if confirm.Close < pullbackBar.Low {
			entryScore++
		}
	}

	sig.Direction = trend
	sig.TrendScore = trendScore
	sig.EntryScore = entryScore
	return sig
}

// macroTrend is bull iff fast > slow and last close > fast; bear mirrors it.
func (s *TrendPullback) macroTrend(htf []float64, diag Diagnostics) (Direction, int) {
	fast, _ := indicators.LastEMA(htf, s.params.HTFFastPeriod)
	slow, _ := indicators.LastEMA(htf, s.params.HTFSlowPeriod)
	last := htf[len(htf)-1]
	diag["htf_ema_fast"] = fast
	diag["htf_ema_slow"] = slow

	if slow == 0 {
		return DirectionNone, 0
	}
	score := scoreFromGap(math.Abs(fast-slow)/slow, s.params.TrendMidPct, s.params.TrendStrongPct)

	switch {
	case fast > slow && last > fast:
		return DirectionLong, score
	case fast < slow && last < fast:
		return DirectionShort, score
	default:
		return DirectionNone, 0
	}
}

func (s *TrendPullback) fail(sig *Signal, check string) *Signal {
	sig.Direction = DirectionNone
	sig.Diagnostics[KeyReason] = check
	sig.Diagnostics[KeyFailedCheck] = check
	return sig
}

func near(price, level, pct float64) bool {
	if level == 0 {
		return false
	}
	return math.Abs(price-level)/level <= pct
}
