package strategy

import (
	"math"

	"CryptoSignalEngine/config"
	"CryptoSignalEngine/internal/services/indicators"
)

// EmaDivergence calls the sign of the relative gap between a fast and a
// slow EMA, ignoring gaps under the flat threshold.
type EmaDivergence struct {
	params config.EmaDivergenceParams
}

func NewEmaDivergence(params config.EmaDivergenceParams) *EmaDivergence {
	return &EmaDivergence{params: params}
}

func (s *EmaDivergence) Name() string {
	return config.ModeEmaDivergence
}

func (s *EmaDivergence) RequiredBars() int {
	return s.params.SlowPeriod + 2
}

func (s *EmaDivergence) UsesFilterChain() bool {
	return true
}

func (s *EmaDivergence) Generate(sc *SignalContext) *Signal {
	sig := sc.newSignal()
	diag := sc.Diagnostics
	diag["fast"] = s.params.FastPeriod
	diag["slow"] = s.params.SlowPeriod

	if len(sc.Closes) < s.RequiredBars() {
		diag[KeyReason] = ReasonNotEnoughData
		diag["bars"] = len(sc.Closes)
		diag["bars_required"] = s.RequiredBars()
		return sig
	}

	fast := indicators.EMA(sc.Closes, s.params.FastPeriod)
	slow := indicators.EMA(sc.Closes, s.params.SlowPeriod)
	fastLast := fast[len(fast)-1]
	slowLast := slow[len(slow)-1]
	diag["ema_fast"] = fastLast
	diag["ema_slow"] = slowLast

	if slowLast == 0 {
		diag[KeyReason] = ReasonDegenerateSeries
		return sig
	}

	rel := (fastLast - slowLast) / slowLast
	diag["ema_rel"] = rel

	if math.Abs(rel) < s.params.FlatThreshold || rel == 0 {
		diag[KeyReason] = ReasonFlatMarket
		return sig
	}

	if s.params.RequireCross {
		cross := indicators.CheckCrossover(fast, slow)
		diag["crossed"] = cross.Crossed
		if !cross.Crossed {
			diag[KeyReason] = ReasonNoCross
			return sig
		}
	}

	if rel > 0 {
		sig.Direction = DirectionLong
	} else {
		sig.Direction = DirectionShort
	}
	sig.TrendScore = scoreFromGap(math.Abs(rel), s.params.TrendMidPct, s.params.TrendStrongPct)
	return sig
}
