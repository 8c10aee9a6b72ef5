package strategy

import (
	"CryptoSignalEngine/internal/models"
)

// Direction is the call a strategy makes for the next bar.
type Direction int

const (
	DirectionNone  Direction = 0
	DirectionLong  Direction = 1
	DirectionShort Direction = -1
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "long"
	case DirectionShort:
		return "short"
	default:
		return "none"
	}
}

// Diagnostics records why a decision was made. Keys are stable reason
// codes, values are whatever the stage measured.
type Diagnostics map[string]interface{}

// Diagnostic keys
const (
	KeySymbol      = "symbol"
	KeyMode        = "mode"
	KeyReason      = "reason"
	KeyRawSignal   = "raw_signal"
	KeyFinalSignal = "final_signal"
	KeyVetoedBy    = "vetoed_by"
	KeyTrendScore  = "trend_score"
	KeyEntryScore  = "entry_score"
	KeyFailedCheck = "failed_check"

	KeyBlockedByHTFTrend   = "blocked_by_htf_trend"
	KeyBlockedByRSI        = "blocked_by_rsi"
	KeyBlockedByCrash      = "blocked_by_crash"
	KeyBlockedByBreakout   = "blocked_by_breakout"
	KeyBlockedByVolatility = "blocked_by_volatility"
	KeyBlockedBySlope      = "blocked_by_slope"
)

// Reason codes
const (
	ReasonNotEnoughData    = "not_enough_data"
	ReasonNotEnoughHTFData = "not_enough_htf_data"
	ReasonDegenerateSeries = "degenerate_series"
	ReasonFlatMarket       = "flat_market"
	ReasonNoCross          = "no_cross"
	ReasonNoHTFTrend       = "no_htf_trend"
	ReasonNotNearEMA       = "not_near_ema"
	ReasonGuardBroken      = "guard_broken"
	ReasonNoStructure      = "no_structure"
	ReasonNoConfirmation   = "no_confirmation_candle"
)

// Signal is the directional decision plus its strength.
type Signal struct {
	Symbol      string
	Direction   Direction
	TrendScore  int
	EntryScore  int
	Price       float64 // last close of the evaluated series
	Diagnostics Diagnostics
}

// Strength is the total conviction score used for leverage tiers.
func (s *Signal) Strength() int {
	return s.TrendScore + s.EntryScore
}

func (s *Signal) IsDirectional() bool {
	return s.Direction != DirectionNone
}

// Veto forces a directional signal to None and records the reason under
// key. On a None signal it does nothing and returns false.
func (s *Signal) Veto(filter, key, reason string) bool {
	if !s.IsDirectional() {
		return false
	}
	s.Direction = DirectionNone
	s.Diagnostics[key] = reason
	if _, set := s.Diagnostics[KeyVetoedBy]; !set {
		s.Diagnostics[KeyVetoedBy] = filter
	}
	return true
}

// SignalContext is built once per symbol per evaluation and discarded.
type SignalContext struct {
	Symbol      string
	Candles     []models.Candle
	Closes      []float64
	HTFCloses   []float64
	Diagnostics Diagnostics
}

func NewSignalContext(symbol string, candles, htfCandles []models.Candle) *SignalContext {
	sc := &SignalContext{
		Symbol:      symbol,
		Candles:     candles,
		Closes:      models.Closes(candles),
		Diagnostics: Diagnostics{KeySymbol: symbol},
	}
	if len(htfCandles) > 0 {
		sc.HTFCloses = models.Closes(htfCandles)
	}
	return sc
}

// LastClose returns the most recent close, 0 when empty.
func (sc *SignalContext) LastClose() float64 {
	if len(sc.Closes) == 0 {
		return 0
	}
	return sc.Closes[len(sc.Closes)-1]
}

// newSignal starts a None signal sharing the context diagnostics.
func (sc *SignalContext) newSignal() *Signal {
	return &Signal{
		Symbol:      sc.Symbol,
		Direction:   DirectionNone,
		Price:       sc.LastClose(),
		Diagnostics: sc.Diagnostics,
	}
}

// SignalStrategy turns a candle context into a raw directional call.
type SignalStrategy interface {
	Name() string
	// RequiredBars is the minimum current-timeframe history.
	RequiredBars() int
	// UsesFilterChain reports whether the raw call goes through the veto chain.
	UsesFilterChain() bool
	Generate(sc *SignalContext) *Signal
}

// scoreFromGap maps a relative gap onto the 0/1/2 trend score.
func scoreFromGap(gap, mid, strong float64) int {
	switch {
	case strong > 0 && gap >= strong:
		return 2
	case mid > 0 && gap >= mid:
		return 1
	default:
		return 0
	}
}
