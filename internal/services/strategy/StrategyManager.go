package strategy

import (
	"fmt"

	"CryptoSignalEngine/config"
	"CryptoSignalEngine/internal/logger"
	"CryptoSignalEngine/internal/models"
)

// Evaluator runs the configured strategy and, when it asks for it, the
// filter chain. It holds no per-symbol state.
type Evaluator struct {
	strategy SignalStrategy
	filters  *FilterChain
	log      *logger.Logger
}

func NewEvaluator(params config.Params, log *logger.Logger) (*Evaluator, error) {
	if log == nil {
		log = logger.Discard()
	}

	var s SignalStrategy
	switch params.Strategy.Mode {
	case config.ModeEmaDivergence:
		s = NewEmaDivergence(params.Strategy.EmaDivergence)
	case config.ModeTrendPullback:
		s = NewTrendPullback(params.Strategy.TrendPullback)
	default:
		return nil, fmt.Errorf("%w: unknown strategy mode %q", config.ErrInvalidParams, params.Strategy.Mode)
	}

	filters := NewFilterChain(params.Filters, params.Strategy.EmaDivergence.FastPeriod)
	if s.UsesFilterChain() {
		log.Debug("strategy %s with filters %v", s.Name(), filters.Names())
	}

	return &Evaluator{
		strategy: s,
		filters:  filters,
		log:      log,
	}, nil
}

// NewEvaluatorWith wires an explicit strategy and chain.
func NewEvaluatorWith(s SignalStrategy, filters *FilterChain, log *logger.Logger) *Evaluator {
	if log == nil {
		log = logger.Discard()
	}
	if filters == nil {
		filters = NewFilterChainFrom()
	}
	return &Evaluator{strategy: s, filters: filters, log: log}
}

func (e *Evaluator) Mode() string {
	return e.strategy.Name()
}

// RequiredBars is the current-timeframe history the strategy needs.
func (e *Evaluator) RequiredBars() int {
	return e.strategy.RequiredBars()
}

// Evaluate turns candles into a final signal. Not enough history is a
// None signal with reason not_enough_data, never an error.
func (e *Evaluator) Evaluate(symbol string, candles, htf []models.Candle) *Signal {
	sc := NewSignalContext(symbol, candles, htf)
	sc.Diagnostics[KeyMode] = e.strategy.Name()

	sig := e.strategy.Generate(sc)
	sc.Diagnostics[KeyRawSignal] = sig.Direction.String()

	if sig.IsDirectional() && e.strategy.UsesFilterChain() {
		e.filters.Apply(sig, sc)
		if !sig.IsDirectional() {
			e.log.Info("%s: %s signal vetoed by %v", symbol, sc.Diagnostics[KeyRawSignal], sc.Diagnostics[KeyVetoedBy])
		}
	}

	if !sig.IsDirectional() {
		sig.TrendScore = 0
		sig.EntryScore = 0
	}
	sc.Diagnostics[KeyFinalSignal] = sig.Direction.String()
	sc.Diagnostics[KeyTrendScore] = sig.TrendScore
	sc.Diagnostics[KeyEntryScore] = sig.EntryScore

	e.log.Debug("%s: evaluated %s -> %s (trend=%d entry=%d)", symbol, e.strategy.Name(), sig.Direction, sig.TrendScore, sig.EntryScore)
	return sig
}
