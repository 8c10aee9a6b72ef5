package backtest

import (
	"errors"
	"fmt"
	"math"

	"CryptoSignalEngine/internal/logger"
	"CryptoSignalEngine/internal/models"
	"CryptoSignalEngine/internal/services/ledger"
	"CryptoSignalEngine/internal/services/sizing"
	"CryptoSignalEngine/internal/services/strategy"
)

// Engine replays a candle series through the live signal, sizing and
// ledger code. Every order fills at the close of the bar that produced it.
type Engine struct {
	evaluator *strategy.Evaluator
	sizer     *sizing.Sizer
	config    Config
	log       *logger.Logger

	// Backtest state
	currentBalance float64
	trades         []models.ClosedTrade
	equityCurve    []EquityPoint
}

func NewEngine(evaluator *strategy.Evaluator, sizer *sizing.Sizer, config Config, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	return &Engine{evaluator: evaluator, sizer: sizer, config: config, log: log}
}

// AppendTrade books a closed trade; the engine is its own ledger sink.
func (e *Engine) AppendTrade(trade *models.ClosedTrade) error {
	e.trades = append(e.trades, *trade)
	e.currentBalance += trade.PnL
	e.equityCurve = append(e.equityCurve, EquityPoint{Timestamp: trade.CloseTime, Balance: e.currentBalance})
	return nil
}

// Run replays candles (oldest first) for symbol. htf may be empty; at each
// bar only the htf candles closed by then are visible.
func (e *Engine) Run(symbol string, candles, htf []models.Candle) (*BacktestResults, error) {
	required := e.evaluator.RequiredBars()
	if len(candles) < required {
		return nil, fmt.Errorf("backtest %s: %d candles, strategy needs %d", symbol, len(candles), required)
	}

	e.currentBalance = e.config.InitialBalance
	e.trades = nil
	e.equityCurve = []EquityPoint{{Timestamp: candles[0].OpenTime, Balance: e.currentBalance}}

	book := ledger.NewLedger(models.EnvPaper, e.config.FlipMode, nil, e, e.log)
	results := &BacktestResults{Symbol: symbol, Vetoes: make(map[string]int)}

	htfEnd := 0
	for i := required - 1; i < len(candles); i++ {
		bar := candles[i]
		for htfEnd < len(htf) && !htf[htfEnd].CloseTime.After(bar.CloseTime) {
			htfEnd++
		}

		start := i + 1 - e.config.Window
		if start < 0 {
			start = 0
		}
		results.Bars++

		sig := e.evaluator.Evaluate(symbol, candles[start:i+1], htf[:htfEnd])
		if filter, ok := sig.Diagnostics[strategy.KeyVetoedBy].(string); ok {
			results.Vetoes[filter]++
		}
		if !sig.IsDirectional() {
			continue
		}
		results.Signals++

		if !e.config.Pyramid && string(book.State(symbol)) == sig.Direction.String() {
			continue
		}

		order, err := e.sizer.SizeOrder(sig, sizing.SizingInput{
			Env:            models.EnvPaper,
			ReferencePrice: bar.Close,
			Instrument:     e.config.Instrument,
		})
		if err != nil {
			e.log.Debug("%s bar %d: %v", symbol, i, err)
			continue
		}
		if order.PositionSide == "" {
			order.PositionSide = positionSide(sig.Direction)
		}

		if _, err := book.OnFill(*order, bar.Close, bar.CloseTime); err != nil {
			return nil, fmt.Errorf("backtest %s bar %d: %w", symbol, i, err)
		}
	}

	if e.config.CloseAtEnd {
		if err := e.closeOpen(book, symbol, candles[len(candles)-1]); err != nil {
			return nil, err
		}
	}

	e.calculateResults(results)
	e.log.Info("Backtest %s", results.Summary())
	return results, nil
}

func (e *Engine) closeOpen(book *ledger.Ledger, symbol string, last models.Candle) error {
	pos, ok := book.Position(symbol)
	if !ok {
		return nil
	}
	side := models.SideSell
	if pos.Side == models.PositionSideShort {
		side = models.SideBuy
	}
	_, err := book.OnFill(models.OrderRequest{
		Env:          models.EnvPaper,
		Symbol:       symbol,
		Side:         side,
		Quantity:     pos.Quantity,
		PositionSide: pos.Side,
		ReduceOnly:   true,
		Reason:       ReasonEndOfData,
	}, last.Close, last.CloseTime)
	if err != nil && !errors.Is(err, ledger.ErrInvalidFill) {
		return err
	}
	return nil
}

func positionSide(d strategy.Direction) models.PositionSide {
	if d == strategy.DirectionShort {
		return models.PositionSideShort
	}
	return models.PositionSideLong
}

func (e *Engine) calculateResults(r *BacktestResults) {
	r.FinalBalance = e.currentBalance
	r.Trades = e.trades
	r.EquityCurve = e.equityCurve
	if len(e.trades) == 0 {
		return
	}

	stats := models.ComputeTradeStats(e.trades)
	r.TotalTrades = stats.Total
	r.WinningTrades = stats.Wins
	r.LosingTrades = stats.Losses
	r.WinRate = stats.WinRate
	r.TotalPnL = stats.TotalPnL
	r.AveragePnL = stats.TotalPnL / float64(stats.Total)

	// Calculate drawdown
	peakBalance := e.config.InitialBalance
	for _, point := range e.equityCurve {
		if point.Balance > peakBalance {
			peakBalance = point.Balance
		}
		if peakBalance <= 0 {
			continue
		}
		drawdown := (peakBalance - point.Balance) / peakBalance
		if drawdown > r.MaxDrawdown {
			r.MaxDrawdown = drawdown
		}
	}

	r.SharpeRatio = e.calculateSharpeRatio()
}

// calculateSharpeRatio is mean over sample deviation of per-trade equity
// returns, not annualized.
func (e *Engine) calculateSharpeRatio() float64 {
	if len(e.equityCurve) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(e.equityCurve)-1)
	for i := 1; i < len(e.equityCurve); i++ {
		prev := e.equityCurve[i-1].Balance
		if prev == 0 {
			continue
		}
		returns = append(returns, (e.equityCurve[i].Balance-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	avgReturn := 0.0
	for _, r := range returns {
		avgReturn += r
	}
	avgReturn /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += math.Pow(r-avgReturn, 2)
	}
	variance /= float64(len(returns) - 1) // Use n-1 for sample variance
	stdDev := math.Sqrt(variance)

	if stdDev == 0 {
		return 0
	}
	return avgReturn / stdDev
}
