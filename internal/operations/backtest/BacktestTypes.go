package backtest

import (
	"fmt"
	"time"

	"CryptoSignalEngine/internal/models"
)

// ReasonEndOfData closes whatever is still open on the last bar.
const ReasonEndOfData = "end_of_data"

// For tracking equity changes
type EquityPoint struct {
	Timestamp time.Time
	Balance   float64
}

// Final backtest results
type BacktestResults struct {
	Symbol string
	Bars   int

	// Signal metrics
	Signals int
	Vetoes  map[string]int // filter -> count

	// Trade metrics
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	AveragePnL    float64
	TotalPnL      float64

	// Performance metrics
	MaxDrawdown  float64
	FinalBalance float64
	SharpeRatio  float64

	// Detailed records
	Trades      []models.ClosedTrade
	EquityCurve []EquityPoint
}

// Summary renders the headline numbers on one line.
func (r *BacktestResults) Summary() string {
	return fmt.Sprintf("%s: %d bars, %d signals, %d trades, win rate %.1f%%, avg pnl %.4f, total pnl %.4f, max drawdown %.2f%%, sharpe %.2f, final balance %.2f",
		r.Symbol, r.Bars, r.Signals, r.TotalTrades, r.WinRate*100, r.AveragePnL, r.TotalPnL,
		r.MaxDrawdown*100, r.SharpeRatio, r.FinalBalance)
}

const (
	InitialBalance = 1000.0 // quote currency
	DefaultWindow  = 300
)

// Simulation config
type Config struct {
	InitialBalance float64
	// Window is how many bars each evaluation sees, like CANDLE_LIMIT live.
	Window int
	// Instrument constrains sizing; zero value means no step or minimum.
	Instrument models.Instrument
	// Pyramid lets same-direction signals add to an open position.
	Pyramid bool
	// CloseAtEnd realizes the open position on the last bar.
	CloseAtEnd bool
	FlipMode   string
}

// NewConfig creates default config
func NewConfig() Config {
	return Config{
		InitialBalance: InitialBalance,
		Window:         DefaultWindow,
		CloseAtEnd:     true,
	}
}
