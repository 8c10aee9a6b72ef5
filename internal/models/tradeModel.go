package models

import "time"

// ClosedTrade is a realized round trip produced by the virtual ledger.
// Side is the direction that was closed.
type ClosedTrade struct {
	ID          uint         `gorm:"primaryKey"`
	Env         Env          `gorm:"index;not null"`
	Symbol      string       `gorm:"index;not null"`
	Side        PositionSide `gorm:"not null"`
	Quantity    float64      `gorm:"type:decimal(28,12);not null"`
	EntryPrice  float64      `gorm:"type:decimal(20,8);not null"`
	ExitPrice   float64      `gorm:"type:decimal(20,8);not null"`
	OpenTime    time.Time    `gorm:"not null"`
	CloseTime   time.Time    `gorm:"index;not null"`
	PnL         float64      `gorm:"type:decimal(20,8)"`
	OpenReason  string
	CloseReason string

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (ClosedTrade) TableName() string {
	return "closed_trades"
}

// RealizedPnL is (exit - entry) * qty for longs and (entry - exit) * qty for shorts.
func RealizedPnL(side PositionSide, entry, exit, qty float64) float64 {
	if side == PositionSideLong {
		return (exit - entry) * qty
	}
	return (entry - exit) * qty
}

// TradeStats summarizes a set of closed trades.
type TradeStats struct {
	Total    int
	Wins     int
	Losses   int
	WinRate  float64
	TotalPnL float64
}

func ComputeTradeStats(trades []ClosedTrade) TradeStats {
	var stats TradeStats
	for _, t := range trades {
		stats.Total++
		stats.TotalPnL += t.PnL
		if t.PnL > 0 {
			stats.Wins++
		} else {
			stats.Losses++
		}
	}
	if stats.Total > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Total)
	}
	return stats
}
