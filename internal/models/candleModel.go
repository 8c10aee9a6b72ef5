package models

import (
	"time"
)

// Candle is one OHLCV bar. Series are always ordered oldest first.
type Candle struct {
	ID         uint      `gorm:"primaryKey"`
	Symbol     string    `gorm:"uniqueIndex:idx_candle_key;not null"`
	TimeFrame  string    `gorm:"uniqueIndex:idx_candle_key;not null"`
	OpenTime   time.Time `gorm:"uniqueIndex:idx_candle_key;not null"`
	CloseTime  time.Time `gorm:"index"`
	Open       float64   `gorm:"type:decimal(20,8)"`
	High       float64   `gorm:"type:decimal(20,8)"`
	Low        float64   `gorm:"type:decimal(20,8)"`
	Close      float64   `gorm:"type:decimal(20,8)"`
	Volume     float64   `gorm:"type:decimal(20,8)"`
	TradeCount int64
}

const (
	TimeFrame5m  = "5m"
	TimeFrame15m = "15m"
	TimeFrame1h  = "1h"
	TimeFrame4h  = "4h"
)

// TableName sets the table name for Candle model
func (Candle) TableName() string {
	return "candles"
}

// Closes extracts the close series.
func Closes(candles []Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// Opens extracts the open series.
func Opens(candles []Candle) []float64 {
	opens := make([]float64, len(candles))
	for i, c := range candles {
		opens[i] = c.Open
	}
	return opens
}
