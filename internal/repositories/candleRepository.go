package repositories

import (
	"errors"
	"time"

	"CryptoSignalEngine/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CandleRepository struct {
	db *gorm.DB
}

// NewCandleRepository creates a new instance of CandleRepository
func NewCandleRepository(db *gorm.DB) *CandleRepository {
	return &CandleRepository{db: db}
}

// SaveCandles upserts candles on (symbol, time_frame, open_time).
func (r *CandleRepository) SaveCandles(candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "time_frame"}, {Name: "open_time"}},
		DoUpdates: clause.AssignmentColumns([]string{"close_time", "open", "high", "low", "close", "volume", "trade_count"}),
	}).CreateInBatches(candles, 500).Error
}

// GetLatestCandles returns the newest limit candles, oldest first.
func (r *CandleRepository) GetLatestCandles(symbol, timeFrame string, limit int) ([]models.Candle, error) {
	if symbol == "" || timeFrame == "" {
		return nil, errors.New("invalid symbol or timeframe")
	}

	var candles []models.Candle
	err := r.db.Where("symbol = ? AND time_frame = ?", symbol, timeFrame).
		Order("open_time DESC").
		Limit(limit).
		Find(&candles).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// GetCandlesByTimeFrame gets candles for a symbol and timeframe in a time range
func (r *CandleRepository) GetCandlesByTimeFrame(symbol, timeFrame string, start, end time.Time) ([]models.Candle, error) {
	if symbol == "" || timeFrame == "" {
		return nil, errors.New("invalid symbol or timeframe")
	}

	var candles []models.Candle
	err := r.db.Where("symbol = ? AND time_frame = ? AND open_time BETWEEN ? AND ?",
		symbol, timeFrame, start, end).
		Order("open_time ASC").
		Find(&candles).Error
	return candles, err
}
