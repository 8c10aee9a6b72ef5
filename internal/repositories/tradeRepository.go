package repositories

import (
	"errors"

	"CryptoSignalEngine/internal/models"

	"gorm.io/gorm"
)

// TradeRepository stores closed virtual trades.
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new instance of TradeRepository
func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// AppendTrade adds a closed trade
func (r *TradeRepository) AppendTrade(trade *models.ClosedTrade) error {
	if trade == nil {
		return errors.New("trade cannot be nil")
	}
	return r.db.Create(trade).Error
}

// FindByEnv retrieves all closed trades of env in close order
func (r *TradeRepository) FindByEnv(env models.Env) ([]models.ClosedTrade, error) {
	var trades []models.ClosedTrade
	err := r.db.Where("env = ?", env).Order("close_time ASC").Find(&trades).Error
	return trades, err
}

// Stats computes win rate and PnL over all closed trades of env
func (r *TradeRepository) Stats(env models.Env) (models.TradeStats, error) {
	trades, err := r.FindByEnv(env)
	if err != nil {
		return models.TradeStats{}, err
	}
	return models.ComputeTradeStats(trades), nil
}
