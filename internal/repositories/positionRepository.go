package repositories

import (
	"errors"

	"CryptoSignalEngine/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PositionRepository stores the virtual ledger's open positions.
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new instance of PositionRepository
func NewPositionRepository(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// LoadPositions retrieves all open virtual positions of env
func (r *PositionRepository) LoadPositions(env models.Env) ([]models.VirtualPosition, error) {
	var positions []models.VirtualPosition
	err := r.db.Where("env = ?", env).Order("symbol ASC").Find(&positions).Error
	return positions, err
}

// SavePosition upserts the position on (env, symbol)
func (r *PositionRepository) SavePosition(position *models.VirtualPosition) error {
	if position == nil {
		return errors.New("position cannot be nil")
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "env"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"side", "quantity", "entry_price", "open_time", "open_reason", "updated_at"}),
	}).Create(position).Error
}

// DeletePosition removes the symbol's position
func (r *PositionRepository) DeletePosition(env models.Env, symbol string) error {
	if symbol == "" {
		return errors.New("invalid symbol")
	}
	return r.db.Where("env = ? AND symbol = ?", env, symbol).Delete(&models.VirtualPosition{}).Error
}
