package repositories

import (
	"errors"

	"CryptoSignalEngine/internal/models"

	"gorm.io/gorm"
)

// BalanceRepository keeps per-run balance snapshots.
type BalanceRepository struct {
	db *gorm.DB
}

// NewBalanceRepository creates a new instance of BalanceRepository
func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// Create adds a new Balance snapshot to the database
func (r *BalanceRepository) Create(balance *models.Balance) error {
	if balance == nil {
		return errors.New("balance cannot be nil")
	}
	return r.db.Create(balance).Error
}

// GetLatest retrieves the newest snapshot of an asset
func (r *BalanceRepository) GetLatest(env models.Env, asset string) (*models.Balance, error) {
	if asset == "" {
		return nil, errors.New("invalid asset")
	}
	var balance models.Balance
	err := r.db.Where("env = ? AND asset = ?", env, asset).
		Order("last_updated DESC").
		First(&balance).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return &balance, err
}
