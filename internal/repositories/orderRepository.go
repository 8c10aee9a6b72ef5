package repositories

import (
	"errors"

	"CryptoSignalEngine/internal/models"

	"gorm.io/gorm"
)

// OrderRepository is the audit trail of submitted orders.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new instance of OrderRepository
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create adds a new OrderRecord to the database
func (r *OrderRepository) Create(record *models.OrderRecord) error {
	if record == nil {
		return errors.New("order record cannot be nil")
	}
	return r.db.Create(record).Error
}
