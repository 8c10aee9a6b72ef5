package models

import (
	"time"
)

// Balance is an account balance in the quote asset. Rows are snapshots
// taken once per live run.
type Balance struct {
	ID    uint    `gorm:"primaryKey"`
	Env   Env     `gorm:"index;not null"`
	Asset string  `gorm:"index;not null"`
	Total float64 `gorm:"type:decimal(20,8);not null"`
	Free  float64 `gorm:"type:decimal(20,8);not null"`

	LastUpdated time.Time `gorm:"index;not null"`
}

// Instrument carries the exchange constraints sizing has to respect.
type Instrument struct {
	Symbol             string
	MinQuantity        float64
	StepSize           float64
	ContractMultiplier float64
}

// Multiplier returns the contract multiplier, defaulting to 1.
func (i Instrument) Multiplier() float64 {
	if i.ContractMultiplier <= 0 {
		return 1
	}
	return i.ContractMultiplier
}
