package models

import "time"

// VirtualPosition is the single net position the ledger keeps per symbol
// and environment. It is never consulted for real order routing.
type VirtualPosition struct {
	ID         uint         `gorm:"primaryKey"`
	Env        Env          `gorm:"uniqueIndex:idx_vpos_env_symbol;not null"`
	Symbol     string       `gorm:"uniqueIndex:idx_vpos_env_symbol;not null"`
	Side       PositionSide `gorm:"not null"`
	Quantity   float64      `gorm:"type:decimal(28,12);not null"`
	EntryPrice float64      `gorm:"type:decimal(20,8);not null"`
	OpenTime   time.Time    `gorm:"not null"`
	OpenReason string

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (VirtualPosition) TableName() string {
	return "virtual_positions"
}

type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)
