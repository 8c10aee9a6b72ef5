package models

import (
	"errors"
	"fmt"
	"time"
)

type Env string

const (
	EnvPaper Env = "paper"
	EnvLive  Env = "live"
)

type Market string

const (
	MarketSpot    Market = "spot"
	MarketFutures Market = "futures"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

var ErrInvalidOrder = errors.New("invalid order")

// OrderRequest is what the engine wants to trade. Price nil means market
// order; PositionSide empty means no position tag (spot).
type OrderRequest struct {
	Env          Env
	Market       Market
	Symbol       string
	Side         Side
	Quantity     float64
	Price        *float64
	Leverage     *int
	PositionSide PositionSide
	ReduceOnly   bool
	Reason       string
}

// IsMarket reports whether the order carries no limit price.
func (o OrderRequest) IsMarket() bool {
	return o.Price == nil
}

// Validate checks quantity > 0 and, for futures, leverage >= 1 when set.
func (o OrderRequest) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}
	if !(o.Quantity > 0) {
		return fmt.Errorf("%w: quantity must be positive, got %v", ErrInvalidOrder, o.Quantity)
	}
	if o.Price != nil && !(*o.Price > 0) {
		return fmt.Errorf("%w: limit price must be positive", ErrInvalidOrder)
	}
	if o.Market == MarketFutures && o.Leverage != nil && *o.Leverage < 1 {
		return fmt.Errorf("%w: leverage must be >= 1, got %d", ErrInvalidOrder, *o.Leverage)
	}
	return nil
}

// DedupKey identifies an order within one batch.
func (o OrderRequest) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%t", o.Market, o.Symbol, o.Side, o.ReduceOnly)
}

// OrderResult is the outcome of one submission.
type OrderResult struct {
	Request       OrderRequest
	Success       bool
	Simulated     bool
	OrderID       string
	ClientOrderID string
	FillPrice     float64
	Error         string
}

// OrderRecord is the audit row for a submitted order.
type OrderRecord struct {
	ID              uint   `gorm:"primaryKey"`
	ClientOrderID   string `gorm:"uniqueIndex;not null"`
	ExchangeOrderID string
	Env             Env    `gorm:"index;not null"`
	Market          Market `gorm:"not null"`
	Symbol          string `gorm:"index;not null"`
	Side            Side   `gorm:"not null"`
	PositionSide    PositionSide
	Quantity        float64  `gorm:"type:decimal(28,12);not null"`
	LimitPrice      *float64 `gorm:"type:decimal(20,8)"`
	Leverage        *int
	ReduceOnly      bool
	Reason          string
	Success         bool
	Simulated       bool
	FillPrice       float64 `gorm:"type:decimal(20,8)"`
	Error           string

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (OrderRecord) TableName() string {
	return "order_records"
}

// NewOrderRecord flattens a result into its audit row.
func NewOrderRecord(res OrderResult) *OrderRecord {
	req := res.Request
	return &OrderRecord{
		ClientOrderID:   res.ClientOrderID,
		ExchangeOrderID: res.OrderID,
		Env:             req.Env,
		Market:          req.Market,
		Symbol:          req.Symbol,
		Side:            req.Side,
		PositionSide:    req.PositionSide,
		Quantity:        req.Quantity,
		LimitPrice:      req.Price,
		Leverage:        req.Leverage,
		ReduceOnly:      req.ReduceOnly,
		Reason:          req.Reason,
		Success:         res.Success,
		Simulated:       res.Simulated,
		FillPrice:       res.FillPrice,
		Error:           res.Error,
	}
}
