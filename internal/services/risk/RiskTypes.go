package risk

import (
	"context"
	"errors"

	"CryptoSignalEngine/internal/models"
)

var (
	// ErrBalanceUnavailable aborts a live batch: the cap is never guessed.
	ErrBalanceUnavailable = errors.New("account balance unavailable")
	ErrInvalidLimits      = errors.New("invalid risk limits")
)

// PricingContext is the market data the adjuster reads.
type PricingContext interface {
	ReferencePrice(ctx context.Context, symbol string) (float64, error)
	Instrument(ctx context.Context, symbol string) (models.Instrument, error)
	// AccountBalance returns total and free quote-asset balance.
	AccountBalance(ctx context.Context) (total, free float64, err error)
}

// Scaling records one order whose quantity was cut to the cap.
type Scaling struct {
	Symbol   string
	From     float64
	To       float64
	Notional float64
	Cap      float64
}

// Report describes what the adjuster did to a batch.
type Report struct {
	Env        models.Env
	Input      int
	Duplicates int
	Truncated  int
	// LowBalanceDropped counts opening orders dropped under MinFreeBalance.
	LowBalanceDropped int
	// Unpriced counts live orders dropped for want of a reference price.
	Unpriced int
	// DefaultPriced counts paper orders kept at the default notional.
	DefaultPriced int
	Cap           float64
	Equity        float64
	Free          float64
	Scaled        []Scaling
	Rejected      bool
	RejectReason  string
	Output        int
}
