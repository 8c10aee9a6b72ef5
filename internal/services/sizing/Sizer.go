package sizing

import (
	"errors"
	"fmt"

	"CryptoSignalEngine/config"
	"CryptoSignalEngine/internal/logger"
	"CryptoSignalEngine/internal/models"
	"CryptoSignalEngine/internal/services/strategy"

	"github.com/shopspring/decimal"
)

// ErrDegenerateSizing means the order would have a non-positive price or
// quantity. Such orders are dropped, never clamped.
var ErrDegenerateSizing = errors.New("degenerate sizing")

// Diagnostic keys written onto the signal.
const (
	KeyLeverage      = "leverage"
	KeyRawQuantity   = "raw_quantity"
	KeyQuantity      = "quantity"
	KeyQtyAdjustment = "qty_adjustment"
	AdjustedToMinQty = "raised_to_min_qty"
	AdjustedToStep   = "rounded_to_step"
)

// SizingInput is the market data sizing needs for one symbol.
type SizingInput struct {
	Env            models.Env
	ReferencePrice float64
	Instrument     models.Instrument
	// TargetNotional overrides the configured target when > 0.
	TargetNotional float64
}

type Sizer struct {
	params config.SizingParams
	log    *logger.Logger
}

func NewSizer(params config.SizingParams, log *logger.Logger) *Sizer {
	if log == nil {
		log = logger.Discard()
	}
	return &Sizer{params: params, log: log}
}

// LeverageFor maps a score to the highest tier whose MinScore it reaches.
// Scores below the first tier get the first tier.
func (s *Sizer) LeverageFor(score int) int {
	tiers := s.params.LeverageTiers
	if len(tiers) == 0 {
		return 1
	}
	leverage := tiers[0].Leverage
	for _, t := range tiers {
		if score >= t.MinScore {
			leverage = t.Leverage
		}
	}
	return leverage
}

// SizeOrder converts a directional signal into a market order of roughly
// the target notional. Quantity is floored to the step size and raised to
// the instrument minimum when below it.
func (s *Sizer) SizeOrder(sig *strategy.Signal, in SizingInput) (*models.OrderRequest, error) {
	if sig == nil || !sig.IsDirectional() {
		return nil, fmt.Errorf("%w: no directional signal", ErrDegenerateSizing)
	}
	if !(in.ReferencePrice > 0) {
		return nil, fmt.Errorf("%w: reference price %v for %s", ErrDegenerateSizing, in.ReferencePrice, sig.Symbol)
	}

	notional := s.params.TargetNotional
	if in.TargetNotional > 0 {
		notional = in.TargetNotional
	}
	if !(notional > 0) {
		return nil, fmt.Errorf("%w: target notional %v", ErrDegenerateSizing, notional)
	}

	unitValue := decimal.NewFromFloat(in.ReferencePrice).Mul(decimal.NewFromFloat(in.Instrument.Multiplier()))
	raw := decimal.NewFromFloat(notional).Div(unitValue)
	qty := raw

	if in.Instrument.StepSize > 0 {
		step := decimal.NewFromFloat(in.Instrument.StepSize)
		stepped := qty.Div(step).Floor().Mul(step)
		if !stepped.Equal(qty) {
			qty = stepped
			sig.Diagnostics[KeyQtyAdjustment] = AdjustedToStep
		}
	}

	if in.Instrument.MinQuantity > 0 {
		minQty := decimal.NewFromFloat(in.Instrument.MinQuantity)
		if qty.LessThan(minQty) {
			s.log.Info("%s: quantity %s below minimum %s, raised to minimum", sig.Symbol, raw.String(), minQty.String())
			qty = minQty
			sig.Diagnostics[KeyQtyAdjustment] = AdjustedToMinQty
		}
	}

	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: quantity %s for %s", ErrDegenerateSizing, qty.String(), sig.Symbol)
	}

	quantity := qty.InexactFloat64()
	sig.Diagnostics[KeyRawQuantity] = raw.InexactFloat64()
	sig.Diagnostics[KeyQuantity] = quantity

	order := &models.OrderRequest{
		Env:      in.Env,
		Market:   s.params.Market,
		Symbol:   sig.Symbol,
		Quantity: quantity,
		Reason:   reasonFor(sig),
	}

	if sig.Direction == strategy.DirectionLong {
		order.Side = models.SideBuy
	} else {
		order.Side = models.SideSell
	}

	if s.params.Market == models.MarketFutures {
		leverage := s.LeverageFor(sig.Strength())
		order.Leverage = &leverage
		sig.Diagnostics[KeyLeverage] = leverage
		if sig.Direction == strategy.DirectionLong {
			order.PositionSide = models.PositionSideLong
		} else {
			order.PositionSide = models.PositionSideShort
		}
	}

	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateSizing, err)
	}
	return order, nil
}

func reasonFor(sig *strategy.Signal) string {
	mode, _ := sig.Diagnostics[strategy.KeyMode].(string)
	if mode == "" {
		mode = "signal"
	}
	return fmt.Sprintf("%s %s trend=%d entry=%d", mode, sig.Direction, sig.TrendScore, sig.EntryScore)
}
