package risk

import (
	"context"
	"fmt"
	"math"

	"CryptoSignalEngine/config"
	"CryptoSignalEngine/internal/logger"
	"CryptoSignalEngine/internal/models"
)

// Adjuster applies batch-level risk controls: dedupe, batch cap and a
// per-order notional cap. It only ever lowers quantities.
type Adjuster struct {
	params config.RiskParams
	log    *logger.Logger
}

func NewAdjuster(params config.RiskParams, log *logger.Logger) *Adjuster {
	if log == nil {
		log = logger.Discard()
	}
	return &Adjuster{params: params, log: log}
}

// Apply returns the adjusted batch. The input slice is not modified.
// In live, invalid limits or an unknown balance abort the whole batch
// with an error; a cap that resolves to <= 0 rejects it without one.
func (a *Adjuster) Apply(ctx context.Context, env models.Env, orders []models.OrderRequest, pricing PricingContext) ([]models.OrderRequest, *Report, error) {
	limits := a.params.For(env)
	report := &Report{Env: env, Input: len(orders)}

	if limits.MaxOrdersPerRun <= 0 {
		return nil, report, fmt.Errorf("%w: max orders per run must be positive", ErrInvalidLimits)
	}

	batch := dedupe(orders)
	report.Duplicates = len(orders) - len(batch)

	if len(batch) > limits.MaxOrdersPerRun {
		report.Truncated = len(batch) - limits.MaxOrdersPerRun
		batch = batch[:limits.MaxOrdersPerRun]
	}

	var notionalCap float64
	switch env {
	case models.EnvLive:
		if limits.NotionalCap <= 0 || limits.RiskPerTrade <= 0 || limits.RiskPerTrade > 1 {
			return nil, report, fmt.Errorf("%w: live needs a notional cap and risk per trade", ErrInvalidLimits)
		}
		if pricing == nil {
			return nil, report, ErrBalanceUnavailable
		}
		total, free, err := pricing.AccountBalance(ctx)
		if err != nil {
			return nil, report, fmt.Errorf("%w: %v", ErrBalanceUnavailable, err)
		}
		report.Equity, report.Free = total, free

		notionalCap = math.Min(limits.NotionalCap, math.Min(total*limits.RiskPerTrade, free))
		report.Cap = notionalCap
		if notionalCap <= 0 {
			report.Rejected = true
			report.RejectReason = "non_positive_cap"
			a.log.Warn("live risk cap resolved to %.4f (equity=%.2f free=%.2f), rejecting %d orders", notionalCap, total, free, len(batch))
			return []models.OrderRequest{}, report, nil
		}

		if free < limits.MinFreeBalance {
			kept := batch[:0:0]
			for _, o := range batch {
				if o.ReduceOnly {
					kept = append(kept, o)
				}
			}
			report.LowBalanceDropped = len(batch) - len(kept)
			if report.LowBalanceDropped > 0 {
				a.log.Warn("free balance %.2f below %.2f, dropped %d opening orders", free, limits.MinFreeBalance, report.LowBalanceDropped)
			}
			batch = kept
		}
	default:
		notionalCap = limits.NotionalCap
		report.Cap = notionalCap
	}

	out := make([]models.OrderRequest, 0, len(batch))
	for _, o := range batch {
		notional, ok := a.estimateNotional(ctx, o, pricing)
		if !ok {
			if env == models.EnvLive {
				report.Unpriced++
				a.log.Warn("%s: cannot estimate notional, dropping live order", o.Symbol)
				continue
			}
			notional = limits.DefaultNotional
			report.DefaultPriced++
			a.log.Warn("%s: no reference price, assuming notional %.2f", o.Symbol, notional)
		}

		if notionalCap > 0 && notional > notionalCap {
			scaled := o.Quantity * notionalCap / notional
			report.Scaled = append(report.Scaled, Scaling{
				Symbol:   o.Symbol,
				From:     o.Quantity,
				To:       scaled,
				Notional: notional,
				Cap:      notionalCap,
			})
			a.log.Info("%s: notional %.2f above cap %.2f, quantity %.8f -> %.8f", o.Symbol, notional, notionalCap, o.Quantity, scaled)
			o.Quantity = scaled
		}
		out = append(out, o)
	}

	report.Output = len(out)
	return out, report, nil
}

// estimateNotional is quantity x price x contract multiplier.
func (a *Adjuster) estimateNotional(ctx context.Context, o models.OrderRequest, pricing PricingContext) (float64, bool) {
	if pricing == nil {
		return 0, false
	}
	price, err := pricing.ReferencePrice(ctx, o.Symbol)
	if err != nil || !(price > 0) {
		return 0, false
	}

	multiplier := 1.0
	if o.Market == models.MarketFutures {
		if inst, err := pricing.Instrument(ctx, o.Symbol); err == nil {
			multiplier = inst.Multiplier()
		}
	}
	return o.Quantity * price * multiplier, true
}

// dedupe keeps the first order per (market, symbol, side, reduce_only).
func dedupe(orders []models.OrderRequest) []models.OrderRequest {
	seen := make(map[string]bool, len(orders))
	out := make([]models.OrderRequest, 0, len(orders))
	for _, o := range orders {
		key := o.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, o)
	}
	return out
}
