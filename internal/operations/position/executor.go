package position

import (
	"context"
	"fmt"

	"CryptoSignalEngine/internal/logger"
	"CryptoSignalEngine/internal/models"

	"github.com/google/uuid"
)

// OrderGateway is the exchange side of order submission. The paper
// environment gets a testnet gateway, live gets mainnet.
type OrderGateway interface {
	ReferencePrice(ctx context.Context, symbol string) (float64, error)
	ChangeLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, req models.OrderRequest, clientOrderID string) (string, float64, error)
}

// OrderAudit records every submission; satisfied by the order repository.
type OrderAudit interface {
	Create(record *models.OrderRecord) error
}

// OrderExecutor submits risk-adjusted orders one at a time.
type OrderExecutor struct {
	gateway OrderGateway
	audit   OrderAudit
	dryRun  bool
	log     *logger.Logger
	newID   func() string
}

// NewOrderExecutor builds an executor. With dryRun set nothing reaches the
// exchange and fills are simulated at the reference price. audit may be nil.
func NewOrderExecutor(gateway OrderGateway, audit OrderAudit, dryRun bool, log *logger.Logger) *OrderExecutor {
	if log == nil {
		log = logger.Discard()
	}
	return &OrderExecutor{
		gateway: gateway,
		audit:   audit,
		dryRun:  dryRun,
		log:     log,
		newID:   uuid.NewString,
	}
}

func (e *OrderExecutor) DryRun() bool {
	return e.dryRun
}

// Submit places req and reports the outcome. It never returns an error:
// failures are carried in the result so the batch keeps going.
func (e *OrderExecutor) Submit(ctx context.Context, req models.OrderRequest) models.OrderResult {
	res := models.OrderResult{Request: req, ClientOrderID: e.newID()}

	if err := req.Validate(); err != nil {
		res.Error = err.Error()
		e.record(res)
		return res
	}

	if e.dryRun {
		price, err := e.fillPrice(ctx, req)
		if err != nil {
			res.Error = fmt.Sprintf("dry run: no reference price: %v", err)
		} else {
			res.Success = true
			res.Simulated = true
			res.FillPrice = price
			e.log.Info("[DRY RUN] %s %s %s qty=%.8f @ %.8f", req.Env, req.Side, req.Symbol, req.Quantity, price)
		}
		e.record(res)
		return res
	}

	if req.Market == models.MarketFutures && req.Leverage != nil {
		if err := e.gateway.ChangeLeverage(ctx, req.Symbol, *req.Leverage); err != nil {
			e.log.Warn("%s: failed to set leverage %dx, using exchange default: %v", req.Symbol, *req.Leverage, err)
		}
	}

	orderID, fill, err := e.gateway.PlaceOrder(ctx, req, res.ClientOrderID)
	if err != nil {
		res.Error = err.Error()
		e.log.Error("%s: order failed: %v", req.Symbol, err)
		e.record(res)
		return res
	}

	res.Success = true
	res.OrderID = orderID
	res.FillPrice = fill
	if !(fill > 0) {
		if price, perr := e.fillPrice(ctx, req); perr == nil {
			res.FillPrice = price
		} else {
			e.log.Warn("%s: order %s placed but fill price unknown: %v", req.Symbol, orderID, perr)
		}
	}
	e.log.Info("%s %s %s qty=%.8f placed, order %s fill %.8f", req.Env, req.Side, req.Symbol, req.Quantity, orderID, res.FillPrice)
	e.record(res)
	return res
}

// fillPrice is the limit price when set, else the reference price.
func (e *OrderExecutor) fillPrice(ctx context.Context, req models.OrderRequest) (float64, error) {
	if req.Price != nil {
		return *req.Price, nil
	}
	return e.gateway.ReferencePrice(ctx, req.Symbol)
}

func (e *OrderExecutor) record(res models.OrderResult) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Create(models.NewOrderRecord(res)); err != nil {
		e.log.Warn("%s: failed to record order %s: %v", res.Request.Symbol, res.ClientOrderID, err)
	}
}
