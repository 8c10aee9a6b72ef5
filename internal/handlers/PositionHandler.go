package handlers

import (
	"errors"
	"time"

	"CryptoSignalEngine/internal/logger"
	"CryptoSignalEngine/internal/metrics"
	"CryptoSignalEngine/internal/models"
	"CryptoSignalEngine/internal/operations/notify"
	"CryptoSignalEngine/internal/services/ledger"
)

// FillHandler turns order results into ledger updates, notifications and
// metrics.
type FillHandler struct {
	ledger   *ledger.Ledger
	notifier notify.Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time
}

func NewFillHandler(l *ledger.Ledger, notifier notify.Notifier, m *metrics.Metrics, log *logger.Logger) *FillHandler {
	if log == nil {
		log = logger.Discard()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &FillHandler{ledger: l, notifier: notifier, metrics: m, log: log, now: time.Now}
}

// HandleResult reports res and, for a filled order, feeds the ledger.
// It returns the trade the fill closed, if any.
func (h *FillHandler) HandleResult(res models.OrderResult) *models.ClosedTrade {
	env := string(res.Request.Env)
	h.metrics.ObserveOrder(env, res.Success, res.Simulated)
	h.notifier.Notify(notify.FormatOrderResult(res))

	if !res.Success || h.ledger == nil {
		return nil
	}
	if !(res.FillPrice > 0) {
		h.log.Warn("%s: order %s filled without a price, ledger not updated", res.Request.Symbol, res.ClientOrderID)
		return nil
	}

	trade, err := h.ledger.OnFill(res.Request, res.FillPrice, h.now().UTC())
	switch {
	case errors.Is(err, ledger.ErrMissingPositionSide):
		h.log.Debug("%s: %s order has no position side, not tracked", res.Request.Symbol, res.Request.Market)
	case err != nil:
		h.log.Error("%s: ledger update failed: %v", res.Request.Symbol, err)
	}
	if trade == nil {
		return nil
	}

	h.metrics.ObserveClosedTrade(env, trade.PnL)
	h.notifier.Notify(notify.FormatClosedTrade(*trade))
	return trade
}

// OpenPositions is the number of open virtual positions.
func (h *FillHandler) OpenPositions() int {
	if h.ledger == nil {
		return 0
	}
	return len(h.ledger.Positions())
}
